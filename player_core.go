package playback

import (
	"math"
	"sync"
	"sync/atomic"
)

// playerCore holds the state every backend shares: the atomic transport
// state and clocks, the exchange buffers, the MediaInfo snapshot and the
// host callbacks. Backends embed it and drive it from their decode
// goroutine; all of its accessors are safe from any goroutine.
type playerCore struct {
	state        atomic.Int32
	positionUs   atomic.Int64
	durationUs   atomic.Int64
	audioClockUs atomic.Int64
	volumeBits   atomic.Uint64

	// Presentation timestamp of the sample currently at the ring's read
	// cursor. Single consumer, so a plain atomic is enough.
	audioReadUs atomic.Int64

	infoMu sync.Mutex
	info   MediaInfo

	eventsMu sync.RWMutex
	events   Events

	videoBuf  *VideoFrameBuffer
	audioRing *AudioRingBuffer
}

func newPlayerCore(ringCapacity int) playerCore {
	c := playerCore{
		videoBuf:  NewVideoFrameBuffer(),
		audioRing: NewAudioRingBuffer(ringCapacity),
	}
	c.volumeBits.Store(math.Float64bits(1))
	return c
}

// State returns the current transport state.
func (c *playerCore) State() PlaybackState {
	return PlaybackState(c.state.Load())
}

// setState moves to next and fires OnStateChanged once. Returns false, and
// fires nothing, when the state is already next.
func (c *playerCore) setState(next PlaybackState) bool {
	prev := c.state.Swap(int32(next))
	if PlaybackState(prev) == next {
		return false
	}
	if ev := c.snapshotEvents(); ev.OnStateChanged != nil {
		ev.OnStateChanged(next)
	}
	return true
}

// transition moves from -> to atomically; no-op returning false when the
// current state is not from. Used where a transition is only legal out of a
// specific state, e.g. Opening -> Playing on the file-loaded event.
func (c *playerCore) transition(from, to PlaybackState) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if ev := c.snapshotEvents(); ev.OnStateChanged != nil {
		ev.OnStateChanged(to)
	}
	return true
}

// fail moves to StateError and fires OnStateChanged plus exactly one
// OnError. The error state is terminal until Close + re-Open.
func (c *playerCore) fail(err error) {
	c.setState(StateError)
	if ev := c.snapshotEvents(); ev.OnError != nil {
		ev.OnError(err)
	}
}

func (c *playerCore) SetEvents(ev Events) {
	c.eventsMu.Lock()
	c.events = ev
	c.eventsMu.Unlock()
}

func (c *playerCore) snapshotEvents() Events {
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	return c.events
}

// Info returns a copy of the current stream info.
func (c *playerCore) Info() MediaInfo {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()
	return c.info
}

func (c *playerCore) setInfo(info MediaInfo) {
	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()
}

// updateInfo applies fn to the stream info under the lock.
func (c *playerCore) updateInfo(fn func(*MediaInfo)) {
	c.infoMu.Lock()
	fn(&c.info)
	c.infoMu.Unlock()
}

func (c *playerCore) Position() int64 { return c.positionUs.Load() }
func (c *playerCore) Duration() int64 { return c.durationUs.Load() }

// AudioClock returns the presentation timestamp of the most recently
// produced audio.
func (c *playerCore) AudioClock() int64 { return c.audioClockUs.Load() }

func (c *playerCore) Volume() float64 {
	return math.Float64frombits(c.volumeBits.Load())
}

func (c *playerCore) storeVolume(v float64) float64 {
	v = clampVolume(v)
	c.volumeBits.Store(math.Float64bits(v))
	return v
}

func (c *playerCore) HasNewVideoFrame() bool {
	return c.videoBuf.HasNewFrame()
}

func (c *playerCore) GetVideoFrame(out *VideoFrame) bool {
	return c.videoBuf.ReadFrame(out)
}

func (c *playerCore) HasAudioSamples() bool {
	return c.audioRing.Available() > 0
}

// GetAudioSamples copies up to len(out) interleaved samples from the ring,
// zero-fills the shortfall and advances the read-side clock by the real
// samples consumed.
func (c *playerCore) GetAudioSamples(out []float32) (AudioSampleBatch, bool) {
	info := c.Info()
	batch := AudioSampleBatch{
		Channels:    info.Channels,
		SampleRate:  info.SampleRate,
		TimestampUs: c.audioReadUs.Load(),
	}

	n := c.audioRing.Read(out)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	batch.Samples = n
	if n == 0 {
		return batch, false
	}

	if info.Channels > 0 && info.SampleRate > 0 {
		elapsed := int64(n) * 1e6 / int64(info.Channels*info.SampleRate)
		c.audioReadUs.Add(elapsed)
	}
	return batch, true
}

// writeAudio feeds decoded PCM into the ring and advances the audio clock,
// pts being the presentation timestamp of the first sample in the slice.
// Samples the full ring rejects are dropped; the clock still advances past
// them so it keeps tracking the decoded stream.
func (c *playerCore) writeAudio(samples []float32, pts int64, channels, sampleRate int) int {
	written := c.audioRing.Write(samples)
	if channels > 0 && sampleRate > 0 {
		span := int64(len(samples)) * 1e6 / int64(channels*sampleRate)
		c.audioClockUs.Store(pts + span)
	}
	return written
}

// resetExchange clears buffers, clocks and stream info; used by Close and
// Shutdown.
func (c *playerCore) resetExchange() {
	c.videoBuf.Reset()
	c.audioRing.Reset()
	c.setInfo(MediaInfo{})
	c.positionUs.Store(0)
	c.durationUs.Store(0)
	c.audioClockUs.Store(0)
	c.audioReadUs.Store(0)
}

package playback

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// AudioStreamConfig configures the pure-Go audio backend.
type AudioStreamConfig struct {
	// Client performs HTTP fetches; nil uses a default without a timeout,
	// appropriate for endless radio streams.
	Client *http.Client
	// ChunkSamples is how many interleaved samples are decoded per ring
	// refill step (default: 4096).
	ChunkSamples int
	// RingCapacity sizes the audio ring in samples; 0 means the default.
	RingCapacity int
}

// DefaultAudioStreamConfig returns the default configuration.
func DefaultAudioStreamConfig() AudioStreamConfig {
	return AudioStreamConfig{ChunkSamples: 4096}
}

// AudioStreamBackend decodes audio-only streams (WAV, MP3, Ogg Vorbis) in
// pure Go and delivers PCM through the pull API: a decode goroutine keeps
// the ring topped up, paced by its free space, and position and audio clock
// advance with decoded samples rather than wall time. Video calls report
// nothing; Info().HasVideo() is false.
type AudioStreamBackend struct {
	playerCore
	cfg AudioStreamConfig

	initialized bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	cmdCh       chan func()

	// Decode-goroutine-local.
	dec   audioDecoder
	chunk []float32
	ptsUs int64 // presentation timestamp of the next decoded sample
}

// NewAudioStreamBackend creates an uninitialized audio backend.
func NewAudioStreamBackend(cfg AudioStreamConfig) *AudioStreamBackend {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = 4096
	}
	return &AudioStreamBackend{
		playerCore: newPlayerCore(cfg.RingCapacity),
		cfg:        cfg,
	}
}

func (a *AudioStreamBackend) Initialize() bool {
	if a.initialized {
		return true
	}
	a.chunk = make([]float32, a.cfg.ChunkSamples)
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	a.cmdCh = make(chan func(), 8)
	a.initialized = true
	go a.decodeLoop()
	return true
}

func (a *AudioStreamBackend) Shutdown() {
	if !a.initialized {
		return
	}
	close(a.stopCh)
	<-a.doneCh
	a.initialized = false
	a.resetExchange()
	a.setState(StateIdle)
}

// Open transitions to Opening synchronously and resolves the source on the
// decode goroutine; success or failure arrives through the callbacks.
func (a *AudioStreamBackend) Open(url string, headers []Header) bool {
	if !a.initialized {
		return false
	}
	a.resetExchange()
	a.setState(StateOpening)
	return a.post(func() { a.openOnLoop(url, headers) })
}

func (a *AudioStreamBackend) openOnLoop(url string, headers []Header) {
	a.closeDecoder()

	src, err := openAudioSource(a.cfg.Client, url, headers)
	if err == nil {
		a.dec, err = newAudioDecoder(src)
		if err != nil && src.closer != nil {
			src.closer.Close()
		}
	}
	if err != nil {
		if ev := a.snapshotEvents(); ev.OnMediaOpened != nil {
			ev.OnMediaOpened(false)
		}
		a.fail(fmt.Errorf("open %s: %w", url, err))
		return
	}

	a.ptsUs = 0
	a.durationUs.Store(a.dec.DurationUs())
	a.setInfo(MediaInfo{
		Channels:   a.dec.Channels(),
		SampleRate: a.dec.SampleRate(),
		DurationUs: a.dec.DurationUs(),
		AudioCodec: src.format,
		Container:  src.format,
	})

	if a.transition(StateOpening, StatePlaying) {
		if ev := a.snapshotEvents(); ev.OnMediaOpened != nil {
			ev.OnMediaOpened(true)
		}
	}
}

func (a *AudioStreamBackend) Close() {
	if !a.initialized {
		a.resetExchange()
		a.setState(StateIdle)
		return
	}
	a.post(func() {
		a.closeDecoder()
		a.resetExchange()
		a.setState(StateIdle)
	})
}

func (a *AudioStreamBackend) Play() bool {
	if !a.initialized {
		return false
	}
	return a.post(func() { a.transition(StatePaused, StatePlaying) })
}

func (a *AudioStreamBackend) Pause() bool {
	if !a.initialized {
		return false
	}
	return a.post(func() { a.transition(StatePlaying, StatePaused) })
}

func (a *AudioStreamBackend) Stop() bool {
	if !a.initialized {
		return false
	}
	return a.post(func() {
		a.closeDecoder()
		if a.State() != StateIdle {
			a.setState(StateStopped)
		}
	})
}

// Seek jumps to positionUs when the source supports it; on unseekable
// streams the command is accepted and ignored, matching the
// command-and-observe transport contract.
func (a *AudioStreamBackend) Seek(positionUs int64) bool {
	if !a.initialized {
		return false
	}
	return a.post(func() { a.seekOnLoop(positionUs) })
}

func (a *AudioStreamBackend) seekOnLoop(positionUs int64) {
	if a.dec == nil || !a.dec.Seekable() {
		return
	}
	if positionUs < 0 {
		positionUs = 0
	}
	if d := a.durationUs.Load(); d > 0 && positionUs > d {
		positionUs = d
	}
	frame := positionUs * int64(a.dec.SampleRate()) / 1e6
	if err := a.dec.SeekFrame(frame); err != nil {
		a.fail(fmt.Errorf("seek: %w", err))
		return
	}
	a.audioRing.Reset()
	a.ptsUs = positionUs
	a.positionUs.Store(positionUs)
	a.audioClockUs.Store(positionUs)
	a.audioReadUs.Store(positionUs)
	// A finished stream resumes playing after a rewind.
	a.transition(StateEndOfMedia, StatePlaying)
}

func (a *AudioStreamBackend) SetVolume(v float64) {
	a.storeVolume(v)
}

func (a *AudioStreamBackend) post(fn func()) bool {
	select {
	case a.cmdCh <- fn:
		return true
	case <-a.stopCh:
		return false
	}
}

func (a *AudioStreamBackend) decodeLoop() {
	defer close(a.doneCh)
	defer a.closeDecoder()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case cmd := <-a.cmdCh:
			cmd()
		case <-ticker.C:
			if a.State() != StatePlaying || a.dec == nil {
				continue
			}
			a.fillRing()
		}
	}
}

// fillRing decodes into the ring until it is near full, so the audio
// callback never starves while the decoder stays only a ring ahead of
// playback.
func (a *AudioStreamBackend) fillRing() {
	info := a.Info()
	for a.audioRing.FreeSpace() >= len(a.chunk) {
		n, err := a.dec.Read(a.chunk)
		if n > 0 {
			vol := float32(a.Volume())
			if vol != 1 {
				for i := 0; i < n; i++ {
					a.chunk[i] *= vol
				}
			}
			a.writeAudio(a.chunk[:n], a.ptsUs, info.Channels, info.SampleRate)
			if info.Channels > 0 && info.SampleRate > 0 {
				a.ptsUs += int64(n) * 1e6 / int64(info.Channels*info.SampleRate)
			}
			a.positionUs.Store(a.ptsUs)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.setState(StateEndOfMedia)
				if ev := a.snapshotEvents(); ev.OnEndReached != nil {
					ev.OnEndReached()
				}
			} else {
				a.fail(fmt.Errorf("decode: %w", err))
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

func (a *AudioStreamBackend) closeDecoder() {
	if a.dec != nil {
		a.dec.Close()
		a.dec = nil
	}
}

var _ PlayerBackend = (*AudioStreamBackend)(nil)

func init() {
	RegisterBackend(BackendAudioStream, func() PlayerBackend {
		return NewAudioStreamBackend(DefaultAudioStreamConfig())
	})
}

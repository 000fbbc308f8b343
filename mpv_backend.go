package playback

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// propFormat selects the typed representation of an observed property.
type propFormat int

const (
	propFlag propFormat = iota
	propInt64
	propDouble
)

// libEventKind classifies events drained from the decode library.
type libEventKind int

const (
	libEventNone libEventKind = iota
	libEventFileLoaded
	libEventEndFileEOF
	libEventEndFileStop
	libEventEndFileError
	libEventProperty
)

// libEvent is one event drained from the decode library, already translated
// to Go types by the FFI shim.
type libEvent struct {
	kind libEventKind
	err  error // reason for libEventEndFileError

	// libEventProperty payload
	prop   string
	format propFormat
	flag   bool
	num    float64
	inum   int64
}

// decodeLib is the capability surface of the dynamically loaded decode
// library. The desktop shim binds it over libmpv's C function table; tests
// substitute a fake. Construction of a decodeLib succeeding is the "is this
// backend usable" check; there is no partial-capability mode.
type decodeLib interface {
	// Command issues an asynchronous command (loadfile, seek, stop, ...).
	Command(args ...string) error
	// SetProperty sets a string-valued runtime property.
	SetProperty(name, value string) error
	GetPropertyDouble(name string) (float64, error)
	GetPropertyInt64(name string) (int64, error)
	GetPropertyString(name string) (string, error)
	// ObserveProperty subscribes to change events for a property.
	ObserveProperty(name string, format propFormat) error
	// SetWakeupCallback installs fn, invoked from an arbitrary library
	// thread whenever events are pending. fn must not call back into the
	// library.
	SetWakeupCallback(fn func())
	// NextEvent returns the next pending event without blocking;
	// kind == libEventNone when the queue is empty.
	NextEvent() libEvent
	// RenderFrameReady reports whether the render context has produced a
	// frame since the last RenderFrame.
	RenderFrameReady() bool
	// RenderFrame software-renders the current frame as packed BGRA into
	// dst, which must hold width*height*4 bytes.
	RenderFrame(dst []byte, width, height int) error
	// Close frees the render context and the library context and unloads
	// the library.
	Close()
}

// loadMPVLibrary is installed by the platform FFI shim; nil on platforms
// without one, in which case MPVBackend.Initialize fails.
var loadMPVLibrary func(cfg *MPVConfig) (decodeLib, error)

// MPVConfig configures the desktop libmpv backend.
type MPVConfig struct {
	// LibraryPaths are extra candidate paths for the shared library, tried
	// before the standard locations.
	LibraryPaths []string
	// UserAgent identifies the client to HTTP servers.
	UserAgent string
	// DemuxerMaxBytes is the demuxer readahead budget; generous by default
	// because the backend targets network streams.
	DemuxerMaxBytes int
	// HWDec selects hardware decoding ("auto" probes, "no" forces software).
	HWDec string
	// ExtraOptions are applied verbatim before library initialization,
	// e.g. {"ao": "null"} to silence the library's own audio output.
	ExtraOptions map[string]string
	// RingCapacity sizes the audio ring in samples; 0 means the default.
	RingCapacity int
}

// DefaultMPVConfig returns the configuration used by NewPlatformBackend.
func DefaultMPVConfig() MPVConfig {
	return MPVConfig{
		UserAgent:       "thesyncim-playback/1.0",
		DemuxerMaxBytes: 64 << 20,
		HWDec:           "auto",
	}
}

// Properties the decode loop observes. Position, duration and dimensions
// flow in through these rather than being polled.
var mpvObservedProps = []struct {
	name   string
	format propFormat
}{
	{"pause", propFlag},
	{"eof-reached", propFlag},
	{"paused-for-cache", propFlag},
	{"time-pos", propDouble},
	{"duration", propDouble},
	{"volume", propDouble},
	{"width", propInt64},
	{"height", propInt64},
}

const decodeTick = time.Millisecond

// MPVBackend drives a dynamically loaded libmpv from a dedicated decode
// goroutine: it drains the library's event queue, translates events into
// PlaybackState transitions and software-renders video into the frame
// buffer. Audio output is owned by libmpv for this backend (it plays through
// the OS device); GetAudioSamples yields nothing while AudioClock still
// tracks the decoded stream clock. Pass ao=null through
// MPVConfig.ExtraOptions to silence the library.
type MPVBackend struct {
	playerCore
	cfg MPVConfig

	// openLib is swappable for tests.
	openLib func(cfg *MPVConfig) (decodeLib, error)

	mu          sync.Mutex // guards lifecycle fields below
	lib         decodeLib
	initialized bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	wakeCh      chan struct{}

	// Decode-goroutine-local render scratch; reallocated when the stream
	// dimensions change.
	scratch []byte
}

var _ PlayerBackend = (*MPVBackend)(nil)

// NewMPVBackend creates an uninitialized desktop backend.
func NewMPVBackend(cfg MPVConfig) *MPVBackend {
	if cfg.DemuxerMaxBytes <= 0 {
		cfg.DemuxerMaxBytes = 64 << 20
	}
	if cfg.HWDec == "" {
		cfg.HWDec = "auto"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "thesyncim-playback/1.0"
	}
	return &MPVBackend{
		playerCore: newPlayerCore(cfg.RingCapacity),
		cfg:        cfg,
		openLib: func(cfg *MPVConfig) (decodeLib, error) {
			if loadMPVLibrary == nil {
				return nil, errors.New("mpv backend not available on this platform")
			}
			return loadMPVLibrary(cfg)
		},
	}
}

// Initialize loads the decode library, subscribes to its properties and
// starts the decode goroutine. Idempotent; a failure leaves the backend
// ready for a retry.
func (b *MPVBackend) Initialize() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return true
	}

	lib, err := b.openLib(&b.cfg)
	if err != nil {
		return false
	}

	for _, p := range mpvObservedProps {
		if err := lib.ObserveProperty(p.name, p.format); err != nil {
			lib.Close()
			return false
		}
	}

	wake := make(chan struct{}, 1)
	lib.SetWakeupCallback(func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	b.lib = lib
	b.wakeCh = wake
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.initialized = true

	go b.decodeLoop(lib, b.stopCh, b.doneCh, wake)
	return true
}

// Shutdown joins the decode goroutine and releases the library. Safe to
// call repeatedly, and without a prior Initialize.
func (b *MPVBackend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return
	}
	close(b.stopCh)
	<-b.doneCh

	b.lib.Close()
	b.lib = nil
	b.initialized = false
	b.scratch = nil

	b.resetExchange()
	b.setState(StateIdle)
}

// Open submits an asynchronous load of url. State moves to Opening before
// the command is issued; the outcome arrives later through the event loop.
func (b *MPVBackend) Open(url string, headers []Header) bool {
	lib := b.library()
	if lib == nil {
		return false
	}

	if len(headers) > 0 {
		if err := lib.SetProperty("http-header-fields", formatHeaders(headers)); err != nil {
			b.fail(fmt.Errorf("set http headers: %w", err))
			return false
		}
	}

	b.resetExchange()
	b.setState(StateOpening)

	if err := lib.Command("loadfile", url, "replace"); err != nil {
		b.fail(fmt.Errorf("loadfile: %w", err))
		return false
	}
	return true
}

// Close stops transport and resets accumulated state. The decode goroutine
// and the warmed-up library context stay alive for the next Open.
func (b *MPVBackend) Close() {
	if lib := b.library(); lib != nil {
		_ = lib.Command("stop")
	}
	b.resetExchange()
	b.setState(StateIdle)
}

func (b *MPVBackend) Play() bool {
	lib := b.library()
	if lib == nil {
		return false
	}
	return lib.SetProperty("pause", "no") == nil
}

func (b *MPVBackend) Pause() bool {
	lib := b.library()
	if lib == nil {
		return false
	}
	return lib.SetProperty("pause", "yes") == nil
}

func (b *MPVBackend) Stop() bool {
	lib := b.library()
	if lib == nil {
		return false
	}
	return lib.Command("stop") == nil
}

// Seek requests an absolute seek. Completion is observed through time-pos
// updates, not awaited.
func (b *MPVBackend) Seek(positionUs int64) bool {
	lib := b.library()
	if lib == nil {
		return false
	}
	seconds := strconv.FormatFloat(float64(positionUs)/1e6, 'f', 3, 64)
	return lib.Command("seek", seconds, "absolute") == nil
}

// SetVolume stores the clamped volume locally and pushes it to the library
// (which expects 0..100). Both are written on every call so the two sources
// of truth stay in sync.
func (b *MPVBackend) SetVolume(v float64) {
	v = b.storeVolume(v)
	if lib := b.library(); lib != nil {
		_ = lib.SetProperty("volume", strconv.FormatFloat(v*100, 'f', 1, 64))
	}
}

func (b *MPVBackend) library() decodeLib {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return nil
	}
	return b.lib
}

// decodeLoop runs on the decode goroutine until stop closes: drain pending
// events, render a frame when playing, then wait for a wakeup or the next
// tick. The tick bounds render latency when the library coalesces wakeups.
func (b *MPVBackend) decodeLoop(lib decodeLib, stop <-chan struct{}, done chan<- struct{}, wake <-chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(decodeTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-wake:
		case <-ticker.C:
		}

		for {
			ev := lib.NextEvent()
			if ev.kind == libEventNone {
				break
			}
			b.handleEvent(lib, ev)
		}

		if b.State() == StatePlaying {
			b.renderVideo(lib)
		}
	}
}

func (b *MPVBackend) handleEvent(lib decodeLib, ev libEvent) {
	switch ev.kind {
	case libEventFileLoaded:
		b.updateMediaInfo(lib)
		if b.transition(StateOpening, StatePlaying) {
			if e := b.snapshotEvents(); e.OnMediaOpened != nil {
				e.OnMediaOpened(true)
			}
		}

	case libEventEndFileEOF:
		b.endOfMedia()

	case libEventEndFileStop:
		if b.State() != StateIdle {
			b.setState(StateStopped)
		}

	case libEventEndFileError:
		err := ev.err
		if err == nil {
			err = errors.New("playback aborted")
		}
		if b.State() == StateOpening {
			if e := b.snapshotEvents(); e.OnMediaOpened != nil {
				e.OnMediaOpened(false)
			}
		}
		b.fail(err)

	case libEventProperty:
		b.handleProperty(ev)
	}
}

func (b *MPVBackend) handleProperty(ev libEvent) {
	switch ev.prop {
	case "pause":
		// Only toggle when the current state is the opposite of the new
		// flag; the library echoes redundant changes.
		if ev.flag {
			b.transition(StatePlaying, StatePaused)
		} else {
			b.transition(StatePaused, StatePlaying)
		}

	case "paused-for-cache":
		if ev.flag {
			b.transition(StatePlaying, StateBuffering)
		} else {
			b.transition(StateBuffering, StatePlaying)
		}

	case "eof-reached":
		if ev.flag && b.State() == StatePlaying {
			b.endOfMedia()
		}

	case "time-pos":
		us := int64(ev.num * 1e6)
		b.positionUs.Store(us)
		// Position and audio clock track the same decoded-stream clock
		// for this backend.
		b.audioClockUs.Store(us)

	case "duration":
		us := int64(ev.num * 1e6)
		b.durationUs.Store(us)
		b.updateInfo(func(i *MediaInfo) { i.DurationUs = us })

	case "volume":
		b.storeVolume(ev.num / 100)

	case "width":
		b.updateInfo(func(i *MediaInfo) { i.Width = int(ev.inum) })

	case "height":
		b.updateInfo(func(i *MediaInfo) { i.Height = int(ev.inum) })
	}
}

// endOfMedia transitions to EndOfMedia and fires OnEndReached once. Events
// are handled on the decode goroutine only, so the state check is stable.
func (b *MPVBackend) endOfMedia() {
	if b.State() == StateEndOfMedia {
		return
	}
	b.setState(StateEndOfMedia)
	if e := b.snapshotEvents(); e.OnEndReached != nil {
		e.OnEndReached()
	}
}

// updateMediaInfo queries the freshly loaded stream's properties. Individual
// failures are tolerated: audio-only streams have no dimensions, live
// streams no duration.
func (b *MPVBackend) updateMediaInfo(lib decodeLib) {
	var info MediaInfo

	if w, err := lib.GetPropertyInt64("width"); err == nil {
		info.Width = int(w)
	}
	if h, err := lib.GetPropertyInt64("height"); err == nil {
		info.Height = int(h)
	}
	if fps, err := lib.GetPropertyDouble("container-fps"); err == nil {
		info.FrameRate = fps
	}
	if d, err := lib.GetPropertyDouble("duration"); err == nil {
		info.DurationUs = int64(d * 1e6)
		b.durationUs.Store(info.DurationUs)
	}
	if ch, err := lib.GetPropertyInt64("audio-params/channel-count"); err == nil {
		info.Channels = int(ch)
	}
	if sr, err := lib.GetPropertyInt64("audio-params/samplerate"); err == nil {
		info.SampleRate = int(sr)
	}
	if vc, err := lib.GetPropertyString("video-codec"); err == nil {
		info.VideoCodec = vc
	}
	if ac, err := lib.GetPropertyString("audio-codec-name"); err == nil {
		info.AudioCodec = ac
	}
	if ct, err := lib.GetPropertyString("file-format"); err == nil {
		info.Container = ct
	}

	b.setInfo(info)
}

// renderVideo software-renders the latest frame, if any, into the scratch
// buffer and publishes it. Runs on the decode goroutine.
func (b *MPVBackend) renderVideo(lib decodeLib) {
	if !lib.RenderFrameReady() {
		return
	}

	info := b.Info()
	if info.Width <= 0 || info.Height <= 0 {
		return
	}

	need := info.Width * info.Height * 4
	if len(b.scratch) != need {
		b.scratch = make([]byte, need)
	}

	if err := lib.RenderFrame(b.scratch, info.Width, info.Height); err != nil {
		return
	}

	frame := VideoFrame{
		Data:        b.scratch,
		Width:       info.Width,
		Height:      info.Height,
		TimestampUs: b.Position(),
		Valid:       true,
	}
	b.videoBuf.WriteFrame(&frame)
}

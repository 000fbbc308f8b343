package playback

import (
	"fmt"
	"sync"
)

// PlayerBackend is the host-facing contract every decode backend satisfies.
// It is the only API surface a host (capture loop, UI, audio engine) may
// depend on.
//
// Lifecycle: construct, Initialize once (idempotent, retryable on failure),
// Open/Close any number of times, Shutdown once. Transport calls are
// commands: they return false only when the backend handle is not ready and
// never block waiting for the command to take effect; effect is observed
// later through polled state and position.
type PlayerBackend interface {
	// Initialize acquires backend resources and starts the decode
	// goroutine. Calling it again after success is a no-op returning true.
	Initialize() bool
	// Shutdown stops and joins the decode goroutine and releases all
	// resources. Safe to call repeatedly, and without a prior Initialize.
	Shutdown()

	// Open begins an asynchronous load of url. State moves to Opening
	// before Open returns; success or failure arrives later through
	// OnMediaOpened/OnError. A false return means the load command could
	// not even be submitted.
	Open(url string, headers []Header) bool
	// Close stops transport, clears buffers and MediaInfo, and returns the
	// state to Idle. Always safe. The decode goroutine keeps running so a
	// subsequent Open reuses it.
	Close()

	Play() bool
	Pause() bool
	Stop() bool
	// Seek requests an absolute jump to positionUs. It does not wait for
	// completion.
	Seek(positionUs int64) bool

	State() PlaybackState
	// Info returns a snapshot of the open stream's properties. Zero value
	// until a stream has opened.
	Info() MediaInfo
	Position() int64 // microseconds
	Duration() int64 // microseconds

	Volume() float64 // 0..1
	// SetVolume clamps v to [0, 1].
	SetVolume(v float64)

	// HasNewVideoFrame reports whether a frame produced since the last
	// GetVideoFrame is waiting. Non-blocking.
	HasNewVideoFrame() bool
	// GetVideoFrame copies the latest decoded frame into out and consumes
	// it: a frame is delivered at most once. Returns false, leaving out
	// untouched, when no unconsumed valid frame exists.
	GetVideoFrame(out *VideoFrame) bool

	// HasAudioSamples reports whether buffered PCM is available.
	HasAudioSamples() bool
	// GetAudioSamples copies up to len(out) interleaved samples into out,
	// zero-filling any shortfall, and reports ok iff at least one real
	// sample was copied. The batch carries channel count, sample rate and
	// the presentation timestamp of the first sample.
	GetAudioSamples(out []float32) (AudioSampleBatch, bool)
	// AudioClock returns the presentation timestamp of the most recently
	// produced audio, in microseconds. Hosts align video frames and other
	// time-based effects against it.
	AudioClock() int64

	// SetEvents installs the host's callbacks. They fire on the decode
	// goroutine (or the calling goroutine for synchronous transitions) and
	// must not block.
	SetEvents(ev Events)
}

// Events carries the host-assignable playback callbacks. Any field may be
// nil. Callbacks must return quickly: they run on the decode goroutine and a
// slow callback stalls decoding.
type Events struct {
	OnMediaOpened  func(success bool)
	OnStateChanged func(state PlaybackState)
	OnError        func(err error)
	OnEndReached   func()
}

// BackendKind identifies a concrete backend implementation.
type BackendKind int

const (
	BackendMPV BackendKind = iota
	BackendAudioStream
	BackendPattern
	BackendMobile
)

func (k BackendKind) String() string {
	switch k {
	case BackendMPV:
		return "mpv"
	case BackendAudioStream:
		return "audiostream"
	case BackendPattern:
		return "pattern"
	case BackendMobile:
		return "mobile"
	default:
		return "unknown"
	}
}

// BackendFactory constructs an uninitialized backend instance.
type BackendFactory func() PlayerBackend

var (
	backendsMu sync.RWMutex
	backends   = make(map[BackendKind]BackendFactory)
)

// RegisterBackend registers a backend factory for a kind. Called from init
// functions; later registrations for the same kind replace earlier ones.
func RegisterBackend(kind BackendKind, factory BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[kind] = factory
}

// NewBackend constructs a backend of the given kind, or an error when none
// is registered (e.g. the mpv backend on an unsupported platform).
func NewBackend(kind BackendKind) (PlayerBackend, error) {
	backendsMu.RLock()
	factory, ok := backends[kind]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s backend registered on this platform", kind)
	}
	return factory(), nil
}

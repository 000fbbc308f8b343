package playback

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeLib is an in-memory decodeLib driving the backend state machine
// without a real shared library.
type fakeLib struct {
	mu       sync.Mutex
	events   []libEvent
	commands [][]string
	props    map[string]string
	observed []string
	wake     func()
	closed   bool

	cmdErr error
	setErr error

	intProps map[string]int64
	dblProps map[string]float64
	strProps map[string]string

	frameReady bool
	rendered   int
	renderFill byte
}

func newFakeLib() *fakeLib {
	return &fakeLib{
		props:    make(map[string]string),
		intProps: make(map[string]int64),
		dblProps: make(map[string]float64),
		strProps: make(map[string]string),
	}
}

// push queues an event and signals the wakeup callback, like the library's
// own event thread would.
func (f *fakeLib) push(ev libEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	wake := f.wake
	f.mu.Unlock()
	if wake != nil {
		wake()
	}
}

func (f *fakeLib) Command(args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.commands = append(f.commands, args)
	return nil
}

func (f *fakeLib) SetProperty(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.props[name] = value
	return nil
}

func (f *fakeLib) GetPropertyDouble(name string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.dblProps[name]
	if !ok {
		return 0, errors.New("property unavailable")
	}
	return v, nil
}

func (f *fakeLib) GetPropertyInt64(name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.intProps[name]
	if !ok {
		return 0, errors.New("property unavailable")
	}
	return v, nil
}

func (f *fakeLib) GetPropertyString(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.strProps[name]
	if !ok {
		return "", errors.New("property unavailable")
	}
	return v, nil
}

func (f *fakeLib) ObserveProperty(name string, format propFormat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, name)
	return nil
}

func (f *fakeLib) SetWakeupCallback(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wake = fn
}

func (f *fakeLib) NextEvent() libEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return libEvent{kind: libEventNone}
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev
}

func (f *fakeLib) RenderFrameReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frameReady
}

func (f *fakeLib) RenderFrame(dst []byte, width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range dst {
		dst[i] = f.renderFill
	}
	f.rendered++
	f.frameReady = false
	return nil
}

func (f *fakeLib) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeLib) commandCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, c := range f.commands {
		if c[0] == name {
			count++
		}
	}
	return count
}

func (f *fakeLib) lastCommand() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return nil
	}
	return f.commands[len(f.commands)-1]
}

func (f *fakeLib) property(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[name]
}

// eventRecorder captures callbacks with their order preserved.
type eventRecorder struct {
	mu     sync.Mutex
	opened []bool
	states []PlaybackState
	errs   []error
	ends   int
}

func (r *eventRecorder) events() Events {
	return Events{
		OnMediaOpened: func(ok bool) {
			r.mu.Lock()
			r.opened = append(r.opened, ok)
			r.mu.Unlock()
		},
		OnStateChanged: func(s PlaybackState) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnEndReached: func() {
			r.mu.Lock()
			r.ends++
			r.mu.Unlock()
		},
	}
}

func (r *eventRecorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *eventRecorder) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ends
}

func (r *eventRecorder) openedResults() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.opened...)
}

func (r *eventRecorder) stateSequence() []PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PlaybackState(nil), r.states...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// newTestMPVBackend wires a backend to a fresh fake library.
func newTestMPVBackend(t *testing.T) (*MPVBackend, *fakeLib, *eventRecorder) {
	t.Helper()
	lib := newFakeLib()
	b := NewMPVBackend(DefaultMPVConfig())
	b.openLib = func(cfg *MPVConfig) (decodeLib, error) { return lib, nil }

	rec := &eventRecorder{}
	b.SetEvents(rec.events())

	if !b.Initialize() {
		t.Fatal("Initialize() = false")
	}
	t.Cleanup(b.Shutdown)
	return b, lib, rec
}

func TestMPVBackend_OpenBeforeInitialize(t *testing.T) {
	b := NewMPVBackend(DefaultMPVConfig())
	rec := &eventRecorder{}
	b.SetEvents(rec.events())

	if b.Open("http://example.com/a.mkv", nil) {
		t.Error("Open() before Initialize = true, want false")
	}
	if got := b.State(); got != StateIdle {
		t.Errorf("State() = %v, want Idle", got)
	}
	if len(rec.stateSequence()) != 0 || rec.errorCount() != 0 {
		t.Error("callbacks fired for an Open on an uninitialized backend")
	}
}

func TestMPVBackend_InitializeFailureIsRetryable(t *testing.T) {
	lib := newFakeLib()
	attempts := 0
	b := NewMPVBackend(DefaultMPVConfig())
	b.openLib = func(cfg *MPVConfig) (decodeLib, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("library not found")
		}
		return lib, nil
	}

	if b.Initialize() {
		t.Fatal("first Initialize() = true, want false")
	}
	if !b.Initialize() {
		t.Fatal("second Initialize() = false, want true")
	}
	defer b.Shutdown()

	// Idempotent once initialized: the loader is not called again.
	if !b.Initialize() {
		t.Error("repeated Initialize() = false")
	}
	if attempts != 2 {
		t.Errorf("loader called %d times, want 2", attempts)
	}
}

func TestMPVBackend_ObservesRequiredProperties(t *testing.T) {
	_, lib, _ := newTestMPVBackend(t)

	for _, want := range []string{"pause", "eof-reached", "time-pos", "duration", "volume", "width", "height"} {
		found := false
		for _, got := range lib.observed {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("property %q not observed", want)
		}
	}
}

func TestMPVBackend_OpenToPlaying(t *testing.T) {
	b, lib, rec := newTestMPVBackend(t)

	lib.intProps["width"] = 1280
	lib.intProps["height"] = 720
	lib.intProps["audio-params/channel-count"] = 2
	lib.intProps["audio-params/samplerate"] = 48000
	lib.dblProps["duration"] = 12.5
	lib.dblProps["container-fps"] = 24
	lib.strProps["video-codec"] = "h264"
	lib.strProps["audio-codec-name"] = "aac"
	lib.strProps["file-format"] = "mov,mp4,m4a"

	if !b.Open("http://example.com/movie.mp4", nil) {
		t.Fatal("Open() = false")
	}
	if got := b.State(); got != StateOpening {
		t.Fatalf("State() right after Open = %v, want Opening", got)
	}
	if cmd := lib.lastCommand(); cmd == nil || cmd[0] != "loadfile" || cmd[1] != "http://example.com/movie.mp4" {
		t.Fatalf("lastCommand = %v, want loadfile", cmd)
	}

	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })
	waitFor(t, "OnMediaOpened", func() bool { return len(rec.openedResults()) == 1 })

	info := b.Info()
	if info.Width != 1280 || info.Height != 720 || info.Channels != 2 || info.SampleRate != 48000 {
		t.Errorf("Info() = %+v, want 1280x720 2ch 48kHz", info)
	}
	if info.DurationUs != 12_500_000 {
		t.Errorf("DurationUs = %d, want 12500000", info.DurationUs)
	}
	if info.VideoCodec != "h264" || info.AudioCodec != "aac" {
		t.Errorf("codecs = %q/%q, want h264/aac", info.VideoCodec, info.AudioCodec)
	}

	opened := rec.openedResults()
	if len(opened) != 1 || !opened[0] {
		t.Errorf("OnMediaOpened calls = %v, want [true]", opened)
	}
	for _, s := range rec.stateSequence() {
		if s == StatePlaying {
			return
		}
	}
	t.Error("OnStateChanged never reported Playing")
}

func TestMPVBackend_OpenWithHeaders(t *testing.T) {
	b, lib, _ := newTestMPVBackend(t)

	headers := []Header{{"Authorization", "Bearer tok"}, {"X-Session", "abc"}}
	if !b.Open("https://example.com/stream", headers) {
		t.Fatal("Open() = false")
	}
	want := "Authorization: Bearer tok\r\nX-Session: abc"
	if got := lib.property("http-header-fields"); got != want {
		t.Errorf("http-header-fields = %q, want %q", got, want)
	}
}

func TestMPVBackend_OpenCommandFailure(t *testing.T) {
	b, lib, rec := newTestMPVBackend(t)

	lib.cmdErr = errors.New("command rejected")
	if b.Open("http://example.com/a.mkv", nil) {
		t.Error("Open() = true despite a rejected command")
	}
	if got := b.State(); got != StateError {
		t.Errorf("State() = %v, want Error", got)
	}
	if rec.errorCount() != 1 {
		t.Errorf("OnError fired %d times, want 1", rec.errorCount())
	}
}

func TestMPVBackend_FileLoadedThenErrorSequence(t *testing.T) {
	b, lib, rec := newTestMPVBackend(t)

	if !b.Open("http://example.com/broken.mkv", nil) {
		t.Fatal("Open() = false")
	}
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })

	lib.push(libEvent{kind: libEventEndFileError, err: errors.New("decode failed")})
	waitFor(t, "Error", func() bool { return b.State() == StateError })

	// Opening -> Playing -> Error, with OnMediaOpened(true) then exactly
	// one OnError and never OnEndReached.
	wantStates := []PlaybackState{StateOpening, StatePlaying, StateError}
	got := rec.stateSequence()
	if len(got) != len(wantStates) {
		t.Fatalf("state sequence = %v, want %v", got, wantStates)
	}
	for i := range wantStates {
		if got[i] != wantStates[i] {
			t.Fatalf("state sequence = %v, want %v", got, wantStates)
		}
	}
	if opened := rec.openedResults(); len(opened) != 1 || !opened[0] {
		t.Errorf("OnMediaOpened calls = %v, want [true]", opened)
	}
	if rec.errorCount() != 1 {
		t.Errorf("OnError fired %d times, want 1", rec.errorCount())
	}
	if rec.endCount() != 0 {
		t.Errorf("OnEndReached fired %d times, want 0", rec.endCount())
	}
}

func TestMPVBackend_OpenFailureReportsMediaOpenedFalse(t *testing.T) {
	b, lib, rec := newTestMPVBackend(t)

	if !b.Open("http://example.com/missing.mkv", nil) {
		t.Fatal("Open() = false")
	}
	lib.push(libEvent{kind: libEventEndFileError, err: errors.New("404")})
	waitFor(t, "Error", func() bool { return b.State() == StateError })

	if opened := rec.openedResults(); len(opened) != 1 || opened[0] {
		t.Errorf("OnMediaOpened calls = %v, want [false]", opened)
	}
	if rec.errorCount() != 1 {
		t.Errorf("OnError fired %d times, want 1", rec.errorCount())
	}
}

func TestMPVBackend_EndOfMedia(t *testing.T) {
	b, lib, rec := newTestMPVBackend(t)

	b.Open("http://example.com/song.mp3", nil)
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })

	// Both the end-file event and the eof-reached property arrive; the
	// host still sees exactly one OnEndReached.
	lib.push(libEvent{kind: libEventProperty, prop: "eof-reached", format: propFlag, flag: true})
	lib.push(libEvent{kind: libEventEndFileEOF})
	waitFor(t, "EndOfMedia", func() bool { return b.State() == StateEndOfMedia })

	waitFor(t, "end callback", func() bool { return rec.endCount() >= 1 })
	time.Sleep(10 * time.Millisecond) // allow a duplicate to surface, if any
	if rec.endCount() != 1 {
		t.Errorf("OnEndReached fired %d times, want 1", rec.endCount())
	}
	if rec.errorCount() != 0 {
		t.Errorf("OnError fired %d times, want 0", rec.errorCount())
	}
}

func TestMPVBackend_PauseFlagTransitions(t *testing.T) {
	b, lib, rec := newTestMPVBackend(t)

	b.Open("http://example.com/movie.mp4", nil)
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })

	lib.push(libEvent{kind: libEventProperty, prop: "pause", format: propFlag, flag: true})
	waitFor(t, "Paused", func() bool { return b.State() == StatePaused })

	// A redundant pause=true echo must not re-fire OnStateChanged.
	before := len(rec.stateSequence())
	lib.push(libEvent{kind: libEventProperty, prop: "pause", format: propFlag, flag: true})
	time.Sleep(10 * time.Millisecond)
	if got := len(rec.stateSequence()); got != before {
		t.Errorf("redundant pause flag fired %d extra transitions", got-before)
	}

	lib.push(libEvent{kind: libEventProperty, prop: "pause", format: propFlag, flag: false})
	waitFor(t, "Playing again", func() bool { return b.State() == StatePlaying })
}

func TestMPVBackend_BufferingTransitions(t *testing.T) {
	b, lib, _ := newTestMPVBackend(t)

	b.Open("http://example.com/live", nil)
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })

	lib.push(libEvent{kind: libEventProperty, prop: "paused-for-cache", format: propFlag, flag: true})
	waitFor(t, "Buffering", func() bool { return b.State() == StateBuffering })

	lib.push(libEvent{kind: libEventProperty, prop: "paused-for-cache", format: propFlag, flag: false})
	waitFor(t, "Playing after rebuffer", func() bool { return b.State() == StatePlaying })
}

func TestMPVBackend_PositionAndClockTrackTimePos(t *testing.T) {
	b, lib, _ := newTestMPVBackend(t)

	b.Open("http://example.com/movie.mp4", nil)
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })

	lib.push(libEvent{kind: libEventProperty, prop: "time-pos", format: propDouble, num: 3.25})
	waitFor(t, "position update", func() bool { return b.Position() == 3_250_000 })

	if got := b.AudioClock(); got != 3_250_000 {
		t.Errorf("AudioClock() = %d, want 3250000", got)
	}
}

func TestMPVBackend_RendersFrames(t *testing.T) {
	b, lib, _ := newTestMPVBackend(t)

	lib.intProps["width"] = 8
	lib.intProps["height"] = 4
	lib.renderFill = 0x7f

	b.Open("http://example.com/movie.mp4", nil)
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })

	lib.mu.Lock()
	lib.frameReady = true
	lib.mu.Unlock()

	waitFor(t, "a published frame", b.HasNewVideoFrame)

	var frame VideoFrame
	if !b.GetVideoFrame(&frame) {
		t.Fatal("GetVideoFrame() = false")
	}
	if frame.Width != 8 || frame.Height != 4 || !frame.Valid {
		t.Errorf("frame = %dx%d valid=%v, want 8x4 valid=true", frame.Width, frame.Height, frame.Valid)
	}
	if len(frame.Data) != 8*4*4 || frame.Data[0] != 0x7f {
		t.Errorf("frame data len=%d fill=%#x, want len=128 fill=0x7f", len(frame.Data), frame.Data[0])
	}
	if b.GetVideoFrame(&frame) {
		t.Error("second GetVideoFrame() = true, want false")
	}
}

func TestMPVBackend_VolumeClampAndPush(t *testing.T) {
	b, lib, _ := newTestMPVBackend(t)

	tests := []struct {
		in       float64
		want     float64
		wantProp string
	}{
		{0.5, 0.5, "50.0"},
		{-2, 0, "0.0"},
		{3, 1, "100.0"},
	}
	for _, tt := range tests {
		b.SetVolume(tt.in)
		if got := b.Volume(); got != tt.want {
			t.Errorf("Volume() after SetVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
		if got := lib.property("volume"); got != tt.wantProp {
			t.Errorf("pushed volume property = %q, want %q", got, tt.wantProp)
		}
	}
}

func TestMPVBackend_Seek(t *testing.T) {
	b, lib, _ := newTestMPVBackend(t)

	if !b.Seek(90_500_000) {
		t.Fatal("Seek() = false")
	}
	cmd := lib.lastCommand()
	if len(cmd) != 3 || cmd[0] != "seek" || cmd[2] != "absolute" {
		t.Fatalf("seek command = %v", cmd)
	}
	if !strings.HasPrefix(cmd[1], "90.5") {
		t.Errorf("seek target = %q, want 90.5 seconds", cmd[1])
	}
}

func TestMPVBackend_CloseKeepsDecodeLoopAlive(t *testing.T) {
	b, lib, _ := newTestMPVBackend(t)

	b.Open("http://example.com/a.mkv", nil)
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing", func() bool { return b.State() == StatePlaying })

	b.Close()
	if got := b.State(); got != StateIdle {
		t.Fatalf("State() after Close = %v, want Idle", got)
	}
	if lib.closed {
		t.Fatal("Close() released the library; only Shutdown may")
	}

	// The warmed-up loop accepts a fresh Open.
	if !b.Open("http://example.com/b.mkv", nil) {
		t.Fatal("re-Open() = false")
	}
	lib.push(libEvent{kind: libEventFileLoaded})
	waitFor(t, "Playing after reopen", func() bool { return b.State() == StatePlaying })
}

func TestMPVBackend_ShutdownIsIdempotent(t *testing.T) {
	lib := newFakeLib()
	b := NewMPVBackend(DefaultMPVConfig())
	b.openLib = func(cfg *MPVConfig) (decodeLib, error) { return lib, nil }

	b.Shutdown() // before Initialize: must not panic

	if !b.Initialize() {
		t.Fatal("Initialize() = false")
	}
	b.Shutdown()
	if !lib.closed {
		t.Error("Shutdown() did not release the library")
	}
	b.Shutdown() // again: no-op

	if got := b.State(); got != StateIdle {
		t.Errorf("State() after Shutdown = %v, want Idle", got)
	}
}

func TestMPVBackend_TransportRequiresHandle(t *testing.T) {
	b := NewMPVBackend(DefaultMPVConfig())
	if b.Play() || b.Pause() || b.Stop() || b.Seek(0) {
		t.Error("transport command on an uninitialized backend returned true")
	}
}

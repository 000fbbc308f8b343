//go:build darwin || linux

// FFI shim binding the decodeLib capability surface over libmpv's C client
// and software render APIs, loaded dynamically via purego. Nothing outside
// this file touches a raw function pointer.

package playback

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Constants from mpv/client.h.
const (
	mpvFormatString = 1
	mpvFormatFlag   = 3
	mpvFormatInt64  = 4
	mpvFormatDouble = 5

	mpvEventNone           = 0
	mpvEventShutdown       = 1
	mpvEventEndFile        = 7
	mpvEventFileLoaded     = 8
	mpvEventPropertyChange = 22

	mpvEndFileReasonEOF      = 0
	mpvEndFileReasonStop     = 2
	mpvEndFileReasonQuit     = 3
	mpvEndFileReasonError    = 4
	mpvEndFileReasonRedirect = 5
)

// Constants from mpv/render.h.
const (
	mpvRenderParamInvalid   = 0
	mpvRenderParamAPIType   = 1
	mpvRenderParamSWSize    = 17
	mpvRenderParamSWFormat  = 18
	mpvRenderParamSWStride  = 19
	mpvRenderParamSWPointer = 20

	mpvRenderUpdateFrame = 1
)

// C struct mirrors. libmpv's event structs are stable ABI; field order and
// padding must match the headers exactly.

// struct mpv_event { mpv_event_id event_id; int error;
//                    uint64_t reply_userdata; void *data; }
type mpvEvent struct {
	eventID       int32
	errorCode     int32
	replyUserdata uint64
	data          uintptr
}

// struct mpv_event_property { const char *name; mpv_format format; void *data; }
type mpvEventProperty struct {
	name   uintptr
	format int32
	_      int32
	data   uintptr
}

// struct mpv_event_end_file { int reason; int error; int64_t playlist_entry_id; }
type mpvEventEndFileData struct {
	reason    int32
	errorCode int32
	entryID   int64
}

// struct mpv_render_param { mpv_render_param_type type; void *data; }
type mpvRenderParam struct {
	kind int32
	_    int32
	data uintptr
}

// mpvFuncs is the typed function table resolved from the shared library.
// Every field is required; initialization is all-or-nothing.
type mpvFuncs struct {
	create            func() uintptr
	initialize        func(handle uintptr) int32
	terminateDestroy  func(handle uintptr)
	command           func(handle uintptr, args uintptr) int32
	commandString     func(handle uintptr, cmd string) int32
	setOptionString   func(handle uintptr, name, value string) int32
	setPropertyString func(handle uintptr, name, value string) int32
	getProperty       func(handle uintptr, name string, format int32, out uintptr) int32
	getPropertyString func(handle uintptr, name string) uintptr
	free              func(ptr uintptr)
	observeProperty   func(handle uintptr, userdata uint64, name string, format int32) int32
	setWakeupCallback func(handle uintptr, cb uintptr, ctx uintptr)
	waitEvent         func(handle uintptr, timeout float64) uintptr
	errorString       func(code int32) uintptr
	renderCtxCreate   func(out uintptr, handle uintptr, params uintptr) int32
	renderCtxFree     func(ctx uintptr)
	renderCtxUpdate   func(ctx uintptr) uint64
	renderCtxRender   func(ctx uintptr, params uintptr) int32
}

// mpvSymbols maps table fields to C entry points, in header order.
var mpvSymbols = []struct {
	name string
	fn   func(*mpvFuncs) any
}{
	{"mpv_create", func(f *mpvFuncs) any { return &f.create }},
	{"mpv_initialize", func(f *mpvFuncs) any { return &f.initialize }},
	{"mpv_terminate_destroy", func(f *mpvFuncs) any { return &f.terminateDestroy }},
	{"mpv_command", func(f *mpvFuncs) any { return &f.command }},
	{"mpv_command_string", func(f *mpvFuncs) any { return &f.commandString }},
	{"mpv_set_option_string", func(f *mpvFuncs) any { return &f.setOptionString }},
	{"mpv_set_property_string", func(f *mpvFuncs) any { return &f.setPropertyString }},
	{"mpv_get_property", func(f *mpvFuncs) any { return &f.getProperty }},
	{"mpv_get_property_string", func(f *mpvFuncs) any { return &f.getPropertyString }},
	{"mpv_free", func(f *mpvFuncs) any { return &f.free }},
	{"mpv_observe_property", func(f *mpvFuncs) any { return &f.observeProperty }},
	{"mpv_set_wakeup_callback", func(f *mpvFuncs) any { return &f.setWakeupCallback }},
	{"mpv_wait_event", func(f *mpvFuncs) any { return &f.waitEvent }},
	{"mpv_error_string", func(f *mpvFuncs) any { return &f.errorString }},
	{"mpv_render_context_create", func(f *mpvFuncs) any { return &f.renderCtxCreate }},
	{"mpv_render_context_free", func(f *mpvFuncs) any { return &f.renderCtxFree }},
	{"mpv_render_context_update", func(f *mpvFuncs) any { return &f.renderCtxUpdate }},
	{"mpv_render_context_render", func(f *mpvFuncs) any { return &f.renderCtxRender }},
}

// mpvLibPaths returns candidate library locations in probe order: caller
// overrides, environment override, executable-local, then the bare soname
// resolved by the OS loader and the usual install prefixes.
func mpvLibPaths(extra []string) []string {
	var names []string
	switch runtime.GOOS {
	case "darwin":
		names = []string{"libmpv.dylib", "libmpv.2.dylib"}
	default:
		names = []string{"libmpv.so", "libmpv.so.2", "libmpv.so.1"}
	}

	paths := append([]string{}, extra...)

	if envPath := os.Getenv("MPV_LIBRARY_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		for _, n := range names {
			paths = append(paths, filepath.Join(exeDir, n))
		}
	}

	// Bare names resolve via the platform's standard search path.
	paths = append(paths, names...)

	switch runtime.GOOS {
	case "darwin":
		for _, n := range names {
			paths = append(paths,
				filepath.Join("/usr/local/lib", n),
				filepath.Join("/opt/homebrew/lib", n),
			)
		}
	default:
		for _, n := range names {
			paths = append(paths,
				filepath.Join("/usr/lib", n),
				filepath.Join("/usr/local/lib", n),
				filepath.Join("/usr/lib/x86_64-linux-gnu", n),
				filepath.Join("/usr/lib/aarch64-linux-gnu", n),
			)
		}
	}
	return paths
}

// mpvClient implements decodeLib over the resolved function table.
type mpvClient struct {
	dl        uintptr
	fn        mpvFuncs
	handle    uintptr
	renderCtx uintptr

	// Pinned for the lifetime of the wakeup registration.
	wakeup   func()
	wakeupCB uintptr
	swFormat []byte // "bgr0\0", kept alive across render calls
}

// loadMPV dlopens the library, resolves the full symbol table and builds a
// configured, initialized client with a software render context. Any failure
// unwinds everything acquired so far.
func loadMPV(cfg *MPVConfig) (decodeLib, error) {
	var lastErr error
	var handle uintptr
	for _, path := range mpvLibPaths(cfg.LibraryPaths) {
		h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			handle = h
			break
		}
		lastErr = err
	}
	if handle == 0 {
		return nil, fmt.Errorf("libmpv not found: %w", lastErr)
	}

	c := &mpvClient{dl: handle, swFormat: append([]byte("bgr0"), 0)}
	for _, sym := range mpvSymbols {
		addr, err := purego.Dlsym(handle, sym.name)
		if err != nil || addr == 0 {
			purego.Dlclose(handle)
			return nil, fmt.Errorf("libmpv missing symbol %s", sym.name)
		}
		purego.RegisterFunc(sym.fn(&c.fn), addr)
	}

	c.handle = c.fn.create()
	if c.handle == 0 {
		purego.Dlclose(handle)
		return nil, errors.New("mpv_create failed")
	}

	// Headless software output, hardware decode probing, network streaming
	// readahead, and no library-owned audio device UI. Options must be set
	// before mpv_initialize.
	options := [][2]string{
		{"vo", "libmpv"},
		{"hwdec", cfg.HWDec},
		{"demuxer-max-bytes", strconv.Itoa(cfg.DemuxerMaxBytes)},
		{"audio-display", "no"},
		{"user-agent", cfg.UserAgent},
		{"terminal", "no"},
		{"input-default-bindings", "no"},
	}
	for k, v := range cfg.ExtraOptions {
		options = append(options, [2]string{k, v})
	}
	for _, opt := range options {
		if code := c.fn.setOptionString(c.handle, opt[0], opt[1]); code < 0 {
			c.fn.terminateDestroy(c.handle)
			purego.Dlclose(handle)
			return nil, fmt.Errorf("set option %s: %s", opt[0], c.errorText(code))
		}
	}

	if code := c.fn.initialize(c.handle); code < 0 {
		c.fn.terminateDestroy(c.handle)
		purego.Dlclose(handle)
		return nil, fmt.Errorf("mpv_initialize: %s", c.errorText(code))
	}

	if err := c.createRenderContext(); err != nil {
		c.fn.terminateDestroy(c.handle)
		purego.Dlclose(handle)
		return nil, err
	}

	return c, nil
}

func (c *mpvClient) createRenderContext() error {
	apiType := append([]byte("sw"), 0)
	params := []mpvRenderParam{
		{kind: mpvRenderParamAPIType, data: uintptr(unsafe.Pointer(&apiType[0]))},
		{kind: mpvRenderParamInvalid},
	}
	var ctx uintptr
	code := c.fn.renderCtxCreate(
		uintptr(unsafe.Pointer(&ctx)),
		c.handle,
		uintptr(unsafe.Pointer(&params[0])),
	)
	runtime.KeepAlive(apiType)
	runtime.KeepAlive(params)
	if code < 0 {
		return fmt.Errorf("mpv_render_context_create: %s", c.errorText(code))
	}
	c.renderCtx = ctx
	return nil
}

func (c *mpvClient) errorText(code int32) string {
	ptr := c.fn.errorString(code)
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

func (c *mpvClient) mpvErr(op string, code int32) error {
	if code >= 0 {
		return nil
	}
	return fmt.Errorf("%s: %s", op, c.errorText(code))
}

// Command marshals args as a NULL-terminated char* array for mpv_command.
func (c *mpvClient) Command(args ...string) error {
	if len(args) == 0 {
		return errors.New("empty command")
	}
	cstrs := make([][]byte, len(args))
	ptrs := make([]uintptr, len(args)+1)
	for i, a := range args {
		cstrs[i] = append([]byte(a), 0)
		ptrs[i] = uintptr(unsafe.Pointer(&cstrs[i][0]))
	}
	code := c.fn.command(c.handle, uintptr(unsafe.Pointer(&ptrs[0])))
	runtime.KeepAlive(cstrs)
	runtime.KeepAlive(ptrs)
	return c.mpvErr("mpv_command "+args[0], code)
}

func (c *mpvClient) SetProperty(name, value string) error {
	return c.mpvErr("set "+name, c.fn.setPropertyString(c.handle, name, value))
}

func (c *mpvClient) GetPropertyDouble(name string) (float64, error) {
	var out float64
	code := c.fn.getProperty(c.handle, name, mpvFormatDouble, uintptr(unsafe.Pointer(&out)))
	if err := c.mpvErr("get "+name, code); err != nil {
		return 0, err
	}
	return out, nil
}

func (c *mpvClient) GetPropertyInt64(name string) (int64, error) {
	var out int64
	code := c.fn.getProperty(c.handle, name, mpvFormatInt64, uintptr(unsafe.Pointer(&out)))
	if err := c.mpvErr("get "+name, code); err != nil {
		return 0, err
	}
	return out, nil
}

func (c *mpvClient) GetPropertyString(name string) (string, error) {
	ptr := c.fn.getPropertyString(c.handle, name)
	if ptr == 0 {
		return "", fmt.Errorf("get %s: unavailable", name)
	}
	s := goStringFromPtr(ptr)
	c.fn.free(ptr)
	return s, nil
}

func (c *mpvClient) ObserveProperty(name string, format propFormat) error {
	var mpvFormat int32
	switch format {
	case propFlag:
		mpvFormat = mpvFormatFlag
	case propInt64:
		mpvFormat = mpvFormatInt64
	case propDouble:
		mpvFormat = mpvFormatDouble
	}
	return c.mpvErr("observe "+name, c.fn.observeProperty(c.handle, 0, name, mpvFormat))
}

func (c *mpvClient) SetWakeupCallback(fn func()) {
	c.wakeup = fn
	c.wakeupCB = purego.NewCallback(func(ctx uintptr) uintptr {
		if c.wakeup != nil {
			c.wakeup()
		}
		return 0
	})
	c.fn.setWakeupCallback(c.handle, c.wakeupCB, 0)
}

// NextEvent drains one event from the library queue without blocking and
// translates it. The returned mpv_event points into library-owned memory
// valid only until the next wait call, so everything is copied out here.
func (c *mpvClient) NextEvent() libEvent {
	for {
		ptr := c.fn.waitEvent(c.handle, 0)
		if ptr == 0 {
			return libEvent{kind: libEventNone}
		}
		ev := (*mpvEvent)(unsafe.Pointer(ptr))
		switch ev.eventID {
		case mpvEventNone:
			return libEvent{kind: libEventNone}

		case mpvEventFileLoaded:
			return libEvent{kind: libEventFileLoaded}

		case mpvEventEndFile:
			end := (*mpvEventEndFileData)(unsafe.Pointer(ev.data))
			switch end.reason {
			case mpvEndFileReasonEOF:
				return libEvent{kind: libEventEndFileEOF}
			case mpvEndFileReasonError:
				return libEvent{
					kind: libEventEndFileError,
					err:  errors.New(c.errorText(end.errorCode)),
				}
			default: // stop, quit, redirect
				return libEvent{kind: libEventEndFileStop}
			}

		case mpvEventPropertyChange:
			prop := (*mpvEventProperty)(unsafe.Pointer(ev.data))
			out := libEvent{kind: libEventProperty, prop: goStringFromPtr(prop.name)}
			if prop.data == 0 {
				continue // property became unavailable; nothing to report
			}
			switch prop.format {
			case mpvFormatFlag:
				out.format = propFlag
				out.flag = *(*int32)(unsafe.Pointer(prop.data)) != 0
			case mpvFormatInt64:
				out.format = propInt64
				out.inum = *(*int64)(unsafe.Pointer(prop.data))
			case mpvFormatDouble:
				out.format = propDouble
				out.num = *(*float64)(unsafe.Pointer(prop.data))
			default:
				continue
			}
			return out

		default:
			// Log messages, replies and other events the backend does not
			// consume; keep draining.
			continue
		}
	}
}

func (c *mpvClient) RenderFrameReady() bool {
	return c.fn.renderCtxUpdate(c.renderCtx)&mpvRenderUpdateFrame != 0
}

// RenderFrame software-renders the current frame into dst as packed BGRA
// ("bgr0" in mpv's sw format naming), stride width*4.
func (c *mpvClient) RenderFrame(dst []byte, width, height int) error {
	if len(dst) < width*height*4 {
		return errors.New("render buffer too small")
	}
	size := [2]int32{int32(width), int32(height)}
	stride := uintptr(width * 4)
	params := []mpvRenderParam{
		{kind: mpvRenderParamSWSize, data: uintptr(unsafe.Pointer(&size[0]))},
		{kind: mpvRenderParamSWFormat, data: uintptr(unsafe.Pointer(&c.swFormat[0]))},
		{kind: mpvRenderParamSWStride, data: uintptr(unsafe.Pointer(&stride))},
		{kind: mpvRenderParamSWPointer, data: uintptr(unsafe.Pointer(&dst[0]))},
		{kind: mpvRenderParamInvalid},
	}
	code := c.fn.renderCtxRender(c.renderCtx, uintptr(unsafe.Pointer(&params[0])))
	runtime.KeepAlive(size)
	runtime.KeepAlive(stride)
	runtime.KeepAlive(params)
	runtime.KeepAlive(dst)
	return c.mpvErr("mpv_render_context_render", code)
}

func (c *mpvClient) Close() {
	if c.renderCtx != 0 {
		c.fn.renderCtxFree(c.renderCtx)
		c.renderCtx = 0
	}
	if c.handle != 0 {
		c.fn.terminateDestroy(c.handle)
		c.handle = 0
	}
	if c.dl != 0 {
		purego.Dlclose(c.dl)
		c.dl = 0
	}
}

func init() {
	loadMPVLibrary = loadMPV
	RegisterBackend(BackendMPV, func() PlayerBackend {
		return NewMPVBackend(DefaultMPVConfig())
	})
}

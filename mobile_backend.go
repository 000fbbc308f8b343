package playback

// MobileBackend is a placeholder for the hardware-decoder backend on
// Android/iOS. It satisfies the PlayerBackend contract but decodes nothing:
// Initialize succeeds so hosts can exercise their wiring, every transport
// command reports not-ready, and no frames or samples are ever produced.
//
// TODO: replace with MediaCodec/AVPlayer integration.
type MobileBackend struct {
	playerCore
	initialized bool
}

var _ PlayerBackend = (*MobileBackend)(nil)

// NewMobileBackend creates the stub backend.
func NewMobileBackend() *MobileBackend {
	return &MobileBackend{playerCore: newPlayerCore(0)}
}

func (m *MobileBackend) Initialize() bool {
	m.initialized = true
	return true
}

func (m *MobileBackend) Shutdown() {
	m.initialized = false
	m.resetExchange()
	m.setState(StateIdle)
}

func (m *MobileBackend) Open(url string, headers []Header) bool { return false }

func (m *MobileBackend) Close() {
	m.resetExchange()
	m.setState(StateIdle)
}

func (m *MobileBackend) Play() bool                 { return false }
func (m *MobileBackend) Pause() bool                { return false }
func (m *MobileBackend) Stop() bool                 { return false }
func (m *MobileBackend) Seek(positionUs int64) bool { return false }

func (m *MobileBackend) SetVolume(v float64) {
	m.storeVolume(v)
}

func init() {
	RegisterBackend(BackendMobile, func() PlayerBackend { return NewMobileBackend() })
}

package playback

import (
	"math"
	"time"
)

// PatternType selects the synthetic video pattern.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE-style color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard
	PatternSolidColor                      // Solid color
	PatternMovingBox                       // White box on a circular path (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternSolidColor:
		return "SolidColor"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// PatternConfig configures the synthetic backend.
type PatternConfig struct {
	Width   int         // Frame width (default: 640)
	Height  int         // Frame height (default: 360)
	FPS     int         // Frames per second (default: 30)
	Pattern PatternType // Pattern type (default: ColorBars)

	// For SolidColor pattern
	SolidR, SolidG, SolidB uint8

	// For Checkerboard pattern
	CheckerSize int // Size of each checker square (default: 32)

	ToneHz        float64 // Audio tone frequency; 0 produces silence (default: 440)
	ToneAmplitude float64 // Peak amplitude 0..1 (default: 0.2)
	Channels      int     // Audio channels (default: 2)
	SampleRate    int     // Audio sample rate (default: 48000)

	// DurationUs ends the stream at this position; 0 runs forever.
	DurationUs int64

	RingCapacity int // Audio ring size in samples; 0 means the default
}

// DefaultPatternConfig returns a default pattern configuration.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		Width:         640,
		Height:        360,
		FPS:           30,
		Pattern:       PatternColorBars,
		CheckerSize:   32,
		ToneHz:        440,
		ToneAmplitude: 0.2,
		Channels:      2,
		SampleRate:    48000,
	}
}

// PatternBackend is a synthetic PlayerBackend: test pattern video in packed
// BGRA plus a sine tone through the PCM pull API, generated on a decode
// goroutine in the same loop shape as the native backends. It exercises the
// full host contract without media files or native libraries, and its clock
// is driven by produced samples, not wall time, so hosts see the same
// position/audio-clock behavior they get from real decoders.
type PatternBackend struct {
	playerCore
	cfg PatternConfig

	initialized bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	cmdCh       chan func()

	// Decode-goroutine-local generation state.
	pixels     []byte
	frameCount uint64
	tonePhase  float64
}

// NewPatternBackend creates an uninitialized synthetic backend.
func NewPatternBackend(cfg PatternConfig) *PatternBackend {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.CheckerSize <= 0 {
		cfg.CheckerSize = 32
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 2
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48000
	}
	if cfg.ToneAmplitude <= 0 {
		cfg.ToneAmplitude = 0.2
	}
	return &PatternBackend{
		playerCore: newPlayerCore(cfg.RingCapacity),
		cfg:        cfg,
	}
}

func (p *PatternBackend) Initialize() bool {
	if p.initialized {
		return true
	}
	p.pixels = make([]byte, p.cfg.Width*p.cfg.Height*4)
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.cmdCh = make(chan func(), 8)
	p.initialized = true
	go p.decodeLoop()
	return true
}

func (p *PatternBackend) Shutdown() {
	if !p.initialized {
		return
	}
	close(p.stopCh)
	<-p.doneCh
	p.initialized = false
	p.resetExchange()
	p.setState(StateIdle)
}

// Open "loads" the synthetic stream: the url and headers are accepted for
// contract parity and ignored. The open completes asynchronously on the
// decode goroutine, like a real backend.
func (p *PatternBackend) Open(url string, headers []Header) bool {
	if !p.initialized {
		return false
	}
	p.resetExchange()
	p.setState(StateOpening)
	return p.post(func() {
		p.frameCount = 0
		p.tonePhase = 0
		p.durationUs.Store(p.cfg.DurationUs)
		p.setInfo(MediaInfo{
			Width:      p.cfg.Width,
			Height:     p.cfg.Height,
			FrameRate:  float64(p.cfg.FPS),
			Channels:   p.cfg.Channels,
			SampleRate: p.cfg.SampleRate,
			DurationUs: p.cfg.DurationUs,
			VideoCodec: "pattern",
			AudioCodec: "tone",
			Container:  "synthetic",
		})
		if p.transition(StateOpening, StatePlaying) {
			if ev := p.snapshotEvents(); ev.OnMediaOpened != nil {
				ev.OnMediaOpened(true)
			}
		}
	})
}

func (p *PatternBackend) Close() {
	if !p.initialized {
		p.resetExchange()
		p.setState(StateIdle)
		return
	}
	p.post(func() {
		p.resetExchange()
		p.setState(StateIdle)
	})
}

func (p *PatternBackend) Play() bool {
	if !p.initialized {
		return false
	}
	return p.post(func() { p.transition(StatePaused, StatePlaying) })
}

func (p *PatternBackend) Pause() bool {
	if !p.initialized {
		return false
	}
	return p.post(func() { p.transition(StatePlaying, StatePaused) })
}

func (p *PatternBackend) Stop() bool {
	if !p.initialized {
		return false
	}
	return p.post(func() {
		if p.State() != StateIdle {
			p.setState(StateStopped)
		}
	})
}

func (p *PatternBackend) Seek(positionUs int64) bool {
	if !p.initialized {
		return false
	}
	return p.post(func() {
		if positionUs < 0 {
			positionUs = 0
		}
		if d := p.cfg.DurationUs; d > 0 && positionUs > d {
			positionUs = d
		}
		p.positionUs.Store(positionUs)
		p.audioClockUs.Store(positionUs)
		p.audioReadUs.Store(positionUs)
		p.frameCount = uint64(positionUs) * uint64(p.cfg.FPS) / 1e6
	})
}

func (p *PatternBackend) SetVolume(v float64) {
	p.storeVolume(v)
}

// post hands fn to the decode goroutine; drops it (returning false) when the
// command queue is full or the backend is stopping.
func (p *PatternBackend) post(fn func()) bool {
	select {
	case p.cmdCh <- fn:
		return true
	case <-p.stopCh:
		return false
	}
}

func (p *PatternBackend) decodeLoop() {
	defer close(p.doneCh)

	frameDur := time.Second / time.Duration(p.cfg.FPS)
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case cmd := <-p.cmdCh:
			cmd()
		case <-ticker.C:
			if p.State() != StatePlaying {
				continue
			}
			p.produceTick()
		}
	}
}

// produceTick emits one frame interval worth of video and audio and advances
// the synthetic stream clock.
func (p *PatternBackend) produceTick() {
	pts := p.Position()

	p.generatePattern(p.frameCount)
	p.frameCount++
	frame := VideoFrame{
		Data:        p.pixels,
		Width:       p.cfg.Width,
		Height:      p.cfg.Height,
		TimestampUs: pts,
		Valid:       true,
	}
	p.videoBuf.WriteFrame(&frame)

	samples := p.generateTone()
	p.writeAudio(samples, pts, p.cfg.Channels, p.cfg.SampleRate)

	next := pts + int64(time.Second/time.Duration(p.cfg.FPS)/time.Microsecond)
	p.positionUs.Store(next)

	if d := p.cfg.DurationUs; d > 0 && next >= d {
		p.positionUs.Store(d)
		p.setState(StateEndOfMedia)
		if ev := p.snapshotEvents(); ev.OnEndReached != nil {
			ev.OnEndReached()
		}
	}
}

// generateTone produces one frame interval of interleaved sine (or silence
// when ToneHz is 0), scaled by the current volume, with continuous phase
// across ticks.
func (p *PatternBackend) generateTone() []float32 {
	perChannel := p.cfg.SampleRate / p.cfg.FPS
	out := make([]float32, perChannel*p.cfg.Channels)
	if p.cfg.ToneHz <= 0 {
		return out
	}

	amp := p.cfg.ToneAmplitude * p.Volume()
	step := 2 * math.Pi * p.cfg.ToneHz / float64(p.cfg.SampleRate)
	for i := 0; i < perChannel; i++ {
		s := float32(amp * math.Sin(p.tonePhase))
		p.tonePhase += step
		for ch := 0; ch < p.cfg.Channels; ch++ {
			out[i*p.cfg.Channels+ch] = s
		}
	}
	if p.tonePhase > 2*math.Pi {
		p.tonePhase = math.Mod(p.tonePhase, 2*math.Pi)
	}
	return out
}

func (p *PatternBackend) generatePattern(frameNum uint64) {
	switch p.cfg.Pattern {
	case PatternGradient:
		p.generateGradient()
	case PatternCheckerboard:
		p.generateCheckerboard()
	case PatternSolidColor:
		p.generateSolidColor(p.cfg.SolidR, p.cfg.SolidG, p.cfg.SolidB)
	case PatternMovingBox:
		p.generateMovingBox(frameNum)
	default:
		p.generateColorBars()
	}
}

// setPixel writes one BGRA pixel.
func (p *PatternBackend) setPixel(x, y int, r, g, b uint8) {
	i := (y*p.cfg.Width + x) * 4
	p.pixels[i] = b
	p.pixels[i+1] = g
	p.pixels[i+2] = r
	p.pixels[i+3] = 0xff
}

// Simplified 8-bar SMPTE pattern (75% levels).
var colorBarsRGB = [8][3]uint8{
	{192, 192, 192}, // White
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

func (p *PatternBackend) generateColorBars() {
	w, h := p.cfg.Width, p.cfg.Height
	barWidth := w / 8
	if barWidth == 0 {
		barWidth = 1
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			barIdx := x / barWidth
			if barIdx >= 8 {
				barIdx = 7
			}
			rgb := colorBarsRGB[barIdx]
			p.setPixel(x, y, rgb[0], rgb[1], rgb[2])
		}
	}
}

func (p *PatternBackend) generateGradient() {
	w, h := p.cfg.Width, p.cfg.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x * 255) / w)
			p.setPixel(x, y, v, v, v)
		}
	}
}

func (p *PatternBackend) generateCheckerboard() {
	w, h := p.cfg.Width, p.cfg.Height
	size := p.cfg.CheckerSize
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/size)+(y/size))%2 == 0 {
				p.setPixel(x, y, 235, 235, 235)
			} else {
				p.setPixel(x, y, 16, 16, 16)
			}
		}
	}
}

func (p *PatternBackend) generateSolidColor(r, g, b uint8) {
	w, h := p.cfg.Width, p.cfg.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.setPixel(x, y, r, g, b)
		}
	}
}

func (p *PatternBackend) generateMovingBox(frameNum uint64) {
	w, h := p.cfg.Width, p.cfg.Height
	p.generateSolidColor(16, 16, 16)

	boxSize := minInt(w, h) / 6
	radius := float64(minInt(w, h)) / 4
	angle := float64(frameNum) * 0.05
	boxX := w/2 + int(radius*math.Cos(angle)) - boxSize/2
	boxY := h/2 + int(radius*math.Sin(angle)) - boxSize/2

	for y := boxY; y < boxY+boxSize && y < h; y++ {
		if y < 0 {
			continue
		}
		for x := boxX; x < boxX+boxSize && x < w; x++ {
			if x < 0 {
				continue
			}
			p.setPixel(x, y, 235, 235, 235)
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ PlayerBackend = (*PatternBackend)(nil)

func init() {
	RegisterBackend(BackendPattern, func() PlayerBackend {
		return NewPatternBackend(DefaultPatternConfig())
	})
}

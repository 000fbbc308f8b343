// Core frame and sample types exchanged between a backend and its host.
package playback

// VideoFrame is one decoded video frame in packed BGRA (4 bytes per pixel).
// Frames handed out by GetVideoFrame are deep copies; the host may hold them
// for as long as it likes.
type VideoFrame struct {
	Data        []byte // Packed BGRA pixels, Width*Height*4 bytes
	Width       int    // Frame width in pixels
	Height      int    // Frame height in pixels
	TimestampUs int64  // Presentation timestamp in microseconds
	Valid       bool   // False for a default/reset frame slot
}

// CopyFrom deep-copies src into f, reusing f's pixel buffer when capacity
// allows.
func (f *VideoFrame) CopyFrom(src *VideoFrame) {
	need := len(src.Data)
	if cap(f.Data) < need {
		f.Data = make([]byte, need)
	}
	f.Data = f.Data[:need]
	copy(f.Data, src.Data)
	f.Width = src.Width
	f.Height = src.Height
	f.TimestampUs = src.TimestampUs
	f.Valid = src.Valid
}

// reset returns the frame to its default invalid state without releasing the
// pixel buffer.
func (f *VideoFrame) reset() {
	f.Data = f.Data[:0]
	f.Width = 0
	f.Height = 0
	f.TimestampUs = 0
	f.Valid = false
}

// AudioSampleBatch describes the samples returned by one GetAudioSamples
// call. It is request-scoped: constructed fresh per call, never stored by
// the backend.
type AudioSampleBatch struct {
	Samples     int   // Real (non-padding) samples copied into the caller's buffer
	Channels    int   // Interleaved channel count
	SampleRate  int   // Samples per second per channel
	TimestampUs int64 // Presentation timestamp of the first sample
}

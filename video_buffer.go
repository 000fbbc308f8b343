package playback

import "sync"

// VideoFrameBuffer exchanges decoded frames between the decode goroutine and
// the host's render goroutine with latest-wins semantics: two slots, the
// producer always writing into the slot the consumer is not exposed to, so a
// burst of writes simply discards intermediate frames. There is no queue and
// no backpressure.
type VideoFrameBuffer struct {
	mu         sync.Mutex
	frames     [2]VideoFrame
	writeIndex int
	readIndex  int
	newFrame   bool
}

// NewVideoFrameBuffer returns an empty double buffer; both slots start
// invalid.
func NewVideoFrameBuffer() *VideoFrameBuffer {
	return &VideoFrameBuffer{writeIndex: 0, readIndex: 1}
}

// WriteFrame copies frame into the back slot and swaps it to the front. The
// previous front frame becomes the next write target and is overwritten on
// the next call.
func (b *VideoFrameBuffer) WriteFrame(frame *VideoFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.frames[b.writeIndex].CopyFrom(frame)
	b.writeIndex, b.readIndex = b.readIndex, b.writeIndex
	b.newFrame = true
}

// ReadFrame copies the most recent frame into out. It returns false without
// touching out when no unconsumed frame exists; otherwise it clears the
// new-frame flag and returns the copied frame's own validity, so a
// structurally written but invalid frame still reads as false.
func (b *VideoFrameBuffer) ReadFrame(out *VideoFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.newFrame {
		return false
	}
	out.CopyFrom(&b.frames[b.readIndex])
	b.newFrame = false
	return out.Valid
}

// HasNewFrame reports whether a frame written since the last ReadFrame is
// waiting. It never copies.
func (b *VideoFrameBuffer) HasNewFrame() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.newFrame
}

// Reset invalidates both slots and clears the new-frame flag.
func (b *VideoFrameBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames[0].reset()
	b.frames[1].reset()
	b.newFrame = false
}

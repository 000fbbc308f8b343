package playback

import "sync"

// DefaultAudioRingCapacity holds two seconds of stereo 48kHz audio.
const DefaultAudioRingCapacity = 2 * 48000 * 2

// AudioRingBuffer is a fixed-capacity circular buffer of interleaved float32
// PCM samples with one producer (the decode goroutine) and one consumer (the
// host's audio callback). A single coarse mutex guards cursors and storage;
// write/read volumes are tiny relative to tick rate so contention is not a
// concern here.
//
// One slot is always kept unused to disambiguate full from empty, so a ring
// constructed with capacity N stores at most N-1 samples.
type AudioRingBuffer struct {
	mu       sync.Mutex
	data     []float32
	readPos  int
	writePos int
}

// NewAudioRingBuffer creates a ring with the given capacity in samples.
// Non-positive capacities fall back to DefaultAudioRingCapacity.
func NewAudioRingBuffer(capacity int) *AudioRingBuffer {
	if capacity <= 0 {
		capacity = DefaultAudioRingCapacity
	}
	return &AudioRingBuffer{data: make([]float32, capacity)}
}

// Capacity returns the ring's total slot count (usable capacity is one less).
func (r *AudioRingBuffer) Capacity() int {
	return len(r.data)
}

// Write copies samples into the ring and returns how many were accepted.
// When the ring fills, the tail of the input is silently dropped: the decode
// goroutine must never stall on a full audio buffer, and unread audio is
// never overwritten.
func (r *AudioRingBuffer) Write(samples []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := 0
	for _, s := range samples {
		next := (r.writePos + 1) % len(r.data)
		if next == r.readPos {
			break // full, reserved slot reached
		}
		r.data[r.writePos] = s
		r.writePos = next
		written++
	}
	return written
}

// Read copies up to len(out) samples into out and returns how many were
// real. The remainder of out is left untouched; callers zero-fill when
// feeding a device that needs silence.
func (r *AudioRingBuffer) Read(out []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	read := 0
	for read < len(out) && r.readPos != r.writePos {
		out[read] = r.data[r.readPos]
		r.readPos = (r.readPos + 1) % len(r.data)
		read++
	}
	return read
}

// Available returns the number of buffered samples.
func (r *AudioRingBuffer) Available() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.availableLocked()
}

func (r *AudioRingBuffer) availableLocked() int {
	if r.writePos >= r.readPos {
		return r.writePos - r.readPos
	}
	return len(r.data) - r.readPos + r.writePos
}

// FreeSpace returns how many samples a Write can currently accept.
func (r *AudioRingBuffer) FreeSpace() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data) - r.availableLocked() - 1
}

// Reset empties the ring and zeroes its storage so a reopened stream cannot
// replay stale audio.
func (r *AudioRingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readPos = 0
	r.writePos = 0
	for i := range r.data {
		r.data[i] = 0
	}
}

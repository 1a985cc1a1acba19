package audio

import (
	"sync"
)

// RingBuffer is a thread-safe window over the most recent float samples.
// Writes never block; once full, the oldest samples are overwritten.
type RingBuffer struct {
	buffer []float32
	size   int
	write  int
	filled int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer holding up to size samples
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write appends samples, overwriting the oldest ones when the window is full
func (rb *RingBuffer) Write(data []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	// Only the tail can survive if data is larger than the window
	if len(data) > rb.size {
		data = data[len(data)-rb.size:]
	}

	for _, s := range data {
		rb.buffer[rb.write] = s
		rb.write = (rb.write + 1) % rb.size
	}
	rb.filled += len(data)
	if rb.filled > rb.size {
		rb.filled = rb.size
	}
}

// Snapshot returns the buffered samples oldest first
func (rb *RingBuffer) Snapshot() []float32 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]float32, rb.filled)
	start := (rb.write - rb.filled + rb.size) % rb.size
	for i := 0; i < rb.filled; i++ {
		out[i] = rb.buffer[(start+i)%rb.size]
	}
	return out
}

// Len returns the number of buffered samples
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.filled
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.write = 0
	rb.filled = 0
}

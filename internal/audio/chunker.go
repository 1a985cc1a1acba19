package audio

import "time"

// ChunkSource tells where a chunk came from.
type ChunkSource string

const (
	SourceCapture  ChunkSource = "capture"
	SourcePlayback ChunkSource = "playback"
)

// Chunk is a fixed-duration block of mono samples. Capture chunks are handed
// to the send path exactly once; playback chunks live in the playback queue
// until rendered.
type Chunk struct {
	Samples    []float32
	SampleRate int
	Source     ChunkSource
	Seq        uint64
}

// ChunkSize returns the number of samples in one chunk of duration d.
func ChunkSize(sampleRate int, d time.Duration) int {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if n < 1 {
		n = 1
	}
	return n
}

// Chunker slices an arbitrarily sized stream of device buffers into chunks of
// exactly size samples, preserving order across buffer boundaries.
type Chunker struct {
	size    int
	pending []float32
}

func NewChunker(size int) *Chunker {
	if size < 1 {
		size = 1
	}
	return &Chunker{size: size}
}

// Push appends samples to the backlog and returns every complete chunk, one
// slice per chunk. Fewer than size samples stay buffered.
func (c *Chunker) Push(samples []float32) [][]float32 {
	c.pending = append(c.pending, samples...)

	chunks := make([][]float32, 0, len(c.pending)/c.size)
	for len(c.pending) >= c.size {
		chunk := make([]float32, c.size)
		copy(chunk, c.pending[:c.size])
		c.pending = c.pending[c.size:]
		chunks = append(chunks, chunk)
	}

	// Compact so the backing array does not grow without bound.
	if len(c.pending) > 0 && cap(c.pending) > 4*c.size {
		c.pending = append([]float32(nil), c.pending...)
	}
	return chunks
}

// Pending returns the number of buffered samples not yet emitted.
func (c *Chunker) Pending() int {
	return len(c.pending)
}

// Reset drops the backlog.
func (c *Chunker) Reset() {
	c.pending = nil
}

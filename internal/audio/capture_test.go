package audio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeMicrophone struct {
	mu        sync.Mutex
	rate      int
	accessErr error
	onBuffer  func([]float32)
	opens     int
	closes    int
}

func (m *fakeMicrophone) RequestAccess(context.Context) error {
	return m.accessErr
}

func (m *fakeMicrophone) Open(onBuffer func([]float32)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBuffer = onBuffer
	m.opens++
	return m.rate, nil
}

func (m *fakeMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeMicrophone) feed(samples []float32) {
	m.mu.Lock()
	cb := m.onBuffer
	m.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

func (m *fakeMicrophone) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type chunkRecorder struct {
	mu     sync.Mutex
	chunks []Chunk
	levels []float64
}

func (r *chunkRecorder) onChunk(c Chunk) {
	r.mu.Lock()
	r.chunks = append(r.chunks, c)
	r.mu.Unlock()
}

func (r *chunkRecorder) onLevel(l float64) {
	r.mu.Lock()
	r.levels = append(r.levels, l)
	r.mu.Unlock()
}

func (r *chunkRecorder) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func (r *chunkRecorder) lastLevel() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.levels) == 0 {
		return 0, false
	}
	return r.levels[len(r.levels)-1], true
}

func newTestCapture(mic *fakeMicrophone) *Capture {
	return NewCapture(mic, CaptureConfig{
		ChunkDuration:  100 * time.Millisecond,
		LevelInterval:  5 * time.Millisecond,
		AnalysisWindow: 2048,
	}, zerolog.Nop())
}

func grant(t *testing.T, c *Capture) {
	t.Helper()
	ok, err := c.RequestPermission(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCaptureRequiresPermission(t *testing.T) {
	c := newTestCapture(&fakeMicrophone{rate: 48000})

	_, err := c.Start(nil, nil)
	require.ErrorIs(t, err, ErrPermissionRequired)
	require.False(t, c.Capturing())
}

func TestCapturePermissionDenied(t *testing.T) {
	mic := &fakeMicrophone{rate: 48000, accessErr: errors.New("source is muted")}
	c := newTestCapture(mic)

	ok, err := c.RequestPermission(context.Background())
	require.False(t, ok)
	require.ErrorIs(t, err, ErrPermissionDenied)
}

func TestCaptureChunksAtNativeRate(t *testing.T) {
	mic := &fakeMicrophone{rate: 48000}
	c := newTestCapture(mic)
	grant(t, c)

	rec := &chunkRecorder{}
	rate, err := c.Start(rec.onLevel, rec.onChunk)
	require.NoError(t, err)
	require.Equal(t, 48000, rate)

	for i := 0; i < 10; i++ {
		mic.feed(make([]float32, 4096))
	}

	// 40960 samples in 4800-sample chunks
	require.Equal(t, 8, rec.chunkCount())
	for i, chunk := range rec.chunks {
		require.Len(t, chunk.Samples, 4800)
		require.Equal(t, 48000, chunk.SampleRate)
		require.Equal(t, SourceCapture, chunk.Source)
		require.Equal(t, uint64(i+1), chunk.Seq)
	}
	c.Stop()
}

func TestCaptureStartIsIdempotent(t *testing.T) {
	mic := &fakeMicrophone{rate: 44100}
	c := newTestCapture(mic)
	grant(t, c)

	rate1, err := c.Start(nil, nil)
	require.NoError(t, err)
	rate2, err := c.Start(nil, nil)
	require.NoError(t, err)

	require.Equal(t, rate1, rate2)
	require.Equal(t, 1, mic.opens)
	c.Stop()
}

func TestCaptureNegotiatedRateResamples(t *testing.T) {
	mic := &fakeMicrophone{rate: 48000}
	c := newTestCapture(mic)
	grant(t, c)
	c.Negotiate(16000)

	rec := &chunkRecorder{}
	rate, err := c.Start(nil, rec.onChunk)
	require.NoError(t, err)
	require.Equal(t, 48000, rate)
	require.Equal(t, 16000, c.SampleRate())

	mic.feed(make([]float32, 4800))

	require.Equal(t, 1, rec.chunkCount())
	require.Len(t, rec.chunks[0].Samples, 1600)
	require.Equal(t, 16000, rec.chunks[0].SampleRate)
	c.Stop()
}

func TestCaptureStopEmitsFinalLevelAndSilencesChunks(t *testing.T) {
	mic := &fakeMicrophone{rate: 16000}
	c := newTestCapture(mic)
	grant(t, c)

	rec := &chunkRecorder{}
	_, err := c.Start(rec.onLevel, rec.onChunk)
	require.NoError(t, err)

	loud := make([]float32, 1600)
	for i := range loud {
		loud[i] = 0.5
	}
	mic.feed(loud)

	require.Eventually(t, func() bool {
		level, ok := rec.lastLevel()
		return ok && level > 0.4
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	seen := len(rec.levels)
	rec.mu.Unlock()

	c.Stop()
	c.Stop()

	rec.mu.Lock()
	after := append([]float64(nil), rec.levels[seen:]...)
	rec.mu.Unlock()
	require.Contains(t, after, 0.0)
	require.False(t, c.Capturing())
	require.Equal(t, 1, mic.closeCount())

	before := rec.chunkCount()
	mic.feed(loud)
	require.Equal(t, before, rec.chunkCount())
}

func TestCaptureStopFromInsideChunkCallback(t *testing.T) {
	mic := &fakeMicrophone{rate: 16000}
	c := newTestCapture(mic)
	grant(t, c)

	var delivered int
	_, err := c.Start(nil, func(Chunk) {
		delivered++
		c.Stop()
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		mic.feed(make([]float32, 3*1600))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop from inside the chunk callback deadlocked")
	}

	require.Equal(t, 1, delivered)
	require.False(t, c.Capturing())
	require.Eventually(t, func() bool { return mic.closeCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCaptureStopFromAnotherGoroutineWaitsForChunkCallback(t *testing.T) {
	mic := &fakeMicrophone{rate: 16000}
	c := newTestCapture(mic)
	grant(t, c)

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls, running atomic.Int32
	_, err := c.Start(nil, func(Chunk) {
		calls.Add(1)
		running.Add(1)
		entered <- struct{}{}
		<-release
		running.Add(-1)
	})
	require.NoError(t, err)

	go mic.feed(make([]float32, 1600))
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("chunk callback never ran")
	}

	stopped := make(chan int32, 1)
	go func() {
		c.Stop()
		stopped <- running.Load()
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while the chunk callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case inFlight := <-stopped:
		require.Equal(t, int32(0), inFlight)
	case <-time.After(time.Second):
		t.Fatal("Stop never returned")
	}

	require.Equal(t, 1, mic.closeCount())
	mic.feed(make([]float32, 1600))
	require.Equal(t, int32(1), calls.Load())
}

func TestCaptureStopFromAnotherGoroutineEndsOnZeroLevel(t *testing.T) {
	mic := &fakeMicrophone{rate: 16000}
	c := newTestCapture(mic)
	grant(t, c)

	var (
		mu      sync.Mutex
		levels  []float64
		blocked = -1
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	_, err := c.Start(func(l float64) {
		mu.Lock()
		levels = append(levels, l)
		first := l > 0.4 && blocked < 0
		if first {
			blocked = len(levels) - 1
		}
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
	}, nil)
	require.NoError(t, err)

	loud := make([]float32, 1600)
	for i := range loud {
		loud[i] = 0.5
	}
	mic.feed(loud)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("level callback never saw the loud buffer")
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	time.Sleep(30 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop never returned")
	}
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []float64{0}, levels[blocked+1:], "the final level must be the zero from Stop")
}

func TestCaptureRestartAfterStop(t *testing.T) {
	mic := &fakeMicrophone{rate: 16000}
	c := newTestCapture(mic)
	grant(t, c)

	_, err := c.Start(nil, nil)
	require.NoError(t, err)
	c.Stop()

	rec := &chunkRecorder{}
	_, err = c.Start(nil, rec.onChunk)
	require.NoError(t, err)

	mic.feed(make([]float32, 1600))
	require.Equal(t, 1, rec.chunkCount())
	require.Equal(t, uint64(1), rec.chunks[0].Seq)
	c.Stop()
}

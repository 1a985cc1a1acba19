package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/observability"
)

var (
	// ErrPermissionDenied is returned when the input device refuses access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrPermissionRequired is returned by Start before a granted RequestPermission.
	ErrPermissionRequired = errors.New("microphone permission has not been granted")
)

// Microphone is an exclusive input device producing mono float buffers.
type Microphone interface {
	// RequestAccess asks for the device; denial wraps ErrPermissionDenied.
	RequestAccess(ctx context.Context) error
	// Open starts delivering buffers of arbitrary size and returns the
	// device's native sample rate.
	Open(onBuffer func(samples []float32)) (int, error)
	Close() error
}

// CaptureConfig controls chunk sizing and the level meter.
type CaptureConfig struct {
	ChunkDuration  time.Duration
	LevelInterval  time.Duration
	AnalysisWindow int
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		ChunkDuration:  100 * time.Millisecond,
		LevelInterval:  16 * time.Millisecond,
		AnalysisWindow: 2048,
	}
}

// Capture turns microphone buffers into fixed-duration chunks and a running
// level meter. Callbacks are serialized and none begins after Stop returns.
type Capture struct {
	mic    Microphone
	cfg    CaptureConfig
	logger zerolog.Logger

	// deliverMu serializes callback delivery between the device and the
	// level ticker.
	deliverMu sync.Mutex

	mu         sync.Mutex
	permitted  bool
	started    bool
	deliverer  uint64 // goroutine holding deliverMu, 0 when idle
	generation uint64
	targetRate int
	nativeRate int
	chunkRate  int
	seq        uint64
	chunker    *Chunker
	resampler  *StreamResampler
	window     *RingBuffer
	onLevel    func(level float64)
	onChunk    func(chunk Chunk)
	stopLevel  chan struct{}
}

func NewCapture(mic Microphone, cfg CaptureConfig, logger zerolog.Logger) *Capture {
	def := DefaultCaptureConfig()
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = def.ChunkDuration
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = def.LevelInterval
	}
	if cfg.AnalysisWindow <= 0 {
		cfg.AnalysisWindow = def.AnalysisWindow
	}
	return &Capture{
		mic:    mic,
		cfg:    cfg,
		logger: logger.With().Str("component", "capture").Logger(),
		window: NewRingBuffer(cfg.AnalysisWindow),
	}
}

// RequestPermission asks the device for access. A denial returns false with
// an error matching ErrPermissionDenied.
func (c *Capture) RequestPermission(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.permitted {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	if err := c.mic.RequestAccess(ctx); err != nil {
		if !errors.Is(err, ErrPermissionDenied) {
			err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		observability.RecordError("permission_denied", "capture")
		return false, err
	}

	c.mu.Lock()
	c.permitted = true
	c.mu.Unlock()
	return true, nil
}

// Negotiate sets the rate chunks are produced at; 0 keeps the native rate.
// It applies from the next Start.
func (c *Capture) Negotiate(rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rate < 0 {
		rate = 0
	}
	c.targetRate = rate
}

// Start opens the device and begins chunk and level callbacks. It returns the
// device's native rate. Calling Start while started is a no-op.
func (c *Capture) Start(onLevel func(level float64), onChunk func(chunk Chunk)) (int, error) {
	c.mu.Lock()
	if c.started {
		rate := c.nativeRate
		c.mu.Unlock()
		return rate, nil
	}
	if !c.permitted {
		c.mu.Unlock()
		return 0, ErrPermissionRequired
	}
	c.generation++
	gen := c.generation
	c.started = true
	c.onLevel = onLevel
	c.onChunk = onChunk
	c.seq = 0
	c.window.Clear()
	c.mu.Unlock()

	nativeRate, err := c.mic.Open(func(samples []float32) {
		c.handleBuffer(gen, samples)
	})
	if err != nil {
		c.mu.Lock()
		if c.generation == gen {
			c.started = false
			c.onLevel = nil
			c.onChunk = nil
		}
		c.mu.Unlock()
		observability.RecordError("device_open", "capture")
		return 0, fmt.Errorf("open microphone: %w", err)
	}

	c.mu.Lock()
	if c.generation != gen {
		// Stopped while the device was opening.
		c.mu.Unlock()
		_ = c.mic.Close()
		return nativeRate, nil
	}
	c.nativeRate = nativeRate
	c.chunkRate = nativeRate
	if c.targetRate > 0 {
		c.chunkRate = c.targetRate
	}
	c.chunker = NewChunker(ChunkSize(c.chunkRate, c.cfg.ChunkDuration))
	c.resampler = nil
	if c.chunkRate != nativeRate {
		c.resampler = NewStreamResampler(nativeRate, c.chunkRate)
	}
	stop := make(chan struct{})
	c.stopLevel = stop
	c.mu.Unlock()

	go c.levelLoop(gen, stop)

	c.logger.Info().
		Int("native_rate", nativeRate).
		Int("chunk_rate", c.chunkRate).
		Dur("chunk_duration", c.cfg.ChunkDuration).
		Msg("Capture started")
	return nativeRate, nil
}

// Stop releases the device and emits a final level of 0. It is idempotent
// and safe to call from inside a capture callback. Called from any other
// goroutine it waits for a callback in progress to return.
func (c *Capture) Stop() {
	id := goroutineID()

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.started = false
	reentrant := c.deliverer != 0 && c.deliverer == id
	onLevel := c.onLevel
	c.onLevel = nil
	c.onChunk = nil
	if c.stopLevel != nil {
		close(c.stopLevel)
		c.stopLevel = nil
	}
	dropped := 0
	if c.chunker != nil {
		dropped = c.chunker.Pending()
		c.chunker.Reset()
	}
	c.mu.Unlock()

	if reentrant {
		// The device may be blocked on this very callback; close it off-thread.
		go c.closeMic()
	} else {
		// Wait out any delivery that began before the generation changed.
		c.deliverMu.Lock()
		c.deliverMu.Unlock()
		c.closeMic()
	}

	c.window.Clear()
	if onLevel != nil {
		onLevel(0)
	}
	c.logger.Info().Int("dropped_samples", dropped).Msg("Capture stopped")
}

func (c *Capture) closeMic() {
	if err := c.mic.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close microphone")
	}
}

// Capturing reports whether the engine is started.
func (c *Capture) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// SampleRate returns the rate chunks are produced at, 0 before Start.
func (c *Capture) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunkRate
}

func (c *Capture) handleBuffer(gen uint64, samples []float32) {
	if len(samples) == 0 {
		return
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if gen != c.generation || !c.started || c.chunker == nil {
		c.mu.Unlock()
		return
	}
	if c.resampler != nil {
		samples = c.resampler.Process(samples)
	}
	c.window.Write(samples)
	blocks := c.chunker.Push(samples)
	onChunk := c.onChunk
	rate := c.chunkRate
	c.deliverer = goroutineID()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.deliverer = 0
		c.mu.Unlock()
	}()

	for _, block := range blocks {
		c.mu.Lock()
		live := gen == c.generation
		c.seq++
		seq := c.seq
		c.mu.Unlock()
		if !live || onChunk == nil {
			return
		}
		onChunk(Chunk{Samples: block, SampleRate: rate, Source: SourceCapture, Seq: seq})
	}
}

func (c *Capture) levelLoop(gen uint64, stop <-chan struct{}) {
	id := goroutineID()
	ticker := time.NewTicker(c.cfg.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.deliverMu.Lock()
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			c.deliverMu.Unlock()
			return
		}
		onLevel := c.onLevel
		c.deliverer = id
		c.mu.Unlock()

		if onLevel != nil {
			onLevel(Level(c.window.Snapshot()))
		}

		c.mu.Lock()
		c.deliverer = 0
		c.mu.Unlock()
		c.deliverMu.Unlock()
	}
}

// goroutineID reads the current goroutine's id from its stack header,
// "goroutine 18 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

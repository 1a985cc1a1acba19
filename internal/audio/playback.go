package audio

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/observability"
)

// Speaker is a pull-model output device. render is called from the device's
// goroutine and must fill out completely.
type Speaker interface {
	Start(sampleRate int, render func(out []float32)) error
	Close() error
}

type scheduledChunk struct {
	samples []float32
	start   int64 // frame index on the output timeline
}

func (s scheduledChunk) end() int64 {
	return s.start + int64(len(s.samples))
}

// Playback schedules decoded chunks back to back on a frame timeline so audio
// plays without gaps or overlap regardless of arrival jitter.
type Playback struct {
	speaker Speaker
	rate    int
	logger  zerolog.Logger

	mu        sync.Mutex
	started   bool
	cursor    int64 // next frame the device will render
	nextStart int64
	queue     []scheduledChunk
	onDrained func()
}

func NewPlayback(speaker Speaker, sampleRate int, logger zerolog.Logger) *Playback {
	return &Playback{
		speaker: speaker,
		rate:    sampleRate,
		logger:  logger.With().Str("component", "playback").Logger(),
	}
}

// OnDrained registers a callback fired when the queue finishes playing.
func (p *Playback) OnDrained(fn func()) {
	p.mu.Lock()
	p.onDrained = fn
	p.mu.Unlock()
}

// SampleRate returns the output timeline rate.
func (p *Playback) SampleRate() int {
	return p.rate
}

// Enqueue decodes a base64 PCM16 token and schedules it after everything
// already queued. Malformed tokens are dropped and reported.
func (p *Playback) Enqueue(token string) error {
	samples, err := DecodePCM16(token)
	if err != nil {
		observability.RecordPlaybackDropped()
		observability.RecordError("decode", "playback")
		p.logger.Warn().Err(err).Msg("Dropping undecodable audio chunk")
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	if err := p.ensureStarted(); err != nil {
		return err
	}

	p.mu.Lock()
	start := p.cursor
	if p.nextStart > start {
		start = p.nextStart
	}
	p.queue = append(p.queue, scheduledChunk{samples: samples, start: start})
	p.nextStart = start + int64(len(samples))
	p.mu.Unlock()

	observability.RecordAudioChunk("out", len(token))
	return nil
}

func (p *Playback) ensureStarted() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	if err := p.speaker.Start(p.rate, p.render); err != nil {
		p.mu.Lock()
		p.started = false
		p.mu.Unlock()
		observability.RecordError("device_open", "playback")
		return fmt.Errorf("start speaker: %w", err)
	}
	p.logger.Debug().Int("sample_rate", p.rate).Msg("Speaker started")
	return nil
}

// Stop discards everything queued. The next device period renders silence
// and a later Enqueue schedules from the current position.
func (p *Playback) Stop() {
	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	p.nextStart = 0
	p.mu.Unlock()

	if dropped > 0 {
		observability.RecordPlaybackInterrupt()
		p.logger.Info().Int("dropped_chunks", dropped).Msg("Playback stopped")
	}
}

// QueueLength returns the number of chunks scheduled but not fully rendered.
func (p *Playback) QueueLength() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops playback and releases the speaker.
func (p *Playback) Close() error {
	p.Stop()

	p.mu.Lock()
	started := p.started
	p.started = false
	p.mu.Unlock()

	if !started {
		return nil
	}
	return p.speaker.Close()
}

func (p *Playback) render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	p.mu.Lock()
	from := p.cursor
	to := from + int64(len(out))

	for _, sc := range p.queue {
		if sc.start >= to {
			break
		}
		if sc.end() <= from {
			continue
		}
		lo := max(sc.start, from)
		hi := min(sc.end(), to)
		copy(out[lo-from:hi-from], sc.samples[lo-sc.start:hi-sc.start])
	}

	p.cursor = to
	hadAudio := len(p.queue) > 0
	n := 0
	for _, sc := range p.queue {
		if sc.end() > to {
			p.queue[n] = sc
			n++
		}
	}
	p.queue = p.queue[:n]
	drained := hadAudio && n == 0
	onDrained := p.onDrained
	p.mu.Unlock()

	if drained && onDrained != nil {
		onDrained()
	}
}

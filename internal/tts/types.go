package tts

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned when no Cartesia key is configured.
var ErrMissingAPIKey = errors.New("cartesia api key is not configured")

// Speech is one synthesized utterance as mono float samples.
type Speech struct {
	Samples    []float32
	SampleRate int
}

// Synthesizer converts tutor text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Speech, error)
}

package stt

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned by Open when no Deepgram key is configured.
var ErrMissingAPIKey = errors.New("deepgram api key is not configured")

// TranscriptionResult represents a transcription result from Deepgram
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// Transcriber opens one streaming session per student turn.
type Transcriber interface {
	// Open starts a stream that accepts mono PCM16 at sampleRate.
	Open(ctx context.Context, sampleRate int) (Stream, error)
}

// Stream is a single turn's transcription session.
type Stream interface {
	// SendAudio forwards little-endian PCM16 bytes.
	SendAudio(pcm []byte) error

	// Finish ends the audio, waits for trailing results and returns the
	// turn's final transcript.
	Finish(ctx context.Context) (string, error)

	// Close abandons the stream without waiting.
	Close() error
}

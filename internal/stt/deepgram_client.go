package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/config"
	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/resilience"
)

const (
	// Trailing results usually land within a few hundred ms of the last audio.
	settleQuiet = 400 * time.Millisecond
	settleLimit = 2 * time.Second
)

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient opens Deepgram live transcription streams for linear16
// audio at the session's sample rate.
type DeepgramClient struct {
	apiKey         string
	model          string
	language       string
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewDeepgramClient creates a new Deepgram streaming client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	return &DeepgramClient{
		apiKey:   cfg.DeepgramAPIKey,
		model:    cfg.DeepgramModel,
		language: cfg.DeepgramLanguage,
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		logger: observability.WithComponent("deepgram"),
	}
}

// Open starts a live transcription session for one turn.
func (d *DeepgramClient) Open(ctx context.Context, sampleRate int) (Stream, error) {
	if d.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	stream := &deepgramStream{
		collector: newCollector(),
		breaker:   d.circuitBreaker,
		logger:    d.logger,
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream.cancel = cancel

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       d.language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     sampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                stream.handleDeepgramMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().Interface("response", errorResponse).Msg("Deepgram error")
			d.circuitBreaker.RecordResult(false)
			stream.fail(fmt.Errorf("deepgram error: %+v", errorResponse))
			return nil
		},
	}

	started := time.Now()
	err := d.circuitBreaker.Call(func() error {
		client, err := listenClient.NewWSUsingCallback(streamCtx, d.apiKey, nil, tOptions, callback)
		if err != nil {
			return fmt.Errorf("failed to create Deepgram client: %w", err)
		}
		if !client.Connect() {
			return errors.New("failed to connect to Deepgram")
		}
		stream.client = client
		return nil
	})
	observability.RecordProviderRequest("deepgram", started, err == nil)
	if err != nil {
		cancel()
		return nil, err
	}

	d.logger.Info().
		Str("model", d.model).
		Str("language", d.language).
		Int("sample_rate", sampleRate).
		Msg("Deepgram stream opened")
	return stream, nil
}

type deepgramStream struct {
	client    *listenClient.WSCallback
	collector *collector
	breaker   *resilience.CircuitBreaker
	cancel    context.CancelFunc
	logger    zerolog.Logger

	mu     sync.Mutex
	closed bool
	err    error
}

// handleDeepgramMessage processes messages from Deepgram
func (s *deepgramStream) handleDeepgramMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		s.logger.Debug().Interface("metadata", msg.Metadata).Msg("Deepgram metadata")
	case "SpeechStarted":
		s.logger.Debug().Msg("Deepgram speech started")
	case "UtteranceEnd":
		s.logger.Debug().Msg("Deepgram utterance ended")
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - startTime
		}

		result := &TranscriptionResult{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		}
		s.collector.add(result)

		if result.IsFinal {
			s.logger.Debug().Str("text", result.Text).Float64("confidence", result.Confidence).Msg("Deepgram final transcription")
		}
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Deepgram message ignored")
	}
}

func (s *deepgramStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *deepgramStream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	closed, streamErr := s.closed, s.err
	s.mu.Unlock()

	if closed {
		return errors.New("deepgram stream is closed")
	}
	if streamErr != nil {
		return streamErr
	}

	if _, err := s.client.Write(pcm); err != nil {
		s.breaker.RecordResult(false)
		s.fail(err)
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	observability.RecordAudioChunk("stt", len(pcm))
	return nil
}

func (s *deepgramStream) Finish(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.collector.text(), nil
	}
	s.mu.Unlock()

	s.collector.settle(ctx, settleQuiet, settleLimit)
	_ = s.Close()

	s.mu.Lock()
	err := s.err
	s.mu.Unlock()

	text := s.collector.text()
	if text == "" && err != nil {
		return "", err
	}
	return text, nil
}

func (s *deepgramStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.client.Finish()
	s.cancel()
	s.logger.Debug().Msg("Deepgram stream closed")
	return nil
}

package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/audio"
	"github.com/lexiqai/tutor-client/internal/config"
	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/resilience"
)

// OutputSampleRate is the rate Cartesia is asked to synthesize at.
const OutputSampleRate = 24000

// CartesiaClient implements Synthesizer using Cartesia's HTTP TTS API.
type CartesiaClient struct {
	apiKey         string
	apiURL         string
	voiceID        string
	modelID        string
	httpClient     *http.Client
	retry          *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// StatusError is a non-200 response from Cartesia.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("cartesia API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("cartesia API returned status %d: %s", e.StatusCode, e.Body)
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config) *CartesiaClient {
	retry := resilience.DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialBackoff > 0 {
		retry.InitialBackoff = cfg.RetryBackoff()
	}

	return &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     cfg.CartesiaURL,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry,
		circuitBreaker: resilience.NewCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		logger: observability.WithComponent("cartesia"),
	}
}

// Synthesize converts text to 24 kHz mono speech.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (*Speech, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	jsonData, err := json.Marshal(CartesiaRequest{
		Text:            text,
		VoiceID:         c.voiceID,
		ModelID:         c.modelID,
		OutputFormat:    "pcm",
		SampleRate:      OutputSampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var pcm []byte
	started := time.Now()
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		return c.circuitBreaker.Call(func() error {
			data, err := c.post(ctx, jsonData)
			if err != nil {
				return err
			}
			pcm = data
			return nil
		})
	}, c.retry, isRetryable)
	observability.RecordProviderRequest("cartesia", started, err == nil)
	if err != nil {
		return nil, err
	}

	samples, err := audio.PCM16ToFloat(pcm[:len(pcm)&^1])
	if err != nil {
		return nil, fmt.Errorf("decode cartesia audio: %w", err)
	}

	c.logger.Debug().
		Int("bytes", len(pcm)).
		Dur("latency", time.Since(started)).
		Msg("Synthesized tutor speech")
	return &Speech{Samples: samples, SampleRate: OutputSampleRate}, nil
}

func (c *CartesiaClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewRetryableError(fmt.Errorf("read cartesia response: %w", err))
	}
	if len(data) == 0 {
		return nil, errors.New("cartesia returned empty audio data")
	}
	return data, nil
}

// isRetryable retries throttling, server errors and transient network
// failures. Client errors and an open breaker are final.
func isRetryable(err error) bool {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return resilience.IsRetryableNetworkError(err)
}

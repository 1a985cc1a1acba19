package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/lexiqai/tutor-client/internal/config"
	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/resilience"
)

// ErrMissingAPIKey is returned when no Gemini key is configured.
var ErrMissingAPIKey = errors.New("gemini api key is not configured")

// maxHistory bounds the turns replayed to the model.
const maxHistory = 20

// Tutor produces the tutor's reply to one student turn.
type Tutor interface {
	Respond(ctx context.Context, student string) (Reply, error)
	// SetCanvas replaces the canvas description included with the next turn.
	SetCanvas(summary string)
	// NoteCanvasChange records an edit the student made since the last turn.
	NoteCanvasChange(description string)
}

// GeminiTutor keeps the conversation history and canvas context for a
// session and asks Gemini for each reply.
type GeminiTutor struct {
	client         *genai.Client
	model          string
	temperature    float32
	maxTokens      int
	retry          *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger

	mu      sync.Mutex
	history []*genai.Content
	canvas  string
	changes []string
}

// NewGeminiTutor creates a Gemini client for the configured key.
func NewGeminiTutor(ctx context.Context, cfg *config.Config) (*GeminiTutor, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, ErrMissingAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}

	return &GeminiTutor{
		client:      client,
		model:       cfg.GeminiModel,
		temperature: float32(cfg.GeminiTemp),
		maxTokens:   cfg.GeminiMaxTokens,
		retry:       retry,
		circuitBreaker: resilience.NewCircuitBreaker(
			"gemini",
			cfg.CircuitBreakerMaxFailures,
			cfg.CircuitBreakerReset(),
		),
		logger: observability.WithComponent("gemini"),
	}, nil
}

func (g *GeminiTutor) SetCanvas(summary string) {
	g.mu.Lock()
	g.canvas = summary
	g.mu.Unlock()
}

func (g *GeminiTutor) NoteCanvasChange(description string) {
	g.mu.Lock()
	g.changes = append(g.changes, description)
	g.mu.Unlock()
}

// Respond sends the student's words with the current canvas context and
// parses the reply.
func (g *GeminiTutor) Respond(ctx context.Context, student string) (Reply, error) {
	g.mu.Lock()
	prompt := buildTurnPrompt(student, g.canvas, g.changes)
	contents := []*genai.Content{genai.NewContentFromText(SystemPrompt, genai.RoleUser)}
	contents = append(contents, g.history...)
	g.mu.Unlock()

	userContent := genai.NewContentFromText(prompt, genai.RoleUser)
	contents = append(contents, userContent)

	genConfig := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.temperature),
		MaxOutputTokens: int32(g.maxTokens),
	}

	var text string
	started := time.Now()
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return g.circuitBreaker.Call(func() error {
			resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genConfig)
			if err != nil {
				return err
			}
			text = responseText(resp)
			if text == "" {
				return errors.New("gemini returned no text")
			}
			return nil
		})
	}, g.retry, func(err error) bool {
		return !errors.Is(err, resilience.ErrCircuitOpen) && resilience.IsRetryableNetworkError(err)
	})
	observability.RecordProviderRequest("gemini", started, err == nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to generate tutor reply")
		return Reply{}, err
	}

	g.mu.Lock()
	g.history = append(g.history, userContent, genai.NewContentFromText(text, genai.RoleModel))
	if len(g.history) > maxHistory {
		g.history = g.history[len(g.history)-maxHistory:]
	}
	g.changes = nil
	g.mu.Unlock()

	reply := ParseReply(text)
	g.logger.Info().
		Int("commands", len(reply.Commands)).
		Dur("latency", time.Since(started)).
		Msg("Tutor reply generated")
	return reply, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend selects where tutoring turns are processed.
const (
	BackendRemote     = "remote"     // always-on tutor server over WebSocket
	BackendSelfHosted = "selfhosted" // in-process STT, LLM and TTS
)

// Config holds all configuration for the tutor client
type Config struct {
	// Session backend
	Backend   string `envconfig:"TUTOR_BACKEND" default:"remote"`
	ServerURL string `envconfig:"TUTOR_SERVER_URL" default:"ws://localhost:8080/ws"`

	// Audio capture and playback
	AudioInput        string `envconfig:"AUDIO_INPUT" default:"default"`          // Pulse source name or "default"
	TargetSampleRate  int    `envconfig:"AUDIO_TARGET_SAMPLE_RATE" default:"0"`   // 0 keeps the device's native rate
	ChunkDurationMs   int    `envconfig:"AUDIO_CHUNK_DURATION_MS" default:"100"`  // Capture chunk size
	LevelIntervalMs   int    `envconfig:"AUDIO_LEVEL_INTERVAL_MS" default:"16"`   // ~60 Hz level meter
	AnalysisWindow    int    `envconfig:"AUDIO_ANALYSIS_WINDOW" default:"2048"`   // Samples used for the level meter
	PlaybackLatencyMs int    `envconfig:"AUDIO_PLAYBACK_LATENCY_MS" default:"40"` // Speaker device period

	// Session transport
	ReconnectDelayMs int  `envconfig:"RECONNECT_DELAY_MS" default:"3000"`
	RequireHandshake bool `envconfig:"REQUIRE_SESSION_READY" default:"true"` // Wait for SESSION_READY before talking

	// Canvas command handling
	AnimationCharDelayMs int  `envconfig:"ANIMATION_CHAR_DELAY_MS" default:"50"`
	SuppressionGuardMs   int  `envconfig:"SUPPRESSION_GUARD_MS" default:"100"`
	CanvasDebounceMs     int  `envconfig:"CANVAS_DEBOUNCE_MS" default:"1000"`
	SnapshotOnVoiceStart bool `envconfig:"SNAPSHOT_ON_VOICE_START" default:"true"`

	// Deepgram STT (self-hosted backend)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Cartesia TTS (self-hosted backend)
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaURL     string `envconfig:"CARTESIA_URL" default:"https://api.cartesia.ai/v1/tts"`

	// Gemini tutor (self-hosted backend)
	GeminiAPIKey    string  `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel     string  `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiMaxTokens int     `envconfig:"GEMINI_MAX_TOKENS" default:"1024"`
	GeminiTemp      float64 `envconfig:"GEMINI_TEMPERATURE" default:"0.7"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsAddr    string `envconfig:"METRICS_ADDR" default:":9090"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that envconfig cannot express. Provider credentials
// are not required here; the self-hosted backend reports them when a turn
// actually needs them.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendRemote:
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			return fmt.Errorf("TUTOR_SERVER_URL is invalid: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("TUTOR_SERVER_URL must use ws or wss, got %q", u.Scheme)
		}
	case BackendSelfHosted:
	default:
		return fmt.Errorf("TUTOR_BACKEND must be %q or %q, got %q", BackendRemote, BackendSelfHosted, c.Backend)
	}

	if c.TargetSampleRate < 0 {
		return fmt.Errorf("AUDIO_TARGET_SAMPLE_RATE must not be negative")
	}
	if c.ChunkDurationMs <= 0 {
		return fmt.Errorf("AUDIO_CHUNK_DURATION_MS must be positive")
	}
	if c.LevelIntervalMs <= 0 {
		return fmt.Errorf("AUDIO_LEVEL_INTERVAL_MS must be positive")
	}
	if c.AnalysisWindow <= 0 {
		return fmt.Errorf("AUDIO_ANALYSIS_WINDOW must be positive")
	}
	if c.ReconnectDelayMs <= 0 {
		return fmt.Errorf("RECONNECT_DELAY_MS must be positive")
	}
	if c.CanvasDebounceMs < 0 || c.AnimationCharDelayMs < 0 || c.SuppressionGuardMs < 0 {
		return fmt.Errorf("canvas timings must not be negative")
	}
	return nil
}

func (c *Config) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkDurationMs) * time.Millisecond
}

func (c *Config) LevelInterval() time.Duration {
	return time.Duration(c.LevelIntervalMs) * time.Millisecond
}

func (c *Config) PlaybackLatency() time.Duration {
	return time.Duration(c.PlaybackLatencyMs) * time.Millisecond
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

func (c *Config) AnimationCharDelay() time.Duration {
	return time.Duration(c.AnimationCharDelayMs) * time.Millisecond
}

func (c *Config) SuppressionGuard() time.Duration {
	return time.Duration(c.SuppressionGuardMs) * time.Millisecond
}

func (c *Config) CanvasDebounce() time.Duration {
	return time.Duration(c.CanvasDebounceMs) * time.Millisecond
}

func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

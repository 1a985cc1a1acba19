package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// InitLogger initializes the global structured logger. Only the first call
// has an effect.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		globalLogger = newLogger(os.Stderr, level, pretty)
		log.Logger = globalLogger
	})
}

func newLogger(out io.Writer, level string, pretty bool) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(level))

	if pretty {
		// Pretty console output for interactive sessions
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a config string to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// WithComponent returns the global logger tagged with a component name
func WithComponent(component string) zerolog.Logger {
	return GetLogger().With().Str("component", component).Logger()
}

// WithSessionID creates a logger carrying a tutoring session id
func WithSessionID(sessionID string) zerolog.Logger {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	return GetLogger().With().Str("session_id", sessionID).Logger()
}

// NewSessionID generates a new session id
func NewSessionID() string {
	return uuid.New().String()
}

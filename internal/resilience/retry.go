package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Total attempts, including the first
	InitialBackoff    time.Duration // Wait before the second attempt
	MaxBackoff        time.Duration // Cap on any single wait
	BackoffMultiplier float64       // Growth per attempt
	Jitter            bool          // Add up to 25% random jitter
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryableFunc is one attempt of an operation.
type RetryableFunc func(ctx context.Context) error

// IsRetryableError classifies errors worth another attempt.
type IsRetryableError func(error) bool

// Retry runs fn until it succeeds, returns a non-retryable error, runs out of
// attempts, or ctx is done. A nil isRetryable retries every error.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		wait := CalculateBackoff(attempt, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
		if config.Jitter && wait > 0 {
			wait += time.Duration(rand.Int63n(int64(wait)/4 + 1))
			if config.MaxBackoff > 0 && wait > config.MaxBackoff {
				wait = config.MaxBackoff
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff returns the wait after the given zero-based attempt.
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

var retryableMessages = []string{
	// connection
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"network is unreachable",
	"no route to host",
	"unavailable",
	// timeouts
	"deadline exceeded",
	"timeout",
	// throttling
	"resource exhausted",
	"too many requests",
	"rate limit",
}

// IsRetryableNetworkError reports whether err looks transient: explicitly
// marked retryable, a network timeout, or a known transient message.
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsRetryable(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return nil
	}, fastRetryConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastRetryConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("persistent error")
	}, fastRetryConfig(2), nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	fatal := errors.New("invalid api key")
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return fatal
	}, fastRetryConfig(5), IsRetryableNetworkError)

	if !errors.Is(err, fatal) {
		t.Errorf("Expected the non-retryable error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := &RetryConfig{MaxAttempts: 10, InitialBackoff: time.Hour, MaxBackoff: time.Hour, BackoffMultiplier: 1}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, func(context.Context) error {
			attempts++
			return errors.New("connection refused")
		}, config, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil || err.Error() != "connection refused" {
			t.Errorf("Expected last attempt error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Retry to stop when the context is cancelled")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Retry(ctx, func(context.Context) error {
		called = true
		return nil
	}, nil, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected no attempt with a cancelled context")
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{10, time.Second},
	}

	for _, tt := range tests {
		got := CalculateBackoff(tt.attempt, 100*time.Millisecond, time.Second, 2.0)
		if got != tt.want {
			t.Errorf("Attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial failed" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp: connection refused"), true},
		{"timeout text", errors.New("i/o timeout"), true},
		{"rate limited", errors.New("HTTP 429: Too Many Requests"), true},
		{"net timeout", fmt.Errorf("wrapped: %w", timeoutError{}), true},
		{"marked", NewRetryableError(errors.New("custom")), true},
		{"cancelled", context.Canceled, false},
		{"auth", errors.New("401 unauthorized"), false},
	}

	for _, tt := range tests {
		if got := IsRetryableNetworkError(tt.err); got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestRetryableError(t *testing.T) {
	if NewRetryableError(nil) != nil {
		t.Error("Expected nil for nil error")
	}

	base := errors.New("base")
	err := fmt.Errorf("context: %w", NewRetryableError(base))
	if !IsRetryable(err) {
		t.Error("Expected wrapped RetryableError to be retryable")
	}
	if !errors.Is(err, base) {
		t.Error("Expected RetryableError to unwrap to the base error")
	}
	if IsRetryable(base) {
		t.Error("Expected plain error to not be retryable")
	}
}

package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/observability"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the provider recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards calls to one downstream provider (speech, LLM, TTS).
// State changes are exported as metrics under the breaker's name.
type CircuitBreaker struct {
	name         string
	maxFailures  int           // Consecutive failures before opening
	resetTimeout time.Duration // Time to wait before probing
	halfOpenMax  int           // Probe requests allowed while half-open
	logger       zerolog.Logger
	now          func() time.Time

	mu            sync.RWMutex
	state         CircuitState
	failureCount  int
	halfOpenCount int
	successCount  int
	lastFailTime  time.Time
	requestCount  int64
	failuresTotal int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		logger:       observability.WithComponent("circuit_breaker").With().Str("service", name).Logger(),
		now:          time.Now,
		state:        StateClosed,
	}
	observability.UpdateCircuitBreakerState(name, int(StateClosed))
	return cb
}

// Name returns the guarded service name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call runs fn if the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.resetTimeout {
			return false
		}
		cb.setStateLocked(StateHalfOpen)
		cb.halfOpenCount = 1
		cb.successCount = 0
		return true

	case StateHalfOpen:
		if cb.halfOpenCount < cb.halfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	}

	return false
}

// RecordResult records the outcome of a request made outside Call.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++
	if success {
		cb.recordSuccessLocked()
	} else {
		cb.recordFailureLocked()
	}
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.setStateLocked(StateClosed)
			cb.failureCount = 0
			cb.halfOpenCount = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.failuresTotal++
	cb.lastFailTime = cb.now()
	observability.IncrementCircuitBreakerFailures(cb.name)

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			cb.setStateLocked(StateOpen)
		}

	case StateHalfOpen:
		// Any failed probe reopens the circuit.
		cb.setStateLocked(StateOpen)
		cb.halfOpenCount = 0
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) setStateLocked(state CircuitState) {
	if cb.state == state {
		return
	}
	cb.logger.Info().
		Str("from", cb.state.String()).
		Str("to", state.String()).
		Msg("Circuit breaker state changed")
	cb.state = state
	observability.UpdateCircuitBreakerState(cb.name, int(state))
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns the state, total requests, total failures and failure
// rate in percent.
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failuresTotal
	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}
	return
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setStateLocked(StateClosed)
	cb.failureCount = 0
	cb.halfOpenCount = 0
	cb.successCount = 0
}

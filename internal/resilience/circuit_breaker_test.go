package resilience

import (
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests move the breaker past its reset timeout without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestBreaker(maxFailures int, reset time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("test", maxFailures, reset)
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}
	if !cb.allowRequest() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}

	err := cb.Call(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Second)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(false)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected non-consecutive failures to keep the circuit Closed, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(3, 100*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(false)

	clock.now = clock.now.Add(50 * time.Millisecond)
	if cb.allowRequest() {
		t.Error("Expected request to be rejected before the reset timeout")
	}

	clock.now = clock.now.Add(100 * time.Millisecond)
	if !cb.allowRequest() {
		t.Error("Expected to allow request after timeout (HalfOpen)")
	}

	state, _, _, _ := cb.GetStats()
	if state != StateHalfOpen {
		t.Errorf("Expected state to be HalfOpen, got %s", state)
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker(1, 100*time.Millisecond)

	cb.RecordResult(false)
	clock.now = clock.now.Add(200 * time.Millisecond)

	allowed := 0
	for i := 0; i < 5; i++ {
		if cb.allowRequest() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("Expected 3 probe requests while HalfOpen, got %d", allowed)
	}
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb, clock := newTestBreaker(3, 100*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(false)

	clock.now = clock.now.Add(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("Probe %d: expected success, got %v", i, err)
		}
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed after successful probes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReopenOnHalfOpenFailure(t *testing.T) {
	cb, clock := newTestBreaker(3, 100*time.Millisecond)

	cb.RecordResult(false)
	cb.RecordResult(false)
	cb.RecordResult(false)
	clock.now = clock.now.Add(150 * time.Millisecond)

	probeErr := errors.New("still down")
	if err := cb.Call(func() error { return probeErr }); !errors.Is(err, probeErr) {
		t.Errorf("Expected probe error, got %v", err)
	}

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be Open after failed probe, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb, _ := newTestBreaker(10, time.Second)

	cb.RecordResult(true)
	cb.RecordResult(false)
	cb.RecordResult(true)
	cb.RecordResult(false)

	state, requests, failures, rate := cb.GetStats()
	if state != StateClosed {
		t.Errorf("Expected Closed, got %s", state)
	}
	if requests != 4 {
		t.Errorf("Expected 4 requests, got %d", requests)
	}
	if failures != 2 {
		t.Errorf("Expected 2 failures, got %d", failures)
	}
	if rate != 50.0 {
		t.Errorf("Expected failure rate 50, got %f", rate)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(1, time.Hour)

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	cb.Reset()
	if cb.GetState() != StateClosed {
		t.Errorf("Expected Closed after Reset, got %s", cb.GetState())
	}
	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected call to pass after Reset, got %v", err)
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := map[CircuitState]string{
		StateClosed:      "closed",
		StateOpen:        "open",
		StateHalfOpen:    "half_open",
		CircuitState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

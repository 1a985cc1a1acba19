package resilience

import (
	"sync"
	"time"
)

// ReconnectScheduler arms at most one delayed reconnection at a time. The
// delay is fixed and attempts are unbounded: the owner schedules again after
// each failure.
type ReconnectScheduler struct {
	delay time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	token   uint64
	pending bool
}

func NewReconnectScheduler(delay time.Duration) *ReconnectScheduler {
	return &ReconnectScheduler{delay: delay}
}

// Delay returns the fixed wait before each attempt.
func (s *ReconnectScheduler) Delay() time.Duration {
	return s.delay
}

// Schedule arms fn to run after the delay. It returns false, and does
// nothing, when an attempt is already pending.
func (s *ReconnectScheduler) Schedule(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return false
	}
	s.pending = true
	s.token++
	token := s.token
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if !s.pending || s.token != token {
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.timer = nil
		s.mu.Unlock()

		fn()
	})
	return true
}

// Cancel drops any pending attempt.
func (s *ReconnectScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = false
	s.token++
}

// Pending reports whether an attempt is armed.
func (s *ReconnectScheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

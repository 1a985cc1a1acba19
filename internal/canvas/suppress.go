package canvas

import (
	"sync"
	"time"
)

// Suppressor tracks windows during which canvas changes are the tutor's own
// drawing and must not be reported as student edits. A window lasts while
// any Begin is open plus a trailing guard after the last one ends.
type Suppressor struct {
	guard time.Duration
	now   func() time.Time

	mu    sync.Mutex
	open  int
	until time.Time
}

func NewSuppressor(guard time.Duration) *Suppressor {
	return &Suppressor{guard: guard, now: time.Now}
}

// Begin opens a window; the returned func closes it. Calling the func more
// than once has no further effect.
func (s *Suppressor) Begin() func() {
	s.mu.Lock()
	s.open++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.open--
			if until := s.now().Add(s.guard); until.After(s.until) {
				s.until = until
			}
			s.mu.Unlock()
		})
	}
}

// Active reports whether changes observed now should be ignored.
func (s *Suppressor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open > 0 || s.now().Before(s.until)
}

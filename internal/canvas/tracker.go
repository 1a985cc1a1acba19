package canvas

import (
	"sync"
	"time"

	"github.com/lexiqai/tutor-client/internal/debounce"
)

// Edits is the coalesced set of student edits since the last flush.
type Edits struct {
	Added    []Shape
	Modified []Shape
	Deleted  []string
}

func (e Edits) Empty() bool {
	return len(e.Added) == 0 && len(e.Modified) == 0 && len(e.Deleted) == 0
}

// ChangeTracker watches a Surface for student edits and reports them in
// debounced batches. Changes seen while the suppressor is active, or that
// did not originate from the editing API, are ignored.
type ChangeTracker struct {
	suppressor *Suppressor
	onFlush    func(Edits)
	debouncer  *debounce.Debouncer
	unsub      func()

	mu       sync.Mutex
	added    map[string]Shape
	modified map[string]Shape
	deleted  map[string]struct{}
	order    []string
}

func NewChangeTracker(surface Surface, suppressor *Suppressor, quiet time.Duration, onFlush func(Edits)) *ChangeTracker {
	t := &ChangeTracker{
		suppressor: suppressor,
		onFlush:    onFlush,
	}
	t.reset()
	t.debouncer = debounce.New(quiet, t.flush)
	t.unsub = surface.Subscribe(t.observe)
	return t
}

// Flush reports pending edits immediately.
func (t *ChangeTracker) Flush() {
	t.debouncer.Flush()
}

// Discard drops pending edits without reporting them.
func (t *ChangeTracker) Discard() {
	t.mu.Lock()
	t.reset()
	t.mu.Unlock()
}

// Close unsubscribes and cancels any pending flush.
func (t *ChangeTracker) Close() {
	t.unsub()
	t.debouncer.Stop()
}

func (t *ChangeTracker) observe(c Change) {
	if c.Source != SourceUser || c.Empty() {
		return
	}
	if t.suppressor != nil && t.suppressor.Active() {
		return
	}

	t.mu.Lock()
	for _, s := range c.Added {
		t.touch(s.ID)
		t.added[s.ID] = s
		delete(t.deleted, s.ID)
	}
	for _, s := range c.Updated {
		t.touch(s.ID)
		if _, isNew := t.added[s.ID]; isNew {
			t.added[s.ID] = s
			continue
		}
		t.modified[s.ID] = s
	}
	for _, id := range c.Removed {
		t.touch(id)
		if _, isNew := t.added[id]; isNew {
			delete(t.added, id)
			continue
		}
		delete(t.modified, id)
		t.deleted[id] = struct{}{}
	}
	t.mu.Unlock()

	t.debouncer.Trigger()
}

func (t *ChangeTracker) touch(id string) {
	for _, seen := range t.order {
		if seen == id {
			return
		}
	}
	t.order = append(t.order, id)
}

func (t *ChangeTracker) reset() {
	t.added = make(map[string]Shape)
	t.modified = make(map[string]Shape)
	t.deleted = make(map[string]struct{})
	t.order = nil
}

func (t *ChangeTracker) flush() {
	t.mu.Lock()
	var edits Edits
	for _, id := range t.order {
		if s, ok := t.added[id]; ok {
			edits.Added = append(edits.Added, s)
		}
		if s, ok := t.modified[id]; ok {
			edits.Modified = append(edits.Modified, s)
		}
		if _, ok := t.deleted[id]; ok {
			edits.Deleted = append(edits.Deleted, id)
		}
	}
	t.reset()
	t.mu.Unlock()

	if !edits.Empty() && t.onFlush != nil {
		t.onFlush(edits)
	}
}

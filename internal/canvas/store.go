package canvas

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is an in-memory Surface. Edits made through its methods are tagged
// SourceUser; MergeRemote is tagged SourceRemote. Subscribers run
// synchronously on the mutating goroutine, outside the store lock.
type Store struct {
	mu       sync.RWMutex
	shapes   map[string]Shape
	order    []string
	selected []string
	camX     float64
	camY     float64
	subs     map[int]func(Change)
	nextSub  int
}

func NewStore() *Store {
	return &Store{
		shapes: make(map[string]Shape),
		subs:   make(map[int]func(Change)),
	}
}

func (s *Store) CreateShape(shape Shape) error {
	if shape.ID == "" {
		return fmt.Errorf("create shape: missing id")
	}
	if shape.Type == "" {
		return fmt.Errorf("create shape %q: missing type", shape.ID)
	}

	s.mu.Lock()
	if _, exists := s.shapes[shape.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("create shape %q: already exists", shape.ID)
	}
	shape.Props = copyProps(shape.Props)
	s.shapes[shape.ID] = shape
	s.order = append(s.order, shape.ID)
	s.mu.Unlock()

	s.notify(Change{Source: SourceUser, Added: []Shape{cloneShape(shape)}})
	return nil
}

// UpdateShape applies a partial update. Recognized keys are x, y, type and
// props; props are merged key by key.
func (s *Store) UpdateShape(id string, updates map[string]interface{}) error {
	s.mu.Lock()
	shape, ok := s.shapes[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update shape %q: %w", id, ErrShapeNotFound)
	}
	shape.Props = copyProps(shape.Props)
	if err := applyUpdates(&shape, updates); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("update shape %q: %w", id, err)
	}
	s.shapes[id] = shape
	s.mu.Unlock()

	s.notify(Change{Source: SourceUser, Updated: []Shape{cloneShape(shape)}})
	return nil
}

// DeleteShapes removes every existing id and reports the missing ones.
func (s *Store) DeleteShapes(ids ...string) error {
	var removed, missing []string

	s.mu.Lock()
	for _, id := range ids {
		if _, ok := s.shapes[id]; !ok {
			missing = append(missing, id)
			continue
		}
		delete(s.shapes, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		s.order = s.orderedIDsLocked()
		s.selected = filterExisting(s.selected, s.shapes)
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.notify(Change{Source: SourceUser, Removed: removed})
	}
	if len(missing) > 0 {
		return fmt.Errorf("delete shapes %s: %w", strings.Join(missing, ", "), ErrShapeNotFound)
	}
	return nil
}

// MergeRemote upserts shapes received from elsewhere.
func (s *Store) MergeRemote(shapes []Shape) {
	change := Change{Source: SourceRemote}

	s.mu.Lock()
	for _, shape := range shapes {
		shape.Props = copyProps(shape.Props)
		if _, exists := s.shapes[shape.ID]; exists {
			change.Updated = append(change.Updated, cloneShape(shape))
		} else {
			s.order = append(s.order, shape.ID)
			change.Added = append(change.Added, cloneShape(shape))
		}
		s.shapes[shape.ID] = shape
	}
	s.mu.Unlock()

	if !change.Empty() {
		s.notify(change)
	}
}

func (s *Store) Shape(id string) (Shape, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shape, ok := s.shapes[id]
	if !ok {
		return Shape{}, false
	}
	return cloneShape(shape), true
}

// Shapes returns all shapes in creation order.
func (s *Store) Shapes() []Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Shape, 0, len(s.order))
	for _, id := range s.orderedIDsLocked() {
		out = append(out, cloneShape(s.shapes[id]))
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shapes)
}

// Select replaces the selection with the ids that exist.
func (s *Store) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = filterExisting(ids, s.shapes)
}

func (s *Store) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.selected...)
}

// PanTo centers the camera on a page point.
func (s *Store) PanTo(x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.camX, s.camY = x, y
}

func (s *Store) Camera() (float64, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camX, s.camY
}

func (s *Store) Snapshot() (Snapshot, bool) {
	return Render(s.Shapes())
}

func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(change Change) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

// orderedIDsLocked returns creation-ordered ids that still exist.
func (s *Store) orderedIDsLocked() []string {
	out := make([]string, 0, len(s.shapes))
	for _, id := range s.order {
		if _, ok := s.shapes[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func filterExisting(ids []string, shapes map[string]Shape) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := shapes[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func applyUpdates(shape *Shape, updates map[string]interface{}) error {
	for key, value := range updates {
		switch key {
		case "x", "y":
			f, ok := toFloat(value)
			if !ok {
				return fmt.Errorf("%s must be a number, got %T", key, value)
			}
			if key == "x" {
				shape.X = f
			} else {
				shape.Y = f
			}
		case "type":
			t, ok := value.(string)
			if !ok || t == "" {
				return fmt.Errorf("type must be a non-empty string")
			}
			shape.Type = t
		case "props":
			props, ok := value.(map[string]interface{})
			if !ok {
				return fmt.Errorf("props must be an object, got %T", value)
			}
			if shape.Props == nil {
				shape.Props = make(map[string]interface{}, len(props))
			}
			for k, v := range props {
				shape.Props[k] = v
			}
		case "id":
			// immutable
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func copyProps(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func cloneShape(shape Shape) Shape {
	shape.Props = copyProps(shape.Props)
	return shape
}

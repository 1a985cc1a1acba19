// Package canvas models the drawing surface shared by the student and the
// tutor: shapes, change notifications tagged by origin, snapshots, and the
// helpers used to describe canvas content to the tutor.
package canvas

import (
	"errors"

	"github.com/lexiqai/tutor-client/internal/protocol"
)

// Shape is a single canvas element.
type Shape = protocol.Shape

// Source tags who caused a change.
type Source string

const (
	// SourceUser covers every edit made through the editing API, including
	// programmatic ones. Listeners cannot tell them apart from real student
	// edits without a suppression window.
	SourceUser Source = "user"
	// SourceRemote marks state merged in from elsewhere.
	SourceRemote Source = "remote"
)

var ErrShapeNotFound = errors.New("shape not found")

// Change is one batch of store mutations.
type Change struct {
	Source  Source
	Added   []Shape
	Updated []Shape
	Removed []string
}

// Empty reports whether the change carries nothing.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

// Snapshot is a rendered image of the canvas and the page area it covers.
type Snapshot struct {
	Image  string // data URL
	Bounds protocol.Bounds
}

// Surface is the capability set the session needs from a canvas.
type Surface interface {
	CreateShape(s Shape) error
	UpdateShape(id string, updates map[string]interface{}) error
	DeleteShapes(ids ...string) error
	Shape(id string) (Shape, bool)
	Shapes() []Shape
	Select(ids ...string)
	PanTo(x, y float64)
	// Snapshot returns false when there is nothing to render.
	Snapshot() (Snapshot, bool)
	// Subscribe registers fn for every change and returns an unsubscribe func.
	Subscribe(fn func(Change)) func()
}

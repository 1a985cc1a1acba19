package protocol

// Action is the canvas command discriminator.
type Action string

const (
	ActionAddShape        Action = "ADD_SHAPE"
	ActionAddAnimatedText Action = "ADD_ANIMATED_TEXT"
	ActionUpdateShape     Action = "UPDATE_SHAPE"
	ActionDeleteShape     Action = "DELETE_SHAPE"
	ActionHighlight       Action = "HIGHLIGHT"
	ActionPanTo           Action = "PAN_TO"
	ActionAttentionTo     Action = "ATTENTION_TO"
	ActionClearAttention  Action = "CLEAR_ATTENTION"
	ActionClearCanvas     Action = "CLEAR_CANVAS"
)

// Command is one canvas mutation requested by the tutor.
type Command interface {
	Action() Action
}

// Anchor positions something relative to an existing shape. When it
// resolves it wins over absolute coordinates.
type Anchor struct {
	ShapeID string  `json:"shapeId"`
	DX      float64 `json:"dx,omitempty"`
	DY      float64 `json:"dy,omitempty"`
}

type AddShape struct {
	Shape  Shape   `json:"shape"`
	Anchor *Anchor `json:"anchor,omitempty"`
}

// Defaults applied to ADD_ANIMATED_TEXT fields the tutor leaves out.
const (
	DefaultTextX     = 100
	DefaultTextY     = 100
	DefaultTextColor = "white"
	DefaultTextSize  = "m"
)

type AddAnimatedText struct {
	Text   string  `json:"text"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color,omitempty"`
	Size   string  `json:"size,omitempty"`
	Anchor *Anchor `json:"anchor,omitempty"`
}

type UpdateShape struct {
	ShapeID string                 `json:"shapeId"`
	Updates map[string]interface{} `json:"updates"`
}

type DeleteShape struct {
	ShapeID string `json:"shapeId"`
}

type Highlight struct {
	ShapeIDs []string `json:"shapeIds"`
}

type PanTo struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AttentionTo points the student's attention at a canvas location without
// touching shapes.
type AttentionTo struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Label  string  `json:"label,omitempty"`
	Anchor *Anchor `json:"anchor,omitempty"`
}

type ClearAttention struct{}

type ClearCanvas struct{}

func (AddShape) Action() Action        { return ActionAddShape }
func (AddAnimatedText) Action() Action { return ActionAddAnimatedText }
func (UpdateShape) Action() Action     { return ActionUpdateShape }
func (DeleteShape) Action() Action     { return ActionDeleteShape }
func (Highlight) Action() Action       { return ActionHighlight }
func (PanTo) Action() Action           { return ActionPanTo }
func (AttentionTo) Action() Action     { return ActionAttentionTo }
func (ClearAttention) Action() Action  { return ActionClearAttention }
func (ClearCanvas) Action() Action     { return ActionClearCanvas }

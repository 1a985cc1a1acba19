// Package command applies tutor canvas commands to the canvas, one at a
// time and in arrival order.
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/canvas"
	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/protocol"
)

const queueSize = 256

// ErrClosed is returned by Submit after the interpreter stopped running.
var ErrClosed = errors.New("command interpreter closed")

// ApplyError reports a command the canvas rejected.
type ApplyError struct {
	Action protocol.Action
	Err    error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Action, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Attention is where the tutor wants the student to look.
type Attention struct {
	X       float64
	Y       float64
	Label   string
	Visible bool
}

// Config controls the interpreter.
type Config struct {
	// CharDelay is the pause between revealed characters of animated text.
	CharDelay time.Duration
}

// Interpreter applies canvas commands exactly once, in order, inside a
// suppression window so the tracker does not report them as student edits.
type Interpreter struct {
	surface    canvas.Surface
	suppressor *canvas.Suppressor
	cfg        Config
	logger     zerolog.Logger

	queue chan protocol.Command
	done  chan struct{}

	mu          sync.Mutex
	aliases     map[string]string // tutor-supplied id -> local id
	attention   Attention
	onAttention func(Attention)
	closed      bool
}

func NewInterpreter(surface canvas.Surface, suppressor *canvas.Suppressor, cfg Config, logger zerolog.Logger) *Interpreter {
	if cfg.CharDelay < 0 {
		cfg.CharDelay = 0
	}
	return &Interpreter{
		surface:    surface,
		suppressor: suppressor,
		cfg:        cfg,
		logger:     logger.With().Str("component", "interpreter").Logger(),
		queue:      make(chan protocol.Command, queueSize),
		done:       make(chan struct{}),
		aliases:    make(map[string]string),
	}
}

// OnAttention registers the attention state listener.
func (in *Interpreter) OnAttention(fn func(Attention)) {
	in.mu.Lock()
	in.onAttention = fn
	in.mu.Unlock()
}

// Attention returns the current attention state.
func (in *Interpreter) Attention() Attention {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.attention
}

// Submit queues a command for the worker. It blocks while the queue is full.
func (in *Interpreter) Submit(cmd protocol.Command) error {
	if cmd == nil {
		return nil
	}
	select {
	case <-in.done:
		return ErrClosed
	default:
	}
	select {
	case in.queue <- cmd:
		return nil
	case <-in.done:
		return ErrClosed
	}
}

// Run applies queued commands until ctx is cancelled.
func (in *Interpreter) Run(ctx context.Context) {
	defer func() {
		in.mu.Lock()
		if !in.closed {
			in.closed = true
			close(in.done)
		}
		in.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-in.queue:
			_ = in.Apply(ctx, cmd)
		}
	}
}

// Pending returns the number of queued commands.
func (in *Interpreter) Pending() int {
	return len(in.queue)
}

// Apply runs one command synchronously. Failures are logged and counted and
// returned as *ApplyError; they never stop later commands.
func (in *Interpreter) Apply(ctx context.Context, cmd protocol.Command) error {
	end := func() {}
	if in.suppressor != nil {
		end = in.suppressor.Begin()
	}
	err := in.apply(ctx, cmd)
	end()

	observability.RecordCanvasCommand(string(cmd.Action()), err == nil)
	if err != nil {
		applyErr := &ApplyError{Action: cmd.Action(), Err: err}
		observability.RecordError("command_apply", "interpreter")
		in.logger.Warn().Err(err).Str("action", string(cmd.Action())).Msg("Skipping canvas command")
		return applyErr
	}
	in.logger.Debug().Str("action", string(cmd.Action())).Msg("Canvas command applied")
	return nil
}

func (in *Interpreter) apply(ctx context.Context, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.AddShape:
		return in.addShape(c)
	case protocol.AddAnimatedText:
		return in.addAnimatedText(ctx, c)
	case protocol.UpdateShape:
		return in.surface.UpdateShape(in.resolve(c.ShapeID), c.Updates)
	case protocol.DeleteShape:
		id := in.resolve(c.ShapeID)
		in.forget(id)
		return in.surface.DeleteShapes(id)
	case protocol.Highlight:
		ids := make([]string, len(c.ShapeIDs))
		for i, id := range c.ShapeIDs {
			ids[i] = in.resolve(id)
		}
		in.surface.Select(ids...)
		return nil
	case protocol.PanTo:
		in.surface.PanTo(c.X, c.Y)
		return nil
	case protocol.AttentionTo:
		x, y := in.position(c.Anchor, c.X, c.Y)
		in.setAttention(Attention{X: x, Y: y, Label: c.Label, Visible: true})
		return nil
	case protocol.ClearAttention:
		in.setAttention(Attention{})
		return nil
	case protocol.ClearCanvas:
		return in.clearCanvas()
	default:
		return fmt.Errorf("%w: %T", protocol.ErrUnknownAction, cmd)
	}
}

func (in *Interpreter) addShape(c protocol.AddShape) error {
	shape := c.Shape
	if shape.Type == "" {
		return errors.New("shape type is required")
	}
	remoteID := shape.ID
	shape.ID = canvas.NewShapeID()
	shape.X, shape.Y = in.position(c.Anchor, shape.X, shape.Y)
	shape.Props = normalizeProps(shape.Type, shape.Props)

	if err := in.surface.CreateShape(shape); err != nil {
		return err
	}
	if remoteID != "" {
		in.mu.Lock()
		in.aliases[remoteID] = shape.ID
		in.mu.Unlock()
	}
	return nil
}

func (in *Interpreter) addAnimatedText(ctx context.Context, c protocol.AddAnimatedText) error {
	x, y := in.position(c.Anchor, c.X, c.Y)
	id := canvas.NewShapeID()
	props := canvas.TextProps("", c.Color, c.Size)
	if err := in.surface.CreateShape(canvas.Shape{ID: id, Type: "text", X: x, Y: y, Props: props}); err != nil {
		return err
	}

	runes := []rune(c.Text)
	for i := 1; i <= len(runes); i++ {
		if ctx.Err() == nil && in.cfg.CharDelay > 0 {
			timer := time.NewTimer(in.cfg.CharDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			// Shutting down: finish the text in one step.
			i = len(runes)
		}
		err := in.surface.UpdateShape(id, map[string]interface{}{
			"props": map[string]interface{}{"richText": canvas.RichText(string(runes[:i]))},
		})
		if errors.Is(err, canvas.ErrShapeNotFound) {
			// Cleared mid-animation.
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (in *Interpreter) clearCanvas() error {
	shapes := in.surface.Shapes()
	in.mu.Lock()
	in.aliases = make(map[string]string)
	in.mu.Unlock()

	if len(shapes) == 0 {
		return nil
	}
	ids := make([]string, len(shapes))
	for i, s := range shapes {
		ids[i] = s.ID
	}
	return in.surface.DeleteShapes(ids...)
}

// position resolves an anchor against the canvas, falling back to the
// absolute coordinates when the anchored shape does not exist.
func (in *Interpreter) position(anchor *protocol.Anchor, x, y float64) (float64, float64) {
	if anchor == nil || anchor.ShapeID == "" {
		return x, y
	}
	target, ok := in.surface.Shape(in.resolve(anchor.ShapeID))
	if !ok {
		in.logger.Debug().Str("anchor", anchor.ShapeID).Msg("Anchor did not resolve, using absolute position")
		return x, y
	}
	return target.X + anchor.DX, target.Y + anchor.DY
}

func (in *Interpreter) resolve(id string) string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if local, ok := in.aliases[id]; ok {
		return local
	}
	return id
}

func (in *Interpreter) forget(localID string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for remote, local := range in.aliases {
		if local == localID {
			delete(in.aliases, remote)
		}
	}
}

func (in *Interpreter) setAttention(a Attention) {
	in.mu.Lock()
	in.attention = a
	fn := in.onAttention
	in.mu.Unlock()

	if fn != nil {
		fn(a)
	}
}

// normalizeProps wraps plain text into rich text and validates the colour and
// size props the canvas understands.
func normalizeProps(shapeType string, props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props)+4)
	for k, v := range props {
		out[k] = v
	}

	color, _ := out["color"].(string)
	switch shapeType {
	case "text":
		text, hasText := out["text"].(string)
		size, _ := out["size"].(string)
		delete(out, "text")
		for k, v := range canvas.TextProps(text, color, size) {
			if k == "richText" && !hasText {
				if _, ok := out["richText"]; ok {
					continue
				}
			}
			if _, set := out[k]; set && k != "richText" && k != "color" && k != "size" {
				continue
			}
			out[k] = v
		}
	default:
		if text, ok := out["text"].(string); ok && shapeType == "geo" {
			delete(out, "text")
			out["richText"] = canvas.RichText(text)
		}
		if _, ok := out["color"]; ok {
			out["color"] = canvas.NormalizeColor(color)
		}
	}
	return out
}

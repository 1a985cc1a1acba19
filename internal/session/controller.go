package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/audio"
	"github.com/lexiqai/tutor-client/internal/canvas"
	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/protocol"
	"github.com/lexiqai/tutor-client/internal/transport"
)

var (
	ErrNotConnected    = errors.New("not connected to the tutor")
	ErrSessionNotReady = errors.New("tutor session is not ready yet")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrBusy            = errors.New("finish the voice turn first")
)

// Transport is the outbound half of the session connection.
type Transport interface {
	Send(msg protocol.Message) bool
	Connected() bool
}

// Capturer is the microphone side of the session.
type Capturer interface {
	RequestPermission(ctx context.Context) (bool, error)
	Start(onLevel func(level float64), onChunk func(chunk audio.Chunk)) (int, error)
	Stop()
}

// Player is the speaker side of the session.
type Player interface {
	Enqueue(token string) error
	Stop()
	QueueLength() int
}

// CommandSink receives canvas commands for ordered application.
type CommandSink interface {
	Submit(cmd protocol.Command) error
}

// View is notified of every visible change. Calls are made while the
// controller is mid-transition; implementations must not call back into it.
type View interface {
	VoiceStateChanged(state VoiceState)
	TutorStateChanged(state TutorState)
	TranscriptChanged(messages []Message)
	LevelChanged(level float64)
	ConnectionChanged(status transport.Status)
	Celebrate(intensity string)
	ShowError(err error)
}

// NopView ignores every notification.
type NopView struct{}

func (NopView) VoiceStateChanged(VoiceState)       {}
func (NopView) TutorStateChanged(TutorState)       {}
func (NopView) TranscriptChanged([]Message)        {}
func (NopView) LevelChanged(float64)               {}
func (NopView) ConnectionChanged(transport.Status) {}
func (NopView) Celebrate(string)                   {}
func (NopView) ShowError(error)                    {}

// Options configures a Controller.
type Options struct {
	// RequireHandshake gates voice turns on SESSION_READY.
	RequireHandshake bool
	// SnapshotOnStart attaches a canvas snapshot to VOICE_START.
	SnapshotOnStart bool
	// CanvasDebounce is the quiet period before student edits are reported.
	CanvasDebounce time.Duration
}

// Deps are the collaborators the controller drives.
type Deps struct {
	Transport  Transport
	Capture    Capturer
	Playback   Player
	Commands   CommandSink
	Canvas     canvas.Surface
	Suppressor *canvas.Suppressor
	View       View
}

// Controller is the single owner of session state. Every transition runs
// under one mutex, so voice, tutor and transcript state never change
// concurrently.
type Controller struct {
	state   *State
	deps    Deps
	opts    Options
	logger  zerolog.Logger
	metrics *observability.SessionMetrics
	tracker *canvas.ChangeTracker

	mu sync.Mutex

	// streaming gates capture chunks onto the wire. Capture callbacks
	// must not take mu: Stop waits for in-flight callbacks.
	streaming atomic.Bool
}

func NewController(state *State, deps Deps, opts Options, logger zerolog.Logger) *Controller {
	if deps.View == nil {
		deps.View = NopView{}
	}
	c := &Controller{
		state:   state,
		deps:    deps,
		opts:    opts,
		logger:  logger.With().Str("component", "session").Str("session_id", state.ID()).Logger(),
		metrics: observability.NewSessionMetrics(state.ID()),
	}
	if deps.Canvas != nil {
		c.tracker = canvas.NewChangeTracker(deps.Canvas, deps.Suppressor, opts.CanvasDebounce, c.reportEdits)
	}
	c.metrics.RecordSessionStart()
	return c
}

// State returns the session context.
func (c *Controller) State() *State {
	return c.state
}

// ToggleTalk is the talk control: it starts a voice turn, ends the current
// one, or interrupts the tutor and starts a new one.
func (c *Controller) ToggleTalk(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Voice() {
	case Listening:
		c.endTurnLocked()
		return nil
	case Speaking:
		c.interruptLocked()
	}
	return c.startTurnLocked(ctx)
}

func (c *Controller) startTurnLocked(ctx context.Context) error {
	if !c.deps.Transport.Connected() {
		c.deps.View.ShowError(ErrNotConnected)
		return ErrNotConnected
	}
	if c.opts.RequireHandshake && !c.state.Ready() {
		c.deps.View.ShowError(ErrSessionNotReady)
		return ErrSessionNotReady
	}

	// The tutor must be silent before the student holds the floor.
	if c.deps.Playback.QueueLength() > 0 {
		c.deps.Playback.Stop()
	}

	if _, err := c.deps.Capture.RequestPermission(ctx); err != nil {
		c.metrics.RecordError("permission_denied", "session")
		c.logger.Warn().Err(err).Msg("Microphone permission denied")
		c.transitionLocked(EventReset)
		c.deps.View.ShowError(err)
		return err
	}

	if !c.transitionLocked(EventTalk) {
		return fmt.Errorf("cannot start a voice turn while %s", c.state.Voice())
	}
	c.setTutorLocked(TutorState{Kind: TutorListening})
	c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) {
		t.AddOptimisticStudentMessage(ListeningPlaceholder)
	}))

	start := protocol.VoiceStart{}
	if c.opts.SnapshotOnStart && c.deps.Canvas != nil {
		if snap, ok := c.deps.Canvas.Snapshot(); ok {
			bounds := snap.Bounds
			start.Screenshot = snap.Image
			start.ScreenshotBounds = &bounds
		}
	}
	c.deps.Transport.Send(start)

	c.streaming.Store(true)
	if _, err := c.deps.Capture.Start(c.onLevel, c.onChunk); err != nil {
		c.streaming.Store(false)
		c.metrics.RecordError("capture_start", "session")
		c.logger.Error().Err(err).Msg("Failed to start capture")
		c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) { t.DiscardOptimistic() }))
		c.transitionLocked(EventReset)
		c.setTutorLocked(TutorState{Kind: TutorIdle})
		c.deps.View.ShowError(err)
		return err
	}

	c.logger.Info().Msg("Voice turn started")
	return nil
}

func (c *Controller) endTurnLocked() {
	c.streaming.Store(false)
	c.deps.Capture.Stop()

	c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) {
		t.UpdateOptimistic(ProcessingPlaceholder)
	}))
	c.deps.Transport.Send(protocol.VoiceEnd{})
	c.transitionLocked(EventRelease)
	c.setTutorLocked(TutorState{Kind: TutorThinking})
	c.metrics.RecordTurnEnd()
	c.logger.Info().Msg("Voice turn ended")
}

func (c *Controller) interruptLocked() {
	c.deps.Playback.Stop()
	c.transitionLocked(EventInterrupt)
	c.logger.Info().Msg("Tutor interrupted")
}

// SendText sends a typed student message.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.deps.Transport.Connected() {
		return ErrNotConnected
	}
	switch c.state.Voice() {
	case Listening:
		return ErrBusy
	case Speaking:
		c.interruptLocked()
	}

	if !c.deps.Transport.Send(protocol.TextMessage{Text: text}) {
		return ErrNotConnected
	}
	c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) {
		t.AddStudentMessage(text)
	}))
	c.transitionLocked(EventSubmit)
	c.setTutorLocked(TutorState{Kind: TutorThinking})
	c.metrics.RecordTurnEnd()
	return nil
}

// HandleMessage applies one inbound server message.
func (c *Controller) HandleMessage(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.VoiceState:
		c.handleRemoteStateLocked(m.State)

	case protocol.VoiceAudio:
		switch c.state.Voice() {
		case Listening, Interrupted:
			// The student holds the floor; late tutor audio is stale.
			return
		}
		if err := c.deps.Playback.Enqueue(m.Audio); err == nil {
			c.metrics.RecordFirstAudio()
		}

	case protocol.VoiceTranscript:
		switch Role(m.Role) {
		case RoleStudent:
			c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) {
				t.ResolveStudentTranscript(m.Text)
			}))
		case RoleTutor:
			c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) {
				t.AddTutorMessage(m.Text)
			}))
			if c.state.Voice() == Speaking {
				c.setTutorLocked(TutorState{Kind: TutorSpeaking, Message: m.Text})
			}
		default:
			c.logger.Warn().Str("role", m.Role).Msg("Ignoring transcript with unknown role")
		}

	case protocol.CanvasCommandMessage:
		if c.deps.Commands == nil || m.Command == nil {
			return
		}
		if err := c.deps.Commands.Submit(m.Command); err != nil {
			c.logger.Warn().Err(err).Str("action", string(m.Command.Action())).Msg("Dropping canvas command")
		}

	case protocol.TutorStatus:
		switch m.Status {
		case protocol.StatusThinking:
			c.setTutorLocked(TutorState{Kind: TutorThinking})
		case protocol.StatusWatching:
			c.setTutorLocked(TutorState{Kind: TutorWatching, Focus: "canvas"})
		case protocol.StatusDrawing:
			c.setTutorLocked(TutorState{Kind: TutorDrawing})
		}

	case protocol.Celebrate:
		intensity := m.Intensity
		if intensity == "" {
			intensity = "small"
		}
		c.deps.View.Celebrate(intensity)

	case protocol.SessionReady:
		c.state.setReady(true)
		c.logger.Info().Msg("Session ready")

	case protocol.ClearCheckContext:
		if c.tracker != nil {
			c.tracker.Discard()
		}

	case protocol.Error:
		c.metrics.RecordError(m.Code, "remote")
		c.logger.Warn().Str("code", m.Code).Str("message", m.Message).Msg("Tutor reported an error")
		if c.state.Voice() == Processing {
			c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) { t.DiscardOptimistic() }))
			c.transitionLocked(EventReset)
			c.setTutorLocked(TutorState{Kind: TutorIdle})
		}
		c.deps.View.ShowError(fmt.Errorf("%s: %s", m.Code, m.Message))

	default:
		c.logger.Debug().Str("type", string(msg.MessageType())).Msg("Ignoring message")
	}
}

func (c *Controller) handleRemoteStateLocked(remote string) {
	voice := c.state.Voice()

	switch remote {
	case protocol.RemoteSpeaking:
		if c.transitionLocked(EventRemoteSpeaking) {
			c.setTutorLocked(TutorState{Kind: TutorSpeaking})
		}
	case protocol.RemoteProcessing:
		if c.transitionLocked(EventRemoteProcessing) {
			c.setTutorLocked(TutorState{Kind: TutorThinking})
		}
	case protocol.RemoteIdle:
		c.completeTurnLocked(voice)
	case protocol.RemoteListening:
		// The backend listens again once its reply is done.
		if voice == Speaking || voice == Processing {
			c.completeTurnLocked(voice)
		}
	default:
		c.logger.Warn().Str("state", remote).Msg("Ignoring unknown voice state")
	}
}

// completeTurnLocked returns to idle. A turn that ends while processing
// without a student transcript drops its placeholder.
func (c *Controller) completeTurnLocked(from VoiceState) {
	if !c.transitionLocked(EventRemoteIdle) {
		return
	}
	if from == Processing {
		var dropped bool
		messages := c.state.editTranscript(func(t *Transcript) {
			dropped = t.DiscardOptimistic()
		})
		if dropped {
			c.deps.View.TranscriptChanged(messages)
		}
	}
	c.setTutorLocked(TutorState{Kind: TutorIdle})
}

// HandleStatus reacts to transport status changes. Losing the connection
// abandons any turn in flight.
func (c *Controller) HandleStatus(status transport.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.setConnection(status)
	c.deps.View.ConnectionChanged(status)

	switch status {
	case transport.StatusConnected:
		if !c.opts.RequireHandshake {
			c.state.setReady(true)
		}
	case transport.StatusDisconnected, transport.StatusError:
		c.state.setReady(false)
		c.abandonTurnLocked()
	}
}

func (c *Controller) abandonTurnLocked() {
	c.streaming.Store(false)
	c.deps.Capture.Stop()
	c.deps.Playback.Stop()
	c.deps.View.TranscriptChanged(c.state.editTranscript(func(t *Transcript) { t.DiscardOptimistic() }))
	if c.state.Voice() != Idle {
		c.transitionLocked(EventReset)
	}
	c.setTutorLocked(TutorState{Kind: TutorIdle})
}

// SyncCanvas sends the full canvas state to the tutor.
func (c *Controller) SyncCanvas() bool {
	if c.deps.Canvas == nil {
		return false
	}
	return c.deps.Transport.Send(c.canvasUpdate())
}

// Close stops devices and the change tracker.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.streaming.Store(false)
	c.deps.Capture.Stop()
	c.deps.Playback.Stop()
	if c.tracker != nil {
		c.tracker.Close()
	}
	c.metrics.RecordSessionEnd()
}

func (c *Controller) onChunk(chunk audio.Chunk) {
	if !c.streaming.Load() {
		return
	}
	token := audio.EncodePCM16(chunk.Samples)
	if c.deps.Transport.Send(protocol.VoiceAudio{Audio: token}) {
		observability.RecordAudioChunk("in", len(token))
	}
}

func (c *Controller) onLevel(level float64) {
	c.state.setLevel(level)
	c.deps.View.LevelChanged(level)
}

// reportEdits runs on the debounce timer with a batch of student edits.
func (c *Controller) reportEdits(edits canvas.Edits) {
	if !c.deps.Transport.Connected() {
		return
	}
	c.deps.Transport.Send(protocol.CanvasChange{
		Added:    nonNilShapes(edits.Added),
		Modified: nonNilShapes(edits.Modified),
		Deleted:  nonNilIDs(edits.Deleted),
	})
	c.deps.Transport.Send(c.canvasUpdate())
	c.logger.Debug().
		Int("added", len(edits.Added)).
		Int("modified", len(edits.Modified)).
		Int("deleted", len(edits.Deleted)).
		Msg("Reported canvas edits")
}

func (c *Controller) canvasUpdate() protocol.CanvasUpdate {
	shapes := c.deps.Canvas.Shapes()
	update := protocol.CanvasUpdate{
		Shapes:  nonNilShapes(shapes),
		Summary: canvas.Summarize(shapes),
	}
	if snap, ok := c.deps.Canvas.Snapshot(); ok {
		bounds := snap.Bounds
		update.Screenshot = snap.Image
		update.ScreenshotBounds = &bounds
	}
	return update
}

// transitionLocked applies event and reports whether the state machine
// accepted it. Rejected events leave the state unchanged.
func (c *Controller) transitionLocked(event Event) bool {
	from := c.state.Voice()
	to, err := Transition(from, event)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Ignoring voice event")
		return false
	}
	if to == from {
		return true
	}
	c.state.setVoice(to)
	c.metrics.RecordVoiceTransition(string(from), string(to))
	c.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Voice state changed")
	c.deps.View.VoiceStateChanged(to)
	return true
}

func (c *Controller) setTutorLocked(t TutorState) {
	if c.state.Tutor() == t {
		return
	}
	c.state.setTutor(t)
	c.deps.View.TutorStateChanged(t)
}

func nonNilShapes(shapes []canvas.Shape) []canvas.Shape {
	if shapes == nil {
		return []canvas.Shape{}
	}
	return shapes
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

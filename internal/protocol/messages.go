// Package protocol defines the JSON messages exchanged with the tutor backend.
// Every message carries a "type" discriminator and every canvas command an
// "action" discriminator.
package protocol

// Type is the message discriminator.
type Type string

// Client to server.
const (
	TypeVoiceStart   Type = "VOICE_START"
	TypeVoiceAudio   Type = "VOICE_AUDIO"
	TypeVoiceEnd     Type = "VOICE_END"
	TypeTextMessage  Type = "TEXT_MESSAGE"
	TypeCanvasUpdate Type = "CANVAS_UPDATE"
	TypeCanvasChange Type = "CANVAS_CHANGE"
)

// Server to client. VOICE_AUDIO is shared by both directions.
const (
	TypeVoiceState        Type = "VOICE_STATE"
	TypeVoiceTranscript   Type = "VOICE_TRANSCRIPT"
	TypeCanvasCommand     Type = "CANVAS_COMMAND"
	TypeTutorStatus       Type = "TUTOR_STATUS"
	TypeCelebrate         Type = "CELEBRATE"
	TypeSessionReady      Type = "SESSION_READY"
	TypeClearCheckContext Type = "CLEAR_CHECK_CONTEXT"
	TypeError             Type = "ERROR"
)

// Message is any protocol message.
type Message interface {
	MessageType() Type
}

// Shape is a canvas shape as exchanged on the wire.
type Shape struct {
	ID    string                 `json:"id"`
	Type  string                 `json:"type"`
	X     float64                `json:"x"`
	Y     float64                `json:"y"`
	Props map[string]interface{} `json:"props,omitempty"`
}

// Bounds is the page-space rectangle covered by a screenshot.
type Bounds struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type VoiceStart struct {
	Screenshot       string  `json:"screenshot,omitempty"`
	ScreenshotBounds *Bounds `json:"screenshotBounds,omitempty"`
}

// VoiceAudio carries base64 PCM16 in either direction.
type VoiceAudio struct {
	Audio string `json:"audio"`
}

type VoiceEnd struct{}

type TextMessage struct {
	Text string `json:"text"`
}

type CanvasUpdate struct {
	Shapes           []Shape `json:"shapes"`
	Summary          string  `json:"summary"`
	Screenshot       string  `json:"screenshot,omitempty"`
	ScreenshotBounds *Bounds `json:"screenshotBounds,omitempty"`
}

type CanvasChange struct {
	Added    []Shape  `json:"added"`
	Modified []Shape  `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Remote voice states reported by VOICE_STATE.
const (
	RemoteIdle       = "idle"
	RemoteListening  = "listening"
	RemoteProcessing = "processing"
	RemoteSpeaking   = "speaking"
)

type VoiceState struct {
	State string `json:"state"`
}

const (
	RoleStudent = "student"
	RoleTutor   = "tutor"
)

type VoiceTranscript struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// CanvasCommandMessage wraps one canvas command.
type CanvasCommandMessage struct {
	Command Command `json:"-"`
}

const (
	StatusThinking = "thinking"
	StatusWatching = "watching"
	StatusDrawing  = "drawing"
)

type TutorStatus struct {
	Status string `json:"status"`
}

type Celebrate struct {
	Intensity string `json:"intensity,omitempty"` // small or big
}

type SessionReady struct{}

type ClearCheckContext struct{}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (VoiceStart) MessageType() Type           { return TypeVoiceStart }
func (VoiceAudio) MessageType() Type           { return TypeVoiceAudio }
func (VoiceEnd) MessageType() Type             { return TypeVoiceEnd }
func (TextMessage) MessageType() Type          { return TypeTextMessage }
func (CanvasUpdate) MessageType() Type         { return TypeCanvasUpdate }
func (CanvasChange) MessageType() Type         { return TypeCanvasChange }
func (VoiceState) MessageType() Type           { return TypeVoiceState }
func (VoiceTranscript) MessageType() Type      { return TypeVoiceTranscript }
func (CanvasCommandMessage) MessageType() Type { return TypeCanvasCommand }
func (TutorStatus) MessageType() Type          { return TypeTutorStatus }
func (Celebrate) MessageType() Type            { return TypeCelebrate }
func (SessionReady) MessageType() Type         { return TypeSessionReady }
func (ClearCheckContext) MessageType() Type    { return TypeClearCheckContext }
func (Error) MessageType() Type                { return TypeError }

package session

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who said a transcript message.
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
)

// Placeholder texts shown while a voice turn is in flight.
const (
	ListeningPlaceholder  = "Listening..."
	ProcessingPlaceholder = "Processing..."
)

// Message is one transcript entry. Optimistic entries are placeholders for a
// student utterance the backend has not transcribed yet.
type Message struct {
	ID         string
	Role       Role
	Content    string
	Timestamp  time.Time
	Optimistic bool
}

// Transcript holds the conversation with at most one pending optimistic
// student message. It is not safe for concurrent use; State guards it.
type Transcript struct {
	messages []Message
	pending  int // index of the optimistic message, -1 when none
	now      func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{pending: -1, now: time.Now}
}

// AddOptimisticStudentMessage appends a placeholder, or rewrites the pending
// one so there is never more than one.
func (t *Transcript) AddOptimisticStudentMessage(content string) Message {
	if t.pending >= 0 {
		t.messages[t.pending].Content = content
		return t.messages[t.pending]
	}
	msg := Message{
		ID:         uuid.NewString(),
		Role:       RoleStudent,
		Content:    content,
		Timestamp:  t.now(),
		Optimistic: true,
	}
	t.messages = append(t.messages, msg)
	t.pending = len(t.messages) - 1
	return msg
}

// UpdateOptimistic changes the placeholder text. It reports false when no
// placeholder is pending.
func (t *Transcript) UpdateOptimistic(content string) bool {
	if t.pending < 0 {
		return false
	}
	t.messages[t.pending].Content = content
	return true
}

// ResolveStudentTranscript replaces the pending placeholder with the real
// text, or appends a new student message when nothing is pending.
func (t *Transcript) ResolveStudentTranscript(text string) Message {
	if t.pending >= 0 {
		msg := &t.messages[t.pending]
		msg.Content = text
		msg.Optimistic = false
		msg.Timestamp = t.now()
		t.pending = -1
		return *msg
	}
	return t.add(RoleStudent, text)
}

// DiscardOptimistic removes the pending placeholder, if any.
func (t *Transcript) DiscardOptimistic() bool {
	if t.pending < 0 {
		return false
	}
	t.messages = append(t.messages[:t.pending], t.messages[t.pending+1:]...)
	t.pending = -1
	return true
}

func (t *Transcript) AddStudentMessage(text string) Message {
	return t.add(RoleStudent, text)
}

func (t *Transcript) AddTutorMessage(text string) Message {
	return t.add(RoleTutor, text)
}

// Messages returns a copy of the conversation in order.
func (t *Transcript) Messages() []Message {
	return append([]Message(nil), t.messages...)
}

func (t *Transcript) add(role Role, text string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   text,
		Timestamp: t.now(),
	}
	t.messages = append(t.messages, msg)
	return msg
}

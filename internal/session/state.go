package session

import (
	"sync"

	"github.com/lexiqai/tutor-client/internal/transport"
)

// TutorKind is what the tutor avatar is doing.
type TutorKind string

const (
	TutorIdle      TutorKind = "idle"
	TutorListening TutorKind = "listening"
	TutorThinking  TutorKind = "thinking"
	TutorSpeaking  TutorKind = "speaking"
	TutorWatching  TutorKind = "watching"
	TutorDrawing   TutorKind = "drawing"
)

// TutorState carries an optional message while speaking and a focus while
// watching.
type TutorState struct {
	Kind    TutorKind
	Message string
	Focus   string
}

// State is the session context: everything the view reads. It is created by
// the application and handed to the Controller, which is its only writer.
type State struct {
	id string

	mu         sync.RWMutex
	voice      VoiceState
	tutor      TutorState
	transcript *Transcript
	connection transport.Status
	ready      bool
	level      float64
}

func NewState(id string) *State {
	return &State{
		id:         id,
		voice:      Idle,
		tutor:      TutorState{Kind: TutorIdle},
		transcript: NewTranscript(),
		connection: transport.StatusDisconnected,
	}
}

func (s *State) ID() string {
	return s.id
}

func (s *State) Voice() VoiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voice
}

func (s *State) Tutor() TutorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tutor
}

func (s *State) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transcript.Messages()
}

func (s *State) Connection() transport.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connection
}

// Ready reports whether the backend has announced the session.
func (s *State) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Level is the latest microphone level in [0,1].
func (s *State) Level() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

func (s *State) setVoice(v VoiceState) {
	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()
}

func (s *State) setTutor(t TutorState) {
	s.mu.Lock()
	s.tutor = t
	s.mu.Unlock()
}

func (s *State) setConnection(status transport.Status) {
	s.mu.Lock()
	s.connection = status
	s.mu.Unlock()
}

func (s *State) setReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

func (s *State) setLevel(level float64) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// editTranscript runs fn with the transcript locked and returns the
// resulting messages.
func (s *State) editTranscript(fn func(t *Transcript)) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.transcript)
	return s.transcript.Messages()
}

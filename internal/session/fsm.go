// Package session drives one tutoring session: the local voice state machine,
// the transcript, and the routing between audio devices, the transport and
// the canvas.
package session

import "fmt"

// VoiceState is the local turn-taking state.
type VoiceState string

const (
	Idle        VoiceState = "idle"
	Listening   VoiceState = "listening"
	Processing  VoiceState = "processing"
	Speaking    VoiceState = "speaking"
	Interrupted VoiceState = "interrupted"
)

// Event drives a VoiceState transition.
type Event string

const (
	// EventTalk starts a student voice turn.
	EventTalk Event = "talk"
	// EventRelease ends the student voice turn.
	EventRelease Event = "release"
	// EventSubmit hands a typed message to the tutor.
	EventSubmit           Event = "submit"
	EventRemoteProcessing Event = "remote_processing"
	EventRemoteSpeaking   Event = "remote_speaking"
	EventRemoteIdle       Event = "remote_idle"
	// EventInterrupt is the student barging in on the tutor.
	EventInterrupt Event = "interrupt"
	EventReset     Event = "reset"
)

type invalidTransition struct {
	from  VoiceState
	event Event
}

func (e invalidTransition) Error() string {
	return fmt.Sprintf("invalid transition: %s --(%s)--> ?", e.from, e.event)
}

// Transition returns the state reached from current on event.
func Transition(current VoiceState, event Event) (VoiceState, error) {
	if event == EventReset {
		return Idle, nil
	}

	switch current {
	case Idle:
		switch event {
		case EventTalk:
			return Listening, nil
		case EventSubmit, EventRemoteProcessing:
			return Processing, nil
		case EventRemoteSpeaking:
			return Speaking, nil
		case EventRemoteIdle:
			return Idle, nil
		}
	case Listening:
		switch event {
		case EventRelease:
			return Processing, nil
		}
	case Processing:
		switch event {
		case EventTalk:
			return Listening, nil
		case EventSubmit, EventRemoteProcessing:
			return Processing, nil
		case EventRemoteSpeaking:
			return Speaking, nil
		case EventRemoteIdle:
			return Idle, nil
		}
	case Speaking:
		switch event {
		case EventRemoteSpeaking:
			return Speaking, nil
		case EventRemoteIdle:
			return Idle, nil
		case EventInterrupt:
			return Interrupted, nil
		}
	case Interrupted:
		switch event {
		case EventTalk:
			return Listening, nil
		case EventSubmit:
			return Processing, nil
		case EventRemoteIdle:
			return Idle, nil
		}
	default:
		return "", fmt.Errorf("unknown state %q", current)
	}

	return "", invalidTransition{from: current, event: event}
}

package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	valid := []struct {
		from  VoiceState
		event Event
		to    VoiceState
	}{
		{Idle, EventTalk, Listening},
		{Listening, EventRelease, Processing},
		{Processing, EventRemoteSpeaking, Speaking},
		{Speaking, EventRemoteIdle, Idle},
		{Speaking, EventInterrupt, Interrupted},
		{Interrupted, EventTalk, Listening},
		{Processing, EventTalk, Listening},
		{Idle, EventSubmit, Processing},
		{Idle, EventRemoteSpeaking, Speaking},
		{Idle, EventRemoteProcessing, Processing},
		{Speaking, EventRemoteSpeaking, Speaking},
		{Listening, EventReset, Idle},
		{Interrupted, EventReset, Idle},
	}
	for _, tt := range valid {
		got, err := Transition(tt.from, tt.event)
		require.NoError(t, err, "%s --(%s)-->", tt.from, tt.event)
		require.Equal(t, tt.to, got, "%s --(%s)-->", tt.from, tt.event)
	}

	invalid := []struct {
		from  VoiceState
		event Event
	}{
		{Idle, EventRelease},
		{Listening, EventRemoteSpeaking},
		{Listening, EventRemoteIdle},
		{Listening, EventTalk},
		{Speaking, EventTalk},
		{Interrupted, EventRemoteSpeaking},
		{Idle, EventInterrupt},
	}
	for _, tt := range invalid {
		_, err := Transition(tt.from, tt.event)
		require.Error(t, err, "%s --(%s)-->", tt.from, tt.event)
	}

	_, err := Transition(VoiceState("dancing"), EventTalk)
	require.EqualError(t, err, `unknown state "dancing"`)
}

func TestTranscript_OptimisticReplacement(t *testing.T) {
	tr := NewTranscript()
	tr.AddOptimisticStudentMessage("...")
	tr.ResolveStudentTranscript("actual text")

	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, RoleStudent, msgs[0].Role)
	require.Equal(t, "actual text", msgs[0].Content)
	require.False(t, msgs[0].Optimistic)
}

func TestTranscript_SinglePlaceholder(t *testing.T) {
	tr := NewTranscript()
	first := tr.AddOptimisticStudentMessage(ListeningPlaceholder)
	second := tr.AddOptimisticStudentMessage("again")
	require.Equal(t, first.ID, second.ID)
	require.Len(t, tr.Messages(), 1)

	require.True(t, tr.UpdateOptimistic(ProcessingPlaceholder))
	require.Equal(t, ProcessingPlaceholder, tr.Messages()[0].Content)

	tr.AddTutorMessage("hello")
	require.True(t, tr.DiscardOptimistic())
	require.False(t, tr.DiscardOptimistic())
	require.False(t, tr.UpdateOptimistic("x"))

	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, RoleTutor, msgs[0].Role)
}

func TestTranscript_ResolveWithoutPlaceholderAppends(t *testing.T) {
	tr := NewTranscript()
	tr.AddTutorMessage("What is 3 times 4?")
	tr.ResolveStudentTranscript("twelve")

	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "twelve", msgs[1].Content)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)
}

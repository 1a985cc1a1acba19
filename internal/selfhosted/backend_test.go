package selfhosted

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/tutor-client/internal/audio"
	"github.com/lexiqai/tutor-client/internal/protocol"
	"github.com/lexiqai/tutor-client/internal/stt"
	"github.com/lexiqai/tutor-client/internal/transport"
	"github.com/lexiqai/tutor-client/internal/tts"
	"github.com/lexiqai/tutor-client/internal/tutor"
)

type fakeStream struct {
	mu       sync.Mutex
	bytes    int
	text     string
	closed   bool
	finished bool
}

func (s *fakeStream) SendAudio(pcm []byte) error {
	s.mu.Lock()
	s.bytes += len(pcm)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Finish(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.finished = true
	return s.text, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type fakeTranscriber struct {
	mu      sync.Mutex
	err     error
	text    string
	streams []*fakeStream
	rates   []int
}

func (f *fakeTranscriber) Open(_ context.Context, rate int) (stt.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeStream{text: f.text}
	f.streams = append(f.streams, s)
	f.rates = append(f.rates, rate)
	return s, nil
}

type fakeSynth struct {
	samples int
	err     error
}

func (f *fakeSynth) Synthesize(context.Context, string) (*tts.Speech, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &tts.Speech{Samples: make([]float32, f.samples), SampleRate: tts.OutputSampleRate}, nil
}

type fakeTutor struct {
	mu      sync.Mutex
	reply   tutor.Reply
	err     error
	asked   []string
	canvas  string
	changes []string
}

func (f *fakeTutor) Respond(_ context.Context, student string) (tutor.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, student)
	return f.reply, f.err
}

func (f *fakeTutor) SetCanvas(summary string) {
	f.mu.Lock()
	f.canvas = summary
	f.mu.Unlock()
}

func (f *fakeTutor) NoteCanvasChange(description string) {
	f.mu.Lock()
	f.changes = append(f.changes, description)
	f.mu.Unlock()
}

type recorder struct {
	msgs     chan protocol.Message
	mu       sync.Mutex
	statuses []transport.Status
}

func connect(t *testing.T, providers Providers, opts Options) (*Backend, *recorder) {
	t.Helper()
	rec := &recorder{msgs: make(chan protocol.Message, 256)}
	b := New(providers, opts, zerolog.Nop())
	b.OnMessage(func(m protocol.Message) { rec.msgs <- m })
	b.OnStatus(func(s transport.Status) {
		rec.mu.Lock()
		rec.statuses = append(rec.statuses, s)
		rec.mu.Unlock()
	})
	b.Connect(context.Background())
	t.Cleanup(b.Disconnect)

	require.Equal(t, protocol.SessionReady{}, rec.next(t))
	return b, rec
}

func (r *recorder) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case m := <-r.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// until collects messages up to and including the first VOICE_STATE with
// the given state.
func (r *recorder) until(t *testing.T, state string) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for {
		m := r.next(t)
		out = append(out, m)
		if vs, ok := m.(protocol.VoiceState); ok && vs.State == state {
			return out
		}
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case m := <-r.msgs:
		t.Fatalf("unexpected message %#v", m)
	case <-time.After(d):
	}
}

func types(msgs []protocol.Message) []protocol.Type {
	out := make([]protocol.Type, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageType()
	}
	return out
}

func speechTurn(b *Backend, samples int) {
	b.Send(protocol.VoiceStart{})
	tone := make([]float32, samples)
	for i := range tone {
		tone[i] = 0.3
	}
	b.Send(protocol.VoiceAudio{Audio: audio.EncodePCM16(tone)})
	b.Send(protocol.VoiceEnd{})
}

func TestBackend_VoiceTurn(t *testing.T) {
	transcriber := &fakeTranscriber{text: "what is two plus two"}
	model := &fakeTutor{reply: tutor.ParseReply(`Let's see. [WRITE: text="2 + 2"] [CELEBRATE]`)}
	b, rec := connect(t, Providers{
		Transcriber: transcriber,
		Synthesizer: &fakeSynth{samples: 3600},
		Tutor:       model,
	}, Options{SampleRate: 16000})

	rec.mu.Lock()
	require.Equal(t, []transport.Status{transport.StatusConnecting, transport.StatusConnected}, rec.statuses)
	rec.mu.Unlock()

	speechTurn(b, 1600)
	require.Equal(t, protocol.VoiceState{State: protocol.RemoteListening}, rec.next(t))

	msgs := rec.until(t, protocol.RemoteIdle)
	require.Equal(t, []protocol.Type{
		protocol.TypeVoiceState,      // processing
		protocol.TypeTutorStatus,     // thinking
		protocol.TypeVoiceTranscript, // student
		protocol.TypeTutorStatus,     // drawing
		protocol.TypeCanvasCommand,
		protocol.TypeCelebrate,
		protocol.TypeVoiceTranscript, // tutor
		protocol.TypeVoiceState,      // speaking
		protocol.TypeVoiceAudio,
		protocol.TypeVoiceAudio,
		protocol.TypeVoiceState, // idle
	}, types(msgs))

	require.Equal(t, protocol.VoiceState{State: protocol.RemoteProcessing}, msgs[0])
	require.Equal(t, protocol.VoiceTranscript{Role: protocol.RoleStudent, Text: "what is two plus two"}, msgs[2])
	require.Equal(t, protocol.TutorStatus{Status: protocol.StatusDrawing}, msgs[3])
	require.Equal(t, protocol.ActionAddAnimatedText, msgs[4].(protocol.CanvasCommandMessage).Command.Action())
	require.Equal(t, protocol.Celebrate{Intensity: "small"}, msgs[5])
	require.Equal(t, protocol.VoiceTranscript{Role: protocol.RoleTutor, Text: "Let's see."}, msgs[6])
	require.Equal(t, protocol.VoiceState{State: protocol.RemoteSpeaking}, msgs[7])

	// 3600 samples at 24 kHz resample to 2400 at 16 kHz: one full 100 ms
	// chunk and a remainder.
	first, err := audio.DecodePCM16(msgs[8].(protocol.VoiceAudio).Audio)
	require.NoError(t, err)
	require.Len(t, first, 1600)
	second, err := audio.DecodePCM16(msgs[9].(protocol.VoiceAudio).Audio)
	require.NoError(t, err)
	require.Len(t, second, 800)

	require.Equal(t, []string{"what is two plus two"}, model.asked)
	require.Equal(t, []int{16000}, transcriber.rates)
	require.Equal(t, 3200, transcriber.streams[0].bytes)
	require.True(t, transcriber.streams[0].closed)
}

func TestBackend_TextMessageSkipsStudentEcho(t *testing.T) {
	model := &fakeTutor{reply: tutor.Reply{Speech: "Sure."}}
	b, rec := connect(t, Providers{Tutor: model}, Options{})

	require.True(t, b.Send(protocol.TextMessage{Text: "help"}))
	msgs := rec.until(t, protocol.RemoteIdle)
	require.Equal(t, []protocol.Message{
		protocol.VoiceState{State: protocol.RemoteProcessing},
		protocol.TutorStatus{Status: protocol.StatusThinking},
		protocol.VoiceTranscript{Role: protocol.RoleTutor, Text: "Sure."},
		protocol.VoiceState{State: protocol.RemoteSpeaking},
		protocol.VoiceState{State: protocol.RemoteIdle},
	}, msgs)
	require.Equal(t, []string{"help"}, model.asked)
}

func TestBackend_MissingTutorIsConfigurationError(t *testing.T) {
	b, rec := connect(t, Providers{Transcriber: &fakeTranscriber{text: "hello"}}, Options{})

	speechTurn(b, 160)
	msgs := rec.until(t, protocol.RemoteIdle)

	last := msgs[len(msgs)-2].(protocol.VoiceTranscript)
	require.Equal(t, protocol.RoleTutor, last.Role)
	require.Contains(t, last.Text, "GEMINI_API_KEY")
}

func TestBackend_MissingTranscriberKeyIsConfigurationError(t *testing.T) {
	model := &fakeTutor{}
	b, rec := connect(t, Providers{
		Transcriber: &fakeTranscriber{err: stt.ErrMissingAPIKey},
		Tutor:       model,
	}, Options{})

	speechTurn(b, 160)
	msgs := rec.until(t, protocol.RemoteIdle)

	require.Equal(t, protocol.VoiceState{State: protocol.RemoteListening}, msgs[0])
	var tutorLines []string
	for _, m := range msgs {
		if vt, ok := m.(protocol.VoiceTranscript); ok {
			require.Equal(t, protocol.RoleTutor, vt.Role)
			tutorLines = append(tutorLines, vt.Text)
		}
	}
	require.Len(t, tutorLines, 1)
	require.Contains(t, tutorLines[0], "DEEPGRAM_API_KEY")
	require.Empty(t, model.asked)
}

func TestBackend_EmptyTranscriptReturnsToIdle(t *testing.T) {
	model := &fakeTutor{}
	b, rec := connect(t, Providers{Transcriber: &fakeTranscriber{}, Tutor: model}, Options{})

	speechTurn(b, 160)
	msgs := rec.until(t, protocol.RemoteIdle)
	require.Equal(t, []protocol.Type{
		protocol.TypeVoiceState,
		protocol.TypeVoiceState,
		protocol.TypeTutorStatus,
		protocol.TypeVoiceState,
	}, types(msgs))
	require.Empty(t, model.asked)
}

func TestBackend_SilentTurnSkipsTranscription(t *testing.T) {
	transcriber := &fakeTranscriber{text: "phantom words"}
	model := &fakeTutor{}
	b, rec := connect(t, Providers{Transcriber: transcriber, Tutor: model}, Options{SampleRate: 16000})

	b.Send(protocol.VoiceStart{})
	for i := 0; i < 5; i++ {
		b.Send(protocol.VoiceAudio{Audio: audio.EncodePCM16(make([]float32, 1600))})
	}
	b.Send(protocol.VoiceEnd{})

	msgs := rec.until(t, protocol.RemoteIdle)
	require.Equal(t, []protocol.Message{
		protocol.VoiceState{State: protocol.RemoteListening},
		protocol.VoiceState{State: protocol.RemoteProcessing},
		protocol.TutorStatus{Status: protocol.StatusThinking},
		protocol.VoiceState{State: protocol.RemoteIdle},
	}, msgs)
	rec.quiet(t, 50*time.Millisecond)
	require.Empty(t, model.asked)

	transcriber.mu.Lock()
	require.Len(t, transcriber.streams, 1)
	stream := transcriber.streams[0]
	transcriber.mu.Unlock()

	stream.mu.Lock()
	defer stream.mu.Unlock()
	require.True(t, stream.closed)
	require.False(t, stream.finished, "silent turns are not transcribed")
}

func TestBackend_TutorFailureSendsError(t *testing.T) {
	b, rec := connect(t, Providers{Tutor: &fakeTutor{err: errors.New("quota")}}, Options{})

	b.Send(protocol.TextMessage{Text: "hi"})
	require.Equal(t, protocol.VoiceState{State: protocol.RemoteProcessing}, rec.next(t))
	require.Equal(t, protocol.TutorStatus{Status: protocol.StatusThinking}, rec.next(t))

	errMsg := rec.next(t).(protocol.Error)
	require.Equal(t, "SERVER_ERROR", errMsg.Code)
	require.Contains(t, errMsg.Message, "quota")
	rec.quiet(t, 50*time.Millisecond)
}

func TestBackend_MissingVoiceKeyWarnsOnce(t *testing.T) {
	b, rec := connect(t, Providers{
		Tutor:       &fakeTutor{reply: tutor.Reply{Speech: "Hi."}},
		Synthesizer: &fakeSynth{err: tts.ErrMissingAPIKey},
	}, Options{})

	count := func() int {
		n := 0
		for _, m := range rec.until(t, protocol.RemoteIdle) {
			if vt, ok := m.(protocol.VoiceTranscript); ok && vt.Text != "Hi." {
				n++
			}
		}
		return n
	}

	b.Send(protocol.TextMessage{Text: "one"})
	require.Equal(t, 1, count())
	b.Send(protocol.TextMessage{Text: "two"})
	require.Equal(t, 0, count())
}

func TestBackend_VoiceStartInterruptsReply(t *testing.T) {
	b, rec := connect(t, Providers{
		Transcriber: &fakeTranscriber{text: "again"},
		Synthesizer: &fakeSynth{samples: 24000 * 10},
		Tutor:       &fakeTutor{reply: tutor.Reply{Speech: "A long answer."}},
	}, Options{SampleRate: 24000, Pace: true})

	b.Send(protocol.TextMessage{Text: "explain"})
	rec.until(t, protocol.RemoteSpeaking)

	b.Send(protocol.VoiceStart{})
	for {
		m := rec.next(t)
		if vs, ok := m.(protocol.VoiceState); ok {
			require.Equal(t, protocol.RemoteListening, vs.State)
			break
		}
		require.Equal(t, protocol.TypeVoiceAudio, m.MessageType())
	}
	rec.quiet(t, 100*time.Millisecond)
}

func TestBackend_CanvasContext(t *testing.T) {
	model := &fakeTutor{}
	b, rec := connect(t, Providers{Tutor: model}, Options{})

	b.Send(protocol.CanvasUpdate{Summary: "Canvas is empty"})
	b.Send(protocol.CanvasChange{})
	b.Send(protocol.CanvasChange{Added: []protocol.Shape{{ID: "a", Type: "text"}}, Deleted: []string{"b"}})
	b.Send(protocol.TextMessage{Text: "done"})
	rec.until(t, protocol.RemoteIdle)

	model.mu.Lock()
	defer model.mu.Unlock()
	require.Equal(t, "Canvas is empty", model.canvas)
	require.Equal(t, []string{"Added: text; Deleted: 1 element(s)"}, model.changes)
}

func TestBackend_SendWhileDisconnected(t *testing.T) {
	b := New(Providers{}, Options{}, zerolog.Nop())
	require.False(t, b.Send(protocol.TextMessage{Text: "hi"}))
	require.False(t, b.Connected())

	b.Connect(context.Background())
	require.True(t, b.Connected())
	b.Disconnect()
	require.Equal(t, transport.StatusDisconnected, b.Status())
	require.False(t, b.Send(protocol.TextMessage{Text: "hi"}))
	b.Disconnect()
}

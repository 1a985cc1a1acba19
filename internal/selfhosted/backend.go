// Package selfhosted runs the tutor turn pipeline in-process: speech to text,
// the tutor model and text to speech. It speaks the same protocol as the
// remote tutor server so the session controller cannot tell them apart.
package selfhosted

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/tutor-client/internal/audio"
	"github.com/lexiqai/tutor-client/internal/canvas"
	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/protocol"
	"github.com/lexiqai/tutor-client/internal/stt"
	"github.com/lexiqai/tutor-client/internal/transport"
	"github.com/lexiqai/tutor-client/internal/tts"
	"github.com/lexiqai/tutor-client/internal/tutor"
)

const noChanges = "No changes detected."

// ConfigurationError names a credential a turn needed but did not have.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Setting)
}

// Providers are the downstream AI services. A nil Tutor makes every turn
// answer with a configuration message.
type Providers struct {
	Transcriber stt.Transcriber
	Synthesizer tts.Synthesizer
	Tutor       tutor.Tutor
}

type Options struct {
	// SampleRate is the VOICE_AUDIO rate in both directions.
	SampleRate int
	// ChunkDuration sizes outbound audio chunks.
	ChunkDuration time.Duration
	// Pace holds the closing idle state until the reply has played.
	Pace bool
}

// Backend implements the session transport on top of local providers.
type Backend struct {
	providers Providers
	opts      Options
	logger    zerolog.Logger

	in  *mailbox
	out *mailbox

	mu        sync.Mutex
	status    transport.Status
	onMessage func(protocol.Message)
	onStatus  func(transport.Status)
	cancel    context.CancelFunc
	done      chan struct{}

	// Owned by the worker goroutine and the single reply it runs.
	turn        *turn
	reply       context.CancelFunc
	replyDone   chan struct{}
	voiceWarned bool
}

type turn struct {
	stream stt.Stream
	vad    *audio.VADDetector
	err    error
	frames int
}

func New(providers Providers, opts Options, logger zerolog.Logger) *Backend {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.ChunkDuration <= 0 {
		opts.ChunkDuration = 100 * time.Millisecond
	}
	return &Backend{
		providers: providers,
		opts:      opts,
		logger:    logger.With().Str("component", "selfhosted").Logger(),
		in:        newMailbox(),
		out:       newMailbox(),
	}
}

// OnMessage registers the handler for messages the backend produces.
func (b *Backend) OnMessage(fn func(protocol.Message)) {
	b.mu.Lock()
	b.onMessage = fn
	b.mu.Unlock()
}

func (b *Backend) OnStatus(fn func(transport.Status)) {
	b.mu.Lock()
	b.onStatus = fn
	b.mu.Unlock()
}

func (b *Backend) Status() transport.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Backend) Connected() bool {
	return b.Status() == transport.StatusConnected
}

// Connect starts the pipeline and announces the session as ready. Calling it
// while connected is a no-op.
func (b *Backend) Connect(ctx context.Context) {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel, b.done = cancel, done
	b.mu.Unlock()

	b.setStatus(transport.StatusConnecting)
	go b.deliverLoop(ctx)
	go b.workLoop(ctx, done)
	b.setStatus(transport.StatusConnected)

	b.out.put(protocol.SessionReady{})
	b.logger.Info().Int("sample_rate", b.opts.SampleRate).Msg("Self-hosted session ready")
}

// Disconnect stops the pipeline, abandoning any reply in flight.
func (b *Backend) Disconnect() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	b.setStatus(transport.StatusDisconnected)
}

// Send queues one client message. It reports false when not connected.
func (b *Backend) Send(msg protocol.Message) bool {
	if !b.Connected() {
		b.logger.Warn().Str("type", string(msg.MessageType())).Msg("Dropping message while disconnected")
		return false
	}
	b.in.put(msg)
	observability.RecordMessage("out", string(msg.MessageType()))
	return true
}

func (b *Backend) setStatus(s transport.Status) {
	b.mu.Lock()
	if b.status == s {
		b.mu.Unlock()
		return
	}
	b.status = s
	fn := b.onStatus
	b.mu.Unlock()

	observability.SetTransportStatus(int(s))
	if fn != nil {
		fn(s)
	}
}

func (b *Backend) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.out.notify:
		}
		for _, msg := range b.out.drain() {
			if ctx.Err() != nil {
				return
			}
			b.mu.Lock()
			fn := b.onMessage
			b.mu.Unlock()

			observability.RecordMessage("in", string(msg.MessageType()))
			if fn != nil {
				fn(msg)
			}
		}
	}
}

func (b *Backend) workLoop(ctx context.Context, done chan struct{}) {
	defer func() {
		b.cancelReply()
		b.closeTurn()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.in.notify:
		}
		for _, msg := range b.in.drain() {
			if ctx.Err() != nil {
				return
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *Backend) handle(ctx context.Context, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.VoiceStart:
		b.cancelReply()
		b.closeTurn()
		b.out.put(protocol.VoiceState{State: protocol.RemoteListening})
		b.openTurn(ctx)

	case protocol.VoiceAudio:
		b.feedTurn(m.Audio)

	case protocol.VoiceEnd:
		t := b.turn
		b.turn = nil
		b.out.put(protocol.VoiceState{State: protocol.RemoteProcessing})
		b.out.put(protocol.TutorStatus{Status: protocol.StatusThinking})
		if t == nil {
			b.out.put(protocol.VoiceState{State: protocol.RemoteIdle})
			return
		}
		b.startReply(ctx, func(ctx context.Context) { b.finishTurn(ctx, t) })

	case protocol.TextMessage:
		b.cancelReply()
		b.closeTurn()
		b.out.put(protocol.VoiceState{State: protocol.RemoteProcessing})
		b.out.put(protocol.TutorStatus{Status: protocol.StatusThinking})
		text := m.Text
		b.startReply(ctx, func(ctx context.Context) { b.respond(ctx, text) })

	case protocol.CanvasUpdate:
		if b.providers.Tutor != nil {
			b.providers.Tutor.SetCanvas(m.Summary)
		}

	case protocol.CanvasChange:
		desc := canvas.DescribeChanges(m.Added, m.Modified, m.Deleted)
		if desc != noChanges && b.providers.Tutor != nil {
			b.providers.Tutor.NoteCanvasChange(desc)
		}

	default:
		b.logger.Debug().Str("type", string(msg.MessageType())).Msg("Ignoring message")
	}
}

func (b *Backend) openTurn(ctx context.Context) {
	t := &turn{vad: audio.NewVADDetector(audio.DefaultVADConfig())}
	b.turn = t

	if b.providers.Transcriber == nil {
		t.err = &ConfigurationError{Setting: "DEEPGRAM_API_KEY"}
		return
	}
	stream, err := b.providers.Transcriber.Open(ctx, b.opts.SampleRate)
	if err != nil {
		if errors.Is(err, stt.ErrMissingAPIKey) {
			err = &ConfigurationError{Setting: "DEEPGRAM_API_KEY"}
		}
		t.err = err
		observability.RecordError("stt_open", "selfhosted")
		b.logger.Error().Err(err).Msg("Failed to open transcription stream")
		return
	}
	t.stream = stream
}

func (b *Backend) feedTurn(token string) {
	t := b.turn
	if t == nil {
		return
	}
	samples, err := audio.DecodePCM16(token)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Dropping undecodable student audio")
		return
	}
	t.frames++
	switch ev := t.vad.ProcessFrame(samples); {
	case ev.Started:
		b.logger.Debug().Int("frame", t.frames).Float64("threshold", t.vad.Threshold()).Msg("Student speech started")
	case ev.Ended:
		b.logger.Debug().Int("frame", t.frames).Msg("Student speech paused")
	}

	if t.stream == nil || t.err != nil {
		return
	}
	if err := t.stream.SendAudio(audio.FloatToPCM16(samples)); err != nil {
		t.err = err
		b.logger.Error().Err(err).Msg("Failed to stream student audio")
	}
}

func (b *Backend) closeTurn() {
	if b.turn == nil {
		return
	}
	if b.turn.stream != nil {
		_ = b.turn.stream.Close()
	}
	b.turn = nil
}

func (b *Backend) startReply(ctx context.Context, fn func(ctx context.Context)) {
	b.cancelReply()
	replyCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.reply, b.replyDone = cancel, done
	go func() {
		defer close(done)
		fn(replyCtx)
	}()
}

// cancelReply stops the reply in flight and waits for it, so nothing it
// produces can follow a later state change.
func (b *Backend) cancelReply() {
	if b.reply == nil {
		return
	}
	b.reply()
	<-b.replyDone
	b.reply, b.replyDone = nil, nil
}

func (b *Backend) emit(ctx context.Context, msg protocol.Message) bool {
	if ctx.Err() != nil {
		return false
	}
	b.out.put(msg)
	return true
}

func (b *Backend) finishTurn(ctx context.Context, t *turn) {
	var cfgErr *ConfigurationError
	if errors.As(t.err, &cfgErr) {
		if t.stream != nil {
			_ = t.stream.Close()
		}
		b.configurationError(ctx, cfgErr)
		return
	}

	// The energy gate never opened.
	if !t.vad.HeardSpeech() {
		if t.stream != nil {
			_ = t.stream.Close()
		}
		b.logger.Info().Int("frames", t.frames).Msg("Turn was silent, skipping transcription")
		b.emit(ctx, protocol.VoiceState{State: protocol.RemoteIdle})
		return
	}

	var text string
	if t.stream != nil {
		var err error
		text, err = t.stream.Finish(ctx)
		if err != nil && t.err == nil {
			t.err = err
		}
	}
	if ctx.Err() != nil {
		return
	}

	if errors.As(t.err, &cfgErr) {
		b.configurationError(ctx, cfgErr)
		return
	}
	if text == "" {
		if t.err != nil {
			observability.RecordError("stt", "selfhosted")
			b.emit(ctx, protocol.Error{Code: "SERVER_ERROR", Message: "transcription failed: " + t.err.Error()})
			return
		}
		b.logger.Info().
			Int("frames", t.frames).
			Int("segments", t.vad.Segments()).
			Float64("speech_ratio", t.vad.SpeechRatio()).
			Msg("Turn produced no transcript")
		b.emit(ctx, protocol.VoiceState{State: protocol.RemoteIdle})
		return
	}

	b.emit(ctx, protocol.VoiceTranscript{Role: protocol.RoleStudent, Text: text})
	b.respond(ctx, text)
}

func (b *Backend) respond(ctx context.Context, student string) {
	if b.providers.Tutor == nil {
		b.configurationError(ctx, &ConfigurationError{Setting: "GEMINI_API_KEY"})
		return
	}

	reply, err := b.providers.Tutor.Respond(ctx, student)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		observability.RecordError("tutor", "selfhosted")
		b.emit(ctx, protocol.Error{Code: "SERVER_ERROR", Message: "the tutor could not answer: " + err.Error()})
		return
	}

	if len(reply.Commands) > 0 {
		b.emit(ctx, protocol.TutorStatus{Status: protocol.StatusDrawing})
		for _, cmd := range reply.Commands {
			b.emit(ctx, protocol.CanvasCommandMessage{Command: cmd})
		}
	}
	if reply.Celebrate != "" {
		b.emit(ctx, protocol.Celebrate{Intensity: reply.Celebrate})
	}
	if reply.Speech == "" {
		b.emit(ctx, protocol.VoiceState{State: protocol.RemoteIdle})
		return
	}

	b.emit(ctx, protocol.VoiceTranscript{Role: protocol.RoleTutor, Text: reply.Speech})
	if !b.emit(ctx, protocol.VoiceState{State: protocol.RemoteSpeaking}) {
		return
	}
	played := b.speak(ctx, reply.Speech)
	if !b.wait(ctx, played) {
		return
	}
	b.emit(ctx, protocol.VoiceState{State: protocol.RemoteIdle})
}

// speak synthesizes text and streams it as VOICE_AUDIO. It returns how long
// the audio plays for.
func (b *Backend) speak(ctx context.Context, text string) time.Duration {
	if b.providers.Synthesizer == nil {
		return 0
	}
	speech, err := b.providers.Synthesizer.Synthesize(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		if errors.Is(err, tts.ErrMissingAPIKey) {
			if !b.voiceWarned {
				b.voiceWarned = true
				b.emit(ctx, protocol.VoiceTranscript{
					Role: protocol.RoleTutor,
					Text: "Voice replies are off because CARTESIA_API_KEY is not configured.",
				})
			}
			return 0
		}
		observability.RecordError("tts", "selfhosted")
		b.logger.Error().Err(err).Msg("Failed to synthesize tutor speech")
		return 0
	}

	samples := audio.Resample(speech.Samples, speech.SampleRate, b.opts.SampleRate)
	size := audio.ChunkSize(b.opts.SampleRate, b.opts.ChunkDuration)
	for start := 0; start < len(samples); start += size {
		end := min(start+size, len(samples))
		token := audio.EncodePCM16(samples[start:end])
		if !b.emit(ctx, protocol.VoiceAudio{Audio: token}) {
			return 0
		}
		observability.RecordAudioChunk("tts", len(token))
	}
	return time.Duration(len(samples)) * time.Second / time.Duration(b.opts.SampleRate)
}

func (b *Backend) wait(ctx context.Context, d time.Duration) bool {
	if !b.opts.Pace || d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (b *Backend) configurationError(ctx context.Context, err *ConfigurationError) {
	observability.RecordError("configuration", "selfhosted")
	b.logger.Warn().Err(err).Msg("Cannot run tutor turn")
	b.emit(ctx, protocol.VoiceTranscript{
		Role: protocol.RoleTutor,
		Text: fmt.Sprintf("I can't answer right now: %s. Add it to your environment and try again.", err.Error()),
	})
	b.emit(ctx, protocol.VoiceState{State: protocol.RemoteIdle})
}

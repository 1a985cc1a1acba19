package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/tutor-client/internal/audio"
	"github.com/lexiqai/tutor-client/internal/canvas"
	"github.com/lexiqai/tutor-client/internal/command"
	"github.com/lexiqai/tutor-client/internal/config"
	"github.com/lexiqai/tutor-client/internal/observability"
	"github.com/lexiqai/tutor-client/internal/protocol"
	"github.com/lexiqai/tutor-client/internal/selfhosted"
	"github.com/lexiqai/tutor-client/internal/session"
	"github.com/lexiqai/tutor-client/internal/stt"
	"github.com/lexiqai/tutor-client/internal/transport"
	"github.com/lexiqai/tutor-client/internal/tts"
	"github.com/lexiqai/tutor-client/internal/tutor"
)

const fallbackSampleRate = 48000

// sessionLink is what the controller talks through: the remote WebSocket
// client or the in-process backend.
type sessionLink interface {
	session.Transport
	OnMessage(fn func(protocol.Message))
	OnStatus(fn func(transport.Status))
	Connect(ctx context.Context)
	Disconnect()
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a tutoring session on the default microphone and speaker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSession(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runSession(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	sessionID := observability.NewSessionID()
	logger := observability.WithSessionID(sessionID)

	logger.Info().
		Str("backend", cfg.Backend).
		Str("input", cfg.AudioInput).
		Msg("Starting tutoring session")

	rate := sessionSampleRate(ctx, cfg, logger)

	capture := audio.NewCapture(audio.NewPulseMicrophone(cfg.AudioInput), audio.CaptureConfig{
		ChunkDuration:  cfg.ChunkDuration(),
		LevelInterval:  cfg.LevelInterval(),
		AnalysisWindow: cfg.AnalysisWindow,
	}, logger)
	capture.Negotiate(rate)

	playback := audio.NewPlayback(audio.NewPulseSpeaker(cfg.PlaybackLatency().Seconds()), rate, logger)
	playback.OnDrained(func() {
		logger.Debug().Msg("Tutor audio drained")
	})
	defer playback.Close()

	store := canvas.NewStore()
	suppressor := canvas.NewSuppressor(cfg.SuppressionGuard())

	view := newConsoleView(out, isTerminal(os.Stdout))

	interpreter := command.NewInterpreter(store, suppressor, command.Config{
		CharDelay: cfg.AnimationCharDelay(),
	}, logger)
	interpreter.OnAttention(view.ShowAttention)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()
	go interpreter.Run(workCtx)

	link, err := newSessionLink(ctx, cfg, rate, logger)
	if err != nil {
		return err
	}

	ctrl := session.NewController(session.NewState(sessionID), session.Deps{
		Transport:  link,
		Capture:    capture,
		Playback:   playback,
		Commands:   interpreter,
		Canvas:     store,
		Suppressor: suppressor,
		View:       view,
	}, session.Options{
		RequireHandshake: cfg.RequireHandshake,
		SnapshotOnStart:  cfg.SnapshotOnVoiceStart,
		CanvasDebounce:   cfg.CanvasDebounce(),
	}, logger)
	defer ctrl.Close()

	link.OnMessage(ctrl.HandleMessage)
	link.OnStatus(ctrl.HandleStatus)

	if cfg.MetricsEnabled {
		server := newMetricsServer(cfg, link)
		go func() {
			logger.Info().Str("address", cfg.MetricsAddr).Msg("Metrics server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Metrics server forced to shutdown")
			}
		}()
	}

	link.Connect(workCtx)
	defer link.Disconnect()

	view.Println(helpText)
	err = readInput(ctx, in, func(line string) bool {
		return handleInput(ctx, line, ctrl, store, view)
	})

	logger.Info().Msg("Session ended")
	return err
}

// sessionSampleRate picks the rate used for capture, playback and the wire:
// the configured target, else the input's native rate.
func sessionSampleRate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) int {
	if cfg.TargetSampleRate > 0 {
		return cfg.TargetSampleRate
	}
	rate, err := audio.ProbeSampleRate(ctx, cfg.AudioInput)
	if err != nil || rate <= 0 {
		logger.Warn().Err(err).Int("sample_rate", fallbackSampleRate).Msg("Could not probe input rate, using fallback")
		return fallbackSampleRate
	}
	return rate
}

func newSessionLink(ctx context.Context, cfg *config.Config, rate int, logger zerolog.Logger) (sessionLink, error) {
	switch cfg.Backend {
	case config.BackendSelfHosted:
		providers := selfhosted.Providers{
			Transcriber: stt.NewDeepgramClient(cfg),
			Synthesizer: tts.NewCartesiaClient(cfg),
		}
		model, err := tutor.NewGeminiTutor(ctx, cfg)
		switch {
		case err == nil:
			providers.Tutor = model
		case errors.Is(err, tutor.ErrMissingAPIKey):
			logger.Warn().Msg("GEMINI_API_KEY not set, the tutor will not answer")
		default:
			return nil, err
		}
		return selfhosted.New(providers, selfhosted.Options{
			SampleRate:    rate,
			ChunkDuration: cfg.ChunkDuration(),
			Pace:          true,
		}, logger), nil
	default:
		return transport.NewClient(transport.Config{
			URL:            cfg.ServerURL,
			SampleRate:     rate,
			ReconnectDelay: cfg.ReconnectDelay(),
		}, logger), nil
	}
}

func newMetricsServer(cfg *config.Config, link sessionLink) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"session": func(ctx context.Context) (bool, error) {
			return link.Connected(), nil
		},
		"audio_input": func(ctx context.Context) (bool, error) {
			devices, err := audio.ListInputs(ctx)
			if err != nil {
				return false, err
			}
			dev, err := audio.FindInput(devices, cfg.AudioInput)
			if err != nil {
				return false, err
			}
			return dev.Available, nil
		},
	}))
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// readInput feeds stdin lines to handle until it returns false, input ends
// or ctx is cancelled.
func readInput(ctx context.Context, in io.Reader, handle func(line string) bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if !handle(line) {
				return nil
			}
		}
	}
}

// handleInput executes one console line and reports whether to keep going.
func handleInput(ctx context.Context, line string, ctrl *session.Controller, store *canvas.Store, view *consoleView) bool {
	action, err := parseInput(line)
	if err != nil {
		view.ShowError(err)
		return true
	}

	switch action.kind {
	case inputTalk:
		err = ctrl.ToggleTalk(ctx)
	case inputText:
		err = ctrl.SendText(action.text)
	case inputDraw:
		err = store.CreateShape(canvas.Shape{
			ID:    canvas.NewShapeID(),
			Type:  "text",
			X:     action.x,
			Y:     action.y,
			Props: canvas.TextProps(action.text, canvas.DefaultColor, canvas.DefaultSize),
		})
	case inputClear:
		if store.Len() == 0 {
			break
		}
		shapes := store.Shapes()
		ids := make([]string, 0, len(shapes))
		for _, s := range shapes {
			ids = append(ids, s.ID)
		}
		err = store.DeleteShapes(ids...)
	case inputCanvas:
		view.Println(describeBoard(store))
	case inputSync:
		if !ctrl.SyncCanvas() {
			err = session.ErrNotConnected
		}
	case inputHelp:
		view.Println(helpText)
	case inputQuit:
		return false
	}

	if err != nil {
		view.ShowError(fmt.Errorf("%s: %w", describeInput(action.kind), err))
	}
	return true
}

// describeBoard is the /canvas report: the summary sent to the tutor, the
// lines that look like math work, what the tutor highlighted and where the
// camera is.
func describeBoard(store *canvas.Store) string {
	shapes := store.Shapes()
	var b strings.Builder
	b.WriteString(canvas.Summarize(shapes))
	if math := canvas.MathContent(shapes); len(math) > 0 {
		b.WriteString("\nMath work: " + strings.Join(math, "; "))
	}
	if selected := store.Selected(); len(selected) > 0 {
		b.WriteString("\nHighlighted: " + strings.Join(selected, ", "))
	}
	x, y := store.Camera()
	fmt.Fprintf(&b, "\nCamera at (%.0f, %.0f)", x, y)
	return b.String()
}

func describeInput(kind inputKind) string {
	switch kind {
	case inputTalk:
		return "talk"
	case inputText:
		return "send"
	case inputDraw:
		return "draw"
	case inputClear:
		return "clear"
	case inputSync:
		return "sync"
	default:
		return "input"
	}
}

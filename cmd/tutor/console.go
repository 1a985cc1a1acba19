package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/tutor-client/internal/command"
	"github.com/lexiqai/tutor-client/internal/session"
	"github.com/lexiqai/tutor-client/internal/transport"
)

const (
	ansiReset  = "\033[0m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	clearLine  = "\r\033[K"

	meterWidth    = 20
	meterInterval = 100 * time.Millisecond
)

const helpText = `Commands:
  <enter>            start or stop talking
  <text>             send a typed message
  /draw X Y TEXT     write TEXT on the board at X,Y
  /clear             erase the board
  /canvas            describe what is on the board
  /sync              resend the board to the tutor
  /help              show this help
  /quit              leave the session`

type inputKind int

const (
	inputTalk inputKind = iota
	inputText
	inputDraw
	inputClear
	inputCanvas
	inputSync
	inputHelp
	inputQuit
)

type input struct {
	kind inputKind
	text string
	x, y float64
}

var errUnknownCommand = errors.New("unknown command, type /help")

// parseInput turns one stdin line into an action. An empty line toggles talk.
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return input{kind: inputTalk}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputText, text: line}, nil
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "/draw":
		if len(fields) < 4 {
			return input{}, fmt.Errorf("usage: /draw X Y TEXT")
		}
		x, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return input{}, fmt.Errorf("invalid x %q", fields[1])
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return input{}, fmt.Errorf("invalid y %q", fields[2])
		}
		return input{kind: inputDraw, x: x, y: y, text: strings.Join(fields[3:], " ")}, nil
	case "/clear":
		return input{kind: inputClear}, nil
	case "/canvas":
		return input{kind: inputCanvas}, nil
	case "/sync":
		return input{kind: inputSync}, nil
	case "/help", "/?":
		return input{kind: inputHelp}, nil
	case "/quit", "/exit":
		return input{kind: inputQuit}, nil
	default:
		return input{}, errUnknownCommand
	}
}

// consoleView renders session changes as terminal lines. Transcript entries
// are printed once, when they stop being optimistic.
type consoleView struct {
	mu      sync.Mutex
	out     io.Writer
	color   bool
	meter   bool
	printed map[string]bool
	voice   session.VoiceState

	lastMeter  time.Time
	meterShown bool
	now        func() time.Time
}

func newConsoleView(out io.Writer, tty bool) *consoleView {
	return &consoleView{
		out:     out,
		color:   tty,
		meter:   tty,
		printed: make(map[string]bool),
		voice:   session.Idle,
		now:     time.Now,
	}
}

func (v *consoleView) paint(code, text string) string {
	if !v.color || code == "" {
		return text
	}
	return code + text + ansiReset
}

// lineLocked prints a full line, wiping the level meter first if it is up.
func (v *consoleView) lineLocked(text string) {
	if v.meterShown {
		fmt.Fprint(v.out, clearLine)
		v.meterShown = false
	}
	fmt.Fprintln(v.out, text)
}

func (v *consoleView) Println(text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lineLocked(text)
}

func (v *consoleView) VoiceStateChanged(state session.VoiceState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.voice = state
	switch state {
	case session.Listening:
		v.lineLocked(v.paint(ansiGreen, "● listening (press enter to stop)"))
	case session.Processing:
		v.lineLocked(v.paint(ansiDim, "… processing"))
	case session.Interrupted:
		v.lineLocked(v.paint(ansiDim, "interrupted"))
	}
}

func (v *consoleView) TutorStateChanged(state session.TutorState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch state.Kind {
	case session.TutorThinking:
		v.lineLocked(v.paint(ansiDim, "tutor is thinking"))
	case session.TutorDrawing:
		v.lineLocked(v.paint(ansiDim, "tutor is drawing"))
	}
}

func (v *consoleView) TranscriptChanged(messages []session.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range messages {
		if m.Optimistic || v.printed[m.ID] {
			continue
		}
		v.printed[m.ID] = true
		if m.Role == session.RoleTutor {
			v.lineLocked(v.paint(ansiCyan, "Tutor: ") + m.Content)
		} else {
			v.lineLocked(v.paint(ansiYellow, "You: ") + m.Content)
		}
	}
}

func (v *consoleView) LevelChanged(level float64) {
	if !v.meter {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.voice != session.Listening {
		return
	}
	now := v.now()
	if now.Sub(v.lastMeter) < meterInterval {
		return
	}
	v.lastMeter = now
	fmt.Fprint(v.out, clearLine+levelBar(level))
	v.meterShown = true
}

func (v *consoleView) ConnectionChanged(status transport.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch status {
	case transport.StatusConnected:
		v.lineLocked(v.paint(ansiGreen, "connected"))
	case transport.StatusConnecting:
		v.lineLocked(v.paint(ansiDim, "connecting..."))
	case transport.StatusDisconnected:
		v.lineLocked(v.paint(ansiRed, "disconnected"))
	case transport.StatusError:
		v.lineLocked(v.paint(ansiRed, "connection error"))
	}
}

func (v *consoleView) Celebrate(intensity string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if intensity == "big" {
		v.lineLocked(v.paint(ansiYellow, "*** Brilliant work! ***"))
		return
	}
	v.lineLocked(v.paint(ansiYellow, "* Nice! *"))
}

func (v *consoleView) ShowError(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lineLocked(v.paint(ansiRed, "error: "+err.Error()))
}

// ShowAttention reports where the tutor is pointing.
func (v *consoleView) ShowAttention(a command.Attention) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !a.Visible {
		return
	}
	text := fmt.Sprintf("tutor points at (%.0f, %.0f)", a.X, a.Y)
	if a.Label != "" {
		text += ": " + a.Label
	}
	v.lineLocked(v.paint(ansiDim, text))
}

func levelBar(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*meterWidth + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", meterWidth-filled) + "]"
}

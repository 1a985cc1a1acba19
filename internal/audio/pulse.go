package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const appName = "tutor-client"

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(appName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListInputs returns available Pulse input sources.
func ListInputs(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// FindInput resolves "default" or a substring of a source id/description.
func FindInput(devices []Device, input string) (Device, error) {
	term := strings.TrimSpace(strings.ToLower(input))
	for _, dev := range devices {
		if term == "" || term == "default" {
			if dev.Default {
				return dev, nil
			}
			continue
		}
		if strings.Contains(strings.ToLower(dev.ID), term) || strings.Contains(strings.ToLower(dev.Description), term) {
			return dev, nil
		}
	}
	if term == "" || term == "default" {
		return Device{}, errors.New("default audio source is unavailable")
	}
	return Device{}, fmt.Errorf("audio input %q did not match any device", input)
}

// ProbeSampleRate opens a short-lived Pulse connection and reports the native
// rate of the configured input source.
func ProbeSampleRate(_ context.Context, input string) (int, error) {
	client, err := newPulseClient()
	if err != nil {
		return 0, err
	}
	defer client.Close()

	source, err := resolveSource(client, input)
	if err != nil {
		return 0, err
	}
	return source.SampleRate(), nil
}

func resolveSource(client *pulse.Client, input string) (*pulse.Source, error) {
	if input == "" || input == "default" {
		source, err := client.DefaultSource()
		if err != nil {
			return nil, fmt.Errorf("read default source: %w", err)
		}
		return source, nil
	}
	source, err := client.SourceByID(input)
	if err != nil {
		return nil, fmt.Errorf("resolve source %q: %w", input, err)
	}
	return source, nil
}

// PulseMicrophone records mono s16 from one Pulse source at its native rate.
type PulseMicrophone struct {
	input string

	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.RecordStream
}

func NewPulseMicrophone(input string) *PulseMicrophone {
	return &PulseMicrophone{input: input}
}

// RequestAccess checks that the source exists, is available and not muted.
func (m *PulseMicrophone) RequestAccess(ctx context.Context) error {
	devices, err := ListInputs(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	dev, err := FindInput(devices, m.input)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if dev.Muted {
		return fmt.Errorf("%w: source %q is muted", ErrPermissionDenied, dev.ID)
	}
	if !dev.Available {
		return fmt.Errorf("%w: source %q is not available", ErrPermissionDenied, dev.ID)
	}
	m.input = dev.ID
	return nil
}

func (m *PulseMicrophone) Open(onBuffer func(samples []float32)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return 0, errors.New("microphone already open")
	}

	client, err := newPulseClient()
	if err != nil {
		return 0, err
	}
	source, err := resolveSource(client, m.input)
	if err != nil {
		client.Close()
		return 0, err
	}
	rate := source.SampleRate()

	writer := pulse.NewWriter(writerFunc(func(b []byte) (int, error) {
		samples, err := PCM16ToFloat(b[:len(b)&^1])
		if err != nil {
			return 0, err
		}
		onBuffer(samples)
		return len(b), nil
	}), pulseproto.FormatInt16LE)

	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(rate),
		pulse.RecordMediaName("tutor session microphone"),
	)
	if err != nil {
		client.Close()
		return 0, fmt.Errorf("create pulse record stream: %w", err)
	}

	m.client = client
	m.stream = stream
	stream.Start()
	return rate, nil
}

func (m *PulseMicrophone) Close() error {
	m.mu.Lock()
	stream, client := m.stream, m.client
	m.stream, m.client = nil, nil
	m.mu.Unlock()

	if stream != nil {
		stream.Stop()
		stream.Close()
	}
	if client != nil {
		client.Close()
	}
	return nil
}

// PulseSpeaker pulls mono samples from a render callback into a Pulse
// playback stream.
type PulseSpeaker struct {
	latencySeconds float64

	mu     sync.Mutex
	client *pulse.Client
	stream *pulse.PlaybackStream
}

func NewPulseSpeaker(latencySeconds float64) *PulseSpeaker {
	if latencySeconds <= 0 {
		latencySeconds = 0.04
	}
	return &PulseSpeaker{latencySeconds: latencySeconds}
}

func (s *PulseSpeaker) Start(sampleRate int, render func(out []float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return nil
	}

	client, err := newPulseClient()
	if err != nil {
		return err
	}

	var scratch []float32
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if cap(scratch) < len(buf) {
			scratch = make([]float32, len(buf))
		}
		scratch = scratch[:len(buf)]
		render(scratch)
		for i, v := range scratch {
			buf[i] = FloatToInt16(v)
		}
		return len(buf), nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(s.latencySeconds),
		pulse.PlaybackMediaName("tutor voice"),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("create pulse playback stream: %w", err)
	}

	s.client = client
	s.stream = stream
	stream.Start()
	return nil
}

func (s *PulseSpeaker) Close() error {
	s.mu.Lock()
	stream, client := s.stream, s.client
	s.stream, s.client = nil, nil
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
		stream.Close()
	}
	if client != nil {
		client.Close()
	}
	return nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}

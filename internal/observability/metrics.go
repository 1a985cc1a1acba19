package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_client_active_sessions",
		Help: "Number of active tutoring sessions",
	})

	turnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_client_turns_total",
		Help: "Total number of student turns sent to the tutor",
	})

	turnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tutor_client_turn_latency_seconds",
		Help:    "Time from end of a student turn to the first tutor audio chunk",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0},
	})

	voiceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_voice_transitions_total",
		Help: "Voice state transitions",
	}, []string{"from", "to"})

	// Audio metrics
	audioChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_audio_chunks_total",
		Help: "Audio chunks captured or played",
	}, []string{"direction"}) // direction: "in" or "out"

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_audio_bytes_total",
		Help: "Total encoded PCM bytes processed",
	}, []string{"direction"})

	playbackDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_client_playback_dropped_chunks_total",
		Help: "Playback chunks dropped because they could not be decoded",
	})

	playbackInterrupts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_client_playback_interrupts_total",
		Help: "Playback queues discarded by a hard stop",
	})

	// Transport metrics
	transportStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tutor_client_transport_status",
		Help: "Transport status (0=disconnected, 1=connecting, 2=connected, 3=error)",
	})

	transportReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tutor_client_transport_reconnects_total",
		Help: "Reconnection attempts scheduled",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_messages_total",
		Help: "Protocol messages by direction and type",
	}, []string{"direction", "type"})

	// Canvas metrics
	canvasCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_canvas_commands_total",
		Help: "Canvas commands applied",
	}, []string{"action", "status"})

	// Provider metrics (self-hosted backend)
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_provider_requests_total",
		Help: "Requests to speech and language providers",
	}, []string{"provider", "status"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tutor_client_provider_latency_seconds",
		Help:    "Provider request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"provider"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tutor_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tutor_client_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single tutoring session
type SessionMetrics struct {
	sessionID  string
	startTime  time.Time
	turnEnd    time.Time
	awaitAudio bool
	mu         sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

func (m *SessionMetrics) SessionID() string {
	return m.sessionID
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordTurnEnd marks the moment the student handed the floor to the tutor.
func (m *SessionMetrics) RecordTurnEnd() {
	turnsTotal.Inc()
	m.mu.Lock()
	m.turnEnd = time.Now()
	m.awaitAudio = true
	m.mu.Unlock()
}

// RecordFirstAudio observes turn latency once per turn.
func (m *SessionMetrics) RecordFirstAudio() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.awaitAudio {
		return
	}
	m.awaitAudio = false
	turnLatency.Observe(time.Since(m.turnEnd).Seconds())
}

// RecordVoiceTransition records a voice state change
func (m *SessionMetrics) RecordVoiceTransition(from, to string) {
	voiceTransitions.WithLabelValues(from, to).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordError records an error outside a session scope
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioChunk records one audio chunk and its encoded size
func RecordAudioChunk(direction string, bytes int) {
	audioChunks.WithLabelValues(direction).Inc()
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

func RecordPlaybackDropped() {
	playbackDropped.Inc()
}

func RecordPlaybackInterrupt() {
	playbackInterrupts.Inc()
}

// SetTransportStatus publishes the numeric transport status
func SetTransportStatus(status int) {
	transportStatus.Set(float64(status))
}

func RecordReconnect() {
	transportReconnects.Inc()
}

// RecordMessage counts a protocol message; direction is "in" or "out"
func RecordMessage(direction, msgType string) {
	messagesTotal.WithLabelValues(direction, msgType).Inc()
}

// RecordCanvasCommand counts an applied or failed canvas command
func RecordCanvasCommand(action string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	canvasCommands.WithLabelValues(action, status).Inc()
}

// RecordProviderRequest records latency and outcome of a provider call
func RecordProviderRequest(provider string, started time.Time, success bool) {
	providerLatency.WithLabelValues(provider).Observe(time.Since(started).Seconds())

	status := "success"
	if !success {
		status = "error"
	}
	providerRequests.WithLabelValues(provider, status).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_synthesis_requests_total",
		Help: "Total number of synthesis requests by language and outcome",
	}, []string{"lang", "status"})

	synthesisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narration_gateway_synthesis_latency_seconds",
		Help:    "End-to-end synthesis latency across the fallback chain",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	}, []string{"lang"})

	providerAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_provider_attempts_total",
		Help: "Total provider attempts by outcome",
	}, []string{"provider", "outcome"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "narration_gateway_provider_latency_seconds",
		Help:    "Latency of a single provider attempt in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0},
	}, []string{"provider"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_fallbacks_total",
		Help: "Number of times a request moved on to the next provider",
	}, []string{"lang"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_cache_lookups_total",
		Help: "Synthesis cache lookups by result",
	}, []string{"result"}) // hit, miss, error

	// Playback metrics
	playbackChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_playback_chunks_total",
		Help: "Chunks handled by playback sessions by outcome",
	}, []string{"outcome"}) // played, synthesis_failed, playback_failed, cancelled

	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "narration_gateway_active_sessions",
		Help: "Number of narration sessions currently speaking",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "narration_gateway_session_duration_seconds",
		Help:    "Duration of narration sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "narration_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Audio metrics
	audioBytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "narration_gateway_audio_bytes_total",
		Help: "Total synthesized audio bytes",
	}, []string{"provider"})
)

// RecordSynthesis records the outcome of one proxy request
func RecordSynthesis(lang string, success bool, elapsed time.Duration) {
	status := "success"
	if !success {
		status = "exhausted"
	}
	synthesisRequests.WithLabelValues(lang, status).Inc()
	synthesisLatency.WithLabelValues(lang).Observe(elapsed.Seconds())
}

// RecordProviderAttempt records one candidate attempt inside the fallback chain
func RecordProviderAttempt(provider, outcome string, elapsed time.Duration) {
	providerAttempts.WithLabelValues(provider, outcome).Inc()
	if elapsed > 0 {
		providerLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
	}
}

// RecordFallback counts a move from a failed candidate to the next one
func RecordFallback(lang string) {
	fallbacksTotal.WithLabelValues(lang).Inc()
}

// RecordCacheLookup records a cache hit, miss or error
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordAudioBytes records audio bytes produced by a provider
func RecordAudioBytes(provider string, bytes int) {
	audioBytesServed.WithLabelValues(provider).Add(float64(bytes))
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// SessionMetrics tracks metrics for a single narration session
type SessionMetrics struct {
	sessionID string
	startTime time.Time

	mu        sync.Mutex
	played    int
	failed    int
	cancelled bool
	ended     bool
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordChunk records how one chunk of the session ended
func (m *SessionMetrics) RecordChunk(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch outcome {
	case "played":
		m.played++
	case "cancelled":
		m.cancelled = true
	default:
		m.failed++
	}
	playbackChunks.WithLabelValues(outcome).Inc()
}

// RecordSessionEnd records the end of a session. Subsequent calls are no-ops.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// Counts returns played and failed chunk counts
func (m *SessionMetrics) Counts() (played, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.played, m.failed
}

// SessionID returns the tracked session id
func (m *SessionMetrics) SessionID() string {
	return m.sessionID
}

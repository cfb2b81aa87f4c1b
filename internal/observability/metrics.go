package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported on voice_bridge_frames_dropped_total.
const (
	DropBackpressure = "backpressure"  // inbound backlog over its bound
	DropNotActive    = "not_active"    // media outside the Active state
	DropMalformed    = "malformed"     // undecodable payload
	DropSocketClosed = "socket_closed" // telephony socket no longer open
	DropSendFailed   = "send_failed"   // write to either leg failed
	DropAIBacklog    = "ai_backlog"    // received AI audio over its bound
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_active_sessions",
		Help: "Number of sessions currently registered",
	})

	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_sessions_total",
		Help: "Total number of sessions created",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_session_duration_seconds",
		Help:    "Duration of sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_negotiations_total",
		Help: "AI-leg negotiations by outcome",
	}, []string{"status"})

	negotiationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_bridge_negotiation_latency_seconds",
		Help:    "Credential plus offer/answer latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_frames_total",
		Help: "Audio frames bridged",
	}, []string{"direction"}) // direction: "in" (telephony->AI) or "out" (AI->telephony)

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_frames_dropped_total",
		Help: "Audio frames dropped",
	}, []string{"direction", "reason"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_audio_bytes_total",
		Help: "Total PCM16 audio bytes processed",
	}, []string{"direction"})

	audioSeconds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_audio_seconds_total",
		Help: "Seconds of audio bridged",
	}, []string{"direction"})

	audioLevel = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_bridge_audio_level_rms",
		Help:    "RMS level of bridged frames (normalized, 0-1)",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"direction"})

	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_bridge_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single session
type Metrics struct {
	callID           string
	startTime        time.Time
	negotiationStart time.Time
	ended            bool
	mu               sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(callID string) *Metrics {
	return &Metrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the creation of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	sessionsTotal.Inc()
}

// RecordSessionEnd records the end of a session. Repeated calls are ignored.
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordNegotiationStart records the start of AI-leg negotiation
func (m *Metrics) RecordNegotiationStart() {
	m.mu.Lock()
	m.negotiationStart = time.Now()
	m.mu.Unlock()
}

// RecordNegotiationEnd records the outcome of AI-leg negotiation
func (m *Metrics) RecordNegotiationEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.negotiationStart.IsZero() {
		negotiationLatency.Observe(time.Since(m.negotiationStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	negotiations.WithLabelValues(status).Inc()
}

// RecordFrame records one bridged frame and its size
func (m *Metrics) RecordFrame(direction string, bytes int) {
	framesTotal.WithLabelValues(direction).Inc()
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordAudio records the length and level of one bridged frame
func (m *Metrics) RecordAudio(direction string, duration time.Duration, rms float64) {
	audioSeconds.WithLabelValues(direction).Add(duration.Seconds())
	audioLevel.WithLabelValues(direction).Observe(rms)
}

// RecordDrop records a dropped frame
func (m *Metrics) RecordDrop(direction, reason string) {
	framesDropped.WithLabelValues(direction, reason).Inc()
}

// RecordDrop records a dropped frame outside of any session
func RecordDrop(direction, reason string) {
	framesDropped.WithLabelValues(direction, reason).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

package services

import (
	"sync"
	"time"

	"AI_PROCTOR/go-backend/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "proctor"

// Metrics holds the service's Prometheus collectors. It implements
// proctor.Observer.
type Metrics struct {
	gazeClassifications *prometheus.CounterVec
	inferenceLatency    prometheus.Histogram
	warnings            prometheus.Counter
	blockedSessions     prometheus.Counter
	cursorSamples       prometheus.Counter
	auditFailures       prometheus.Counter
	activeSessions      prometheus.Gauge
	wsConnections       prometheus.Gauge
	wsMessages          *prometheus.CounterVec
	wsErrors            prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gazeClassifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gaze_classifications_total",
			Help:      "Total number of gaze classifications by resulting state",
		}, []string{"state"}),
		inferenceLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Duration of face landmark inference calls in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		warnings: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eye_contact_warnings_total",
			Help:      "Total number of eye contact warnings issued",
		}),
		blockedSessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_sessions_total",
			Help:      "Total number of sessions blocked for repeated violations",
		}),
		cursorSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_samples_total",
			Help:      "Total number of pointer samples recorded",
		}),
		auditFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Total number of audit records that could not be persisted",
		}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live proctoring sessions",
		}),
		wsConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Number of open candidate WebSocket connections",
		}),
		wsMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Total number of candidate WebSocket messages by type",
		}, []string{"type"}),
		wsErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_errors_total",
			Help:      "Total number of candidate WebSocket errors",
		}),
	}
}

// GetMetrics returns the process-wide instance registered with the
// default Prometheus registry.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

func (m *Metrics) GazeClassified(state models.GazeState) {
	m.gazeClassifications.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) WarningIssued(int) {
	m.warnings.Inc()
}

func (m *Metrics) SessionBlocked() {
	m.blockedSessions.Inc()
}

func (m *Metrics) CursorSampled() {
	m.cursorSamples.Inc()
}

func (m *Metrics) RecordLatency(d time.Duration) {
	m.inferenceLatency.Observe(d.Seconds())
}

func (m *Metrics) AuditFailed(error) {
	m.auditFailures.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) WSConnected() {
	m.wsConnections.Inc()
}

func (m *Metrics) WSDisconnected() {
	m.wsConnections.Dec()
}

func (m *Metrics) WSMessage(msgType string) {
	m.wsMessages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) WSError() {
	m.wsErrors.Inc()
}

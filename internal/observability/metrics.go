package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "browzer"

// Metrics collects engine counters. A nil *Metrics is valid and records nothing,
// so components can take one optionally.
type Metrics struct {
	sessionsTotal      *prometheus.CounterVec
	stepsTotal         *prometheus.CounterVec
	extractionsTotal   *prometheus.CounterVec
	recordedActions    *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	storeWritesTotal   *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid duplicate registration on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "automation_sessions_total",
			Help:      "Automation sessions by terminal status.",
		}, []string{"status"}),
		stepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "automation_steps_total",
			Help:      "Executed automation steps by outcome.",
		}, []string{"tool", "outcome"}),
		extractionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshot_extractions_total",
			Help:      "Page snapshot extractions by result.",
		}, []string{"result"}),
		recordedActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "recorder_actions_total",
			Help:      "Captured recorder actions by type.",
		}, []string{"type"}),
		llmRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM collaborator call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "success"}),
		storeWritesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "store_writes_total",
			Help:      "Write-behind flushes by kind and result.",
		}, []string{"kind", "result"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "automation_active_sessions",
			Help:      "Automation loops currently running.",
		}),
	}
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionFinished(status string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.sessionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) StepFinished(tool string, ok bool) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(tool, outcome(ok)).Inc()
}

func (m *Metrics) Extraction(ok bool) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) ActionRecorded(actionType string) {
	if m == nil {
		return
	}
	m.recordedActions.WithLabelValues(actionType).Inc()
}

func (m *Metrics) LLMCall(provider string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.llmRequestDuration.WithLabelValues(provider, outcome(ok)).Observe(d.Seconds())
}

func (m *Metrics) StoreWrite(kind string, ok bool) {
	if m == nil {
		return
	}
	m.storeWritesTotal.WithLabelValues(kind, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

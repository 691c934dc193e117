package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	BackendMarvel = "marvel"
	BackendLLM    = "llm"

	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeFallback = "fallback"
)

// Metrics groups the pipeline's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	intents   *prometheus.CounterVec
	backend   *prometheus.CounterVec
	apologies prometheus.Counter
	turns     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darkhold",
			Name:      "intents_total",
			Help:      "Classified user queries by intent.",
		}, []string{"intent"}),
		backend: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darkhold",
			Name:      "backend_requests_total",
			Help:      "Outbound backend calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		apologies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "darkhold",
			Name:      "apologies_total",
			Help:      "Turns that ended with an apology message.",
		}),
		turns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "darkhold",
			Name:      "turn_duration_seconds",
			Help:      "Time from user send to committed reply.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.intents, m.backend, m.apologies, m.turns)
	}
	return m
}

func (m *Metrics) Intent(intent string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(intent).Inc()
}

func (m *Metrics) Backend(backend, outcome string) {
	if m == nil {
		return
	}
	m.backend.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) Apology() {
	if m == nil {
		return
	}
	m.apologies.Inc()
}

func (m *Metrics) Turn(d time.Duration) {
	if m == nil {
		return
	}
	m.turns.Observe(d.Seconds())
}

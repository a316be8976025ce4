package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the access decision engine.
type Metrics struct {
	// Decisions by effect (allow, deny) and reason
	Decisions *prometheus.CounterVec

	// Consent lookups that failed with an infrastructure error
	ConsentLookupErrors prometheus.Counter

	DecideLatency prometheus.Histogram
}

// New registers the access metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_access_decisions_total",
			Help: "Access decisions by effect and reason",
		}, []string{"effect", "reason"}),

		ConsentLookupErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_access_consent_lookup_errors_total",
			Help: "Consent lookups that failed during a Part2 decision",
		}),

		DecideLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carecore_access_decide_duration_seconds",
			Help:    "Duration of access decisions including consent lookup",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

// IncrementDecision records a decision outcome.
func (m *Metrics) IncrementDecision(allow bool, reason string) {
	if m == nil {
		return
	}
	effect := "deny"
	if allow {
		effect = "allow"
	}
	m.Decisions.WithLabelValues(effect, reason).Inc()
}

func (m *Metrics) IncrementConsentLookupError() {
	if m != nil {
		m.ConsentLookupErrors.Inc()
	}
}

func (m *Metrics) ObserveDecideLatency(d time.Duration) {
	if m != nil {
		m.DecideLatency.Observe(d.Seconds())
	}
}

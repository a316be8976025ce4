package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sweep run outcomes.
const (
	outcomeSwept   = "swept"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

type Metrics struct {
	Runs    *prometheus.CounterVec
	Expired prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_consent_sweep_runs_total",
			Help: "Consent expiry sweep runs by outcome (swept, skipped, failed)",
		}, []string{"outcome"}),
		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_consent_sweep_expired_total",
			Help: "Consents moved to expired by the sweep",
		}),
	}
}

func (m *Metrics) observe(outcome string, expired int) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	if expired > 0 {
		m.Expired.Add(float64(expired))
	}
}

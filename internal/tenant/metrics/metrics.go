package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for tenant resolution, which sits on the
// critical path of every request.
type Metrics struct {
	Resolutions     *prometheus.CounterVec
	ResolveDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_tenant_resolutions_total",
			Help: "Tenant resolutions by outcome",
		}, []string{"outcome"}),
		ResolveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carecore_tenant_resolve_duration_seconds",
			Help:    "Duration of tenant resolution",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementResolution records a resolution outcome (ok, mismatch, not_found,
// suspended, error).
func (m *Metrics) IncrementResolution(outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

// ObserveResolve records the duration since start.
func (m *Metrics) ObserveResolve(start time.Time) {
	if m == nil {
		return
	}
	m.ResolveDuration.Observe(time.Since(start).Seconds())
}

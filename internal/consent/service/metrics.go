package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"carecore/internal/consent/models"
)

// Metrics counts consent lifecycle transitions.
type Metrics struct {
	Transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_consent_transitions_total",
			Help: "Consent lifecycle transitions by resulting status",
		}, []string{"status"}),
	}
}

func (m *Metrics) incTransition(to models.Status) {
	if m != nil {
		m.Transitions.WithLabelValues(string(to)).Inc()
	}
}

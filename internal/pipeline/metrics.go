package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of one pipeline run.
const (
	outcomeUnauthenticated = "unauthenticated"
	outcomeRejected        = "rejected"
	outcomeDenied          = "denied"
	outcomeFailed          = "failed"
	outcomeSucceeded       = "succeeded"
)

type Metrics struct {
	Runs            *prometheus.CounterVec
	AuditDrops      prometheus.Counter
	ValueEncryption prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_pipeline_runs_total",
			Help: "Pipeline runs by stage outcome",
		}, []string{"outcome"}),
		AuditDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_pipeline_audit_drops_total",
			Help: "Audit entries the writer refused to queue",
		}),
		ValueEncryption: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_pipeline_value_encryption_failures_total",
			Help: "Audit old/new values that could not be encrypted",
		}),
	}
}

func (m *Metrics) incRun(outcome string) {
	if m != nil {
		m.Runs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) incAuditDrop() {
	if m != nil {
		m.AuditDrops.Inc()
	}
}

func (m *Metrics) incValueEncryptionFailure() {
	if m != nil {
		m.ValueEncryption.Inc()
	}
}

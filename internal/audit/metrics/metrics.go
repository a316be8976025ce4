package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the audit chain writer.
type Metrics struct {
	Appended        prometheus.Counter
	Dropped         prometheus.Counter
	Failures        *prometheus.CounterVec
	TipConflicts    prometheus.Counter
	QueueDepth      *prometheus.GaugeVec
	AppendDuration  prometheus.Histogram
	Verifications   *prometheus.CounterVec
	PublishFailures prometheus.Counter
}

// New registers the audit metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Appended: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_audit_appended_total",
			Help: "Audit entries committed to a chain",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_audit_dropped_total",
			Help: "Audit entries dropped because a shard queue was full or the writer was closed",
		}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_audit_failures_total",
			Help: "Audit writer failures by stage",
		}, []string{"stage"}), // stage: "secret", "tip", "append", "retries_exhausted"
		TipConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_audit_tip_conflicts_total",
			Help: "Conditional appends rejected because the chain tip moved",
		}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "carecore_audit_queue_depth",
			Help: "Entries waiting in each shard queue",
		}, []string{"shard"}),
		AppendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carecore_audit_append_duration_seconds",
			Help:    "Duration of a chain append including tip read and retries",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carecore_audit_verifications_total",
			Help: "Chain verifications by result",
		}, []string{"result"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_audit_publish_failures_total",
			Help: "Committed entries that could not be mirrored to the external sink",
		}),
	}
}

func (m *Metrics) IncAppended() {
	if m != nil {
		m.Appended.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) IncFailure(stage string) {
	if m != nil {
		m.Failures.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) IncTipConflict() {
	if m != nil {
		m.TipConflicts.Inc()
	}
}

func (m *Metrics) SetQueueDepth(shard, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(strconv.Itoa(shard)).Set(float64(depth))
	}
}

func (m *Metrics) ObserveAppend(d time.Duration) {
	if m != nil {
		m.AppendDuration.Observe(d.Seconds())
	}
}

// IncVerification records a verification outcome.
func (m *Metrics) IncVerification(valid bool) {
	if m == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "broken"
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) IncPublishFailure() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}

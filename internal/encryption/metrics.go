package encryption

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks field encryption outcomes.
type Metrics struct {
	DecryptFailures prometheus.Counter
	EncryptedFields prometheus.Counter
}

// NewMetrics registers encryption metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DecryptFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_decryption_failures_total",
			Help: "Field decryptions that failed authentication or decoding",
		}),
		EncryptedFields: f.NewCounter(prometheus.CounterOpts{
			Name: "carecore_fields_encrypted_total",
			Help: "Fields encrypted with an organization key",
		}),
	}
}

func (m *Metrics) incDecryptFailure() {
	if m != nil {
		m.DecryptFailures.Inc()
	}
}

func (m *Metrics) incEncrypted() {
	if m != nil {
		m.EncryptedFields.Inc()
	}
}

package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	record := map[string]any{"id": "t-1", "substances": []string{"opioids"}, "result": "positive", "collected_at": "2025-01-01"}

	t.Run("removes listed fields without touching the input", func(t *testing.T) {
		out := Redact(record, &Redaction{Fields: []string{"substances", "result", "lab_notes"}})
		assert.Equal(t, map[string]any{"id": "t-1", "collected_at": "2025-01-01"}, out)
		assert.Len(t, record, 4)
	})

	t.Run("nil obligation is a no-op", func(t *testing.T) {
		assert.Equal(t, record, Redact(record, nil))
	})

	t.Run("nil record", func(t *testing.T) {
		assert.Nil(t, Redact(nil, &Redaction{Fields: []string{"x"}}))
	})
}

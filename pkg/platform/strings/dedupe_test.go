package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil scope", input: nil, expected: nil},
		{name: "only blanks", input: []string{"", "  "}, expected: nil},
		{
			name:     "scope categories are trimmed and deduplicated in order",
			input:    []string{" case_note", "drug_test ", "case_note", ""},
			expected: []string{"case_note", "drug_test"},
		},
		{
			name:     "case is significant",
			input:    []string{"Case_Note", "case_note"},
			expected: []string{"Case_Note", "case_note"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

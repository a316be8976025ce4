// Package strings holds small helpers for normalizing user supplied lists.
package strings

import "strings"

// DedupeAndTrim trims each value, drops blanks and keeps the first
// occurrence of every remaining value in input order. It returns nil when
// nothing survives, so callers can test the result with len.
func DedupeAndTrim(values []string) []string {
	var out []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

package access

// Redact returns a copy of record without the fields the obligation names.
// A nil obligation returns record unchanged.
func Redact(record map[string]any, obligation *Redaction) map[string]any {
	if obligation == nil || record == nil {
		return record
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	for _, f := range obligation.Fields {
		delete(out, f)
	}
	return out
}

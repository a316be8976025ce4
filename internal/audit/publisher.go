package audit

import "context"

// Publisher mirrors committed entries to an external sink. Failures are
// logged and counted by the writer, never surfaced to callers.
type Publisher interface {
	Publish(ctx context.Context, entry Entry) error
	Close() error
}

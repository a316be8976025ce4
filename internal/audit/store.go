package audit

import (
	"context"
	"time"

	"carecore/pkg/domain"
)

// Store persists audit chains. Entries of one org are returned in chain
// order.
type Store interface {
	// Tip returns the newest entry of the org's chain, or nil when empty.
	Tip(ctx context.Context, orgID domain.OrgID) (*Entry, error)
	// AppendIfTip stores entry only while expectedTip is still the chain's
	// current hash ("" for an empty chain). It returns sentinel.ErrConflict
	// when the tip has moved.
	AppendIfTip(ctx context.Context, entry Entry, expectedTip string) error
	// Anchor returns the newest entry created strictly before t, or nil.
	Anchor(ctx context.Context, orgID domain.OrgID, before time.Time) (*Entry, error)
	// ListRange returns entries created within [from, to].
	ListRange(ctx context.Context, orgID domain.OrgID, from, to time.Time) ([]Entry, error)
}

// SecretProvider returns the org-scoped HMAC secret for the chain.
type SecretProvider interface {
	AuditSecret(ctx context.Context, orgID domain.OrgID) ([]byte, error)
}

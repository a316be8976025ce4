package models

import (
	"time"

	"carecore/pkg/domain"
)

// Status is the lifecycle state of a consent. Revoked and expired are
// terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
	StatusExpired Status = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// ReasonAutoExpired is recorded when the sweep expires a consent.
const ReasonAutoExpired = "auto-expired"

// Consent authorizes disclosure of a resident's Part2 records to one
// recipient for a stated purpose. Recipient is ciphertext; RecipientDigest is
// the keyed digest used for lookups.
type Consent struct {
	ID                 domain.ConsentID
	OrgID              domain.OrgID
	ResidentID         domain.ResidentID
	Status             Status
	GrantedAt          *time.Time
	ExpiresAt          *time.Time
	RevokedAt          *time.Time
	RevocationReason   string
	RevokedBy          *domain.ActorID
	Recipient          string
	RecipientDigest    string
	Purpose            string
	ScopeOfInformation []string
	RenewedFrom        *domain.ConsentID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsExpired reports whether c no longer authorizes at now: either the sweep
// already marked it, or it is active with an expiration that has passed.
func IsExpired(c *Consent, now time.Time) bool {
	if c == nil {
		return false
	}
	if c.Status == StatusExpired {
		return true
	}
	return c.Status == StatusActive && c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// IsRevoked reports whether c was explicitly withdrawn.
func IsRevoked(c *Consent) bool {
	return c != nil && c.Status == StatusRevoked
}

// Authorizes reports whether c is active and unexpired at now.
func (c *Consent) Authorizes(now time.Time) bool {
	return c != nil && c.Status == StatusActive && !IsExpired(c, now)
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (c *Consent) Clone() *Consent {
	if c == nil {
		return nil
	}
	out := *c
	out.GrantedAt = cloneTime(c.GrantedAt)
	out.ExpiresAt = cloneTime(c.ExpiresAt)
	out.RevokedAt = cloneTime(c.RevokedAt)
	if c.RevokedBy != nil {
		v := *c.RevokedBy
		out.RevokedBy = &v
	}
	if c.RenewedFrom != nil {
		v := *c.RenewedFrom
		out.RenewedFrom = &v
	}
	out.ScopeOfInformation = append([]string(nil), c.ScopeOfInformation...)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CreateRequest carries the fields for a new pending consent. Recipient is
// plaintext here and encrypted by the service before storage.
type CreateRequest struct {
	OrgID              domain.OrgID
	ResidentID         domain.ResidentID
	Recipient          string
	Purpose            string
	ScopeOfInformation []string
	ExpiresAt          *time.Time
}

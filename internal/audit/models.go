package audit

import (
	"time"

	"carecore/pkg/domain"
)

// Actions recorded by the core. Business handlers add their own.
const (
	ActionAccessDenied      = "access_denied"
	ActionDecryptionFailed  = "decryption_failed"
	ActionConsentCreated    = "consent_created"
	ActionConsentActivated  = "consent_activated"
	ActionConsentRevoked    = "consent_revoked"
	ActionConsentExpired    = "consent_expired"
	ActionConsentRenewed    = "consent_renewed"
	ActionChainVerified     = "audit_chain_verified"
	ActionChainVerifyFailed = "audit_chain_verify_failed"
	ActionOrgCreated        = "organization_created"
	ActionOrgSuspended      = "organization_suspended"
	ActionOrgReactivated    = "organization_reactivated"
)

// Actor types for entries not produced by an authenticated person.
const (
	ActorTypeSystem    = "system"
	ActorTypeAnonymous = "anonymous"
)

// Entry is one link of an organization's append-only audit chain. OldValue
// and NewValue hold ciphertext, never plaintext. PreviousHash and
// CurrentHash are assigned by the Writer.
type Entry struct {
	ID           domain.AuditEntryID
	OrgID        domain.OrgID
	ActorID      string
	ActorType    string
	Action       string
	ResourceType string
	ResourceID   string
	Sensitivity  string
	Description  string
	OldValue     string
	NewValue     string
	PreviousHash string
	CurrentHash  string
	CreatedAt    time.Time
}

// IsGenesis reports whether e is the first entry of its chain.
func (e Entry) IsGenesis() bool {
	return e.PreviousHash == ""
}

// VerifyResult reports the outcome of a chain verification. BrokenAtID is
// set only when Valid is false.
type VerifyResult struct {
	Valid      bool
	BrokenAtID *domain.AuditEntryID
	Checked    int
	Reason     string
}

package access

import (
	"github.com/google/uuid"

	"carecore/internal/permission"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
)

// ScopePath locates a record inside the organization. Nil ids mean the
// record is not tied to that level.
type ScopePath struct {
	PropertyID uuid.UUID
	HouseID    uuid.UUID
}

// Resource describes the record being accessed. The engine never loads it;
// callers supply what they know.
type Resource struct {
	OrgID           domain.OrgID
	Type            permission.ResourceType
	ID              domain.ResourceID
	Action          permission.Action
	OwnerResidentID domain.ResidentID
	// Sensitivity overrides the type default when set.
	Sensitivity permission.Sensitivity
	Scope       *ScopePath
	// RedactionExempt lifts the Part2 redaction obligation for this record.
	RedactionExempt bool
}

// EffectiveSensitivity is the per-record override when it is valid and the
// type default otherwise.
func (r Resource) EffectiveSensitivity() permission.Sensitivity {
	if r.Sensitivity.IsValid() {
		return r.Sensitivity
	}
	return permission.DefaultSensitivity(r.Type)
}

// Reason explains a decision. Denial reasons map one-to-one onto error codes.
type Reason string

const (
	ReasonSubjectOwnRecord Reason = "subject_own_record"
	ReasonRBAC             Reason = "rbac"
	ReasonOperationalPart2 Reason = "operational_part2"
	ReasonConsent          Reason = "consent"

	ReasonTenantMismatch  Reason = "tenant_mismatch"
	ReasonForbidden       Reason = "forbidden"
	ReasonOutOfScope      Reason = "out_of_scope"
	ReasonPart2Ceiling    Reason = "part2_ceiling"
	ReasonConsentRequired Reason = "consent_required"
	ReasonConsentExpired  Reason = "consent_expired"
	ReasonConsentRevoked  Reason = "consent_revoked"
)

// Redaction is an obligation on the caller to strip Fields before returning
// the record.
type Redaction struct {
	Fields []string
}

// Decision is the engine's verdict. Denials are values, not errors.
type Decision struct {
	Allow       bool
	Reason      Reason
	Sensitivity permission.Sensitivity
	ConsentID   *domain.ConsentID
	Redaction   *Redaction
}

var denialCodes = map[Reason]dErrors.Code{
	ReasonTenantMismatch:  dErrors.CodeTenantMismatch,
	ReasonForbidden:       dErrors.CodeForbidden,
	ReasonOutOfScope:      dErrors.CodeForbidden,
	ReasonPart2Ceiling:    dErrors.CodeForbidden,
	ReasonConsentRequired: dErrors.CodeConsentRequired,
	ReasonConsentExpired:  dErrors.CodeConsentExpired,
	ReasonConsentRevoked:  dErrors.CodeConsentRevoked,
}

var denialMessages = map[Reason]string{
	ReasonTenantMismatch:  "resource belongs to another organization",
	ReasonForbidden:       "role is not permitted to perform this action",
	ReasonOutOfScope:      "resource is outside the actor's scope",
	ReasonPart2Ceiling:    "role may not access Part2 records",
	ReasonConsentRequired: "an active consent naming the recipient is required",
	ReasonConsentExpired:  "consent has expired",
	ReasonConsentRevoked:  "consent has been revoked",
}

// Err returns nil for an allow and a coded error for a denial.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	code, ok := denialCodes[d.Reason]
	if !ok {
		code = dErrors.CodeForbidden
	}
	msg, ok := denialMessages[d.Reason]
	if !ok {
		msg = "access denied"
	}
	return dErrors.New(code, msg)
}

func allow(reason Reason, s permission.Sensitivity) Decision {
	return Decision{Allow: true, Reason: reason, Sensitivity: s}
}

func deny(reason Reason, s permission.Sensitivity) Decision {
	return Decision{Allow: false, Reason: reason, Sensitivity: s}
}

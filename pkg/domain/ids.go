// Package domain holds the typed identifiers and principal types shared by
// every module. Typed IDs keep an org id from being passed where a resident id
// is expected.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "carecore/pkg/domain-errors"
)

type (
	OrgID        uuid.UUID
	ActorID      uuid.UUID
	ResidentID   uuid.UUID
	ConsentID    uuid.UUID
	AuditEntryID uuid.UUID
)

// ResourceID identifies a protected record. Resources are owned by business
// modules outside this core, so the value is opaque.
type ResourceID string

func (id OrgID) String() string        { return uuid.UUID(id).String() }
func (id ActorID) String() string      { return uuid.UUID(id).String() }
func (id ResidentID) String() string   { return uuid.UUID(id).String() }
func (id ConsentID) String() string    { return uuid.UUID(id).String() }
func (id AuditEntryID) String() string { return uuid.UUID(id).String() }
func (id ResourceID) String() string   { return string(id) }

func (id OrgID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ResidentID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ConsentID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AuditEntryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// Bytes returns the raw 16 bytes, used as key-derivation salt.
func (id OrgID) Bytes() []byte {
	u := uuid.UUID(id)
	return u[:]
}

func NewOrgID() OrgID               { return OrgID(uuid.New()) }
func NewActorID() ActorID           { return ActorID(uuid.New()) }
func NewResidentID() ResidentID     { return ResidentID(uuid.New()) }
func NewConsentID() ConsentID       { return ConsentID(uuid.New()) }
func NewAuditEntryID() AuditEntryID { return AuditEntryID(uuid.New()) }

// maxIDLength bounds input before handing it to uuid.Parse.
const maxIDLength = 64

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

// ParseOrgID validates an organization id at a trust boundary.
func ParseOrgID(s string) (OrgID, error) {
	u, err := parseUUID("org id", s)
	return OrgID(u), err
}

// ParseActorID validates an actor id at a trust boundary.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID("actor id", s)
	return ActorID(u), err
}

// ParseResidentID validates a resident id at a trust boundary.
func ParseResidentID(s string) (ResidentID, error) {
	u, err := parseUUID("resident id", s)
	return ResidentID(u), err
}

// ParseConsentID validates a consent id at a trust boundary.
func ParseConsentID(s string) (ConsentID, error) {
	u, err := parseUUID("consent id", s)
	return ConsentID(u), err
}

// ParseAuditEntryID validates an audit entry id at a trust boundary.
func ParseAuditEntryID(s string) (AuditEntryID, error) {
	u, err := parseUUID("audit entry id", s)
	return AuditEntryID(u), err
}

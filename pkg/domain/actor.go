package domain

import "github.com/google/uuid"

// ActorKind distinguishes facility staff from residents acting on their own
// behalf.
type ActorKind string

const (
	ActorKindStaffUser ActorKind = "staff_user"
	ActorKindResident  ActorKind = "resident"
)

// ScopeType is the unit a role's authority is limited to.
type ScopeType string

const (
	ScopeOrganization ScopeType = "organization"
	ScopeProperty     ScopeType = "property"
	ScopeHouse        ScopeType = "house"
	ScopeResident     ScopeType = "resident"
)

// Scope narrows an actor's authority below the organization.
type Scope struct {
	Type ScopeType
	ID   uuid.UUID
}

// Actor is an authenticated principal. It is built once at authentication
// and never mutated for the rest of the request.
//
// Role is kept as a plain string here; the permission module owns the closed
// role enum and treats unknown values as having no grants.
type Actor struct {
	ID    ActorID
	Kind  ActorKind
	Role  string
	OrgID OrgID
	Scope *Scope
}

// IsResident reports whether the actor is a resident principal.
func (a Actor) IsResident() bool {
	return a.Kind == ActorKindResident
}

// ActsAs reports whether a resident actor is the given resident. Resident
// principals share their id with the resident record.
func (a Actor) ActsAs(residentID ResidentID) bool {
	return a.IsResident() && !residentID.IsNil() && uuid.UUID(a.ID) == uuid.UUID(residentID)
}

package models

import (
	"strings"
	"time"

	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusSuspended
}

const maxNameLength = 128

// Organization is the tenant boundary. Every protected record belongs to
// exactly one organization.
//
// Invariants:
//   - Name is non-empty and at most 128 characters
//   - Status transitions: active ↔ suspended only
//
// A suspended organization keeps its data and audit chain, but tenant
// resolution refuses requests against it.
type Organization struct {
	ID        domain.OrgID
	Name      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewOrganization(orgID domain.OrgID, name string, now time.Time) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "organization name cannot be empty")
	}
	if len(name) > maxNameLength {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "organization name must be 128 characters or less")
	}
	return &Organization{
		ID:        orgID,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (o *Organization) IsActive() bool {
	return o.Status == StatusActive
}

// CanSuspend checks the transition. Pair with ApplySuspension in Execute
// callbacks.
func (o *Organization) CanSuspend() error {
	if o.Status != StatusActive {
		return dErrors.New(dErrors.CodeConflict, "organization is already suspended")
	}
	return nil
}

func (o *Organization) ApplySuspension(now time.Time) {
	o.Status = StatusSuspended
	o.UpdatedAt = now
}

func (o *Organization) CanReactivate() error {
	if o.Status != StatusSuspended {
		return dErrors.New(dErrors.CodeConflict, "organization is already active")
	}
	return nil
}

func (o *Organization) ApplyReactivation(now time.Time) {
	o.Status = StatusActive
	o.UpdatedAt = now
}

func (o *Organization) Clone() *Organization {
	c := *o
	return &c
}

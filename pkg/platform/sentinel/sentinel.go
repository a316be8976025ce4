package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: a conditional write lost its race (e.g. the audit chain tip moved)
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrUnavailable: backing store temporarily unavailable
//
// For validation errors use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

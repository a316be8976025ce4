// Package domainerrors carries machine-readable error codes across module
// boundaries. Services return coded errors; transports map codes to status
// values without inspecting messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a failure for callers.
type Code string

const (
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeConsentRequired    Code = "consent_required"
	CodeConsentExpired     Code = "consent_expired"
	CodeConsentRevoked     Code = "consent_revoked"
	CodeTenantMismatch     Code = "tenant_mismatch"
	CodeConflict           Code = "conflict"
	CodeDecryptionFailed   Code = "decryption_failed"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal"
)

// Error is a coded domain error. The wrapped cause is kept for logs and
// errors.Is/As but is never shown to callers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for err != nil {
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.Err
			continue
		}
		return false
	}
	return false
}

// Is is an alias for HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal for
// uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the outermost safe message.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}

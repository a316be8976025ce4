// Package httputil writes JSON responses and coded error envelopes.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	dErrors "carecore/pkg/domain-errors"
)

// maxBodyBytes bounds request bodies read by DecodeJSON.
const maxBodyBytes = 1 << 20

var statusByCode = map[dErrors.Code]int{
	dErrors.CodeUnauthorized:       http.StatusUnauthorized,
	dErrors.CodeForbidden:          http.StatusForbidden,
	dErrors.CodeConsentRequired:    http.StatusForbidden,
	dErrors.CodeConsentExpired:     http.StatusForbidden,
	dErrors.CodeConsentRevoked:     http.StatusForbidden,
	dErrors.CodeTenantMismatch:     http.StatusForbidden,
	dErrors.CodeConflict:           http.StatusConflict,
	dErrors.CodeDecryptionFailed:   http.StatusInternalServerError,
	dErrors.CodeInvalidInput:       http.StatusBadRequest,
	dErrors.CodeNotFound:           http.StatusNotFound,
	dErrors.CodeInvariantViolation: http.StatusUnprocessableEntity,
	dErrors.CodeTimeout:            http.StatusGatewayTimeout,
	dErrors.CodeInternal:           http.StatusInternalServerError,
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code dErrors.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteError writes the coded error envelope. Messages of internal and
// decryption failures are never exposed.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	switch code {
	case dErrors.CodeInternal, dErrors.CodeDecryptionFailed:
		body.Error = "internal_error"
	default:
		body.ErrorDescription = dErrors.MessageOf(err)
	}
	WriteJSON(w, StatusFor(code), body)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads one JSON object into dst, rejecting unknown fields and
// oversized bodies with CodeInvalidInput.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return dErrors.New(dErrors.CodeInvalidInput, "request body is required")
		}
		return dErrors.New(dErrors.CodeInvalidInput, "invalid request body")
	}
	return nil
}

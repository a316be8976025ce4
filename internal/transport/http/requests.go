package httptransport

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"carecore/internal/access"
	"carecore/internal/audit"
	consentModels "carecore/internal/consent/models"
	"carecore/internal/permission"
	"carecore/pkg/domain"
	dErrors "carecore/pkg/domain-errors"
)

type decideRequest struct {
	OrgID           string `json:"org_id"`
	ResourceType    string `json:"resource_type"`
	ResourceID      string `json:"resource_id"`
	Action          string `json:"action"`
	OwnerResidentID string `json:"owner_resident_id,omitempty"`
	Sensitivity     string `json:"sensitivity,omitempty"`
	PropertyID      string `json:"property_id,omitempty"`
	HouseID         string `json:"house_id,omitempty"`
	RedactionExempt bool   `json:"redaction_exempt,omitempty"`
}

func (r *decideRequest) toResource() (access.Resource, error) {
	orgID, err := domain.ParseOrgID(r.OrgID)
	if err != nil {
		return access.Resource{}, err
	}
	resourceType, ok := permission.ParseResourceType(r.ResourceType)
	if !ok {
		return access.Resource{}, dErrors.New(dErrors.CodeInvalidInput, "unknown resource type")
	}
	action, ok := permission.ParseAction(r.Action)
	if !ok {
		return access.Resource{}, dErrors.New(dErrors.CodeInvalidInput, "unknown action")
	}
	res := access.Resource{
		OrgID:           orgID,
		Type:            resourceType,
		ID:              domain.ResourceID(r.ResourceID),
		Action:          action,
		Sensitivity:     permission.Sensitivity(r.Sensitivity),
		RedactionExempt: r.RedactionExempt,
	}
	if r.Sensitivity != "" && !res.Sensitivity.IsValid() {
		return access.Resource{}, dErrors.New(dErrors.CodeInvalidInput, "unknown sensitivity")
	}
	if r.OwnerResidentID != "" {
		if res.OwnerResidentID, err = domain.ParseResidentID(r.OwnerResidentID); err != nil {
			return access.Resource{}, err
		}
	}
	if r.PropertyID != "" || r.HouseID != "" {
		path := &access.ScopePath{}
		if path.PropertyID, err = optionalUUID("property id", r.PropertyID); err != nil {
			return access.Resource{}, err
		}
		if path.HouseID, err = optionalUUID("house id", r.HouseID); err != nil {
			return access.Resource{}, err
		}
		res.Scope = path
	}
	return res, nil
}

func optionalUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return u, nil
}

type decisionResponse struct {
	Allow          bool     `json:"allow"`
	Reason         string   `json:"reason"`
	Sensitivity    string   `json:"sensitivity,omitempty"`
	ConsentID      string   `json:"consent_id,omitempty"`
	RedactedFields []string `json:"redacted_fields,omitempty"`
}

func toDecisionResponse(d access.Decision) decisionResponse {
	resp := decisionResponse{
		Allow:       d.Allow,
		Reason:      string(d.Reason),
		Sensitivity: string(d.Sensitivity),
	}
	if d.ConsentID != nil {
		resp.ConsentID = d.ConsentID.String()
	}
	if d.Redaction != nil {
		resp.RedactedFields = d.Redaction.Fields
	}
	return resp
}

type createConsentRequest struct {
	ResidentID         string     `json:"resident_id"`
	Recipient          string     `json:"recipient"`
	Purpose            string     `json:"purpose"`
	ScopeOfInformation []string   `json:"scope_of_information"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

type activateConsentRequest struct {
	SignedAt *time.Time `json:"signed_at,omitempty"`
}

type revokeConsentRequest struct {
	Reason string `json:"reason"`
}

type renewConsentRequest struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// consentResponse never carries the recipient; it is stored encrypted.
type consentResponse struct {
	ID                 string     `json:"id"`
	OrgID              string     `json:"org_id"`
	ResidentID         string     `json:"resident_id"`
	Status             string     `json:"status"`
	Purpose            string     `json:"purpose"`
	ScopeOfInformation []string   `json:"scope_of_information"`
	GrantedAt          *time.Time `json:"granted_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	RevocationReason   string     `json:"revocation_reason,omitempty"`
	RenewedFrom        string     `json:"renewed_from,omitempty"`
}

func toConsentResponse(c *consentModels.Consent) consentResponse {
	resp := consentResponse{
		ID:                 c.ID.String(),
		OrgID:              c.OrgID.String(),
		ResidentID:         c.ResidentID.String(),
		Status:             string(c.Status),
		Purpose:            c.Purpose,
		ScopeOfInformation: c.ScopeOfInformation,
		GrantedAt:          c.GrantedAt,
		ExpiresAt:          c.ExpiresAt,
		RevokedAt:          c.RevokedAt,
		RevocationReason:   c.RevocationReason,
	}
	if c.RenewedFrom != nil {
		resp.RenewedFrom = c.RenewedFrom.String()
	}
	return resp
}

// redacted returns v unchanged without an obligation, otherwise its JSON
// object form minus the obligated fields.
func redacted(v any, obligation *access.Redaction) (any, error) {
	if obligation == nil || len(obligation.Fields) == 0 {
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, err
	}
	return access.Redact(record, obligation), nil
}

type verifyResponse struct {
	Valid      bool   `json:"valid"`
	BrokenAtID string `json:"broken_at_id,omitempty"`
	Checked    int    `json:"checked"`
	Reason     string `json:"reason,omitempty"`
}

func toVerifyResponse(r audit.VerifyResult) verifyResponse {
	resp := verifyResponse{Valid: r.Valid, Checked: r.Checked, Reason: r.Reason}
	if r.BrokenAtID != nil {
		resp.BrokenAtID = r.BrokenAtID.String()
	}
	return resp
}

// sanitize trims whitespace from all string and []string fields in a struct.
func sanitize(v any) {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		if !field.CanSet() {
			continue
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(strings.TrimSpace(field.String()))
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				for j := 0; j < field.Len(); j++ {
					elem := field.Index(j)
					elem.SetString(strings.TrimSpace(elem.String()))
				}
			}
		}
	}
}

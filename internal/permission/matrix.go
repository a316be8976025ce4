// Package permission holds the role × resource-type × action policy.
//
// The matrix below is policy text. It is reviewed and versioned like a
// configuration artifact; change MatrixVersion with every edit so audit
// consumers can tell which policy produced a decision.
package permission

import (
	dErrors "carecore/pkg/domain-errors"
)

// MatrixVersion identifies the policy revision in effect.
const MatrixVersion = "2025-11-01"

type actionSet uint8

const (
	bCreate actionSet = 1 << iota
	bRead
	bUpdate
	bDelete
	bExport
	bPrint
	bShare

	bRW  = bCreate | bRead | bUpdate
	bAll = bCreate | bRead | bUpdate | bDelete | bExport | bPrint | bShare
)

func bit(a Action) actionSet {
	switch a {
	case ActionCreate:
		return bCreate
	case ActionRead:
		return bRead
	case ActionUpdate:
		return bUpdate
	case ActionDelete:
		return bDelete
	case ActionExport:
		return bExport
	case ActionPrint:
		return bPrint
	case ActionShare:
		return bShare
	default:
		return 0
	}
}

// matrix grants actions per role and resource type.
//
// Grants of ClassOther roles on Part2 types (drug_test, consent, disclosure
// and case_note for case_manager and staff, and the platform_admin reads) are
// overridden by the Part2 ceiling in the decision engine. They take effect
// only for records whose per-record sensitivity is below Part2.
var matrix = map[Role]map[ResourceType]actionSet{
	RolePlatformAdmin: {
		ResourceResident:   bRead,
		ResourceAdmission:  bRead,
		ResourceInvoice:    bRead,
		ResourceDrugTest:   bRead,
		ResourceConsent:    bRead,
		ResourceDisclosure: bRead,
		ResourceAuditLog:   bRead | bExport,
		ResourceDocument:   bRead,
		ResourceCaseNote:   bRead,
		ResourceIncident:   bRead,
	},
	RoleOrgAdmin: {
		ResourceResident:   bAll,
		ResourceAdmission:  bAll,
		ResourceInvoice:    bAll,
		ResourceDrugTest:   bRW | bDelete | bPrint,
		ResourceConsent:    bRW | bPrint,
		ResourceDisclosure: bRead | bPrint,
		ResourceAuditLog:   bRead | bExport,
		ResourceDocument:   bAll,
		ResourceCaseNote:   bRW | bPrint,
		ResourceIncident:   bAll,
	},
	RolePropertyManager: {
		ResourceResident:   bRW,
		ResourceAdmission:  bRW,
		ResourceInvoice:    bRW | bPrint,
		ResourceDrugTest:   bRW,
		ResourceConsent:    bRW,
		ResourceDisclosure: bRead,
		ResourceAuditLog:   bRead,
		ResourceDocument:   bRW | bPrint,
		ResourceCaseNote:   bRW,
		ResourceIncident:   bRW,
	},
	RoleHouseManager: {
		ResourceResident:   bRead | bUpdate,
		ResourceAdmission:  bRead,
		ResourceInvoice:    bRead,
		ResourceDrugTest:   bRW,
		ResourceConsent:    bRead,
		ResourceDisclosure: bRead,
		ResourceDocument:   bCreate | bRead,
		ResourceCaseNote:   bRW,
		ResourceIncident:   bRW,
	},
	// consent, disclosure, drug_test and case_note: ceiling-bound, see above.
	RoleCaseManager: {
		ResourceResident:   bRead | bUpdate,
		ResourceAdmission:  bRW,
		ResourceDrugTest:   bRead,
		ResourceConsent:    bRW | bPrint,
		ResourceDisclosure: bCreate | bRead | bShare,
		ResourceDocument:   bRW,
		ResourceCaseNote:   bRW | bPrint,
		ResourceIncident:   bRead,
	},
	// drug_test and case_note: ceiling-bound, see above.
	RoleStaff: {
		ResourceResident: bRead,
		ResourceDrugTest: bCreate | bRead,
		ResourceDocument: bRead,
		ResourceCaseNote: bCreate | bRead,
		ResourceIncident: bCreate | bRead,
	},
	RoleFamilyMember: {
		ResourceResident: bRead,
		ResourceDrugTest: bRead,
		ResourceCaseNote: bRead,
		ResourceDocument: bRead,
	},
	RoleReferralPartner: {
		ResourceResident:   bRead,
		ResourceAdmission:  bRead,
		ResourceDrugTest:   bRead,
		ResourceCaseNote:   bRead,
		ResourceDisclosure: bRead,
	},
	// Residents reach their own records through the subject rule, not the
	// matrix.
	RoleResident: {},
}

// defaultSensitivity is the tier of each resource type absent a per-record
// override.
var defaultSensitivity = map[ResourceType]Sensitivity{
	ResourceResident:   SensitivityPHI,
	ResourceAdmission:  SensitivityPHI,
	ResourceInvoice:    SensitivityPII,
	ResourceDrugTest:   SensitivityPart2,
	ResourceConsent:    SensitivityPart2,
	ResourceDisclosure: SensitivityPart2,
	ResourceAuditLog:   SensitivityOperational,
	ResourceDocument:   SensitivityPHI,
	ResourceCaseNote:   SensitivityPart2,
	ResourceIncident:   SensitivityPHI,
}

// HasPermission reports whether role may perform action on resourceType.
// Unknown roles, resource types and actions resolve to false.
func HasPermission(role Role, action Action, resourceType ResourceType) bool {
	grants, ok := matrix[role]
	if !ok {
		return false
	}
	b := bit(action)
	return b != 0 && grants[resourceType]&b != 0
}

// RequirePermission returns CodeForbidden when HasPermission is false.
func RequirePermission(role Role, action Action, resourceType ResourceType) error {
	if !HasPermission(role, action, resourceType) {
		return dErrors.New(dErrors.CodeForbidden, "role "+string(role)+" may not "+string(action)+" "+string(resourceType))
	}
	return nil
}

// DefaultSensitivity returns the tier for a resource type. Unknown types are
// treated as Part2 so a missing entry fails closed.
func DefaultSensitivity(resourceType ResourceType) Sensitivity {
	if s, ok := defaultSensitivity[resourceType]; ok {
		return s
	}
	return SensitivityPart2
}

// protectedFields lists the Part2 fields operational roles must not see
// unless a record-level exception applies.
var protectedFields = map[ResourceType][]string{
	ResourceDrugTest:   {"substances", "result", "lab_notes", "specimen_id"},
	ResourceCaseNote:   {"body", "treatment_plan", "diagnosis"},
	ResourceDisclosure: {"recipient", "information_disclosed"},
	ResourceConsent:    {"recipient", "scope_of_information"},
}

// genericProtectedFields applies to resource types that only become Part2
// through a per-record override.
var genericProtectedFields = []string{"diagnosis", "treatment_plan", "substances", "notes"}

// ProtectedFields returns the redaction list for Part2 records of a type.
func ProtectedFields(resourceType ResourceType) []string {
	if fields, ok := protectedFields[resourceType]; ok {
		return append([]string(nil), fields...)
	}
	return append([]string(nil), genericProtectedFields...)
}

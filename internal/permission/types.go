package permission

// Role is the closed set of roles the platform grants. Values outside this
// set have no grants.
type Role string

const (
	RolePlatformAdmin   Role = "platform_admin"
	RoleOrgAdmin        Role = "org_admin"
	RolePropertyManager Role = "property_manager"
	RoleHouseManager    Role = "house_manager"
	RoleCaseManager     Role = "case_manager"
	RoleStaff           Role = "staff"
	RoleFamilyMember    Role = "family_member"
	RoleReferralPartner Role = "referral_partner"
	RoleResident        Role = "resident"
)

// ResourceType is the closed set of protected resource kinds.
type ResourceType string

const (
	ResourceResident   ResourceType = "resident"
	ResourceAdmission  ResourceType = "admission"
	ResourceInvoice    ResourceType = "invoice"
	ResourceDrugTest   ResourceType = "drug_test"
	ResourceConsent    ResourceType = "consent"
	ResourceDisclosure ResourceType = "disclosure"
	ResourceAuditLog   ResourceType = "audit_log"
	ResourceDocument   ResourceType = "document"
	ResourceCaseNote   ResourceType = "case_note"
	ResourceIncident   ResourceType = "incident"
)

// Action is an operation on a resource.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionExport Action = "export"
	ActionPrint  Action = "print"
	ActionShare  Action = "share"
)

// Sensitivity tiers, ordered by strictness.
type Sensitivity string

const (
	SensitivityOperational Sensitivity = "operational"
	SensitivityPII         Sensitivity = "pii"
	SensitivityPHI         Sensitivity = "phi"
	SensitivityPart2       Sensitivity = "part2"
)

var sensitivityRank = map[Sensitivity]int{
	SensitivityOperational: 0,
	SensitivityPII:         1,
	SensitivityPHI:         2,
	SensitivityPart2:       3,
}

// IsValid reports whether s is a known tier.
func (s Sensitivity) IsValid() bool {
	_, ok := sensitivityRank[s]
	return ok
}

// StricterThan reports whether s is strictly more protected than other.
// Unknown tiers rank as the strictest so they never loosen a check.
func (s Sensitivity) StricterThan(other Sensitivity) bool {
	return rank(s) > rank(other)
}

func rank(s Sensitivity) int {
	if r, ok := sensitivityRank[s]; ok {
		return r
	}
	return sensitivityRank[SensitivityPart2] + 1
}

// RoleClass groups roles by how Part2 gating treats them.
type RoleClass int

const (
	ClassOther RoleClass = iota
	// ClassOperational roles manage houses, properties or the organization.
	ClassOperational
	// ClassExternal roles sit outside the facility and need resident consent.
	ClassExternal
	// ClassSubject is the resident acting on their own behalf.
	ClassSubject
)

func (c RoleClass) String() string {
	switch c {
	case ClassOperational:
		return "operational"
	case ClassExternal:
		return "external"
	case ClassSubject:
		return "subject"
	default:
		return "other"
	}
}

// ClassOf classifies a role. Unknown roles are ClassOther.
func ClassOf(role Role) RoleClass {
	switch role {
	case RoleOrgAdmin, RolePropertyManager, RoleHouseManager:
		return ClassOperational
	case RoleFamilyMember, RoleReferralPartner:
		return ClassExternal
	case RoleResident:
		return ClassSubject
	default:
		return ClassOther
	}
}

// Roles enumerates every role in the matrix's domain.
func Roles() []Role {
	return []Role{
		RolePlatformAdmin, RoleOrgAdmin, RolePropertyManager, RoleHouseManager,
		RoleCaseManager, RoleStaff, RoleFamilyMember, RoleReferralPartner, RoleResident,
	}
}

// ResourceTypes enumerates every resource type.
func ResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceResident, ResourceAdmission, ResourceInvoice, ResourceDrugTest, ResourceConsent,
		ResourceDisclosure, ResourceAuditLog, ResourceDocument, ResourceCaseNote, ResourceIncident,
	}
}

// Actions enumerates every action.
func Actions() []Action {
	return []Action{
		ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionExport, ActionPrint, ActionShare,
	}
}

// ParseRole validates a role from external input.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	for _, known := range Roles() {
		if r == known {
			return r, true
		}
	}
	return "", false
}

// ParseResourceType validates a resource type from external input.
func ParseResourceType(s string) (ResourceType, bool) {
	rt := ResourceType(s)
	if _, ok := defaultSensitivity[rt]; ok {
		return rt, true
	}
	return "", false
}

// ParseAction validates an action from external input.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	if bit(a) == 0 {
		return "", false
	}
	return a, true
}

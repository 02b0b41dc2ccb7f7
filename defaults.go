package accessctl

import "time"

// Built-in rule ids. The built-ins live in memory only; they are seeded on
// load and after every reload and are never written to the policy store.
const (
	DefaultAdminFullAccessID      = "default_admin_full_access"
	DefaultPatientOwnRecordsID    = "default_patient_own_records"
	DefaultDoctorPatientRecordsID = "default_doctor_patient_records"
	DefaultDenyAllID              = "default_deny_all"
)

// ResourceTypeMedicalRecord and ResourceTypeSystem are the resource types the
// built-in rules cover. Callers may use any type string; these are the two
// with default behavior.
const (
	ResourceTypeMedicalRecord = "medical_record"
	ResourceTypeSystem        = "system"
)

// defaultPolicies builds the four built-in rules. Admin access to the system
// namespace wins over everything; patients read their own records; doctors
// read records they hold a grant for; the catch-all deny ensures every
// request terminates with a decision.
func defaultPolicies(now time.Time) []*PolicyRule {
	return []*PolicyRule{
		{
			ID:          DefaultAdminFullAccessID,
			Name:        "Admin Full Access",
			Description: "Administrators may perform admin operations on system resources.",
			Subject:     SubjectSelector{EntityType: EntityRole, EntityID: "admin"},
			Action:      ActionSelector{Operation: OpAdmin},
			Resource:    ResourceSelector{ResourceType: ResourceTypeSystem, ResourceID: Wildcard},
			Effect:      EffectAllow,
			Priority:    200,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          DefaultPatientOwnRecordsID,
			Name:        "Patient Own Records",
			Description: "Patients may read medical records they own.",
			Subject:     SubjectSelector{EntityType: EntityUser, EntityID: Wildcard},
			Action:      ActionSelector{Operation: OpRead},
			Resource:    ResourceSelector{ResourceType: ResourceTypeMedicalRecord, ResourceID: Wildcard},
			Condition:   OwnershipCondition{},
			Effect:      EffectAllow,
			Priority:    100,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          DefaultDoctorPatientRecordsID,
			Name:        "Doctor Patient Records",
			Description: "Doctors may read records they hold an active read grant for.",
			Subject:     SubjectSelector{EntityType: EntityRole, EntityID: "doctor"},
			Action:      ActionSelector{Operation: OpRead},
			Resource:    ResourceSelector{ResourceType: ResourceTypeMedicalRecord, ResourceID: Wildcard},
			Condition:   GrantCondition{Permission: OpRead},
			Effect:      EffectAllow,
			Priority:    90,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		{
			ID:          DefaultDenyAllID,
			Name:        "Default Deny All",
			Description: "Catch-all deny so every request terminates with a decision.",
			Subject:     SubjectSelector{EntityType: EntityUser, EntityID: Wildcard},
			Action:      ActionSelector{Operation: OpAny},
			Resource:    ResourceSelector{ResourceType: Wildcard, ResourceID: Wildcard},
			Effect:      EffectDeny,
			Priority:    1,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// IsDefaultPolicyID reports whether the id belongs to a built-in rule.
func IsDefaultPolicyID(id string) bool {
	switch id {
	case DefaultAdminFullAccessID, DefaultPatientOwnRecordsID,
		DefaultDoctorPatientRecordsID, DefaultDenyAllID:
		return true
	}
	return false
}

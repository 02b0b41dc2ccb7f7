package accessctl

import (
	"context"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// EntityType classifies what a rule's subject selector refers to.
type EntityType string

const (
	EntityUser  EntityType = "user"
	EntityRole  EntityType = "role"
	EntityGroup EntityType = "group"
)

// Operation is the action being performed on a resource.
type Operation string

const (
	OpRead   Operation = "read"
	OpWrite  Operation = "write"
	OpDelete Operation = "delete"
	OpShare  Operation = "share"
	OpAdmin  Operation = "admin"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"

	// OpAny matches every operation when used in a rule's action selector.
	OpAny Operation = "*"
)

// Wildcard matches any entity id or resource type/id in a rule selector.
const Wildcard = "*"

// Effect is the outcome a rule produces when it applies.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// SubjectSelector describes which principals a rule applies to.
type SubjectSelector struct {
	EntityType EntityType        `json:"entity_type" yaml:"entity_type"`
	EntityID   string            `json:"entity_id" yaml:"entity_id"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// ActionSelector describes which operations a rule applies to.
type ActionSelector struct {
	Operation Operation `json:"operation" yaml:"operation"`
	Scope     []string  `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// ResourceSelector describes which resources a rule applies to.
type ResourceSelector struct {
	ResourceType string            `json:"resource_type" yaml:"resource_type"`
	ResourceID   string            `json:"resource_id" yaml:"resource_id"`
	Attributes   map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// PolicyRule is a single prioritized access-control rule. Rules with higher
// Priority are evaluated first; the first rule whose selectors match the
// request and whose condition is satisfied decides the outcome.
type PolicyRule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Subject     SubjectSelector  `json:"subject"`
	Action      ActionSelector   `json:"action"`
	Resource    ResourceSelector `json:"resource"`
	Condition   Condition        `json:"-"`
	Effect      Effect           `json:"effect"`
	Priority    int              `json:"priority"`
	IsActive    bool             `json:"is_active"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Clone returns a deep copy of the rule. Selectors hold only maps of strings,
// so copying those maps is sufficient.
func (p *PolicyRule) Clone() *PolicyRule {
	dup := *p
	dup.Subject.Attributes = cloneStringMap(p.Subject.Attributes)
	dup.Resource.Attributes = cloneStringMap(p.Resource.Attributes)
	if p.Action.Scope != nil {
		dup.Action.Scope = append([]string(nil), p.Action.Scope...)
	}
	return &dup
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// PolicyUpdate carries the fields of a partial rule update. Nil fields are
// left untouched; Condition replaces the rule condition only when
// ClearCondition or Condition is set.
type PolicyUpdate struct {
	Name           *string
	Description    *string
	Subject        *SubjectSelector
	Action         *ActionSelector
	Resource       *ResourceSelector
	Condition      Condition
	ClearCondition bool
	Effect         *Effect
	Priority       *int
	IsActive       *bool
}

// RequestSubject identifies the principal making an access request.
// Attributes may carry a "role" string or a "roles" list supplied by the
// caller (e.g. claims from an already-verified token).
type RequestSubject struct {
	EntityType EntityType     `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RequestAction is the operation the principal wants to perform.
type RequestAction struct {
	Operation Operation `json:"operation"`
}

// RequestResource identifies the resource being accessed.
type RequestResource struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// AccessRequest is a single authorization question: may Subject perform
// Action on Resource?
type AccessRequest struct {
	Subject  RequestSubject `json:"subject"`
	Action   RequestAction  `json:"action"`
	Resource RequestResource `json:"resource"`
	Context  map[string]any `json:"context,omitempty"`
}

// AccessDecision is the answer to an AccessRequest. AppliedRules holds the id
// of the rule that decided the outcome (exactly one on a match, empty on the
// fallback deny). Conditions lists the condition expressions evaluated on the
// way to the decision.
type AccessDecision struct {
	Decision     Effect    `json:"decision"`
	Reason       string    `json:"reason"`
	AppliedRules []string  `json:"applied_rules"`
	Conditions   []string  `json:"conditions,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Trace        []string  `json:"trace,omitempty"`
}

// Allowed reports whether the decision grants access.
func (d *AccessDecision) Allowed() bool {
	return d.Decision == EffectAllow
}

// MedicalRecord is the slice of a stored record the decision core needs:
// who owns it. PatientID is the owning principal.
type MedicalRecord struct {
	RecordID  string    `json:"record_id"`
	PatientID string    `json:"patient_id"`
	CreatorID string    `json:"creator_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PermissionGrant links a grantee to a record with a permission level.
// A zero ExpiresAt means the grant never expires.
type PermissionGrant struct {
	ID         string    `json:"id"`
	RecordID   string    `json:"record_id"`
	PatientID  string    `json:"patient_id"`
	DoctorID   string    `json:"doctor_id"`
	Permission Operation `json:"permission"`
	GrantedBy  string    `json:"granted_by,omitempty"`
	GrantedAt  time.Time `json:"granted_at"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	IsActive   bool      `json:"is_active"`
}

// IsExpired checks if the grant has expired.
func (g *PermissionGrant) IsExpired() bool {
	return !g.ExpiresAt.IsZero() && time.Now().After(g.ExpiresAt)
}

// permissionRank orders permission levels: a grant at a higher level
// satisfies a request for a lower one (admin > write > share > read).
var permissionRank = map[Operation]int{
	OpRead:  1,
	OpShare: 2,
	OpWrite: 3,
	OpAdmin: 4,
}

// PermissionSatisfies reports whether a granted permission level covers the
// requested one. Levels outside the known hierarchy only match exactly.
func PermissionSatisfies(granted, requested Operation) bool {
	if granted == requested {
		return true
	}
	g, gok := permissionRank[granted]
	r, rok := permissionRank[requested]
	return gok && rok && g >= r
}

// RoleMembership is one (principal, role) pair from the identity store.
type RoleMembership struct {
	SubjectID string `json:"subject_id" yaml:"subject_id"`
	Role      string `json:"role" yaml:"role"`
}

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// PolicyStore persists policy rules. ListActivePolicies returns active rules
// ordered by descending priority.
type PolicyStore interface {
	ListActivePolicies(ctx context.Context) ([]*PolicyRule, error)
	InsertPolicy(ctx context.Context, rule *PolicyRule) error
	UpdatePolicy(ctx context.Context, rule *PolicyRule) error
	DeletePolicy(ctx context.Context, id string) error
}

// RecordStore answers ownership lookups against the medical-record store.
type RecordStore interface {
	// OwnerOf returns the owning patient id for a record, or ErrRecordNotFound.
	OwnerOf(ctx context.Context, recordID string) (string, error)
}

// GrantStore answers permission-grant lookups.
type GrantStore interface {
	// HasActiveGrant reports whether an active, unexpired grant exists that
	// links the principal (as patient or doctor) to the record at a level
	// covering the requested permission.
	HasActiveGrant(ctx context.Context, principalID, recordID string, permission Operation) (bool, error)
}

// RoleMembershipStore bulk-loads role memberships for cache population.
type RoleMembershipStore interface {
	ListMemberships(ctx context.Context) ([]RoleMembership, error)
}

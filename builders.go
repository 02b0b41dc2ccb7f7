package accessctl

import "time"

// Builders provide a fluent API for creating rules and grants.

// PolicyBuilder builds a PolicyRule.
type PolicyBuilder struct {
	r *PolicyRule
}

func NewPolicyBuilder() *PolicyBuilder {
	return &PolicyBuilder{r: &PolicyRule{IsActive: true}}
}

func (b *PolicyBuilder) ID(id string) *PolicyBuilder         { b.r.ID = id; return b }
func (b *PolicyBuilder) Name(n string) *PolicyBuilder        { b.r.Name = n; return b }
func (b *PolicyBuilder) Description(d string) *PolicyBuilder { b.r.Description = d; return b }
func (b *PolicyBuilder) Effect(e Effect) *PolicyBuilder      { b.r.Effect = e; return b }
func (b *PolicyBuilder) Allow() *PolicyBuilder               { b.r.Effect = EffectAllow; return b }
func (b *PolicyBuilder) Deny() *PolicyBuilder                { b.r.Effect = EffectDeny; return b }
func (b *PolicyBuilder) Priority(p int) *PolicyBuilder       { b.r.Priority = p; return b }
func (b *PolicyBuilder) Active(active bool) *PolicyBuilder   { b.r.IsActive = active; return b }
func (b *PolicyBuilder) When(cond Condition) *PolicyBuilder  { b.r.Condition = cond; return b }

func (b *PolicyBuilder) ForUser(id string) *PolicyBuilder {
	b.r.Subject = SubjectSelector{EntityType: EntityUser, EntityID: id}
	return b
}

func (b *PolicyBuilder) ForRole(role string) *PolicyBuilder {
	b.r.Subject = SubjectSelector{EntityType: EntityRole, EntityID: role}
	return b
}

func (b *PolicyBuilder) AnyUser() *PolicyBuilder {
	b.r.Subject = SubjectSelector{EntityType: EntityUser, EntityID: Wildcard}
	return b
}

func (b *PolicyBuilder) Subject(sel SubjectSelector) *PolicyBuilder {
	b.r.Subject = sel
	return b
}

func (b *PolicyBuilder) Operation(op Operation) *PolicyBuilder {
	b.r.Action.Operation = op
	return b
}

func (b *PolicyBuilder) Scope(scope ...string) *PolicyBuilder {
	b.r.Action.Scope = append(b.r.Action.Scope, scope...)
	return b
}

func (b *PolicyBuilder) OnResource(resourceType, resourceID string) *PolicyBuilder {
	b.r.Resource = ResourceSelector{ResourceType: resourceType, ResourceID: resourceID}
	return b
}

func (b *PolicyBuilder) OnResourceType(resourceType string) *PolicyBuilder {
	return b.OnResource(resourceType, Wildcard)
}

func (b *PolicyBuilder) Build() *PolicyRule { return b.r }

// GrantBuilder builds a PermissionGrant.
type GrantBuilder struct {
	g *PermissionGrant
}

func NewGrantBuilder() *GrantBuilder {
	return &GrantBuilder{g: &PermissionGrant{IsActive: true, GrantedAt: time.Now().UTC()}}
}

func (b *GrantBuilder) ID(id string) *GrantBuilder            { b.g.ID = id; return b }
func (b *GrantBuilder) Record(id string) *GrantBuilder        { b.g.RecordID = id; return b }
func (b *GrantBuilder) Patient(id string) *GrantBuilder       { b.g.PatientID = id; return b }
func (b *GrantBuilder) Doctor(id string) *GrantBuilder        { b.g.DoctorID = id; return b }
func (b *GrantBuilder) Permission(op Operation) *GrantBuilder { b.g.Permission = op; return b }
func (b *GrantBuilder) GrantedBy(id string) *GrantBuilder     { b.g.GrantedBy = id; return b }
func (b *GrantBuilder) ExpiresAt(t time.Time) *GrantBuilder   { b.g.ExpiresAt = t; return b }
func (b *GrantBuilder) Active(active bool) *GrantBuilder      { b.g.IsActive = active; return b }
func (b *GrantBuilder) Build() *PermissionGrant               { return b.g }

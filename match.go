package accessctl

// roleChecker answers whether a principal currently holds a role. Satisfied
// by *RoleResolver; kept narrow so the matcher stays a pure predicate over
// its inputs.
type roleChecker interface {
	HasRole(principalID, role string) bool
}

// matchSubject reports whether a rule's subject selector covers the request
// subject. A wildcard entity id matches when the entity types agree, or
// unconditionally for user-typed selectors; this wildcard-for-user rule also
// fires for requests of other entity types, which is intentional and covered
// by tests. A role-typed selector matches a user request through the
// request's role attributes or the resolver's membership cache.
func matchSubject(sel SubjectSelector, sub RequestSubject, roles roleChecker) bool {
	if sel.EntityID == Wildcard {
		return sub.EntityType == sel.EntityType || sel.EntityType == EntityUser
	}
	if sel.EntityType == sub.EntityType && sel.EntityID == sub.EntityID {
		return true
	}
	if sel.EntityType == EntityRole && sub.EntityType == EntityUser {
		if subjectHasRoleAttr(sub.Attributes, sel.EntityID) {
			return true
		}
		if roles != nil && roles.HasRole(sub.EntityID, sel.EntityID) {
			return true
		}
	}
	return false
}

// subjectHasRoleAttr checks the caller-supplied attributes for a role claim,
// either a single "role" string or a "roles" list.
func subjectHasRoleAttr(attrs map[string]any, role string) bool {
	if len(attrs) == 0 {
		return false
	}
	if v, ok := attrs["role"]; ok {
		if s, ok := v.(string); ok && s == role {
			return true
		}
	}
	switch list := attrs["roles"].(type) {
	case []string:
		for _, s := range list {
			if s == role {
				return true
			}
		}
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok && s == role {
				return true
			}
		}
	}
	return false
}

// matchAction reports whether a rule's action selector covers the requested
// operation.
func matchAction(sel ActionSelector, act RequestAction) bool {
	return sel.Operation == OpAny || sel.Operation == act.Operation
}

// matchResource reports whether a rule's resource selector covers the
// request resource. When either side of the selector is a wildcard, only the
// type is compared: a type-specific selector with a wildcard id matches any
// id of that type, and a fully wildcard selector matches everything.
func matchResource(sel ResourceSelector, res RequestResource) bool {
	if sel.ResourceType == Wildcard || sel.ResourceID == Wildcard {
		return sel.ResourceType == Wildcard || sel.ResourceType == res.ResourceType
	}
	return sel.ResourceType == res.ResourceType && sel.ResourceID == res.ResourceID
}

// isCandidate reports whether an active rule's selectors all cover the
// request, before any condition is evaluated.
func isCandidate(rule *PolicyRule, req *AccessRequest, roles roleChecker) bool {
	if !rule.IsActive {
		return false
	}
	return matchSubject(rule.Subject, req.Subject, roles) &&
		matchAction(rule.Action, req.Action) &&
		matchResource(rule.Resource, req.Resource)
}

package accessctl

import "testing"

type staticRoles map[string][]string // role -> principals

func (s staticRoles) HasRole(principalID, role string) bool {
	for _, p := range s[role] {
		if p == principalID {
			return true
		}
	}
	return false
}

func TestMatchSubjectExact(t *testing.T) {
	sel := SubjectSelector{EntityType: EntityUser, EntityID: "P1"}
	if !matchSubject(sel, RequestSubject{EntityType: EntityUser, EntityID: "P1"}, nil) {
		t.Fatal("exact user match failed")
	}
	if matchSubject(sel, RequestSubject{EntityType: EntityUser, EntityID: "P2"}, nil) {
		t.Fatal("different user id matched")
	}
	if matchSubject(sel, RequestSubject{EntityType: EntityGroup, EntityID: "P1"}, nil) {
		t.Fatal("different entity type matched")
	}
}

func TestMatchSubjectWildcard(t *testing.T) {
	userWildcard := SubjectSelector{EntityType: EntityUser, EntityID: Wildcard}
	if !matchSubject(userWildcard, RequestSubject{EntityType: EntityUser, EntityID: "anyone"}, nil) {
		t.Fatal("user wildcard did not match user")
	}
	// A wildcard user selector also matches non-user request types. This
	// overlap with role semantics is deliberate legacy behavior; changing it
	// would silently change which rules fire.
	if !matchSubject(userWildcard, RequestSubject{EntityType: EntityGroup, EntityID: "g1"}, nil) {
		t.Fatal("user wildcard is expected to match any entity type")
	}

	groupWildcard := SubjectSelector{EntityType: EntityGroup, EntityID: Wildcard}
	if !matchSubject(groupWildcard, RequestSubject{EntityType: EntityGroup, EntityID: "g1"}, nil) {
		t.Fatal("group wildcard did not match group")
	}
	if matchSubject(groupWildcard, RequestSubject{EntityType: EntityUser, EntityID: "u1"}, nil) {
		t.Fatal("group wildcard matched a user")
	}
}

func TestMatchSubjectRoleViaAttributes(t *testing.T) {
	sel := SubjectSelector{EntityType: EntityRole, EntityID: "doctor"}

	byRole := RequestSubject{EntityType: EntityUser, EntityID: "D1", Attributes: map[string]any{"role": "doctor"}}
	if !matchSubject(sel, byRole, nil) {
		t.Fatal("role attribute did not match")
	}
	byRoles := RequestSubject{EntityType: EntityUser, EntityID: "D1", Attributes: map[string]any{"roles": []string{"nurse", "doctor"}}}
	if !matchSubject(sel, byRoles, nil) {
		t.Fatal("roles list did not match")
	}
	// JSON-decoded attributes arrive as []any
	byAnyRoles := RequestSubject{EntityType: EntityUser, EntityID: "D1", Attributes: map[string]any{"roles": []any{"doctor"}}}
	if !matchSubject(sel, byAnyRoles, nil) {
		t.Fatal("roles []any list did not match")
	}
	noRole := RequestSubject{EntityType: EntityUser, EntityID: "D1"}
	if matchSubject(sel, noRole, nil) {
		t.Fatal("subject with no role matched")
	}
}

func TestMatchSubjectRoleViaResolver(t *testing.T) {
	sel := SubjectSelector{EntityType: EntityRole, EntityID: "doctor"}
	roles := staticRoles{"doctor": {"D1"}}

	if !matchSubject(sel, RequestSubject{EntityType: EntityUser, EntityID: "D1"}, roles) {
		t.Fatal("resolver membership did not match")
	}
	if matchSubject(sel, RequestSubject{EntityType: EntityUser, EntityID: "D2"}, roles) {
		t.Fatal("non-member matched")
	}
}

func TestMatchAction(t *testing.T) {
	if !matchAction(ActionSelector{Operation: OpAny}, RequestAction{Operation: OpDelete}) {
		t.Fatal("wildcard action did not match")
	}
	if !matchAction(ActionSelector{Operation: OpRead}, RequestAction{Operation: OpRead}) {
		t.Fatal("exact action did not match")
	}
	if matchAction(ActionSelector{Operation: OpRead}, RequestAction{Operation: OpWrite}) {
		t.Fatal("different action matched")
	}
}

func TestMatchResource(t *testing.T) {
	cases := []struct {
		name string
		sel  ResourceSelector
		res  RequestResource
		want bool
	}{
		{"exact match", ResourceSelector{"medical_record", "R1", nil}, RequestResource{"medical_record", "R1"}, true},
		{"exact id mismatch", ResourceSelector{"medical_record", "R1", nil}, RequestResource{"medical_record", "R2"}, false},
		{"id wildcard same type", ResourceSelector{"medical_record", "*", nil}, RequestResource{"medical_record", "R2"}, true},
		{"id wildcard other type", ResourceSelector{"medical_record", "*", nil}, RequestResource{"system", "R2"}, false},
		{"full wildcard", ResourceSelector{"*", "*", nil}, RequestResource{"anything", "at-all"}, true},
		{"type wildcard specific id", ResourceSelector{"*", "R9", nil}, RequestResource{"system", "other"}, true},
	}
	for _, tc := range cases {
		if got := matchResource(tc.sel, tc.res); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsCandidateInactiveRule(t *testing.T) {
	rule := &PolicyRule{
		Subject:  SubjectSelector{EntityType: EntityUser, EntityID: Wildcard},
		Action:   ActionSelector{Operation: OpAny},
		Resource: ResourceSelector{ResourceType: Wildcard, ResourceID: Wildcard},
		IsActive: false,
	}
	req := &AccessRequest{
		Subject:  RequestSubject{EntityType: EntityUser, EntityID: "u1"},
		Action:   RequestAction{Operation: OpRead},
		Resource: RequestResource{ResourceType: "medical_record", ResourceID: "R1"},
	}
	if isCandidate(rule, req, nil) {
		t.Fatal("inactive rule became a candidate")
	}
	rule.IsActive = true
	if !isCandidate(rule, req, nil) {
		t.Fatal("active catch-all rule not a candidate")
	}
}

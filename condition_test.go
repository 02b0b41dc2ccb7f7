package accessctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carevault/accessctl/logger"
)

type fakeRecordStore struct {
	owners map[string]string
	err    error
	delay  time.Duration
}

func (f *fakeRecordStore) OwnerOf(ctx context.Context, recordID string) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	owner, ok := f.owners[recordID]
	if !ok {
		return "", ErrRecordNotFound
	}
	return owner, nil
}

type fakeGrantStore struct {
	grants map[string]Operation // principal|record -> granted level
	err    error
}

func (f *fakeGrantStore) HasActiveGrant(ctx context.Context, principalID, recordID string, permission Operation) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	granted, ok := f.grants[principalID+"|"+recordID]
	return ok && PermissionSatisfies(granted, permission), nil
}

func readRequest(subjectID, recordID string) *AccessRequest {
	return &AccessRequest{
		Subject:  RequestSubject{EntityType: EntityUser, EntityID: subjectID},
		Action:   RequestAction{Operation: OpRead},
		Resource: RequestResource{ResourceType: ResourceTypeMedicalRecord, ResourceID: recordID},
	}
}

func TestParseCondition(t *testing.T) {
	if got := ParseCondition(""); got != nil {
		t.Fatalf("empty expression should be nil, got %#v", got)
	}
	if _, ok := ParseCondition("subject.id = resource.patient_id").(OwnershipCondition); !ok {
		t.Fatal("ownership expression not recognized")
	}
	if _, ok := ParseCondition("  subject.id  =  resource.patient_id ").(OwnershipCondition); !ok {
		t.Fatal("ownership expression with extra whitespace not recognized")
	}
	grant, ok := ParseCondition(`has_permission(subject, resource, "write")`).(GrantCondition)
	if !ok || grant.Permission != OpWrite {
		t.Fatalf("grant expression not recognized: %#v", grant)
	}
	unsupported, ok := ParseCondition("subject.department == resource.department").(UnsupportedCondition)
	if !ok {
		t.Fatal("unknown expression should parse as unsupported")
	}
	if unsupported.Expression() != "subject.department == resource.department" {
		t.Fatalf("unsupported expression not preserved: %q", unsupported.Expression())
	}
}

func TestConditionExpressionRoundTrip(t *testing.T) {
	for _, cond := range []Condition{
		OwnershipCondition{},
		GrantCondition{Permission: OpRead},
		GrantCondition{Permission: OpShare},
	} {
		if got := ParseCondition(cond.Expression()); got != cond {
			t.Fatalf("expression %q reparsed as %#v", cond.Expression(), got)
		}
	}
}

func TestEvaluatorNilConditionSatisfied(t *testing.T) {
	eval := newEvaluator(nil, nil, time.Second, logger.Nop{})
	if !eval.Satisfied(context.Background(), nil, readRequest("P1", "R1")) {
		t.Fatal("nil condition must be satisfied")
	}
}

func TestEvaluatorOwnership(t *testing.T) {
	records := &fakeRecordStore{owners: map[string]string{"R1": "P1"}}
	eval := newEvaluator(records, nil, time.Second, logger.Nop{})
	ctx := context.Background()

	if !eval.Satisfied(ctx, OwnershipCondition{}, readRequest("P1", "R1")) {
		t.Fatal("owner must satisfy ownership condition")
	}
	if eval.Satisfied(ctx, OwnershipCondition{}, readRequest("P2", "R1")) {
		t.Fatal("non-owner satisfied ownership condition")
	}
	if eval.Satisfied(ctx, OwnershipCondition{}, readRequest("P1", "R404")) {
		t.Fatal("missing record satisfied ownership condition")
	}
}

func TestEvaluatorOwnershipFailsClosed(t *testing.T) {
	records := &fakeRecordStore{err: errors.New("connection reset")}
	eval := newEvaluator(records, nil, time.Second, logger.Nop{})
	if eval.Satisfied(context.Background(), OwnershipCondition{}, readRequest("P1", "R1")) {
		t.Fatal("store error must not satisfy a condition")
	}
}

func TestEvaluatorOwnershipTimeout(t *testing.T) {
	records := &fakeRecordStore{owners: map[string]string{"R1": "P1"}, delay: 200 * time.Millisecond}
	eval := newEvaluator(records, nil, 10*time.Millisecond, logger.Nop{})
	if eval.Satisfied(context.Background(), OwnershipCondition{}, readRequest("P1", "R1")) {
		t.Fatal("timed-out lookup must not satisfy a condition")
	}
}

func TestEvaluatorGrant(t *testing.T) {
	grants := &fakeGrantStore{grants: map[string]Operation{"D1|R2": OpRead, "D1|R5": OpWrite}}
	eval := newEvaluator(nil, grants, time.Second, logger.Nop{})
	ctx := context.Background()

	if !eval.Satisfied(ctx, GrantCondition{Permission: OpRead}, readRequest("D1", "R2")) {
		t.Fatal("live grant must satisfy grant condition")
	}
	if eval.Satisfied(ctx, GrantCondition{Permission: OpRead}, readRequest("D1", "R3")) {
		t.Fatal("absent grant satisfied grant condition")
	}
	if !eval.Satisfied(ctx, GrantCondition{Permission: OpRead}, readRequest("D1", "R5")) {
		t.Fatal("write grant must cover a read requirement")
	}
	if eval.Satisfied(ctx, GrantCondition{Permission: OpAdmin}, readRequest("D1", "R5")) {
		t.Fatal("write grant must not cover an admin requirement")
	}
}

func TestEvaluatorGrantFailsClosed(t *testing.T) {
	grants := &fakeGrantStore{err: errors.New("boom")}
	eval := newEvaluator(nil, grants, time.Second, logger.Nop{})
	if eval.Satisfied(context.Background(), GrantCondition{Permission: OpRead}, readRequest("D1", "R2")) {
		t.Fatal("store error must not satisfy a condition")
	}
}

func TestEvaluatorUnsupportedNeverSatisfied(t *testing.T) {
	eval := newEvaluator(nil, nil, time.Second, logger.Nop{})
	cond := UnsupportedCondition{Raw: "time.hour < 17"}
	if eval.Satisfied(context.Background(), cond, readRequest("P1", "R1")) {
		t.Fatal("unsupported condition must never be satisfied")
	}
}

func TestEvaluatorMissingStores(t *testing.T) {
	eval := newEvaluator(nil, nil, time.Second, logger.Nop{})
	ctx := context.Background()
	if eval.Satisfied(ctx, OwnershipCondition{}, readRequest("P1", "R1")) {
		t.Fatal("ownership without record store satisfied")
	}
	if eval.Satisfied(ctx, GrantCondition{Permission: OpRead}, readRequest("P1", "R1")) {
		t.Fatal("grant without grant store satisfied")
	}
}

func TestPermissionSatisfies(t *testing.T) {
	cases := []struct {
		granted, requested Operation
		want               bool
	}{
		{OpRead, OpRead, true},
		{OpWrite, OpRead, true},
		{OpAdmin, OpShare, true},
		{OpRead, OpWrite, false},
		{OpShare, OpAdmin, false},
		{OpDelete, OpDelete, true},
		{OpDelete, OpRead, false},
	}
	for _, tc := range cases {
		if got := PermissionSatisfies(tc.granted, tc.requested); got != tc.want {
			t.Errorf("PermissionSatisfies(%s, %s): expected %v, got %v", tc.granted, tc.requested, tc.want, got)
		}
	}
}

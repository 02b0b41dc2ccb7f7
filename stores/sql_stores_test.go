package stores

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/carevault/accessctl"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLPolicyStoreRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLPolicyStore(db)
	ctx := context.Background()

	rule := &accessctl.PolicyRule{
		ID:        "pol-1",
		Name:      "Doctor Reads",
		Subject:   accessctl.SubjectSelector{EntityType: accessctl.EntityRole, EntityID: "doctor"},
		Action:    accessctl.ActionSelector{Operation: accessctl.OpRead},
		Resource:  accessctl.ResourceSelector{ResourceType: "medical_record", ResourceID: "*"},
		Condition: accessctl.GrantCondition{Permission: accessctl.OpRead},
		Effect:    accessctl.EffectAllow,
		Priority:  50,
		IsActive:  true,
	}
	if err := store.InsertPolicy(ctx, rule); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetPolicy(ctx, "pol-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Doctor Reads" || got.Effect != accessctl.EffectAllow || got.Priority != 50 {
		t.Fatalf("unexpected policy: %+v", got)
	}
	if got.Subject.EntityID != "doctor" || got.Resource.ResourceID != "*" {
		t.Fatalf("selectors lost in round trip: %+v", got)
	}
	cond, ok := got.Condition.(accessctl.GrantCondition)
	if !ok || cond.Permission != accessctl.OpRead {
		t.Fatalf("condition lost in round trip: %#v", got.Condition)
	}
}

func TestSQLPolicyStoreListActiveOrdersByPriority(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLPolicyStore(db)
	ctx := context.Background()

	for _, p := range []struct {
		id       string
		priority int
		active   bool
	}{
		{"low", 10, true},
		{"high", 90, true},
		{"off", 200, false},
	} {
		rule := &accessctl.PolicyRule{
			ID:       p.id,
			Name:     p.id,
			Subject:  accessctl.SubjectSelector{EntityType: accessctl.EntityUser, EntityID: "*"},
			Action:   accessctl.ActionSelector{Operation: accessctl.OpRead},
			Resource: accessctl.ResourceSelector{ResourceType: "medical_record", ResourceID: "*"},
			Effect:   accessctl.EffectAllow,
			Priority: p.priority,
			IsActive: p.active,
		}
		if err := store.InsertPolicy(ctx, rule); err != nil {
			t.Fatalf("insert %s: %v", p.id, err)
		}
	}

	rules, err := store.ListActivePolicies(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 active rules, got %d", len(rules))
	}
	if rules[0].ID != "high" || rules[1].ID != "low" {
		t.Fatalf("wrong order: %s, %s", rules[0].ID, rules[1].ID)
	}
}

func TestSQLPolicyStoreUpdateMissing(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLPolicyStore(db)

	rule := &accessctl.PolicyRule{
		ID:       "missing",
		Name:     "missing",
		Subject:  accessctl.SubjectSelector{EntityType: accessctl.EntityUser, EntityID: "*"},
		Action:   accessctl.ActionSelector{Operation: accessctl.OpRead},
		Resource: accessctl.ResourceSelector{ResourceType: "medical_record", ResourceID: "*"},
		Effect:   accessctl.EffectAllow,
	}
	err := store.UpdatePolicy(context.Background(), rule)
	if !errors.Is(err, accessctl.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}

func TestSQLRecordStoreOwnerOf(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLRecordStore(db)
	ctx := context.Background()

	if err := store.UpsertRecord(ctx, &accessctl.MedicalRecord{RecordID: "R1", PatientID: "P1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	owner, err := store.OwnerOf(ctx, "R1")
	if err != nil {
		t.Fatalf("owner of R1: %v", err)
	}
	if owner != "P1" {
		t.Fatalf("expected owner P1, got %s", owner)
	}
	if _, err := store.OwnerOf(ctx, "R404"); !errors.Is(err, accessctl.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestSQLGrantStoreHasActiveGrant(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLGrantStore(db)
	ctx := context.Background()

	grants := []*accessctl.PermissionGrant{
		{ID: "g-live", RecordID: "R2", DoctorID: "D1", Permission: accessctl.OpRead, GrantedAt: time.Now(), IsActive: true},
		{ID: "g-expired", RecordID: "R3", DoctorID: "D1", Permission: accessctl.OpRead, GrantedAt: time.Now(), ExpiresAt: time.Now().Add(-time.Hour), IsActive: true},
		{ID: "g-inactive", RecordID: "R4", DoctorID: "D1", Permission: accessctl.OpRead, GrantedAt: time.Now(), IsActive: false},
		{ID: "g-write", RecordID: "R5", DoctorID: "D1", Permission: accessctl.OpWrite, GrantedAt: time.Now(), IsActive: true},
	}
	for _, g := range grants {
		if err := store.GrantPermission(ctx, g); err != nil {
			t.Fatalf("grant %s: %v", g.ID, err)
		}
	}

	cases := []struct {
		name       string
		principal  string
		record     string
		permission accessctl.Operation
		want       bool
	}{
		{"live grant", "D1", "R2", accessctl.OpRead, true},
		{"expired grant", "D1", "R3", accessctl.OpRead, false},
		{"inactive grant", "D1", "R4", accessctl.OpRead, false},
		{"write grant covers read", "D1", "R5", accessctl.OpRead, true},
		{"read grant does not cover write", "D1", "R2", accessctl.OpWrite, false},
		{"wrong principal", "D2", "R2", accessctl.OpRead, false},
	}
	for _, tc := range cases {
		got, err := store.HasActiveGrant(ctx, tc.principal, tc.record, tc.permission)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}

	if err := store.RevokePermission(ctx, "g-live"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	got, err := store.HasActiveGrant(ctx, "D1", "R2", accessctl.OpRead)
	if err != nil {
		t.Fatalf("after revoke: %v", err)
	}
	if got {
		t.Fatal("revoked grant still active")
	}
}

func TestSQLRoleMembershipStore(t *testing.T) {
	db := newTestDB(t)
	store := NewSQLRoleMembershipStore(db)
	ctx := context.Background()

	if err := store.AssignRole(ctx, "D1", "doctor"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	// repeated assignment is a no-op
	if err := store.AssignRole(ctx, "D1", "doctor"); err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if err := store.AssignRole(ctx, "A1", "admin"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	memberships, err := store.ListMemberships(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(memberships) != 2 {
		t.Fatalf("expected 2 memberships, got %d", len(memberships))
	}

	if err := store.RevokeRole(ctx, "D1", "doctor"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	memberships, err = store.ListMemberships(ctx)
	if err != nil {
		t.Fatalf("list after revoke: %v", err)
	}
	if len(memberships) != 1 || memberships[0].SubjectID != "A1" {
		t.Fatalf("unexpected memberships after revoke: %+v", memberships)
	}
}

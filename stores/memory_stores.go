package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/carevault/accessctl"
)

// Memory stores implement the persistence interfaces in-process for testing
// and demos. They follow the same contracts as the SQL stores.

// MemoryPolicyStore keeps policy rules in a map.
type MemoryPolicyStore struct {
	mu    sync.RWMutex
	rules map[string]*accessctl.PolicyRule

	// Fail makes every call return this error, for fault-path tests.
	Fail error
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{rules: make(map[string]*accessctl.PolicyRule)}
}

func (s *MemoryPolicyStore) ListActivePolicies(ctx context.Context) ([]*accessctl.PolicyRule, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*accessctl.PolicyRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsActive {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (s *MemoryPolicyStore) InsertPolicy(ctx context.Context, rule *accessctl.PolicyRule) error {
	if s.Fail != nil {
		return s.Fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; ok {
		return fmt.Errorf("%w: %s", accessctl.ErrPolicyExists, rule.ID)
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

func (s *MemoryPolicyStore) UpdatePolicy(ctx context.Context, rule *accessctl.PolicyRule) error {
	if s.Fail != nil {
		return s.Fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return fmt.Errorf("%w: %s", accessctl.ErrPolicyNotFound, rule.ID)
	}
	s.rules[rule.ID] = rule.Clone()
	return nil
}

func (s *MemoryPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	if s.Fail != nil {
		return s.Fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

// Count reports how many rows the store holds, active or not.
func (s *MemoryPolicyStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// MemoryRecordStore keeps record ownership in a map.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]*accessctl.MedicalRecord

	Fail error
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]*accessctl.MedicalRecord)}
}

func (s *MemoryRecordStore) OwnerOf(ctx context.Context, recordID string) (string, error) {
	if s.Fail != nil {
		return "", s.Fail
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return "", accessctl.ErrRecordNotFound
	}
	return rec.PatientID, nil
}

func (s *MemoryRecordStore) UpsertRecord(ctx context.Context, rec *accessctl.MedicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *rec
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = time.Now()
	}
	s.records[rec.RecordID] = &dup
	return nil
}

func (s *MemoryRecordStore) DeleteRecord(ctx context.Context, recordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordID)
	return nil
}

// MemoryGrantStore keeps permission grants in a slice per record.
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string][]*accessctl.PermissionGrant

	Fail error
}

func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string][]*accessctl.PermissionGrant)}
}

func (s *MemoryGrantStore) HasActiveGrant(ctx context.Context, principalID, recordID string, permission accessctl.Operation) (bool, error) {
	if s.Fail != nil {
		return false, s.Fail
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants[recordID] {
		if !g.IsActive || g.IsExpired() {
			continue
		}
		if g.PatientID != principalID && g.DoctorID != principalID {
			continue
		}
		if accessctl.PermissionSatisfies(g.Permission, permission) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryGrantStore) GrantPermission(ctx context.Context, g *accessctl.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *g
	s.grants[g.RecordID] = append(s.grants[g.RecordID], &dup)
	return nil
}

func (s *MemoryGrantStore) RevokePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.grants {
		for _, g := range list {
			if g.ID == id {
				g.IsActive = false
			}
		}
	}
	return nil
}

// MemoryRoleMembershipStore keeps (subject, role) pairs in nested maps.
type MemoryRoleMembershipStore struct {
	mu    sync.RWMutex
	roles map[string]map[string]struct{} // subject -> roles

	Fail error
}

func NewMemoryRoleMembershipStore() *MemoryRoleMembershipStore {
	return &MemoryRoleMembershipStore{roles: make(map[string]map[string]struct{})}
}

func (s *MemoryRoleMembershipStore) AssignRole(ctx context.Context, subjectID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.roles[subjectID]
	if !ok {
		set = make(map[string]struct{})
		s.roles[subjectID] = set
	}
	set[role] = struct{}{}
	return nil
}

func (s *MemoryRoleMembershipStore) RevokeRole(ctx context.Context, subjectID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.roles[subjectID]; ok {
		delete(set, role)
	}
	return nil
}

func (s *MemoryRoleMembershipStore) ListMemberships(ctx context.Context) ([]accessctl.RoleMembership, error) {
	if s.Fail != nil {
		return nil, s.Fail
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]accessctl.RoleMembership, 0)
	for subjectID, set := range s.roles {
		for role := range set {
			out = append(out, accessctl.RoleMembership{SubjectID: subjectID, Role: role})
		}
	}
	return out, nil
}

package accessctl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/carevault/accessctl/logger"
)

// PolicySet owns the in-memory set of policy rules and keeps it consistent
// with the backing store. Mutations are write-through (store first, memory
// second) and publish a fresh snapshot atomically, so concurrent evaluations
// never observe half-applied changes. The built-in default rules live in
// memory only and are never written through.
type PolicySet struct {
	store PolicyStore
	log   logger.Logger

	mu   sync.Mutex // serializes mutations; readers go through snap
	snap atomic.Pointer[policySnapshot]
}

// policySnapshot is an immutable view of the rule set. The ordered slice
// preserves insertion order so priority ties resolve deterministically.
type policySnapshot struct {
	byID  map[string]*PolicyRule
	order []*PolicyRule
}

func emptySnapshot() *policySnapshot {
	return &policySnapshot{byID: map[string]*PolicyRule{}}
}

func (s *policySnapshot) with(rule *PolicyRule) *policySnapshot {
	next := &policySnapshot{
		byID:  make(map[string]*PolicyRule, len(s.byID)+1),
		order: make([]*PolicyRule, 0, len(s.order)+1),
	}
	replaced := false
	for _, r := range s.order {
		if r.ID == rule.ID {
			next.order = append(next.order, rule)
			replaced = true
		} else {
			next.order = append(next.order, r)
		}
	}
	if !replaced {
		next.order = append(next.order, rule)
	}
	for _, r := range next.order {
		next.byID[r.ID] = r
	}
	return next
}

func (s *policySnapshot) without(id string) *policySnapshot {
	next := &policySnapshot{
		byID:  make(map[string]*PolicyRule, len(s.byID)),
		order: make([]*PolicyRule, 0, len(s.order)),
	}
	for _, r := range s.order {
		if r.ID == id {
			continue
		}
		next.order = append(next.order, r)
		next.byID[r.ID] = r
	}
	return next
}

func NewPolicySet(store PolicyStore, log logger.Logger) *PolicySet {
	if log == nil {
		log = logger.Nop{}
	}
	p := &PolicySet{store: store, log: log}
	p.snap.Store(emptySnapshot())
	return p
}

// Load fetches active rules from the backing store into memory. A failed
// query is logged and swallowed so the engine can proceed on the built-in
// defaults; only total store unavailability propagates, and the engine turns
// that into a deny at the evaluation boundary.
func (p *PolicySet) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	rules, err := p.store.ListActivePolicies(ctx)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		p.log.Error("policy load failed, continuing with in-memory rules", "error", err.Error())
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snap.Load()
	for _, r := range rules {
		snap = snap.with(r.Clone())
	}
	p.snap.Store(snap)
	p.log.Info("policies loaded", "count", len(rules))
	return nil
}

// SeedDefaults inserts the built-in rules, skipping any id already present.
// Calling it repeatedly is a no-op after the first time.
func (p *PolicySet) SeedDefaults() {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snap.Load()
	seeded := 0
	for _, rule := range defaultPolicies(time.Now().UTC()) {
		if _, ok := snap.byID[rule.ID]; ok {
			continue
		}
		snap = snap.with(rule)
		seeded++
	}
	if seeded > 0 {
		p.snap.Store(snap)
		p.log.Debug("default policies seeded", "count", seeded)
	}
}

// Add validates and persists a new rule, then publishes it. The id and
// timestamps are generated here; a caller-supplied id is honored if unused.
func (p *PolicySet) Add(ctx context.Context, rule *PolicyRule) (string, error) {
	if rule == nil {
		return "", fmt.Errorf("%w: nil rule", ErrInvalidPolicy)
	}
	stored := rule.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if err := validatePolicy(stored); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snap.Load()
	if _, ok := snap.byID[stored.ID]; ok {
		return "", fmt.Errorf("%w: %s", ErrPolicyExists, stored.ID)
	}
	if p.store != nil {
		if err := p.store.InsertPolicy(ctx, stored); err != nil {
			return "", fmt.Errorf("persist policy %s: %w", stored.ID, err)
		}
	}
	p.snap.Store(snap.with(stored))
	return stored.ID, nil
}

// Update merges the partial update into the stored rule, persists it, then
// publishes the merged rule. Unknown ids fail with ErrPolicyNotFound.
// Built-in rules are updated in memory only.
func (p *PolicySet) Update(ctx context.Context, id string, upd PolicyUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snap.Load()
	current, ok := snap.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}

	merged := current.Clone()
	applyUpdate(merged, upd)
	merged.UpdatedAt = time.Now().UTC()
	if err := validatePolicy(merged); err != nil {
		return err
	}
	if p.store != nil && !IsDefaultPolicyID(id) {
		if err := p.store.UpdatePolicy(ctx, merged); err != nil {
			return fmt.Errorf("persist policy update %s: %w", id, err)
		}
	}
	p.snap.Store(snap.with(merged))
	return nil
}

// Remove deletes the rule from the store and from memory. Unknown ids fail
// with ErrPolicyNotFound. Built-in rules are removed from memory only (and
// return after the next reload).
func (p *PolicySet) Remove(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := p.snap.Load()
	if _, ok := snap.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	if p.store != nil && !IsDefaultPolicyID(id) {
		if err := p.store.DeletePolicy(ctx, id); err != nil {
			return fmt.Errorf("persist policy removal %s: %w", id, err)
		}
	}
	p.snap.Store(snap.without(id))
	return nil
}

// GetAll returns a copy of every stored rule, active or not, in insertion
// order.
func (p *PolicySet) GetAll() []*PolicyRule {
	snap := p.snap.Load()
	out := make([]*PolicyRule, 0, len(snap.order))
	for _, r := range snap.order {
		out = append(out, r.Clone())
	}
	return out
}

// Get returns a copy of one rule by id.
func (p *PolicySet) Get(id string) (*PolicyRule, bool) {
	r, ok := p.snap.Load().byID[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// active returns the current snapshot's rules in insertion order for
// evaluation. The returned slice is shared and must not be mutated.
func (p *PolicySet) active() []*PolicyRule {
	return p.snap.Load().order
}

// Reload clears memory and re-runs Load + SeedDefaults.
func (p *PolicySet) Reload(ctx context.Context) error {
	p.mu.Lock()
	p.snap.Store(emptySnapshot())
	p.mu.Unlock()

	if err := p.Load(ctx); err != nil {
		return err
	}
	p.SeedDefaults()
	return nil
}

func applyUpdate(rule *PolicyRule, upd PolicyUpdate) {
	if upd.Name != nil {
		rule.Name = *upd.Name
	}
	if upd.Description != nil {
		rule.Description = *upd.Description
	}
	if upd.Subject != nil {
		rule.Subject = *upd.Subject
	}
	if upd.Action != nil {
		rule.Action = *upd.Action
	}
	if upd.Resource != nil {
		rule.Resource = *upd.Resource
	}
	if upd.Condition != nil {
		rule.Condition = upd.Condition
	} else if upd.ClearCondition {
		rule.Condition = nil
	}
	if upd.Effect != nil {
		rule.Effect = *upd.Effect
	}
	if upd.Priority != nil {
		rule.Priority = *upd.Priority
	}
	if upd.IsActive != nil {
		rule.IsActive = *upd.IsActive
	}
}

func validatePolicy(rule *PolicyRule) error {
	switch {
	case rule.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	case rule.Effect != EffectAllow && rule.Effect != EffectDeny:
		return fmt.Errorf("%w: effect must be allow or deny, got %q", ErrInvalidPolicy, rule.Effect)
	case rule.Action.Operation == "":
		return fmt.Errorf("%w: action operation is required", ErrInvalidPolicy)
	case rule.Subject.EntityType == "":
		return fmt.Errorf("%w: subject entity type is required", ErrInvalidPolicy)
	case rule.Resource.ResourceType == "":
		return fmt.Errorf("%w: resource type is required", ErrInvalidPolicy)
	}
	return nil
}

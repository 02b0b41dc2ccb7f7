package accessctl

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/carevault/accessctl/logger"
)

const (
	defaultLookupTimeout = 3 * time.Second
	defaultDecisionTTL   = time.Second
)

type engineState int32

const (
	stateUninitialized engineState = iota
	stateInitializing
	stateReady
)

// Engine evaluates access requests against the policy set. Construction is
// cheap; policies and role memberships are loaded lazily on first use, with
// concurrent first callers blocking on the single in-flight initialization.
type Engine struct {
	policies    *PolicySet
	roles       *RoleResolver
	eval        *Evaluator
	memberships RoleMembershipStore
	log         logger.Logger

	initMu sync.Mutex
	state  engineState // guarded by initMu

	decisions   *ristretto.Cache
	decisionTTL atomic.Int64 // nanoseconds; read by evaluations, written by ApplyConfig
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	log           logger.Logger
	lookupTimeout time.Duration
	cacheTTL      time.Duration
	cacheEntries  int64
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l logger.Logger) Option {
	return func(o *engineOptions) { o.log = l }
}

// WithLookupTimeout bounds each external store lookup made during condition
// evaluation and role refresh. A lookup that exceeds it counts as a failed
// condition, not an error to the caller.
func WithLookupTimeout(d time.Duration) Option {
	return func(o *engineOptions) { o.lookupTimeout = d }
}

// WithDecisionCache enables a TTL-bounded decision cache. Conditions read
// external state, so the TTL bounds how stale a cached decision can be; the
// cache is dropped wholesale on every policy mutation and reload.
func WithDecisionCache(ttl time.Duration, maxEntries int64) Option {
	return func(o *engineOptions) {
		o.cacheTTL = ttl
		o.cacheEntries = maxEntries
	}
}

// NewEngine wires the engine to its four stores. Any store may be nil when
// its capability is not needed; conditions that would need a missing store
// resolve to "not satisfied".
func NewEngine(policies PolicyStore, records RecordStore, grants GrantStore, memberships RoleMembershipStore, opts ...Option) (*Engine, error) {
	o := engineOptions{
		log:           logger.Nop{},
		lookupTimeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		policies:    NewPolicySet(policies, o.log),
		roles:       NewRoleResolver(memberships, o.lookupTimeout, o.log),
		eval:        newEvaluator(records, grants, o.lookupTimeout, o.log),
		memberships: memberships,
		log:         o.log,
	}
	if o.cacheEntries > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: o.cacheEntries * 10,
			MaxCost:     o.cacheEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("decision cache: %w", err)
		}
		e.decisions = cache
		if o.cacheTTL <= 0 {
			o.cacheTTL = defaultDecisionTTL
		}
		e.decisionTTL.Store(int64(o.cacheTTL))
	}
	return e, nil
}

// ensureReady performs the lazy Uninitialized -> Ready transition. The mutex
// makes initialization single-flight: late arrivals block until the in-flight
// load finishes rather than racing a partially loaded store. Only total store
// unavailability fails initialization; query failures fall back to the
// built-in defaults.
func (e *Engine) ensureReady(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	if e.state == stateReady {
		return nil
	}
	e.state = stateInitializing
	if err := e.policies.Load(ctx); err != nil {
		e.state = stateUninitialized
		return err
	}
	e.policies.SeedDefaults()
	if err := e.roles.Refresh(ctx); err != nil {
		e.log.Warn("role refresh failed, continuing with previous role cache", "error", err.Error())
	}
	e.state = stateReady
	e.log.Info("engine initialized", "policies", len(e.policies.active()))
	return nil
}

// EvaluateAccess answers a single authorization question. It never returns an
// error and never panics: any internal fault resolves to a deny decision with
// a short reason, so a careless caller cannot mistake a failure for an allow.
func (e *Engine) EvaluateAccess(ctx context.Context, req *AccessRequest) (dec *AccessDecision) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("evaluation panicked", "panic", fmt.Sprint(r))
			dec = denyDecision(fmt.Sprintf("evaluation failed: %v", r))
		}
	}()

	if req == nil {
		return denyDecision("evaluation failed: nil request")
	}
	if err := e.ensureReady(ctx); err != nil {
		e.log.Error("engine initialization failed", "error", err.Error())
		return denyDecision(fmt.Sprintf("evaluation failed: %s", err))
	}
	if cached, ok := e.cachedDecision(req); ok {
		return cached
	}
	dec = e.evaluate(ctx, req, nil)
	e.cacheDecision(req, dec)
	return dec
}

// ExplainAccess evaluates like EvaluateAccess but also records, per rule
// considered, why it matched or was skipped. It bypasses the decision cache.
func (e *Engine) ExplainAccess(ctx context.Context, req *AccessRequest) (dec *AccessDecision) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("evaluation panicked", "panic", fmt.Sprint(r))
			dec = denyDecision(fmt.Sprintf("evaluation failed: %v", r))
		}
	}()

	if req == nil {
		return denyDecision("evaluation failed: nil request")
	}
	if err := e.ensureReady(ctx); err != nil {
		e.log.Error("engine initialization failed", "error", err.Error())
		return denyDecision(fmt.Sprintf("evaluation failed: %s", err))
	}
	trace := make([]string, 0, 16)
	dec = e.evaluate(ctx, req, &trace)
	dec.Trace = trace
	return dec
}

// BatchEvaluate answers many requests in order. Each entry is independent;
// one failing request denies only itself.
func (e *Engine) BatchEvaluate(ctx context.Context, reqs []*AccessRequest) []*AccessDecision {
	out := make([]*AccessDecision, len(reqs))
	for i, req := range reqs {
		out[i] = e.EvaluateAccess(ctx, req)
	}
	return out
}

// evaluate runs the first-match-wins protocol: filter to candidates, sort by
// priority descending (stable, so ties keep store insertion order), then take
// the first candidate whose condition is satisfied.
func (e *Engine) evaluate(ctx context.Context, req *AccessRequest, trace *[]string) *AccessDecision {
	all := e.policies.active()
	candidates := make([]*PolicyRule, 0, len(all))
	for _, rule := range all {
		if isCandidate(rule, req, e.roles) {
			candidates = append(candidates, rule)
			continue
		}
		if trace != nil {
			*trace = append(*trace, fmt.Sprintf("rule %s (%s): no match", rule.ID, rule.Name))
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	var conditions []string
	for _, cand := range candidates {
		if cand.Condition != nil {
			conditions = append(conditions, cand.Condition.Expression())
		}
		if e.eval.Satisfied(ctx, cand.Condition, req) {
			if trace != nil {
				*trace = append(*trace, fmt.Sprintf("rule %s (%s, priority %d): matched, condition satisfied, effect %s",
					cand.ID, cand.Name, cand.Priority, cand.Effect))
			}
			e.log.Debug("access decided",
				"subject", req.Subject.EntityID,
				"operation", string(req.Action.Operation),
				"resource", req.Resource.ResourceID,
				"rule", cand.ID,
				"effect", string(cand.Effect))
			return &AccessDecision{
				Decision:     cand.Effect,
				Reason:       "applied policy: " + cand.Name,
				AppliedRules: []string{cand.ID},
				Conditions:   conditions,
				Timestamp:    time.Now().UTC(),
			}
		}
		if trace != nil {
			*trace = append(*trace, fmt.Sprintf("rule %s (%s, priority %d): matched, condition not satisfied",
				cand.ID, cand.Name, cand.Priority))
		}
	}

	dec := denyDecision("no matching policy")
	dec.Conditions = conditions
	return dec
}

func denyDecision(reason string) *AccessDecision {
	return &AccessDecision{
		Decision:     EffectDeny,
		Reason:       reason,
		AppliedRules: []string{},
		Timestamp:    time.Now().UTC(),
	}
}

// ============================================================================
// POLICY ADMINISTRATION
// ============================================================================

// AddPolicy persists a new rule and makes it effective immediately. Returns
// the generated id.
func (e *Engine) AddPolicy(ctx context.Context, rule *PolicyRule) (string, error) {
	if err := e.ensureReady(ctx); err != nil {
		return "", err
	}
	id, err := e.policies.Add(ctx, rule)
	if err != nil {
		e.log.Error("add policy failed", "error", err.Error())
		return "", err
	}
	e.invalidateDecisionCache()
	e.log.Info("policy added", "id", id, "name", rule.Name, "priority", rule.Priority)
	return id, nil
}

// UpdatePolicy applies a partial update to a rule by id.
func (e *Engine) UpdatePolicy(ctx context.Context, id string, upd PolicyUpdate) error {
	if err := e.ensureReady(ctx); err != nil {
		return err
	}
	if err := e.policies.Update(ctx, id, upd); err != nil {
		e.log.Error("update policy failed", "id", id, "error", err.Error())
		return err
	}
	e.invalidateDecisionCache()
	e.log.Info("policy updated", "id", id)
	return nil
}

// RemovePolicy deletes a rule by id.
func (e *Engine) RemovePolicy(ctx context.Context, id string) error {
	if err := e.ensureReady(ctx); err != nil {
		return err
	}
	if err := e.policies.Remove(ctx, id); err != nil {
		e.log.Error("remove policy failed", "id", id, "error", err.Error())
		return err
	}
	e.invalidateDecisionCache()
	e.log.Info("policy removed", "id", id)
	return nil
}

// GetAllPolicies returns a snapshot copy of every rule, active or not. It
// never fails: if lazy initialization cannot reach the store, the snapshot
// simply reflects whatever is in memory.
func (e *Engine) GetAllPolicies(ctx context.Context) []*PolicyRule {
	if err := e.ensureReady(ctx); err != nil {
		e.log.Error("engine initialization failed", "error", err.Error())
	}
	return e.policies.GetAll()
}

// GetPolicy returns one rule by id.
func (e *Engine) GetPolicy(ctx context.Context, id string) (*PolicyRule, error) {
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	rule, ok := e.policies.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	return rule, nil
}

// ReloadPolicies drops the in-memory rule set and rebuilds it from the store,
// re-seeds the built-ins, and refreshes the role cache.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	e.state = stateInitializing
	if err := e.policies.Reload(ctx); err != nil {
		e.state = stateUninitialized
		e.log.Error("policy reload failed", "error", err.Error())
		return err
	}
	if err := e.roles.Refresh(ctx); err != nil {
		e.log.Warn("role refresh failed, continuing with previous role cache", "error", err.Error())
	}
	e.state = stateReady
	e.invalidateDecisionCache()
	e.log.Info("policies reloaded", "policies", len(e.policies.active()))
	return nil
}

// RefreshRoles rebuilds the role membership cache on demand.
func (e *Engine) RefreshRoles(ctx context.Context) error {
	return e.roles.Refresh(ctx)
}

// ============================================================================
// DECISION CACHE
// ============================================================================

// decisionCacheKey renders the request parts that matching depends on.
// Every field is quoted so caller-controlled strings containing the separator
// cannot make two distinct requests render the same key. Requests carrying
// free-form subject attributes or context are not cached: the key cannot
// capture them cheaply and a wrong hit would be a security bug, so those
// requests always evaluate.
func decisionCacheKey(req *AccessRequest) (string, bool) {
	if len(req.Subject.Attributes) > 0 || len(req.Context) > 0 {
		return "", false
	}
	return fmt.Sprintf("%q|%q|%q|%q|%q",
		string(req.Subject.EntityType), req.Subject.EntityID,
		string(req.Action.Operation),
		string(req.Resource.ResourceType), req.Resource.ResourceID), true
}

// cloneDecision copies a decision and its slices so cache entries and callers
// never share mutable state.
func cloneDecision(dec *AccessDecision) *AccessDecision {
	cp := *dec
	cp.AppliedRules = make([]string, len(dec.AppliedRules))
	copy(cp.AppliedRules, dec.AppliedRules)
	if dec.Conditions != nil {
		cp.Conditions = append([]string{}, dec.Conditions...)
	}
	if dec.Trace != nil {
		cp.Trace = append([]string{}, dec.Trace...)
	}
	return &cp
}

func (e *Engine) cachedDecision(req *AccessRequest) (*AccessDecision, bool) {
	if e.decisions == nil {
		return nil, false
	}
	key, ok := decisionCacheKey(req)
	if !ok {
		return nil, false
	}
	v, ok := e.decisions.Get(key)
	if !ok {
		return nil, false
	}
	dec, ok := v.(*AccessDecision)
	if !ok {
		return nil, false
	}
	return cloneDecision(dec), true
}

func (e *Engine) cacheDecision(req *AccessRequest, dec *AccessDecision) {
	if e.decisions == nil {
		return
	}
	key, ok := decisionCacheKey(req)
	if !ok {
		return
	}
	e.decisions.SetWithTTL(key, cloneDecision(dec), 1, time.Duration(e.decisionTTL.Load()))
}

func (e *Engine) invalidateDecisionCache() {
	if e.decisions != nil {
		e.decisions.Clear()
	}
}

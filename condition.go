package accessctl

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/carevault/accessctl/logger"
)

// Condition is a closed set of rule conditions. A nil Condition on a rule
// means the rule applies unconditionally. Implementations outside this
// package are not possible; evaluation type-switches over the three kinds.
type Condition interface {
	// Expression renders the canonical text form of the condition, used in
	// decisions, logs and persistence.
	Expression() string
	sealedCondition()
}

// OwnershipCondition is satisfied when the request subject owns the resource:
// the record's patient id equals the subject's entity id.
type OwnershipCondition struct{}

func (OwnershipCondition) Expression() string { return "subject.id = resource.patient_id" }
func (OwnershipCondition) sealedCondition()   {}

// GrantCondition is satisfied when an active, unexpired permission grant
// links the subject to the resource at the named permission level or higher.
type GrantCondition struct {
	Permission Operation
}

func (c GrantCondition) Expression() string {
	return fmt.Sprintf("has_permission(subject, resource, %q)", string(c.Permission))
}
func (GrantCondition) sealedCondition() {}

// UnsupportedCondition preserves an expression this engine does not
// understand. It is never satisfied; evaluation logs a warning instead.
type UnsupportedCondition struct {
	Raw string
}

func (c UnsupportedCondition) Expression() string { return c.Raw }
func (UnsupportedCondition) sealedCondition()     {}

var (
	ownershipExpr = regexp.MustCompile(`^\s*subject\.id\s*=\s*resource\.patient_id\s*$`)
	grantExpr     = regexp.MustCompile(`^\s*has_permission\(\s*subject\s*,\s*resource\s*,\s*"([^"]+)"\s*\)\s*$`)
)

// ParseCondition maps a condition expression to its structured form. Empty
// text yields nil (unconditional); unrecognized text is kept verbatim as an
// UnsupportedCondition so the rule still loads but never grants access.
func ParseCondition(expr string) Condition {
	if expr == "" {
		return nil
	}
	if ownershipExpr.MatchString(expr) {
		return OwnershipCondition{}
	}
	if m := grantExpr.FindStringSubmatch(expr); m != nil {
		return GrantCondition{Permission: Operation(m[1])}
	}
	return UnsupportedCondition{Raw: expr}
}

// Evaluator resolves conditions against the record and grant stores. Every
// lookup is bounded by a timeout, and every failure path resolves to "not
// satisfied": a broken store must never widen access or abort evaluation.
type Evaluator struct {
	records RecordStore
	grants  GrantStore
	timeout atomic.Int64 // nanoseconds; retunable at runtime while lookups run
	log     logger.Logger
}

func newEvaluator(records RecordStore, grants GrantStore, timeout time.Duration, log logger.Logger) *Evaluator {
	e := &Evaluator{records: records, grants: grants, log: log}
	e.timeout.Store(int64(timeout))
	return e
}

func (e *Evaluator) setTimeout(d time.Duration) {
	e.timeout.Store(int64(d))
}

// Satisfied reports whether the condition holds for the request. Nil
// conditions are always satisfied.
func (e *Evaluator) Satisfied(ctx context.Context, cond Condition, req *AccessRequest) bool {
	switch c := cond.(type) {
	case nil:
		return true
	case OwnershipCondition:
		return e.checkOwnership(ctx, req)
	case GrantCondition:
		return e.checkGrant(ctx, c.Permission, req)
	case UnsupportedCondition:
		e.log.Warn("unsupported condition treated as unsatisfied", "expression", c.Raw)
		return false
	default:
		e.log.Warn("unknown condition kind treated as unsatisfied", "expression", cond.Expression())
		return false
	}
}

func (e *Evaluator) checkOwnership(ctx context.Context, req *AccessRequest) bool {
	if e.records == nil {
		e.log.Error("ownership check without record store", "resource", req.Resource.ResourceID)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.timeout.Load()))
	defer cancel()
	owner, err := e.records.OwnerOf(ctx, req.Resource.ResourceID)
	if err != nil {
		e.log.Error("ownership lookup failed",
			"resource", req.Resource.ResourceID, "error", err.Error())
		return false
	}
	return owner != "" && owner == req.Subject.EntityID
}

func (e *Evaluator) checkGrant(ctx context.Context, permission Operation, req *AccessRequest) bool {
	if e.grants == nil {
		e.log.Error("grant check without grant store", "resource", req.Resource.ResourceID)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.timeout.Load()))
	defer cancel()
	ok, err := e.grants.HasActiveGrant(ctx, req.Subject.EntityID, req.Resource.ResourceID, permission)
	if err != nil {
		e.log.Error("grant lookup failed",
			"subject", req.Subject.EntityID,
			"resource", req.Resource.ResourceID,
			"permission", string(permission),
			"error", err.Error())
		return false
	}
	return ok
}

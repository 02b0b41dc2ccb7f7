package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/carevault/accessctl"
)

// SQLPolicyStore persists policy rules in SQL (squealx). Selectors are stored
// as JSON columns and the condition as its canonical expression text.
type SQLPolicyStore struct {
	db *squealx.DB
}

func NewSQLPolicyStore(db *squealx.DB) *SQLPolicyStore {
	return &SQLPolicyStore{db: db}
}

const policyColumns = `id, name, description, subject_json, action_json, resource_json, condition_text, effect, priority, is_active, created_at, updated_at`

func (s *SQLPolicyStore) ListActivePolicies(ctx context.Context) ([]*accessctl.PolicyRule, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE is_active = 1 ORDER BY priority DESC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*accessctl.PolicyRule, 0)
	for r.Next() {
		rule, err := scanPolicy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

func (s *SQLPolicyStore) InsertPolicy(ctx context.Context, rule *accessctl.PolicyRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	q := `INSERT INTO policies(` + policyColumns + `) VALUES(:id, :name, :description, :subject_json, :action_json, :resource_json, :condition_text, :effect, :priority, :is_active, :created_at, :updated_at)`
	_, err := s.db.NamedExecContext(ctx, q, policyArgs(rule))
	return err
}

func (s *SQLPolicyStore) UpdatePolicy(ctx context.Context, rule *accessctl.PolicyRule) error {
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = time.Now()
	}
	q := `UPDATE policies SET name=:name, description=:description, subject_json=:subject_json, action_json=:action_json, resource_json=:resource_json, condition_text=:condition_text, effect=:effect, priority=:priority, is_active=:is_active, updated_at=:updated_at WHERE id=:id`
	res, err := s.db.NamedExecContext(ctx, q, policyArgs(rule))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", accessctl.ErrPolicyNotFound, rule.ID)
	}
	return nil
}

func (s *SQLPolicyStore) DeletePolicy(ctx context.Context, id string) error {
	q := `DELETE FROM policies WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

// GetPolicy reads one rule by id, mainly for administrative tooling.
func (s *SQLPolicyStore) GetPolicy(ctx context.Context, id string) (*accessctl.PolicyRule, error) {
	q := `SELECT ` + policyColumns + ` FROM policies WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("%w: %s", accessctl.ErrPolicyNotFound, id)
	}
	return scanPolicy(r)
}

func policyArgs(rule *accessctl.PolicyRule) map[string]any {
	subject, _ := json.Marshal(rule.Subject)
	action, _ := json.Marshal(rule.Action)
	resource, _ := json.Marshal(rule.Resource)
	cond := ""
	if rule.Condition != nil {
		cond = rule.Condition.Expression()
	}
	return map[string]any{
		"id":             rule.ID,
		"name":           rule.Name,
		"description":    rule.Description,
		"subject_json":   string(subject),
		"action_json":    string(action),
		"resource_json":  string(resource),
		"condition_text": cond,
		"effect":         string(rule.Effect),
		"priority":       rule.Priority,
		"is_active":      boolToInt(rule.IsActive),
		"created_at":     rule.CreatedAt,
		"updated_at":     rule.UpdatedAt,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(r rowScanner) (*accessctl.PolicyRule, error) {
	var id, name, description, subjectJSON, actionJSON, resourceJSON, cond, effect string
	var priority, activeInt int
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&id, &name, &description, &subjectJSON, &actionJSON, &resourceJSON, &cond, &effect, &priority, &activeInt, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	rule := &accessctl.PolicyRule{
		ID:          id,
		Name:        name,
		Description: description,
		Condition:   accessctl.ParseCondition(cond),
		Effect:      accessctl.Effect(effect),
		Priority:    priority,
		IsActive:    activeInt != 0,
		CreatedAt:   scanTime(createdRaw),
		UpdatedAt:   scanTime(updatedRaw),
	}
	if err := json.Unmarshal([]byte(subjectJSON), &rule.Subject); err != nil {
		return nil, fmt.Errorf("policy %s: subject: %w", id, err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &rule.Action); err != nil {
		return nil, fmt.Errorf("policy %s: action: %w", id, err)
	}
	if err := json.Unmarshal([]byte(resourceJSON), &rule.Resource); err != nil {
		return nil, fmt.Errorf("policy %s: resource: %w", id, err)
	}
	return rule, nil
}

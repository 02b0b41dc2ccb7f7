package accessctl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a declarative description of rules and role memberships, loaded
// from YAML or JSON and applied to an engine as an upsert.
type Config struct {
	Version     uint16           `json:"version" yaml:"version"`
	Engine      EngineConfig     `json:"engine,omitempty" yaml:"engine,omitempty"`
	Policies    []RuleConfig     `json:"policies" yaml:"policies"`
	Memberships []RoleMembership `json:"memberships,omitempty" yaml:"memberships,omitempty"`
}

// EngineConfig carries tunables that can also be set via engine options.
type EngineConfig struct {
	LookupTimeoutMS      int64 `json:"lookup_timeout_ms,omitempty" yaml:"lookup_timeout_ms,omitempty"`
	DecisionCacheTTLMS   int64 `json:"decision_cache_ttl_ms,omitempty" yaml:"decision_cache_ttl_ms,omitempty"`
	DecisionCacheEntries int64 `json:"decision_cache_entries,omitempty" yaml:"decision_cache_entries,omitempty"`
}

// RuleConfig is the serialized form of a PolicyRule. The condition is the
// expression text; it is parsed into its structured form on apply. Active
// defaults to true when omitted.
type RuleConfig struct {
	ID          string           `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Subject     SubjectSelector  `json:"subject" yaml:"subject"`
	Action      ActionSelector   `json:"action" yaml:"action"`
	Resource    ResourceSelector `json:"resource" yaml:"resource"`
	Condition   string           `json:"condition,omitempty" yaml:"condition,omitempty"`
	Effect      Effect           `json:"effect" yaml:"effect"`
	Priority    int              `json:"priority" yaml:"priority"`
	IsActive    *bool            `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

// Rule converts the serialized form to a PolicyRule.
func (rc RuleConfig) Rule() *PolicyRule {
	active := true
	if rc.IsActive != nil {
		active = *rc.IsActive
	}
	return &PolicyRule{
		ID:          rc.ID,
		Name:        rc.Name,
		Description: rc.Description,
		Subject:     rc.Subject,
		Action:      rc.Action,
		Resource:    rc.Resource,
		Condition:   ParseCondition(rc.Condition),
		Effect:      rc.Effect,
		Priority:    rc.Priority,
		IsActive:    active,
	}
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads a config file, picking the codec from the extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return l.LoadJSON(data)
	}
	return l.LoadYAML(data)
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks every rule for the same constraints the engine enforces on
// add, plus duplicate ids within the file.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Policies))
	for i, rc := range c.Policies {
		rule := rc.Rule()
		if rule.ID == "" {
			rule.ID = fmt.Sprintf("policy[%d]", i)
		} else {
			if _, dup := seen[rule.ID]; dup {
				return fmt.Errorf("%w: duplicate id %s", ErrInvalidPolicy, rule.ID)
			}
			seen[rule.ID] = struct{}{}
		}
		if err := validatePolicy(rule); err != nil {
			return fmt.Errorf("policy %s: %w", rule.ID, err)
		}
		if _, unsupported := rule.Condition.(UnsupportedCondition); unsupported {
			return fmt.Errorf("%w: policy %s: %q", ErrUnsupportedCondition, rule.ID, rc.Condition)
		}
	}
	for _, m := range c.Memberships {
		if m.SubjectID == "" || m.Role == "" {
			return fmt.Errorf("membership needs subject_id and role, got %q/%q", m.SubjectID, m.Role)
		}
	}
	return nil
}

// RoleMembershipWriter is implemented by membership stores that accept
// assignments; ApplyConfig uses it when present.
type RoleMembershipWriter interface {
	AssignRole(ctx context.Context, subjectID, role string) error
}

// ApplyConfig upserts the config's rules into the engine (update when the id
// exists, add otherwise), assigns memberships when the membership store is
// writable, and refreshes the role cache. Engine tunables are applied first.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.ensureReady(ctx); err != nil {
		return err
	}
	if cfg.Engine.LookupTimeoutMS > 0 {
		d := time.Duration(cfg.Engine.LookupTimeoutMS) * time.Millisecond
		e.eval.setTimeout(d)
		e.roles.setTimeout(d)
	}
	if cfg.Engine.DecisionCacheTTLMS > 0 && e.decisions != nil {
		e.decisionTTL.Store(int64(time.Duration(cfg.Engine.DecisionCacheTTLMS) * time.Millisecond))
	}

	for _, rc := range cfg.Policies {
		rule := rc.Rule()
		if rule.ID != "" {
			if _, ok := e.policies.Get(rule.ID); ok {
				active := rule.IsActive
				upd := PolicyUpdate{
					Name:        &rule.Name,
					Description: &rule.Description,
					Subject:     &rule.Subject,
					Action:      &rule.Action,
					Resource:    &rule.Resource,
					Condition:   rule.Condition,
					Effect:      &rule.Effect,
					Priority:    &rule.Priority,
					IsActive:    &active,
				}
				if rule.Condition == nil {
					upd.ClearCondition = true
				}
				if err := e.UpdatePolicy(ctx, rule.ID, upd); err != nil {
					return fmt.Errorf("update policy %s: %w", rule.ID, err)
				}
				continue
			}
		}
		if _, err := e.AddPolicy(ctx, rule); err != nil {
			return fmt.Errorf("add policy %s: %w", rule.Name, err)
		}
	}

	if writer, ok := e.memberships.(RoleMembershipWriter); ok {
		for _, m := range cfg.Memberships {
			if err := writer.AssignRole(ctx, m.SubjectID, m.Role); err != nil {
				return fmt.Errorf("assign role %s to %s: %w", m.Role, m.SubjectID, err)
			}
		}
	} else if len(cfg.Memberships) > 0 {
		e.log.Warn("membership store is read-only, skipping membership assignments",
			"count", len(cfg.Memberships))
	}

	if err := e.roles.Refresh(ctx); err != nil {
		e.log.Warn("role refresh failed after config apply", "error", err.Error())
	}
	return nil
}

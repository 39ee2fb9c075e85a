package model

import "time"

// RuleType selects which stage evaluates a BusinessRule.
type RuleType string

// Rule type constants.
const (
	RuleTypeClassification RuleType = "classification"
	RuleTypePolicy         RuleType = "policy"
)

// BusinessRule is a user-authored override evaluated before built-in heuristics.
//
// Conditions map a normalized field name to either a literal (string fields match
// by case-insensitive containment, everything else by equality) or an operator map
// such as {"gt": 500}. Expression, when set, is a CEL boolean expression over
// `record` that must also hold.
type BusinessRule struct {
	CreatedAt  time.Time      `json:"created_at" yaml:"-"`
	Conditions map[string]any `json:"conditions" yaml:"conditions"`
	Actions    map[string]any `json:"actions,omitempty" yaml:"actions,omitempty"`
	ID         string         `json:"id" yaml:"id,omitempty"`
	UserID     string         `json:"user_id" yaml:"user_id,omitempty"`
	RuleType   RuleType       `json:"rule_type" yaml:"rule_type"`
	Name       string         `json:"name" yaml:"name"`
	Expression string         `json:"expression,omitempty" yaml:"expression,omitempty"`
	Priority   int            `json:"priority" yaml:"priority"`
	IsActive   bool           `json:"is_active" yaml:"is_active"`
}

// ActionString returns a string-valued action, or fallback when absent.
func (r *BusinessRule) ActionString(key, fallback string) string {
	if r.Actions == nil {
		return fallback
	}
	if v, ok := r.Actions[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

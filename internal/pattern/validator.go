package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/opsflow/internal/model"
)

// ErrInvalidRule reports a business rule that could never be evaluated.
var ErrInvalidRule = errors.New("invalid business rule")

// Validator checks business rules before they are stored.
type Validator struct {
	matcher *MatcherImpl
}

// NewValidator creates a rule validator that compiles expressions with matcher.
func NewValidator(matcher *MatcherImpl) *Validator {
	return &Validator{matcher: matcher}
}

// Validate ensures rule has a known type, well-formed conditions, a compilable
// expression and the actions its stage needs.
func (v *Validator) Validate(rule model.BusinessRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRule)
	}
	if len(rule.Conditions) == 0 && strings.TrimSpace(rule.Expression) == "" {
		return fmt.Errorf("%w: rule %q has neither conditions nor an expression", ErrInvalidRule, rule.Name)
	}

	probe := model.NormalizedRecord{}
	for field, want := range rule.Conditions {
		if _, ok := probe.Field(field); !ok {
			return fmt.Errorf("%w: rule %q references unknown field %q", ErrInvalidRule, rule.Name, field)
		}
		if ops, ok := want.(map[string]any); ok {
			if len(ops) == 0 {
				return fmt.Errorf("%w: rule %q has an empty operator condition on %q", ErrInvalidRule, rule.Name, field)
			}
			for op := range ops {
				if _, known := operatorAliases[strings.ToLower(op)]; !known {
					return fmt.Errorf("%w: rule %q uses unknown operator %q", ErrInvalidRule, rule.Name, op)
				}
			}
		}
	}

	if expr := strings.TrimSpace(rule.Expression); expr != "" {
		if err := v.matcher.Compile(expr); err != nil {
			return fmt.Errorf("%w: rule %q: %w", ErrInvalidRule, rule.Name, err)
		}
	}

	switch rule.RuleType {
	case model.RuleTypeClassification:
		if rule.ActionString("category", "") == "" {
			return fmt.Errorf("%w: classification rule %q needs a category action", ErrInvalidRule, rule.Name)
		}
	case model.RuleTypePolicy:
		severity := model.Severity(rule.ActionString("severity", string(model.SeverityMedium)))
		if severity.Rank() == 0 {
			return fmt.Errorf("%w: policy rule %q has unknown severity %q", ErrInvalidRule, rule.Name, severity)
		}
	default:
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, rule.RuleType)
	}
	return nil
}

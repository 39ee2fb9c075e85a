// Package policy checks normalized records against built-in compliance checks
// and user-authored policy rules.
package policy

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/pattern"
)

// Built-in rule names as they appear in violations.
const (
	RuleApprovalThreshold    = "approval_threshold"
	RuleMissingDocumentation = "missing_documentation"
	RuleWeekendTransaction   = "weekend_transaction"
	RuleMealsLimit           = "meals_limit"
	RulePotentialDuplicate   = "potential_duplicate"
)

const (
	criticalMultiplier        = 5
	undocumentedAmountLimit   = 500.0
	weekendAmountLimit        = 1000.0
	mealsAmountLimit          = 200.0
	defaultRuleRequiredAction = "review"
)

// Flags carries what earlier stages learned about the record.
type Flags struct {
	Category           string
	PotentialDuplicate bool
}

// Evaluator runs the policy checks.
type Evaluator struct {
	matcher pattern.Matcher
}

// NewEvaluator creates an Evaluator that evaluates custom rules with matcher.
func NewEvaluator(matcher pattern.Matcher) *Evaluator {
	return &Evaluator{matcher: matcher}
}

// Evaluate applies the built-in checks in order, then the first matching custom
// policy rule. A record is compliant when nothing is violated and requires approval
// when any violation is high or critical.
func (e *Evaluator) Evaluate(rec model.NormalizedRecord, threshold float64, rules []model.BusinessRule, flags Flags) model.PolicyResult {
	violations := builtinViolations(rec, threshold, flags)

	if v, ok := e.customViolation(rec, rules, flags); ok {
		violations = append(violations, v)
	}

	result := model.PolicyResult{
		Violations:  violations,
		IsCompliant: len(violations) == 0,
	}
	for _, v := range violations {
		if v.Severity.IsSevere() {
			result.RequiresApproval = true
			break
		}
	}
	if result.Violations == nil {
		result.Violations = []model.Violation{}
	}
	return result
}

func builtinViolations(rec model.NormalizedRecord, threshold float64, flags Flags) []model.Violation {
	var violations []model.Violation

	if threshold > 0 && rec.Amount > threshold {
		severity := model.SeverityHigh
		if rec.Amount > threshold*criticalMultiplier {
			severity = model.SeverityCritical
		}
		violations = append(violations, model.Violation{
			Rule:           RuleApprovalThreshold,
			Severity:       severity,
			Message:        fmt.Sprintf("Amount %.2f exceeds approval threshold %.2f", rec.Amount, threshold),
			RequiredAction: "approval",
		})
	}

	if rec.Amount > undocumentedAmountLimit && rec.Description == "" && rec.Counterparty == "" {
		violations = append(violations, model.Violation{
			Rule:           RuleMissingDocumentation,
			Severity:       model.SeverityMedium,
			Message:        fmt.Sprintf("Amount %.2f has neither description nor counterparty", rec.Amount),
			RequiredAction: "add_documentation",
		})
	}

	if isWeekend(rec.TransactionDate) && rec.Amount > weekendAmountLimit {
		violations = append(violations, model.Violation{
			Rule:     RuleWeekendTransaction,
			Severity: model.SeverityLow,
			Message:  fmt.Sprintf("Transaction of %.2f dated on a %s", rec.Amount, rec.TransactionDate.Weekday()),
		})
	}

	if flags.Category == "meals" && rec.Amount > mealsAmountLimit {
		violations = append(violations, model.Violation{
			Rule:           RuleMealsLimit,
			Severity:       model.SeverityLow,
			Message:        fmt.Sprintf("Meal expense %.2f exceeds %.2f", rec.Amount, mealsAmountLimit),
			RequiredAction: "attach_receipt",
		})
	}

	if flags.PotentialDuplicate {
		violations = append(violations, model.Violation{
			Rule:           RulePotentialDuplicate,
			Severity:       model.SeverityMedium,
			Message:        "Transaction matches an existing operation",
			RequiredAction: "confirm_not_duplicate",
		})
	}

	return violations
}

func (e *Evaluator) customViolation(rec model.NormalizedRecord, rules []model.BusinessRule, flags Flags) (model.Violation, bool) {
	policyRules := make([]model.BusinessRule, 0, len(rules))
	for _, rule := range rules {
		if rule.RuleType == model.RuleTypePolicy {
			policyRules = append(policyRules, rule)
		}
	}
	if len(policyRules) == 0 {
		return model.Violation{}, false
	}

	// Custom rules see the classified category, not the receipt suggestion.
	if flags.Category != "" {
		rec.Category = flags.Category
	}

	rule, err := e.matcher.FirstMatch(policyRules, rec)
	if err != nil {
		slog.Warn("Skipped policy rule that failed to evaluate", "error", err)
	}
	if rule == nil {
		return model.Violation{}, false
	}

	severity := model.Severity(rule.ActionString("severity", string(model.SeverityMedium)))
	if severity.Rank() == 0 {
		severity = model.SeverityMedium
	}
	return model.Violation{
		Rule:           rule.Name,
		Severity:       severity,
		Message:        rule.ActionString("message", fmt.Sprintf("Matched policy rule %q", rule.Name)),
		RequiredAction: rule.ActionString("required_action", defaultRuleRequiredAction),
	}, true
}

func isWeekend(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	day := t.Weekday()
	return day == time.Saturday || day == time.Sunday
}

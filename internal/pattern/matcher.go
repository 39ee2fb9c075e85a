package pattern

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Veraticus/opsflow/internal/model"
)

// MatcherImpl implements Matcher. Compiled CEL programs are cached by source text.
type MatcherImpl struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// NewMatcher creates a matcher whose expressions see the record as `record`.
func NewMatcher() (*MatcherImpl, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &MatcherImpl{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// FirstMatch returns the first active rule, by descending priority, that matches rec.
// A rule whose expression fails to evaluate is skipped and the error returned alongside
// any later match so callers can record it.
func (m *MatcherImpl) FirstMatch(rules []model.BusinessRule, rec model.NormalizedRecord) (*model.BusinessRule, error) {
	ordered := make([]model.BusinessRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			ordered = append(ordered, rule)
		}
	}
	sortByPriority(ordered)

	var firstErr error
	for i := range ordered {
		ok, err := m.Matches(ordered[i], rec)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return &ordered[i], firstErr
		}
	}
	return nil, firstErr
}

// Matches reports whether rule holds for rec. A rule with neither conditions nor
// an expression never matches.
func (m *MatcherImpl) Matches(rule model.BusinessRule, rec model.NormalizedRecord) (bool, error) {
	if len(rule.Conditions) == 0 && strings.TrimSpace(rule.Expression) == "" {
		return false, nil
	}

	for field, want := range rule.Conditions {
		got, ok := rec.Field(field)
		if !ok {
			return false, nil
		}
		matched, err := matchCondition(got, want)
		if err != nil {
			return false, fmt.Errorf("rule %q field %q: %w", rule.Name, field, err)
		}
		if !matched {
			return false, nil
		}
	}

	if expr := strings.TrimSpace(rule.Expression); expr != "" {
		ok, err := m.evaluateExpr(expr, rec)
		if err != nil {
			return false, fmt.Errorf("rule %q: %w", rule.Name, err)
		}
		return ok, nil
	}
	return true, nil
}

// Compile checks that expr is a valid boolean expression.
func (m *MatcherImpl) Compile(expr string) error {
	_, err := m.program(expr)
	return err
}

func (m *MatcherImpl) program(expr string) (cel.Program, error) {
	m.mu.RLock()
	prg, hit := m.prgCache[expr]
	m.mu.RUnlock()
	if hit {
		return prg, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prg, hit = m.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prg, err := m.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	m.prgCache[expr] = prg
	return prg, nil
}

func (m *MatcherImpl) evaluateExpr(expr string, rec model.NormalizedRecord) (bool, error) {
	prg, err := m.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"record": rec.AsMap()})
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval: result is %T, not bool", out.Value())
	}
	return val, nil
}

// matchCondition applies one condition. Literals match strings by case-insensitive
// containment and everything else by equality; maps are operator conditions.
func matchCondition(got, want any) (bool, error) {
	ops, isOps := want.(map[string]any)
	if !isOps {
		if s, ok := got.(string); ok {
			return strings.Contains(strings.ToLower(s), strings.ToLower(fmt.Sprint(want))), nil
		}
		return equal(got, want), nil
	}

	if len(ops) == 0 {
		return false, fmt.Errorf("empty operator condition")
	}
	for rawOp, operand := range ops {
		op, known := operatorAliases[strings.ToLower(rawOp)]
		if !known {
			return false, fmt.Errorf("unknown operator %q", rawOp)
		}
		if !applyOperator(op, got, operand) {
			return false, nil
		}
	}
	return true, nil
}

func applyOperator(op string, got, operand any) bool {
	switch op {
	case OpEqual:
		return equal(got, operand)
	case OpContains:
		return strings.Contains(strings.ToLower(fmt.Sprint(got)), strings.ToLower(fmt.Sprint(operand)))
	}

	a, okA := toFloat(got)
	b, okB := toFloat(operand)
	if !okA || !okB {
		return false
	}
	switch op {
	case OpGreater:
		return a > b
	case OpLess:
		return a < b
	case OpGreaterEqual:
		return a >= b
	case OpLessEqual:
		return a <= b
	}
	return false
}

func equal(got, want any) bool {
	if a, ok := toFloat(got); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
	}
	return strings.EqualFold(fmt.Sprint(got), fmt.Sprint(want))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// sortByPriority sorts rules by priority (highest first), keeping the given order for ties.
func sortByPriority(rules []model.BusinessRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}

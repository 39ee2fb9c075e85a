package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
)

// SaveBusinessRule inserts or replaces a business rule.
func (s *SQLStorage) SaveBusinessRule(ctx context.Context, rule *model.BusinessRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	conditions, err := encodeJSON(rule.Conditions)
	if err != nil {
		return err
	}
	actions, err := encodeJSON(rule.Actions)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO business_rules (
			id, user_id, rule_type, name, conditions, actions, expression, priority, is_active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			rule_type = excluded.rule_type,
			name = excluded.name,
			conditions = excluded.conditions,
			actions = excluded.actions,
			expression = excluded.expression,
			priority = excluded.priority,
			is_active = excluded.is_active`,
		rule.ID, rule.UserID, string(rule.RuleType), rule.Name, conditions, actions,
		rule.Expression, rule.Priority, rule.IsActive, rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save business rule: %w", err)
	}
	return nil
}

// ListBusinessRules returns a user's active rules of one type, highest priority first.
// An empty ruleType returns active rules of every type.
func (s *SQLStorage) ListBusinessRules(ctx context.Context, userID string, ruleType model.RuleType) ([]model.BusinessRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, rule_type, name, conditions, actions, expression, priority, is_active, created_at
		FROM business_rules WHERE user_id = ? AND is_active = ?`
	args := []any{userID, true}
	if ruleType != "" {
		query += ` AND rule_type = ?`
		args = append(args, string(ruleType))
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query business rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.BusinessRule
	for rows.Next() {
		var (
			rule                      model.BusinessRule
			kind, conditions, actions string
		)
		if err := rows.Scan(&rule.ID, &rule.UserID, &kind, &rule.Name, &conditions, &actions,
			&rule.Expression, &rule.Priority, &rule.IsActive, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan business rule: %w", err)
		}
		rule.RuleType = model.RuleType(kind)
		if err := decodeJSON(conditions, &rule.Conditions); err != nil {
			return nil, err
		}
		if err := decodeJSON(actions, &rule.Actions); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

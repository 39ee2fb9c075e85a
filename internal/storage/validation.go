package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidEvent       = errors.New("invalid event")
	ErrInvalidOperation   = errors.New("invalid master operation")
	ErrInvalidRule        = errors.New("invalid business rule")
	ErrInvalidTransition  = errors.New("invalid operation status transition")
	ErrNestedTransaction  = errors.New("transaction already in progress")
	ErrSchemaVersionDrift = errors.New("database schema version mismatch")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, common.ErrNotFound)
}

func validateEvent(event *model.Event) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if event.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidEvent)
	}
	if !event.Source.IsValid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, event.Source)
	}
	if event.EventType == "" {
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	}
	if event.ExternalID == "" {
		return fmt.Errorf("%w: missing external ID", ErrInvalidEvent)
	}
	return nil
}

func validateOperation(op *model.MasterOperation) error {
	if op == nil {
		return fmt.Errorf("%w: master operation", ErrNilParameter)
	}
	if op.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidOperation)
	}
	if op.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidOperation)
	}
	if op.Amount < 0 {
		return fmt.Errorf("%w: amount must be absolute, got %.2f", ErrInvalidOperation, op.Amount)
	}
	if op.OperationType != model.OperationIncome && op.OperationType != model.OperationExpense {
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidOperation, op.OperationType)
	}
	if op.TransactionDate.IsZero() {
		return fmt.Errorf("%w: missing transaction date", ErrInvalidOperation)
	}
	return nil
}

func validateRule(rule *model.BusinessRule) error {
	if rule == nil {
		return fmt.Errorf("%w: business rule", ErrNilParameter)
	}
	if rule.ID == "" || rule.UserID == "" {
		return fmt.Errorf("%w: missing ID or user ID", ErrInvalidRule)
	}
	if rule.RuleType != model.RuleTypeClassification && rule.RuleType != model.RuleTypePolicy {
		return fmt.Errorf("%w: unknown rule type %q", ErrInvalidRule, rule.RuleType)
	}
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidRule)
	}
	return nil
}

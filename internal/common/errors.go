// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common application errors.
var (
	// Lookup errors.
	ErrNotFound = errors.New("not found")

	// Caller errors.
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access to company denied")

	// External AI service errors.
	ErrAIRateLimited    = errors.New("ai service rate limited")
	ErrAIQuotaExhausted = errors.New("ai service quota exhausted")
	ErrAIUpstream       = errors.New("ai service request failed")

	// Pipeline errors.
	ErrUnknownStage = errors.New("unknown stage")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError reports malformed input rejected before persistence.
// Details maps a field name to what is wrong with it.
type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(e.Details))
	for f := range e.Details {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, e.Details[f]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, problem string) error {
	return &ValidationError{Details: map[string]string{field: problem}}
}

// Package pattern evaluates user-authored business rules against normalized records.
package pattern

import (
	"github.com/Veraticus/opsflow/internal/model"
)

// Matcher evaluates business rules against normalized records.
type Matcher interface {
	// Matches reports whether every condition and the expression of rule hold for rec.
	Matches(rule model.BusinessRule, rec model.NormalizedRecord) (bool, error)
	// FirstMatch returns the first active rule, in priority order, that matches rec.
	FirstMatch(rules []model.BusinessRule, rec model.NormalizedRecord) (*model.BusinessRule, error)
}

// Operators accepted inside an operator condition such as {"gte": 500}.
const (
	OpGreater      = "gt"
	OpLess         = "lt"
	OpGreaterEqual = "gte"
	OpLessEqual    = "lte"
	OpEqual        = "eq"
	OpContains     = "contains"
)

var operatorAliases = map[string]string{
	"gt":       OpGreater,
	">":        OpGreater,
	"lt":       OpLess,
	"<":        OpLess,
	"gte":      OpGreaterEqual,
	"ge":       OpGreaterEqual,
	">=":       OpGreaterEqual,
	"lte":      OpLessEqual,
	"le":       OpLessEqual,
	"<=":       OpLessEqual,
	"eq":       OpEqual,
	"==":       OpEqual,
	"contains": OpContains,
}

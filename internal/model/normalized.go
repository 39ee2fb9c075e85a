package model

import (
	"strings"
	"time"
)

// NormalizedRecord is the canonical shape every heterogeneous input is mapped to.
type NormalizedRecord struct {
	TransactionDate time.Time     `json:"transaction_date"`
	Currency        string        `json:"currency"`
	Description     string        `json:"description"`
	Counterparty    string        `json:"counterparty"`
	OperationType   OperationType `json:"operation_type"`
	SourceType      string        `json:"source_type"`
	Category        string        `json:"category,omitempty"`
	Amount          float64       `json:"amount"`
	Confidence      float64       `json:"confidence"`
}

// Field looks up a normalized field by its wire name, for rule evaluation.
func (r NormalizedRecord) Field(name string) (any, bool) {
	switch strings.ToLower(name) {
	case "amount":
		return r.Amount, true
	case "currency":
		return r.Currency, true
	case "transaction_date", "date":
		return r.TransactionDate.Format("2006-01-02"), true
	case "description":
		return r.Description, true
	case "counterparty":
		return r.Counterparty, true
	case "operation_type", "type":
		return string(r.OperationType), true
	case "source_type":
		return r.SourceType, true
	case "category":
		return r.Category, true
	case "confidence":
		return r.Confidence, true
	default:
		return nil, false
	}
}

// AsMap exposes the record to expression evaluation.
func (r NormalizedRecord) AsMap() map[string]any {
	return map[string]any{
		"amount":           r.Amount,
		"currency":         r.Currency,
		"transaction_date": r.TransactionDate.Format("2006-01-02"),
		"description":      r.Description,
		"counterparty":     r.Counterparty,
		"operation_type":   string(r.OperationType),
		"source_type":      r.SourceType,
		"category":         r.Category,
		"confidence":       r.Confidence,
	}
}

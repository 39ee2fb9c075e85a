package model

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// OperationType carries the direction of money flow; amounts are always absolute.
type OperationType string

// Operation type constants.
const (
	OperationIncome  OperationType = "income"
	OperationExpense OperationType = "expense"
)

// OperationStatus is the review state of a MasterOperation.
type OperationStatus string

// Operation status constants.
const (
	OperationPendingReview    OperationStatus = "pending_review"
	OperationPendingApproval  OperationStatus = "pending_approval"
	OperationFlaggedForReview OperationStatus = "flagged_for_review"
	OperationApproved         OperationStatus = "approved"
)

// CanTransitionTo reports whether moving from s to next is a forward transition.
// pending_review -> {pending_approval | flagged_for_review} -> approved.
func (s OperationStatus) CanTransitionTo(next OperationStatus) bool {
	switch s {
	case OperationPendingReview:
		return next == OperationPendingApproval || next == OperationFlaggedForReview
	case OperationPendingApproval, OperationFlaggedForReview:
		return next == OperationApproved
	default:
		return false
	}
}

// MatchType records how an OperationSource was linked.
type MatchType string

// Match type constants.
const (
	MatchNew       MatchType = "new"
	MatchDuplicate MatchType = "duplicate"
)

// MasterOperation is the canonical, deduplicated business transaction.
type MasterOperation struct {
	TransactionDate       time.Time       `json:"transaction_date"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
	ID                    string          `json:"id"`
	UserID                string          `json:"user_id"`
	CompanyID             string          `json:"company_id,omitempty"`
	OperationType         OperationType   `json:"operation_type"`
	Currency              string          `json:"currency"`
	Description           string          `json:"description"`
	Counterparty          string          `json:"counterparty"`
	Category              string          `json:"category,omitempty"`
	Status                OperationStatus `json:"status"`
	ClassificationReasons []string        `json:"classification_reasons,omitempty"`
	Amount                float64         `json:"amount"`
	ConfidenceScore       float64         `json:"confidence_score"`
	AutoClassified        bool            `json:"auto_classified"`
}

// TraceID builds a human-readable identifier for logs. It is never used for matching.
func (m *MasterOperation) TraceID(source string, at time.Time) string {
	prefix := strings.ToLower(strings.ReplaceAll(m.Counterparty, " ", ""))
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%s-%.2f-%s-%s-%d",
		m.TransactionDate.Format("20060102"),
		m.Amount,
		prefix,
		source,
		at.Unix())
}

// OperationSource links a MasterOperation to one contributing raw event.
type OperationSource struct {
	CreatedAt         time.Time      `json:"created_at"`
	RawData           map[string]any `json:"raw_data,omitempty"`
	ID                string         `json:"id"`
	MasterOperationID string         `json:"master_operation_id"`
	EventID           string         `json:"event_id,omitempty"`
	SourceType        string         `json:"source_type"`
	ExternalID        string         `json:"external_id"`
	MatchType         MatchType      `json:"match_type"`
	MatchConfidence   float64        `json:"match_confidence"`
}

// SourceFingerprint hashes the raw data of a source for an external id when none is supplied.
func SourceFingerprint(sourceType string, rec NormalizedRecord) string {
	data := fmt.Sprintf("%s:%s:%.2f:%s:%s",
		sourceType,
		rec.TransactionDate.Format("2006-01-02"),
		rec.Amount,
		rec.Counterparty,
		rec.Description)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

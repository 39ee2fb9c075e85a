package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
)

// dateLayout is how transaction dates are stored; ISO dates compare correctly as text.
const dateLayout = "2006-01-02"

const operationColumns = `id, user_id, company_id, operation_type, amount, currency, description,
	counterparty, transaction_date, category, status, auto_classified, confidence_score,
	classification_reasons, created_at, updated_at`

// CreateMasterOperation inserts a new canonical operation.
func (s *SQLStorage) CreateMasterOperation(ctx context.Context, op *model.MasterOperation) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateOperation(op); err != nil {
		return err
	}

	now := time.Now().UTC()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = now
	}
	op.UpdatedAt = op.CreatedAt
	if op.Status == "" {
		op.Status = model.OperationPendingReview
	}
	reasons, err := encodeJSON(nonNilStrings(op.ClassificationReasons))
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO master_operations (`+operationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.ID, op.UserID, op.CompanyID, string(op.OperationType), op.Amount, op.Currency, op.Description,
		op.Counterparty, op.TransactionDate.Format(dateLayout), op.Category, string(op.Status),
		op.AutoClassified, op.ConfidenceScore, reasons, op.CreatedAt, op.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert master operation: %w", err)
	}
	return nil
}

// GetMasterOperation retrieves a master operation by ID.
func (s *SQLStorage) GetMasterOperation(ctx context.Context, id string) (*model.MasterOperation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	op, err := scanOperation(s.queryRow(ctx, `SELECT `+operationColumns+` FROM master_operations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("master operation", id)
	}
	return op, err
}

// FindDuplicateCandidates returns a user's operations with exactly this amount
// whose transaction date falls within [from, to].
func (s *SQLStorage) FindDuplicateCandidates(ctx context.Context, userID string, amount float64, from, to time.Time) ([]model.MasterOperation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %v is before %v", ErrInvalidDateRange, to, from)
	}

	rows, err := s.query(ctx, `
		SELECT `+operationColumns+` FROM master_operations
		WHERE user_id = ? AND amount = ? AND transaction_date >= ? AND transaction_date <= ?
		ORDER BY transaction_date ASC, created_at ASC`,
		userID, amount, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate candidates: %w", err)
	}
	return collectOperations(rows)
}

// UpdateOperationClassification records the classification outcome on an operation.
func (s *SQLStorage) UpdateOperationClassification(ctx context.Context, id, category string, confidence float64, reasons []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(category, "category"); err != nil {
		return err
	}
	encoded, err := encodeJSON(nonNilStrings(reasons))
	if err != nil {
		return err
	}

	res, err := s.exec(ctx, `
		UPDATE master_operations
		SET category = ?, confidence_score = ?, classification_reasons = ?, auto_classified = ?, updated_at = ?
		WHERE id = ?`,
		category, confidence, encoded, true, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update classification: %w", err)
	}
	return expectOneRow(res, "master operation", id)
}

// UpdateOperationStatus moves an operation forward through its review states.
// Backward or sideways moves fail with ErrInvalidTransition.
func (s *SQLStorage) UpdateOperationStatus(ctx context.Context, id string, status model.OperationStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var current string
	err := s.queryRow(ctx, `SELECT status FROM master_operations WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("master operation", id)
	}
	if err != nil {
		return fmt.Errorf("failed to read operation status: %w", err)
	}

	from := model.OperationStatus(current)
	if !from.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}

	// The status predicate makes a concurrent transition lose instead of overwrite.
	res, err := s.exec(ctx,
		`UPDATE master_operations SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(status), time.Now().UTC(), id, current)
	if err != nil {
		return fmt.Errorf("failed to update operation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, id)
	}
	return nil
}

// ListOperations returns operations newest first.
func (s *SQLStorage) ListOperations(ctx context.Context, filter service.OperationFilter) ([]model.MasterOperation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(filter.UserID, "filter.UserID"); err != nil {
		return nil, err
	}

	query := `SELECT ` + operationColumns + ` FROM master_operations WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.Since != nil {
		query += ` AND transaction_date >= ?`
		args = append(args, filter.Since.Format(dateLayout))
	}
	if filter.Until != nil {
		query += ` AND transaction_date <= ?`
		args = append(args, filter.Until.Format(dateLayout))
	}
	if filter.ExcludeID != "" {
		query += ` AND id <> ?`
		args = append(args, filter.ExcludeID)
	}
	query += ` ORDER BY transaction_date DESC, created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	return collectOperations(rows)
}

// CreateOperationSource links a raw contribution to a master operation.
func (s *SQLStorage) CreateOperationSource(ctx context.Context, src *model.OperationSource) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("%w: operation source", ErrNilParameter)
	}
	if err := validateString(src.MasterOperationID, "src.MasterOperationID"); err != nil {
		return err
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = time.Now().UTC()
	}
	raw, err := encodeJSON(src.RawData)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO operation_sources (
			id, master_operation_id, event_id, source_type, external_id,
			raw_data, match_type, match_confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.MasterOperationID, src.EventID, src.SourceType, src.ExternalID,
		raw, string(src.MatchType), src.MatchConfidence, src.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert operation source: %w", err)
	}
	return nil
}

// ListOperationSources returns every source linked to a master operation, oldest first.
func (s *SQLStorage) ListOperationSources(ctx context.Context, masterOperationID string) ([]model.OperationSource, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, `
		SELECT id, master_operation_id, event_id, source_type, external_id,
			raw_data, match_type, match_confidence, created_at
		FROM operation_sources WHERE master_operation_id = ? ORDER BY created_at ASC, id ASC`,
		masterOperationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query operation sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []model.OperationSource
	for rows.Next() {
		var (
			src       model.OperationSource
			raw, kind string
		)
		if err := rows.Scan(&src.ID, &src.MasterOperationID, &src.EventID, &src.SourceType, &src.ExternalID,
			&raw, &kind, &src.MatchConfidence, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation source: %w", err)
		}
		src.MatchType = model.MatchType(kind)
		if err := decodeJSON(raw, &src.RawData); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func collectOperations(rows *sql.Rows) ([]model.MasterOperation, error) {
	defer func() { _ = rows.Close() }()

	var ops []model.MasterOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

func scanOperation(row rowScanner) (*model.MasterOperation, error) {
	var (
		op                     model.MasterOperation
		opType, status         string
		transactionDate, reasons string
	)

	err := row.Scan(&op.ID, &op.UserID, &op.CompanyID, &opType, &op.Amount, &op.Currency, &op.Description,
		&op.Counterparty, &transactionDate, &op.Category, &status, &op.AutoClassified, &op.ConfidenceScore,
		&reasons, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan master operation: %w", err)
	}

	op.OperationType = model.OperationType(opType)
	op.Status = model.OperationStatus(status)
	op.TransactionDate, err = time.Parse(dateLayout, transactionDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction date %q: %w", transactionDate, err)
	}
	if err := decodeJSON(reasons, &op.ClassificationReasons); err != nil {
		return nil, err
	}
	return &op, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

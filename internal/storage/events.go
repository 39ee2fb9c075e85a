package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
)

const eventColumns = `id, event_type, source, external_id, payload, metadata, agent_results,
	user_id, tenant_id, company_id, status, occurred_at, created_at, processed_at`

// CreateEventIfAbsent inserts event unless one with the same (source, external_id)
// already exists. It reports whether this call created the row.
func (s *SQLStorage) CreateEventIfAbsent(ctx context.Context, event *model.Event) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateEvent(event); err != nil {
		return false, err
	}

	payload, err := encodeJSON(event.Payload)
	if err != nil {
		return false, err
	}
	metadata, err := encodeJSON(event.Metadata)
	if err != nil {
		return false, err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = model.EventStatusNew
	}

	res, err := s.exec(ctx, `
		INSERT INTO events (
			id, event_type, source, external_id, payload, metadata,
			user_id, tenant_id, company_id, status, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, external_id) DO NOTHING`,
		event.ID, event.EventType, string(event.Source), event.ExternalID, payload, metadata,
		event.UserID, event.TenantID, event.CompanyID, string(event.Status),
		nullTime(event.OccurredAt), event.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert event: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n == 1, nil
}

// GetEvent retrieves an event by ID.
func (s *SQLStorage) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	event, err := scanEvent(s.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("event", id)
	}
	return event, err
}

// GetEventByKey retrieves an event by its idempotency key.
func (s *SQLStorage) GetEventByKey(ctx context.Context, source model.EventSource, externalID string) (*model.Event, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(externalID, "externalID"); err != nil {
		return nil, err
	}

	event, err := scanEvent(s.queryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE source = ? AND external_id = ?`,
		string(source), externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("event", externalID)
	}
	return event, err
}

// UpdateEventStatus sets the status of an event.
func (s *SQLStorage) UpdateEventStatus(ctx context.Context, id string, status model.EventStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	res, err := s.exec(ctx, `UPDATE events SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return expectOneRow(res, "event", id)
}

// ClaimEvent moves an event from NEW to PROCESSING. It reports false when the
// event exists but was already claimed.
func (s *SQLStorage) ClaimEvent(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(id, "id"); err != nil {
		return false, err
	}

	res, err := s.exec(ctx, `UPDATE events SET status = ? WHERE id = ? AND status = ?`,
		string(model.EventStatusProcessing), id, string(model.EventStatusNew))
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetEvent(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// CompleteEvent stores the aggregated stage results and the terminal status.
func (s *SQLStorage) CompleteEvent(ctx context.Context, id string, status model.EventStatus, agentResults []byte, processedAt time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	var results sql.NullString
	if len(agentResults) > 0 {
		results = sql.NullString{String: string(agentResults), Valid: true}
	}

	res, err := s.exec(ctx,
		`UPDATE events SET status = ?, agent_results = ?, processed_at = ? WHERE id = ?`,
		string(status), results, processedAt, id)
	if err != nil {
		return fmt.Errorf("failed to complete event: %w", err)
	}
	return expectOneRow(res, "event", id)
}

// ListEventsByStatus returns the oldest events with the given status.
func (s *SQLStorage) ListEventsByStatus(ctx context.Context, status model.EventStatus, limit int) ([]model.Event, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var (
		event                   model.Event
		source, status          string
		payload, metadata       string
		agentResults            sql.NullString
		occurredAt, processedAt sql.NullTime
	)

	err := row.Scan(
		&event.ID, &event.EventType, &source, &event.ExternalID, &payload, &metadata, &agentResults,
		&event.UserID, &event.TenantID, &event.CompanyID, &status, &occurredAt, &event.CreatedAt, &processedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	event.Source = model.EventSource(source)
	event.Status = model.EventStatus(status)
	if err := decodeJSON(payload, &event.Payload); err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &event.Metadata); err != nil {
		return nil, err
	}
	if agentResults.Valid {
		event.AgentResults = json.RawMessage(agentResults.String)
	}
	if occurredAt.Valid {
		event.OccurredAt = &occurredAt.Time
	}
	if processedAt.Valid {
		event.ProcessedAt = &processedAt.Time
	}
	return &event, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

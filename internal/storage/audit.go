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

// SaveAgentLog appends one audit row.
func (s *SQLStorage) SaveAgentLog(ctx context.Context, entry *model.AgentLog) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: agent log", ErrNilParameter)
	}
	if err := validateString(entry.ID, "entry.ID"); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	input, err := encodeJSON(entry.InputData)
	if err != nil {
		return err
	}
	output, err := encodeJSON(entry.OutputData)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO agent_logs (
			id, event_id, user_id, agent_type, action_type, input_data, output_data,
			execution_time_ms, confidence_score, success, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EventID, entry.UserID, entry.AgentType, entry.ActionType, input, output,
		entry.ExecutionTimeMS, entry.ConfidenceScore, entry.Success, entry.Error, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent log: %w", err)
	}
	return nil
}

// ListAgentLogs returns the audit trail of one event in execution order.
func (s *SQLStorage) ListAgentLogs(ctx context.Context, eventID string) ([]model.AgentLog, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, `
		SELECT id, event_id, user_id, agent_type, action_type, input_data, output_data,
			execution_time_ms, confidence_score, success, error, created_at
		FROM agent_logs WHERE event_id = ? ORDER BY created_at ASC, id ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var logs []model.AgentLog
	for rows.Next() {
		var (
			entry         model.AgentLog
			input, output string
		)
		if err := rows.Scan(&entry.ID, &entry.EventID, &entry.UserID, &entry.AgentType, &entry.ActionType,
			&input, &output, &entry.ExecutionTimeMS, &entry.ConfidenceScore, &entry.Success,
			&entry.Error, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		if err := decodeJSON(input, &entry.InputData); err != nil {
			return nil, err
		}
		if err := decodeJSON(output, &entry.OutputData); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// CreateAlert stores an alert.
func (s *SQLStorage) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if alert == nil {
		return fmt.Errorf("%w: alert", ErrNilParameter)
	}
	if err := validateString(alert.ID, "alert.ID"); err != nil {
		return err
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	data, err := encodeJSON(alert.Data)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO alerts (id, user_id, alert_type, severity, title, description, data, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.UserID, alert.AlertType, string(alert.Severity), alert.Title, alert.Description,
		data, alert.IsRead, alert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// ListAlerts returns alerts newest first.
func (s *SQLStorage) ListAlerts(ctx context.Context, filter service.AlertFilter) ([]model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, alert_type, severity, title, description, data, is_read, created_at
		FROM alerts WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.UnreadOnly {
		query += ` AND is_read = ?`
		args = append(args, false)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []model.Alert
	for rows.Next() {
		var (
			alert          model.Alert
			severity, data string
		)
		if err := rows.Scan(&alert.ID, &alert.UserID, &alert.AlertType, &severity, &alert.Title,
			&alert.Description, &data, &alert.IsRead, &alert.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alert.Severity = model.Severity(severity)
		if err := decodeJSON(data, &alert.Data); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// CreateTask stores a task.
func (s *SQLStorage) CreateTask(ctx context.Context, task *model.Task) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: task", ErrNilParameter)
	}
	if err := validateString(task.ID, "task.ID"); err != nil {
		return err
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = model.TaskPending
	}

	_, err := s.exec(ctx, `
		INSERT INTO tasks (id, user_id, title, description, priority, status, due_date, source_type, source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.Title, task.Description, string(task.Priority), string(task.Status),
		nullTime(task.DueDate), task.SourceType, task.SourceID, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// ListTasks returns tasks ordered by priority (urgent first), then due date, then age.
func (s *SQLStorage) ListTasks(ctx context.Context, filter service.TaskFilter) ([]model.Task, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, title, description, priority, status, due_date, source_type, source_id, created_at
		FROM tasks WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY CASE priority
			WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0
		END DESC, CASE WHEN due_date IS NULL THEN 1 ELSE 0 END ASC, due_date ASC, created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []model.Task
	for rows.Next() {
		var (
			task             model.Task
			priority, status string
			due              sql.NullTime
		)
		if err := rows.Scan(&task.ID, &task.UserID, &task.Title, &task.Description, &priority, &status,
			&due, &task.SourceType, &task.SourceID, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Priority = model.TaskPriority(priority)
		task.Status = model.TaskStatus(status)
		if due.Valid {
			task.DueDate = &due.Time
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// SaveBriefing persists a compiled briefing.
func (s *SQLStorage) SaveBriefing(ctx context.Context, briefing *model.Briefing) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if briefing == nil {
		return fmt.Errorf("%w: briefing", ErrNilParameter)
	}
	if err := validateString(briefing.ID, "briefing.ID"); err != nil {
		return err
	}
	content, err := encodeJSON(briefing.Content)
	if err != nil {
		return err
	}

	_, err = s.exec(ctx, `
		INSERT INTO briefings (id, user_id, briefing_type, content, generated_at) VALUES (?, ?, ?, ?, ?)`,
		briefing.ID, briefing.UserID, string(briefing.BriefingType), content, briefing.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert briefing: %w", err)
	}
	return nil
}

// GetLatestBriefing returns the most recently generated briefing for a user.
func (s *SQLStorage) GetLatestBriefing(ctx context.Context, userID string) (*model.Briefing, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		b             model.Briefing
		kind, content string
	)
	err := s.queryRow(ctx, `
		SELECT id, user_id, briefing_type, content, generated_at
		FROM briefings WHERE user_id = ? ORDER BY generated_at DESC LIMIT 1`, userID).
		Scan(&b.ID, &b.UserID, &kind, &content, &b.GeneratedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("briefing for user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query briefing: %w", err)
	}

	b.BriefingType = model.BriefingType(kind)
	if err := decodeJSON(content, &b.Content); err != nil {
		return nil, err
	}
	return &b, nil
}

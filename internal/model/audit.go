package model

import "time"

// AgentLog is one append-only audit row per stage execution.
type AgentLog struct {
	CreatedAt       time.Time      `json:"created_at"`
	InputData       map[string]any `json:"input_data,omitempty"`
	OutputData      map[string]any `json:"output_data,omitempty"`
	ID              string         `json:"id"`
	EventID         string         `json:"event_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	AgentType       string         `json:"agent_type"`
	ActionType      string         `json:"action_type"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	ConfidenceScore float64        `json:"confidence_score,omitempty"`
	Success         bool           `json:"success"`
}

// Severity grades alerts, violations and anomalies.
type Severity string

// Severity constants.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// IsSevere reports whether s is high or critical.
func (s Severity) IsSevere() bool {
	return s.Rank() >= SeverityHigh.Rank()
}

// Alert is consumed by the surrounding UI.
type Alert struct {
	CreatedAt   time.Time      `json:"created_at"`
	Data        map[string]any `json:"data,omitempty"`
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	AlertType   string         `json:"alert_type"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	IsRead      bool           `json:"is_read"`
}

// TaskPriority orders tasks.
type TaskPriority string

// Task priority constants.
const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// TaskStatus tracks task progress.
type TaskStatus string

// Task status constants.
const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is a follow-up created by the action stage.
type Task struct {
	CreatedAt   time.Time    `json:"created_at"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Priority    TaskPriority `json:"priority"`
	Status      TaskStatus   `json:"status"`
	SourceType  string       `json:"source_type,omitempty"`
	SourceID    string       `json:"source_id,omitempty"`
}

// BriefingType is morning or evening.
type BriefingType string

// Briefing type constants.
const (
	BriefingMorning BriefingType = "morning"
	BriefingEvening BriefingType = "evening"
)

// Briefing is a persisted periodic summary.
type Briefing struct {
	GeneratedAt  time.Time       `json:"generated_at"`
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	BriefingType BriefingType    `json:"briefing_type"`
	Content      BriefingContent `json:"content"`
}

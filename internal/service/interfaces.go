// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
)

// OperationFilter defines filtering options for master operation queries.
type OperationFilter struct {
	Since     *time.Time
	Until     *time.Time
	UserID    string
	ExcludeID string
	Limit     int
}

// AlertFilter defines filtering options for alert queries.
type AlertFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

// TaskFilter defines filtering options for task queries.
type TaskFilter struct {
	UserID string
	Status model.TaskStatus
	Limit  int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Event operations
	CreateEventIfAbsent(ctx context.Context, event *model.Event) (bool, error)
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	GetEventByKey(ctx context.Context, source model.EventSource, externalID string) (*model.Event, error)
	UpdateEventStatus(ctx context.Context, id string, status model.EventStatus) error
	ClaimEvent(ctx context.Context, id string) (bool, error)
	CompleteEvent(ctx context.Context, id string, status model.EventStatus, agentResults []byte, processedAt time.Time) error
	ListEventsByStatus(ctx context.Context, status model.EventStatus, limit int) ([]model.Event, error)

	// Company operations
	SaveCompany(ctx context.Context, company *model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	GetCompanyByOwner(ctx context.Context, ownerID string) (*model.Company, error)
	ListCompanies(ctx context.Context, ownerID string) ([]model.Company, error)

	// Client operations
	SaveClient(ctx context.Context, client *model.Client) error
	ListClients(ctx context.Context, userID string, since *time.Time) ([]model.Client, error)

	// Master operation and source operations
	CreateMasterOperation(ctx context.Context, op *model.MasterOperation) error
	GetMasterOperation(ctx context.Context, id string) (*model.MasterOperation, error)
	FindDuplicateCandidates(ctx context.Context, userID string, amount float64, from, to time.Time) ([]model.MasterOperation, error)
	UpdateOperationClassification(ctx context.Context, id, category string, confidence float64, reasons []string) error
	UpdateOperationStatus(ctx context.Context, id string, status model.OperationStatus) error
	ListOperations(ctx context.Context, filter OperationFilter) ([]model.MasterOperation, error)
	CreateOperationSource(ctx context.Context, src *model.OperationSource) error
	ListOperationSources(ctx context.Context, masterOperationID string) ([]model.OperationSource, error)

	// Business rule operations
	SaveBusinessRule(ctx context.Context, rule *model.BusinessRule) error
	ListBusinessRules(ctx context.Context, userID string, ruleType model.RuleType) ([]model.BusinessRule, error)

	// Audit and follow-up operations
	SaveAgentLog(ctx context.Context, entry *model.AgentLog) error
	ListAgentLogs(ctx context.Context, eventID string) ([]model.AgentLog, error)
	CreateAlert(ctx context.Context, alert *model.Alert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
	CreateTask(ctx context.Context, task *model.Task) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	SaveBriefing(ctx context.Context, briefing *model.Briefing) error
	GetLatestBriefing(ctx context.Context, userID string) (*model.Briefing, error)

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// Package action turns upstream stage flags into concrete follow-ups.
package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
	"github.com/Veraticus/opsflow/internal/storage"
)

// Action names.
const (
	LogActivity             = "log_activity"
	CreateApprovalTask      = "create_approval_task"
	NotifyApprover          = "notify_approver"
	CreateComplianceAlert   = "create_compliance_alert"
	FlagForReview           = "flag_for_review"
	UpdateFinancials        = "update_financials"
	ReconcileTransactions   = "reconcile_transactions"
	AttachToTransaction     = "attach_to_transaction"
	ScheduleReminder        = "schedule_reminder"
	CompileBriefing         = "compile_briefing"
	GenerateInvoiceDocument = "generate_invoice_document"
)

const reminderDelay = 30 * 24 * time.Hour

// Flags are the upstream facts the decision table keys on.
type Flags struct {
	EventID           string
	UserID            string
	MasterOperationID string
	Category          string
	Amount            float64
	RequiresApproval  bool
	HasAnomalies      bool
	IsCompliant       bool
}

// Plan returns the ordered actions for an event type. log_activity is always last.
func Plan(eventType string, flags Flags) []string {
	var actions []string
	approval := func() {
		if flags.RequiresApproval {
			actions = append(actions, CreateApprovalTask, NotifyApprover)
		}
	}

	switch eventType {
	case "transaction.created":
		approval()
		if !flags.IsCompliant && !flags.RequiresApproval {
			actions = append(actions, CreateComplianceAlert)
		}
		if flags.HasAnomalies {
			actions = append(actions, FlagForReview)
		}
		actions = append(actions, UpdateFinancials)
	case "payment.received":
		approval()
		if flags.HasAnomalies {
			actions = append(actions, FlagForReview)
		}
		actions = append(actions, ReconcileTransactions, UpdateFinancials)
	case "receipt.scanned":
		approval()
		actions = append(actions, AttachToTransaction)
	case "invoice.created":
		approval()
		actions = append(actions, GenerateInvoiceDocument, ScheduleReminder)
	case "bank_statement.imported":
		if flags.HasAnomalies {
			actions = append(actions, FlagForReview)
		}
		actions = append(actions, ReconcileTransactions, CompileBriefing)
	}

	return append(actions, LogActivity)
}

// Executor runs planned actions against the store.
type Executor struct {
	store service.Storage
	now   func() time.Time
}

// NewExecutor creates an Executor. A nil clock uses time.Now.
func NewExecutor(store service.Storage, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{store: store, now: now}
}

// Execute plans and runs every action. Each action is isolated: a failure or panic
// is reported on its own outcome and the remaining actions still run.
func (e *Executor) Execute(ctx context.Context, eventType string, flags Flags) []model.ActionOutcome {
	planned := Plan(eventType, flags)
	outcomes := make([]model.ActionOutcome, 0, len(planned))
	for _, name := range planned {
		outcomes = append(outcomes, e.runIsolated(ctx, name, eventType, flags))
	}
	return outcomes
}

func (e *Executor) runIsolated(ctx context.Context, name, eventType string, flags Flags) (outcome model.ActionOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Action panicked", "action", name, "panic", r)
			outcome = model.ActionOutcome{Action: name, Status: model.ActionFailed, Details: fmt.Sprintf("panic: %v", r)}
		}
	}()

	outcome, err := e.run(ctx, name, eventType, flags)
	if err != nil {
		slog.Warn("Action failed", "action", name, "event_id", flags.EventID, "error", err)
		return model.ActionOutcome{Action: name, Status: model.ActionFailed, Details: err.Error()}
	}
	outcome.Action = name
	return outcome
}

func (e *Executor) run(ctx context.Context, name, eventType string, flags Flags) (model.ActionOutcome, error) {
	switch name {
	case LogActivity:
		return e.logActivity(ctx, eventType, flags)
	case CreateApprovalTask:
		return e.createTask(ctx, flags,
			fmt.Sprintf("Approve %.2f transaction", flags.Amount),
			"Transaction exceeds the approval threshold and needs sign-off.",
			model.PriorityHigh, nil)
	case ScheduleReminder:
		due := e.now().UTC().Add(reminderDelay)
		return e.createTask(ctx, flags,
			"Follow up on invoice payment",
			fmt.Sprintf("Invoice of %.2f is due for a payment check.", flags.Amount),
			model.PriorityMedium, &due)
	case NotifyApprover:
		return e.createAlert(ctx, flags, "approval_required", model.SeverityHigh,
			"Approval required",
			fmt.Sprintf("A %.2f transaction is waiting for approval.", flags.Amount))
	case CreateComplianceAlert:
		return e.createAlert(ctx, flags, "compliance", model.SeverityMedium,
			"Compliance issue",
			"A transaction was recorded with policy violations.")
	case FlagForReview:
		return e.flagForReview(ctx, flags)
	case UpdateFinancials, ReconcileTransactions, AttachToTransaction:
		return model.ActionOutcome{Status: model.ActionExecuted, Details: "recorded"}, nil
	case CompileBriefing, GenerateInvoiceDocument:
		return model.ActionOutcome{Status: model.ActionPending, Details: "queued for a dedicated request"}, nil
	default:
		return model.ActionOutcome{}, fmt.Errorf("unknown action %q", name)
	}
}

func (e *Executor) logActivity(ctx context.Context, eventType string, flags Flags) (model.ActionOutcome, error) {
	entry := &model.AgentLog{
		ID:         uuid.NewString(),
		EventID:    flags.EventID,
		UserID:     flags.UserID,
		AgentType:  string(model.StageAction),
		ActionType: LogActivity,
		InputData: map[string]any{
			"event_type":          eventType,
			"master_operation_id": flags.MasterOperationID,
			"amount":              flags.Amount,
			"category":            flags.Category,
		},
		OutputData: map[string]any{
			"requires_approval": flags.RequiresApproval,
			"has_anomalies":     flags.HasAnomalies,
			"is_compliant":      flags.IsCompliant,
		},
		Success:   true,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.SaveAgentLog(ctx, entry); err != nil {
		return model.ActionOutcome{}, err
	}
	return model.ActionOutcome{Status: model.ActionExecuted, Details: "activity logged", ExternalID: entry.ID}, nil
}

func (e *Executor) createTask(ctx context.Context, flags Flags, title, description string, priority model.TaskPriority, due *time.Time) (model.ActionOutcome, error) {
	if flags.UserID == "" {
		return model.ActionOutcome{Status: model.ActionSkipped, Details: "no user to assign"}, nil
	}
	task := &model.Task{
		ID:          uuid.NewString(),
		UserID:      flags.UserID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      model.TaskPending,
		DueDate:     due,
		SourceType:  "event",
		SourceID:    flags.EventID,
		CreatedAt:   e.now().UTC(),
	}
	if flags.MasterOperationID != "" {
		task.SourceType, task.SourceID = "master_operation", flags.MasterOperationID
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return model.ActionOutcome{}, err
	}
	return model.ActionOutcome{Status: model.ActionExecuted, Details: "task created", ExternalID: task.ID}, nil
}

func (e *Executor) createAlert(ctx context.Context, flags Flags, alertType string, severity model.Severity, title, description string) (model.ActionOutcome, error) {
	if flags.UserID == "" {
		return model.ActionOutcome{Status: model.ActionSkipped, Details: "no user to notify"}, nil
	}
	alert := &model.Alert{
		ID:          uuid.NewString(),
		UserID:      flags.UserID,
		AlertType:   alertType,
		Severity:    severity,
		Title:       title,
		Description: description,
		Data: map[string]any{
			"event_id":            flags.EventID,
			"master_operation_id": flags.MasterOperationID,
			"amount":              flags.Amount,
		},
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return model.ActionOutcome{}, err
	}
	return model.ActionOutcome{Status: model.ActionExecuted, Details: "alert created", ExternalID: alert.ID}, nil
}

func (e *Executor) flagForReview(ctx context.Context, flags Flags) (model.ActionOutcome, error) {
	if flags.MasterOperationID == "" {
		return model.ActionOutcome{Status: model.ActionSkipped, Details: "no linked operation"}, nil
	}
	err := e.store.UpdateOperationStatus(ctx, flags.MasterOperationID, model.OperationFlaggedForReview)
	if errors.Is(err, storage.ErrInvalidTransition) {
		return model.ActionOutcome{Status: model.ActionSkipped, Details: "operation already past review"}, nil
	}
	if err != nil {
		return model.ActionOutcome{}, err
	}
	return model.ActionOutcome{Status: model.ActionExecuted, Details: "operation flagged for review", ExternalID: flags.MasterOperationID}, nil
}

// Stage runs the executor inside the pipeline.
type Stage struct {
	executor *Executor
}

// NewStage creates an action stage.
func NewStage(executor *Executor) *Stage {
	return &Stage{executor: executor}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StageAction }

// Execute implements pipeline.Stage. Missing upstream results read as their zero
// values, with compliance assumed until policy says otherwise.
func (s *Stage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	flags := Flags{
		EventID:     in.EventID,
		UserID:      in.UserID,
		IsCompliant: true,
	}
	if prev := in.Previous; prev != nil {
		flags.MasterOperationID = prev.MasterOperationID()
		flags.Category = prev.Category()
		if prev.Normalization != nil {
			flags.Amount = prev.Normalization.Record.Amount
		}
		if prev.Policy != nil {
			flags.RequiresApproval = prev.Policy.RequiresApproval
			flags.IsCompliant = prev.Policy.IsCompliant
		}
		if prev.Anomaly != nil {
			flags.HasAnomalies = prev.Anomaly.HasAnomalies
		}
	}

	return &model.ActionResult{Actions: s.executor.Execute(ctx, in.EventType, flags)}, nil
}

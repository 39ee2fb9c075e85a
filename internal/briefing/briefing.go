// Package briefing compiles periodic summaries of what needs a user's attention.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
)

const (
	topItems   = 5
	weekSpan   = 7 * 24 * time.Hour
	monthSpan  = 30 * 24 * time.Hour
	morningEnd = 12
)

// Compiler gathers tasks, alerts and operations into a Briefing.
type Compiler struct {
	store service.Storage
	now   func() time.Time
}

// NewCompiler creates a Compiler. A nil clock uses time.Now; its location
// decides whether a briefing is a morning or evening one.
func NewCompiler(store service.Storage, now func() time.Time) *Compiler {
	if now == nil {
		now = time.Now
	}
	return &Compiler{store: store, now: now}
}

// Compile builds and persists a briefing for userID.
func (c *Compiler) Compile(ctx context.Context, userID string) (*model.Briefing, error) {
	if userID == "" {
		return nil, errors.New("briefing requires a user")
	}
	now := c.now()

	tasks, err := c.store.ListTasks(ctx, service.TaskFilter{UserID: userID, Status: model.TaskPending, Limit: topItems})
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	alerts, err := c.store.ListAlerts(ctx, service.AlertFilter{UserID: userID, UnreadOnly: true, Limit: topItems})
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}

	weekStart := now.Add(-weekSpan)
	week, err := c.store.ListOperations(ctx, service.OperationFilter{UserID: userID, Since: &weekStart})
	if err != nil {
		return nil, fmt.Errorf("failed to load weekly operations: %w", err)
	}
	monthStart := now.Add(-monthSpan)
	month, err := c.store.ListOperations(ctx, service.OperationFilter{UserID: userID, Since: &monthStart})
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly operations: %w", err)
	}

	snapshot := Snapshot(week, month)
	content := model.BriefingContent{
		Priorities:        nonNilTasks(tasks),
		Alerts:            nonNilAlerts(alerts),
		FinancialSnapshot: snapshot,
		ActionItems:       actionItems(tasks, alerts, snapshot),
		Metrics: map[string]float64{
			"pending_tasks":   float64(len(tasks)),
			"unread_alerts":   float64(len(alerts)),
			"week_operations": float64(snapshot.WeekOperations),
			"month_income":    snapshot.MonthIncome,
			"month_expenses":  snapshot.MonthExpenses,
			"net_cash_flow":   snapshot.NetCashFlow,
		},
	}

	kind := model.BriefingEvening
	if now.Hour() < morningEnd {
		kind = model.BriefingMorning
	}
	content.Summary = summary(kind, len(tasks), len(alerts), snapshot)

	b := &model.Briefing{
		ID:           uuid.NewString(),
		UserID:       userID,
		BriefingType: kind,
		Content:      content,
		GeneratedAt:  now.UTC(),
	}
	if err := c.store.SaveBriefing(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save briefing: %w", err)
	}
	return b, nil
}

// Snapshot totals trailing operations. Income and expenses are summed in decimal
// so repeated cents do not drift.
func Snapshot(week, month []model.MasterOperation) model.FinancialSnapshot {
	income, expenses := decimal.Zero, decimal.Zero
	snap := model.FinancialSnapshot{WeekOperations: len(week)}

	for _, op := range month {
		amount := decimal.NewFromFloat(op.Amount)
		switch op.OperationType {
		case model.OperationIncome:
			income = income.Add(amount)
		case model.OperationExpense:
			expenses = expenses.Add(amount)
		}
		switch op.Status {
		case model.OperationPendingApproval:
			snap.PendingCount++
		case model.OperationFlaggedForReview:
			snap.FlaggedCount++
		}
	}

	snap.MonthIncome = income.Round(2).InexactFloat64()
	snap.MonthExpenses = expenses.Round(2).InexactFloat64()
	snap.NetCashFlow = income.Sub(expenses).Round(2).InexactFloat64()
	return snap
}

func actionItems(tasks []model.Task, alerts []model.Alert, snap model.FinancialSnapshot) []string {
	items := []string{}
	if snap.PendingCount > 0 {
		items = append(items, fmt.Sprintf("Approve %d pending operation(s)", snap.PendingCount))
	}
	if snap.FlaggedCount > 0 {
		items = append(items, fmt.Sprintf("Review %d flagged operation(s)", snap.FlaggedCount))
	}
	for _, a := range alerts {
		if a.Severity == model.SeverityCritical {
			items = append(items, "Resolve critical alert: "+a.Title)
		}
	}
	for _, t := range tasks {
		if t.Priority == model.PriorityUrgent || t.Priority == model.PriorityHigh {
			items = append(items, "Complete: "+t.Title)
		}
	}
	if snap.NetCashFlow < 0 {
		items = append(items, "Check spending: net cash flow is negative this month")
	}
	return items
}

func summary(kind model.BriefingType, tasks, alerts int, snap model.FinancialSnapshot) string {
	var b strings.Builder
	if kind == model.BriefingMorning {
		b.WriteString("Good morning. ")
	} else {
		b.WriteString("Good evening. ")
	}
	fmt.Fprintf(&b, "You have %d pending task(s) and %d unread alert(s). ", tasks, alerts)
	fmt.Fprintf(&b, "%d operation(s) were recorded this week. ", snap.WeekOperations)
	fmt.Fprintf(&b, "Over the last 30 days income was %.2f and expenses were %.2f, for a net cash flow of %.2f.",
		snap.MonthIncome, snap.MonthExpenses, snap.NetCashFlow)
	if snap.PendingCount > 0 {
		fmt.Fprintf(&b, " %d operation(s) await approval.", snap.PendingCount)
	}
	return b.String()
}

func nonNilTasks(tasks []model.Task) []model.Task {
	if tasks == nil {
		return []model.Task{}
	}
	return tasks
}

func nonNilAlerts(alerts []model.Alert) []model.Alert {
	if alerts == nil {
		return []model.Alert{}
	}
	return alerts
}

// Stage runs the compiler inside the pipeline.
type Stage struct {
	compiler *Compiler
}

// NewStage creates a briefing stage.
func NewStage(compiler *Compiler) *Stage {
	return &Stage{compiler: compiler}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StageBriefing }

// Execute implements pipeline.Stage.
func (s *Stage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	b, err := s.compiler.Compile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	return &model.BriefingResult{Briefing: *b}, nil
}

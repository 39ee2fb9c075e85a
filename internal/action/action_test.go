package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
	"github.com/Veraticus/opsflow/internal/testutil"
)

var fixedNow = time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// failingTasks wraps a store whose task writes always fail.
type failingTasks struct {
	service.Storage
}

func (failingTasks) CreateTask(context.Context, *model.Task) error {
	return errors.New("disk full")
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		flags     Flags
		want      []string
	}{
		{
			name:      "compliant transaction",
			eventType: "transaction.created",
			flags:     Flags{IsCompliant: true},
			want:      []string{UpdateFinancials, LogActivity},
		},
		{
			name:      "transaction needing approval with anomalies",
			eventType: "transaction.created",
			flags:     Flags{RequiresApproval: true, HasAnomalies: true},
			want:      []string{CreateApprovalTask, NotifyApprover, FlagForReview, UpdateFinancials, LogActivity},
		},
		{
			name:      "minor violation raises compliance alert",
			eventType: "transaction.created",
			flags:     Flags{IsCompliant: false},
			want:      []string{CreateComplianceAlert, UpdateFinancials, LogActivity},
		},
		{
			name:      "invoice",
			eventType: "invoice.created",
			flags:     Flags{IsCompliant: true},
			want:      []string{GenerateInvoiceDocument, ScheduleReminder, LogActivity},
		},
		{
			name:      "bank import",
			eventType: "bank_statement.imported",
			flags:     Flags{IsCompliant: true},
			want:      []string{ReconcileTransactions, CompileBriefing, LogActivity},
		},
		{
			name:      "unknown event only logs",
			eventType: "something.else",
			flags:     Flags{RequiresApproval: true},
			want:      []string{LogActivity},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.eventType, tt.flags))
		})
	}
}

func TestExecuteWritesFollowUps(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	op := db.MustOperation(model.MasterOperation{ID: "op-1", UserID: "u1", Amount: 2500})

	exec := NewExecutor(db.Storage, clock)
	outcomes := exec.Execute(ctx, "transaction.created", Flags{
		EventID:           "e1",
		UserID:            "u1",
		MasterOperationID: op.ID,
		Amount:            2500,
		RequiresApproval:  true,
		HasAnomalies:      true,
	})

	byName := make(map[string]model.ActionOutcome, len(outcomes))
	for _, o := range outcomes {
		byName[o.Action] = o
	}
	assert.Equal(t, model.ActionExecuted, byName[CreateApprovalTask].Status)
	assert.Equal(t, model.ActionExecuted, byName[NotifyApprover].Status)
	assert.Equal(t, model.ActionExecuted, byName[FlagForReview].Status)
	assert.Equal(t, model.ActionExecuted, byName[UpdateFinancials].Status)
	assert.Equal(t, model.ActionExecuted, byName[LogActivity].Status)

	tasks, err := db.Storage.ListTasks(ctx, service.TaskFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.PriorityHigh, tasks[0].Priority)
	assert.Equal(t, op.ID, tasks[0].SourceID)

	stored, err := db.Storage.GetMasterOperation(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationFlaggedForReview, stored.Status)

	logs, err := db.Storage.ListAgentLogs(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, LogActivity, logs[0].ActionType)
}

func TestFlagForReviewSkipsInvalidTransition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	op := db.MustOperation(model.MasterOperation{ID: "op-1", UserID: "u1", Amount: 10})
	require.NoError(t, db.Storage.UpdateOperationStatus(ctx, op.ID, model.OperationPendingApproval))

	outcomes := NewExecutor(db.Storage, clock).Execute(ctx, "bank_statement.imported", Flags{
		UserID:            "u1",
		MasterOperationID: op.ID,
		HasAnomalies:      true,
	})
	require.Equal(t, FlagForReview, outcomes[0].Action)
	assert.Equal(t, model.ActionSkipped, outcomes[0].Status)
	assert.Equal(t, model.ActionPending, outcomes[2].Status, "compile_briefing is deferred")
}

func TestExecuteIsolatesFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	outcomes := NewExecutor(failingTasks{db.Storage}, clock).Execute(ctx, "invoice.created", Flags{
		EventID:     "e1",
		UserID:      "u1",
		Amount:      800,
		IsCompliant: true,
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, model.ActionPending, outcomes[0].Status)
	assert.Equal(t, ScheduleReminder, outcomes[1].Action)
	assert.Equal(t, model.ActionFailed, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Details, "disk full")
	assert.Equal(t, LogActivity, outcomes[2].Action)
	assert.Equal(t, model.ActionExecuted, outcomes[2].Status)
}

func TestScheduleReminderDueIn30Days(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	NewExecutor(db.Storage, clock).Execute(ctx, "invoice.created", Flags{EventID: "e1", UserID: "u1", IsCompliant: true})

	tasks, err := db.Storage.ListTasks(ctx, service.TaskFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NotNil(t, tasks[0].DueDate)
	assert.True(t, tasks[0].DueDate.Equal(fixedNow.AddDate(0, 0, 30)))
}

func TestStageAlwaysLogs(t *testing.T) {
	db := testutil.SetupTestDB(t)
	stage := NewStage(NewExecutor(db.Storage, clock))
	assert.Equal(t, model.StageAction, stage.Name())

	res, err := stage.Execute(context.Background(), &model.StageInput{EventID: "e1", EventType: "transaction.created", UserID: "u1"})
	require.NoError(t, err)
	actions := res.(*model.ActionResult).Actions
	last := actions[len(actions)-1]
	assert.Equal(t, LogActivity, last.Action)
	assert.Equal(t, model.ActionExecuted, last.Status)
}

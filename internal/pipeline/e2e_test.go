package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/action"
	"github.com/Veraticus/opsflow/internal/anomaly"
	"github.com/Veraticus/opsflow/internal/classify"
	"github.com/Veraticus/opsflow/internal/dedup"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/normalize"
	"github.com/Veraticus/opsflow/internal/pattern"
	"github.com/Veraticus/opsflow/internal/policy"
	"github.com/Veraticus/opsflow/internal/testutil"
)

func TestConsultingIncomeEndToEnd(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	db.MustCompany("c1", "u1", 1000)

	matcher, err := pattern.NewMatcher()
	require.NoError(t, err)
	now := func() time.Time { return time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC) }

	o := New(db.Storage, []Stage{
		normalize.NewStage(now),
		dedup.NewStage(dedup.New(db.Storage)),
		classify.NewStage(db.Storage, classify.NewClassifier(matcher)),
		policy.NewStage(db.Storage, policy.NewEvaluator(matcher), 1000),
		anomaly.NewStage(db.Storage),
		action.NewStage(action.NewExecutor(db.Storage, now)),
	}, Options{Now: now})

	event := &model.Event{
		ID:         "e1",
		EventType:  "transaction.created",
		Source:     model.SourceManual,
		ExternalID: "key-e1",
		UserID:     "u1",
		CompanyID:  "c1",
		Payload: map[string]any{
			"amount":      150,
			"description": "Consulting fee from Acme Inc",
			"type":        "income",
			"date":        "2024-05-01",
		},
	}
	created, err := db.Storage.CreateEventIfAbsent(ctx, event)
	require.NoError(t, err)
	require.True(t, created)

	res, err := o.Process(ctx, event)
	require.NoError(t, err)
	results := res.Results
	require.Empty(t, results.Errors)

	require.NotNil(t, results.Normalization)
	assert.Equal(t, model.OperationIncome, results.Normalization.Record.OperationType)

	require.NotNil(t, results.Classification)
	assert.Equal(t, "consulting", results.Classification.Category)

	require.NotNil(t, results.Policy)
	assert.True(t, results.Policy.IsCompliant)
	assert.False(t, results.Policy.RequiresApproval)

	require.NotNil(t, results.Anomaly)
	assert.False(t, results.Anomaly.HasAnomalies)

	require.NotNil(t, results.Action)
	var logged bool
	for _, a := range results.Action.Actions {
		if a.Action == action.LogActivity {
			logged = a.Status == model.ActionExecuted
		}
	}
	assert.True(t, logged)

	op, err := db.Storage.GetMasterOperation(ctx, results.MasterOperationID())
	require.NoError(t, err)
	assert.Equal(t, "consulting", op.Category)
	assert.Equal(t, model.OperationPendingReview, op.Status)

	logs, err := db.Storage.ListAgentLogs(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, logs, 7, "six stage rows plus the log_activity action")
}

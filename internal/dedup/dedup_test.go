package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/testutil"
)

func testRecord() model.NormalizedRecord {
	return model.NormalizedRecord{
		Amount:          1200,
		Currency:        "CAD",
		TransactionDate: time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
		Description:     "Website redesign milestone",
		Counterparty:    "Acme Inc",
		OperationType:   model.OperationIncome,
		SourceType:      "bank",
	}
}

func TestDeduplicateMonotonicity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	d := New(db.Storage)

	first, err := d.Deduplicate(ctx, Request{Record: testRecord(), UserID: "u1", CompanyID: "c1", Source: "bank"})
	require.NoError(t, err)
	assert.False(t, first.IsDuplicate)
	assert.Equal(t, ActionCreatedNew, first.Action)
	assert.InDelta(t, 100.0, first.MatchConfidence, 0.001)

	second, err := d.Deduplicate(ctx, Request{Record: testRecord(), UserID: "u1", CompanyID: "c1", Source: "stripe"})
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, ActionLinkedDuplicate, second.Action)
	assert.Equal(t, first.MasterOperationID, second.MasterOperationID)
	assert.InDelta(t, 100.0, second.MatchConfidence, 0.001)

	sources, err := db.Storage.ListOperationSources(ctx, first.MasterOperationID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, model.MatchNew, sources[0].MatchType)
	assert.Equal(t, model.MatchDuplicate, sources[1].MatchType)

	unrelated := testRecord()
	unrelated.Counterparty = "Globex Shipping"
	third, err := d.Deduplicate(ctx, Request{Record: unrelated, UserID: "u1", CompanyID: "c1", Source: "bank"})
	require.NoError(t, err)
	assert.False(t, third.IsDuplicate)
	assert.Less(t, third.BestScore, DuplicateThreshold)
	assert.NotEqual(t, first.MasterOperationID, third.MasterOperationID)

	op, err := db.Storage.GetMasterOperation(ctx, third.MasterOperationID)
	require.NoError(t, err)
	assert.Equal(t, model.OperationPendingReview, op.Status)
	assert.Empty(t, op.Category, "deduplication never classifies")
	assert.InDelta(t, 1200.0, op.Amount, 0.001)
}

func TestDeduplicateIsScopedToUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	d := New(db.Storage)

	first, err := d.Deduplicate(ctx, Request{Record: testRecord(), UserID: "u1", Source: "bank"})
	require.NoError(t, err)
	other, err := d.Deduplicate(ctx, Request{Record: testRecord(), UserID: "u2", Source: "bank"})
	require.NoError(t, err)

	assert.False(t, other.IsDuplicate)
	assert.NotEqual(t, first.MasterOperationID, other.MasterOperationID)
}

func TestStageRequiresNormalization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	stage := NewStage(New(db.Storage))
	assert.Equal(t, model.StageDeduplication, stage.Name())

	_, err := stage.Execute(context.Background(), &model.StageInput{UserID: "u1"})
	require.Error(t, err)

	previous := model.NewStageResults()
	previous.Set(&model.NormalizationResult{Record: testRecord()})
	res, err := stage.Execute(context.Background(), &model.StageInput{
		UserID:   "u1",
		EventID:  "evt-1",
		Payload:  map[string]any{"fitid": "F-1"},
		Previous: previous,
	})
	require.NoError(t, err)

	out, ok := res.(*model.DedupResult)
	require.True(t, ok)
	sources, err := db.Storage.ListOperationSources(context.Background(), out.MasterOperationID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "F-1", sources[0].ExternalID)
	assert.Equal(t, "evt-1", sources[0].EventID)
}

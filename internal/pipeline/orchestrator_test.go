package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/testutil"
)

type stubStage struct {
	fn   func(ctx context.Context, in *model.StageInput) (model.StageResult, error)
	name model.StageName
}

func (s stubStage) Name() model.StageName { return s.name }

func (s stubStage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	return s.fn(ctx, in)
}

func okStage(name model.StageName, res model.StageResult) stubStage {
	return stubStage{name: name, fn: func(context.Context, *model.StageInput) (model.StageResult, error) {
		return res, nil
	}}
}

func seedEvent(t *testing.T, db *testutil.TestDB, id, eventType string) *model.Event {
	t.Helper()
	event := &model.Event{
		ID:         id,
		EventType:  eventType,
		Source:     model.SourceManual,
		ExternalID: "key-" + id,
		Payload:    map[string]any{"amount": 150.0},
		UserID:     "u1",
		CompanyID:  "c1",
	}
	created, err := db.Storage.CreateEventIfAbsent(context.Background(), event)
	require.NoError(t, err)
	require.True(t, created)
	return event
}

func TestProcessIsolatesStageFailures(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	event := seedEvent(t, db, "e1", "test.event")

	var sawErrors map[model.StageName]string
	stages := []Stage{
		okStage(model.StageNormalization, &model.NormalizationResult{Record: model.NormalizedRecord{Amount: 150, Confidence: 80}}),
		stubStage{name: model.StageDeduplication, fn: func(context.Context, *model.StageInput) (model.StageResult, error) {
			return nil, errors.New("database unavailable")
		}},
		stubStage{name: model.StageClassification, fn: func(context.Context, *model.StageInput) (model.StageResult, error) {
			panic("boom")
		}},
		stubStage{name: model.StagePolicy, fn: func(_ context.Context, in *model.StageInput) (model.StageResult, error) {
			sawErrors = make(map[model.StageName]string, len(in.Previous.Errors))
			for k, v := range in.Previous.Errors {
				sawErrors[k] = v
			}
			return &model.PolicyResult{IsCompliant: true, Violations: []model.Violation{}}, nil
		}},
	}
	routes := map[string][]model.StageName{
		"test.event": {model.StageNormalization, model.StageDeduplication, model.StageClassification, model.StagePolicy},
	}

	o := New(db.Storage, stages, Options{Routes: routes})
	res, err := o.Process(ctx, event)
	require.NoError(t, err)

	assert.Equal(t, model.EventStatusProcessed, res.Status)
	assert.Len(t, res.AgentsInvoked, 4)
	assert.NotNil(t, res.Results.Normalization)
	assert.NotNil(t, res.Results.Policy)
	assert.Contains(t, res.Results.Errors[model.StageDeduplication], "database unavailable")
	assert.Contains(t, res.Results.Errors[model.StageClassification], "panicked")
	assert.Len(t, sawErrors, 2, "later stages see earlier failures")

	stored, err := db.Storage.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusProcessed, stored.Status)
	require.NotNil(t, stored.ProcessedAt)

	var persisted map[string]map[string]any
	require.NoError(t, json.Unmarshal(stored.AgentResults, &persisted))
	assert.Contains(t, persisted[string(model.StageDeduplication)]["error"], "database unavailable")
	assert.Contains(t, persisted, string(model.StagePolicy))

	logs, err := db.Storage.ListAgentLogs(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, logs, 4, "one audit row per stage")
	successes := 0
	for _, l := range logs {
		if l.Success {
			successes++
		} else {
			assert.NotEmpty(t, l.Error)
		}
	}
	assert.Equal(t, 2, successes)
}

func TestProcessUnregisteredStageIsRecorded(t *testing.T) {
	db := testutil.SetupTestDB(t)
	event := seedEvent(t, db, "e1", "unknown.type")

	o := New(db.Storage, []Stage{okStage(model.StageNormalization, &model.NormalizationResult{})}, Options{})
	res, err := o.Process(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, DefaultPipeline, res.AgentsInvoked)
	assert.Contains(t, res.Results.Errors[model.StageClassification], common.ErrUnknownStage.Error())
}

func TestProcessStageTimeout(t *testing.T) {
	db := testutil.SetupTestDB(t)
	event := seedEvent(t, db, "e1", "briefing.requested")

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	hung := stubStage{name: model.StageBriefing, fn: func(context.Context, *model.StageInput) (model.StageResult, error) {
		<-release
		return &model.BriefingResult{}, nil
	}}

	o := New(db.Storage, []Stage{hung}, Options{StageTimeout: 20 * time.Millisecond})
	res, err := o.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Contains(t, res.Results.Errors[model.StageBriefing], "timed out")
}

func TestProcessTimedOutStageReadsSnapshot(t *testing.T) {
	db := testutil.SetupTestDB(t)
	event := seedEvent(t, db, "e1", "test.event")

	seen := make(chan *model.StageResults, 1)
	slow := stubStage{name: model.StageClassification, fn: func(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
		<-ctx.Done()
		// Keep reading after the orchestrator has moved on to later stages.
		deadline := time.Now().Add(30 * time.Millisecond)
		for time.Now().Before(deadline) {
			_ = in.Previous.Policy
			_ = in.Previous.Errors[model.StageClassification]
			_ = in.Payload["amount"]
		}
		seen <- in.Previous
		return &model.ClassificationResult{}, nil
	}}
	stages := []Stage{
		okStage(model.StageNormalization, &model.NormalizationResult{Record: model.NormalizedRecord{Amount: 150}}),
		slow,
		okStage(model.StagePolicy, &model.PolicyResult{IsCompliant: true, Violations: []model.Violation{}}),
	}
	routes := map[string][]model.StageName{
		"test.event": {model.StageNormalization, model.StageClassification, model.StagePolicy},
	}

	o := New(db.Storage, stages, Options{Routes: routes, StageTimeout: 5 * time.Millisecond})
	res, err := o.Process(context.Background(), event)
	require.NoError(t, err)
	assert.Contains(t, res.Results.Errors[model.StageClassification], "timed out")
	assert.NotNil(t, res.Results.Policy)

	select {
	case prev := <-seen:
		assert.NotNil(t, prev.Normalization, "earlier results are visible")
		assert.Nil(t, prev.Policy, "later results are not")
		assert.NotContains(t, prev.Errors, model.StageClassification)
	case <-time.After(2 * time.Second):
		t.Fatal("timed-out stage never finished")
	}
}

func TestProcessClaimsOnce(t *testing.T) {
	db := testutil.SetupTestDB(t)
	event := seedEvent(t, db, "e1", "briefing.requested")
	o := New(db.Storage, []Stage{okStage(model.StageBriefing, &model.BriefingResult{})}, Options{})

	_, err := o.Process(context.Background(), event)
	require.NoError(t, err)

	_, err = o.Process(context.Background(), event)
	require.ErrorIs(t, err, ErrAlreadyClaimed)
}

func TestProcessPending(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		seedEvent(t, db, fmt.Sprintf("e%d", i), "growth.requested")
	}

	o := New(db.Storage, []Stage{okStage(model.StageGrowth, &model.GrowthResult{})}, Options{})
	n, err := o.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = o.ProcessPending(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := db.Storage.ListEventsByStatus(ctx, model.EventStatusNew, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunStage(t *testing.T) {
	db := testutil.SetupTestDB(t)
	o := New(db.Storage, []Stage{okStage(model.StageGrowth, &model.GrowthResult{})}, Options{})

	res, _, err := o.RunStage(context.Background(), model.StageGrowth, &model.StageInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, model.StageGrowth, res.Stage())

	_, _, err = o.RunStage(context.Background(), model.StageAnomaly, &model.StageInput{})
	require.ErrorIs(t, err, common.ErrUnknownStage)
}

func TestMetrics(t *testing.T) {
	db := testutil.SetupTestDB(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	event := seedEvent(t, db, "e1", "unknown.type")

	o := New(db.Storage, []Stage{okStage(model.StageNormalization, &model.NormalizationResult{})}, Options{Metrics: metrics})
	_, err := o.Process(context.Background(), event)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, promtest.ToFloat64(metrics.stageFailures.WithLabelValues(string(model.StageClassification))), 0.001)
	assert.InDelta(t, 0.0, promtest.ToFloat64(metrics.stageFailures.WithLabelValues(string(model.StageNormalization))), 0.001)

	metrics.ObserveIngest(model.SourceBank, false)
	metrics.ObserveIngest(model.SourceBank, true)
	assert.InDelta(t, 1.0, promtest.ToFloat64(metrics.ingested.WithLabelValues("bank", "duplicate")), 0.001)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveIngest(model.SourceBank, true) })
}

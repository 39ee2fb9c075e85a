package gateway

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/pipeline"
	"github.com/Veraticus/opsflow/internal/ratelimit"
	"github.com/Veraticus/opsflow/internal/testutil"
)

type recordingProcessor struct {
	events []string
	mu     sync.Mutex
}

func (p *recordingProcessor) Process(_ context.Context, event *model.Event) (*pipeline.RouteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event.ID)
	return &pipeline.RouteResult{
		Results:       model.NewStageResults(),
		EventID:       event.ID,
		Status:        model.EventStatusProcessed,
		AgentsInvoked: []model.StageName{model.StageNormalization},
	}, nil
}

type normalizeStub struct{}

func (normalizeStub) Name() model.StageName { return model.StageNormalization }

func (normalizeStub) Execute(_ context.Context, in *model.StageInput) (model.StageResult, error) {
	amount, _ := in.Payload["amount"].(float64)
	return &model.NormalizationResult{Record: model.NormalizedRecord{Amount: amount, Confidence: 80}}, nil
}

func manualRequest(companyID, externalID string) IngestRequest {
	return IngestRequest{
		CompanyID:  companyID,
		Source:     model.SourceManual,
		EventType:  "transaction.created",
		ExternalID: externalID,
		Payload:    map[string]any{"amount": 150.0, "description": "Consulting fee from Acme Inc"},
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	proc := &recordingProcessor{}
	gw := New(db.Storage, Options{Processor: proc})
	ctx := context.Background()
	caller := Caller{UserID: "u1"}

	first, err := gw.Ingest(ctx, caller, manualRequest("c1", "ext-1"))
	require.NoError(t, err)
	assert.False(t, first.IsDuplicate)
	assert.Len(t, first.IdempotencyKey, 64)
	assert.Equal(t, model.EventStatusProcessed, first.Status)
	assert.Equal(t, []model.StageName{model.StageNormalization}, first.AgentsInvoked)

	second, err := gw.Ingest(ctx, caller, manualRequest("c1", "ext-1"))
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.IdempotencyKey, second.IdempotencyKey)

	assert.Equal(t, []string{first.EventID}, proc.events, "pipeline runs once per admitted event")

	pending, err := db.Storage.ListEventsByStatus(ctx, model.EventStatusNew, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.IdempotencyKey, pending[0].ExternalID)
	assert.Equal(t, "u1", pending[0].UserID)
	assert.Equal(t, "tenant-c1", pending[0].TenantID)
	assert.Equal(t, "ext-1", pending[0].Metadata["external_id"])
}

func TestIngestPayloadKeyIgnoresFieldOrder(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	gw := New(db.Storage, Options{})
	ctx := context.Background()

	req := manualRequest("c1", "")
	first, err := gw.Ingest(ctx, Caller{UserID: "u1"}, req)
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusNew, first.Status)

	req.Payload = map[string]any{"description": "Consulting fee from Acme Inc", "amount": 150}
	second, err := gw.Ingest(ctx, Caller{UserID: "u1"}, req)
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, first.EventID, second.EventID)

	req.Payload = map[string]any{"amount": 151.0}
	third, err := gw.Ingest(ctx, Caller{UserID: "u1"}, req)
	require.NoError(t, err)
	assert.False(t, third.IsDuplicate)
}

func TestIngestValidation(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	gw := New(db.Storage, Options{})

	tests := []struct {
		mutate func(*IngestRequest)
		name   string
		field  string
	}{
		{name: "missing company", field: "company_id", mutate: func(r *IngestRequest) { r.CompanyID = "" }},
		{name: "unknown source", field: "source", mutate: func(r *IngestRequest) { r.Source = "fax" }},
		{name: "missing source", field: "source", mutate: func(r *IngestRequest) { r.Source = "" }},
		{name: "missing event type", field: "event_type", mutate: func(r *IngestRequest) { r.EventType = "" }},
		{name: "missing payload", field: "payload", mutate: func(r *IngestRequest) { r.Payload = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := manualRequest("c1", "ext")
			tt.mutate(&req)

			_, err := gw.Ingest(context.Background(), Caller{UserID: "u1"}, req)
			var verr *common.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Details, tt.field)
		})
	}

	pending, err := db.Storage.ListEventsByStatus(context.Background(), model.EventStatusNew, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "rejected requests are never persisted")
}

func TestIngestAuthorization(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "owner", 1000)
	gw := New(db.Storage, Options{})

	tests := []struct {
		wantErr  error
		name     string
		company  string
		caller   Caller
		wantUser string
	}{
		{name: "anonymous", caller: Caller{}, company: "c1", wantErr: common.ErrUnauthenticated},
		{name: "not the owner", caller: Caller{UserID: "intruder"}, company: "c1", wantErr: common.ErrForbidden},
		{name: "unknown company", caller: Caller{UserID: "owner"}, company: "nope", wantErr: common.ErrNotFound},
		{name: "owner", caller: Caller{UserID: "owner"}, company: "c1", wantUser: "owner"},
		{name: "service call attributed to owner", caller: Caller{IsService: true}, company: "c1", wantUser: "owner"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := gw.Ingest(context.Background(), tt.caller, manualRequest(tt.company, "auth-"+tt.name))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			event, err := db.Storage.GetEvent(context.Background(), res.EventID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, event.UserID)
		})
	}
}

func TestIngestRateLimited(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	db.MustCompany("c2", "u2", 1000)
	gw := New(db.Storage, Options{Limiter: ratelimit.NewMemory(0.001, 1)})
	ctx := context.Background()

	_, err := gw.Ingest(ctx, Caller{UserID: "u1"}, manualRequest("c1", "a"))
	require.NoError(t, err)

	_, err = gw.Ingest(ctx, Caller{UserID: "u1"}, manualRequest("c1", "b"))
	assert.ErrorIs(t, err, common.ErrRateLimit)

	_, err = gw.Ingest(ctx, Caller{UserID: "u2"}, manualRequest("c2", "a"))
	assert.NoError(t, err, "limits are per company")
}

func TestIngestResubmissionSkipsRateLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	gw := New(db.Storage, Options{Limiter: ratelimit.NewMemory(0.001, 1)})
	ctx := context.Background()

	first, err := gw.Ingest(ctx, Caller{UserID: "u1"}, manualRequest("c1", "same"))
	require.NoError(t, err)
	require.False(t, first.IsDuplicate)

	for range 3 {
		again, err := gw.Ingest(ctx, Caller{UserID: "u1"}, manualRequest("c1", "same"))
		require.NoError(t, err)
		assert.True(t, again.IsDuplicate)
		assert.Equal(t, first.EventID, again.EventID)
	}

	_, err = gw.Ingest(ctx, Caller{UserID: "u1"}, manualRequest("c1", "new"))
	assert.ErrorIs(t, err, common.ErrRateLimit, "new events still spend tokens")
}

func TestRoute(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	proc := &recordingProcessor{}
	gw := New(db.Storage, Options{Processor: proc})
	ctx := context.Background()

	req := RouteRequest{
		EventType: "transaction.created",
		Source:    model.SourceManual,
		Payload:   map[string]any{"amount": 42.0},
	}

	t.Run("resolves the owned company", func(t *testing.T) {
		res, err := gw.Route(ctx, Caller{UserID: "u1"}, req)
		require.NoError(t, err)
		assert.False(t, res.IsDuplicate)

		event, err := db.Storage.GetEvent(ctx, res.EventID)
		require.NoError(t, err)
		assert.Equal(t, "c1", event.CompanyID)
	})

	t.Run("resubmission is a duplicate", func(t *testing.T) {
		res, err := gw.Route(ctx, Caller{IsService: true}, RouteRequest{
			EventType: req.EventType,
			Source:    req.Source,
			Payload:   req.Payload,
			UserID:    "u1",
		})
		require.NoError(t, err)
		assert.True(t, res.IsDuplicate)
		assert.Len(t, proc.events, 1)
	})

	t.Run("acting for another user", func(t *testing.T) {
		bad := req
		bad.UserID = "u2"
		_, err := gw.Route(ctx, Caller{UserID: "u1"}, bad)
		assert.ErrorIs(t, err, common.ErrForbidden)
	})

	t.Run("service call needs a user", func(t *testing.T) {
		_, err := gw.Route(ctx, Caller{IsService: true}, req)
		var verr *common.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("user without a company", func(t *testing.T) {
		_, err := gw.Route(ctx, Caller{UserID: "loner"}, req)
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestDuplicateReturnsStoredResults(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	orch := pipeline.New(db.Storage, []pipeline.Stage{normalizeStub{}}, pipeline.Options{
		Routes: map[string][]model.StageName{
			"transaction.created": {model.StageNormalization, model.StageDeduplication},
		},
	})
	gw := New(db.Storage, Options{Processor: orch})
	ctx := context.Background()

	first, err := gw.Ingest(ctx, Caller{UserID: "u1"}, manualRequest("c1", "ext-9"))
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusProcessed, first.Status)
	require.NotNil(t, first.Results)
	require.NotNil(t, first.Results.Normalization)
	assert.InDelta(t, 150.0, first.Results.Normalization.Record.Amount, 0.001)
	assert.Contains(t, first.Results.Errors, model.StageDeduplication)

	second, err := gw.Ingest(ctx, Caller{UserID: "u1"}, manualRequest("c1", "ext-9"))
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, model.EventStatusProcessed, second.Status)
	require.NotNil(t, second.Results)
	assert.Equal(t, []model.StageName{model.StageNormalization, model.StageDeduplication}, second.AgentsInvoked)
}

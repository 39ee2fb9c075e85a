package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/config"
	"github.com/Veraticus/opsflow/internal/gateway"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load(viper.New())
	require.NoError(t, err)
	return cfg
}

func TestBuildWiresFullPipeline(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)

	a, err := Build(db.Storage, testConfig(t))
	require.NoError(t, err)
	assert.Nil(t, a.Scanner)

	res, err := a.Gateway.Ingest(t.Context(), gateway.Caller{UserID: "u1"}, gateway.IngestRequest{
		CompanyID:  "c1",
		Source:     model.SourceManual,
		EventType:  "transaction.created",
		ExternalID: "inv-1",
		Payload: map[string]any{
			"amount":      150,
			"description": "Consulting fee from Acme Inc",
			"type":        "income",
			"date":        "2024-05-01",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusProcessed, res.Status)
	assert.Equal(t, []model.StageName{
		model.StageNormalization, model.StageDeduplication, model.StageClassification,
		model.StagePolicy, model.StageAnomaly, model.StageAction,
	}, res.AgentsInvoked)
	require.NotNil(t, res.Results.Classification)
	assert.Equal(t, "consulting", res.Results.Classification.Category)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["opsflow_pipeline_stage_duration_seconds"])
	assert.True(t, names["opsflow_ingest_events_total"])
	assert.True(t, names["go_goroutines"])
}

func TestHandlerServesHealth(t *testing.T) {
	db := testutil.SetupTestDB(t)
	a, err := Build(db.Storage, testConfig(t))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	a.Handler("1.2.3").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "1.2.3")

	w = httptest.NewRecorder()
	a.Handler("1.2.3").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		mutate  func(*config.Config)
		wantErr error
		name    string
	}{
		{
			name:    "redis without address",
			mutate:  func(c *config.Config) { c.RateLimit.Backend = config.LimiterRedis },
			wantErr: common.ErrMissingConfig,
		},
		{
			name:    "unknown limiter",
			mutate:  func(c *config.Config) { c.RateLimit.Backend = "carrier-pigeon" },
			wantErr: common.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			cfg := testConfig(t)
			tt.mutate(&cfg)

			_, err := Build(db.Storage, cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuildWithScanner(t *testing.T) {
	db := testutil.SetupTestDB(t)
	cfg := testConfig(t)
	cfg.AI.APIKey = "sk-test"

	a, err := Build(db.Storage, cfg)
	require.NoError(t, err)
	assert.NotNil(t, a.Scanner)
}

func TestOpenStorage(t *testing.T) {
	t.Run("sqlite file is created and migrated", func(t *testing.T) {
		store, err := OpenStorage(t.Context(), config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   t.TempDir() + "/nested/opsflow.db",
		})
		require.NoError(t, err)
		defer func() { _ = store.Close() }()

		companies, err := store.ListCompanies(t.Context(), "nobody")
		require.NoError(t, err)
		assert.Empty(t, companies)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := OpenStorage(t.Context(), config.DatabaseConfig{Driver: "oracle"})
		assert.ErrorIs(t, err, common.ErrInvalidConfig)
	})
}

func TestRedriveProcessesPendingEvents(t *testing.T) {
	db := testutil.SetupTestDB(t)
	db.MustCompany("c1", "u1", 1000)
	a, err := Build(db.Storage, testConfig(t))
	require.NoError(t, err)

	created, err := db.Storage.CreateEventIfAbsent(t.Context(), &model.Event{
		ID:         "stranded",
		EventType:  "transaction.created",
		Source:     model.SourceBank,
		ExternalID: "k-stranded",
		UserID:     "u1",
		CompanyID:  "c1",
		Payload:    map[string]any{"amount": 42, "description": "Office supplies", "type": "expense"},
	})
	require.NoError(t, err)
	require.True(t, created)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- a.Redrive(ctx, 10*time.Millisecond, 10) }()

	assert.Eventually(t, func() bool {
		ev, err := db.Storage.GetEvent(context.Background(), "stranded")
		return err == nil && ev.Status == model.EventStatusProcessed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRedriveDisabled(t *testing.T) {
	db := testutil.SetupTestDB(t)
	a, err := Build(db.Storage, testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.NoError(t, a.Redrive(ctx, 0, 10))
}

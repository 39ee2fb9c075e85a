// Package app assembles storage, the stage pipeline, the ingestion gateway and
// the HTTP server from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Veraticus/opsflow/internal/action"
	"github.com/Veraticus/opsflow/internal/anomaly"
	"github.com/Veraticus/opsflow/internal/api"
	"github.com/Veraticus/opsflow/internal/briefing"
	"github.com/Veraticus/opsflow/internal/classify"
	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/config"
	"github.com/Veraticus/opsflow/internal/dedup"
	"github.com/Veraticus/opsflow/internal/gateway"
	"github.com/Veraticus/opsflow/internal/growth"
	"github.com/Veraticus/opsflow/internal/normalize"
	"github.com/Veraticus/opsflow/internal/pattern"
	"github.com/Veraticus/opsflow/internal/pipeline"
	"github.com/Veraticus/opsflow/internal/policy"
	"github.com/Veraticus/opsflow/internal/ratelimit"
	"github.com/Veraticus/opsflow/internal/receipt"
	"github.com/Veraticus/opsflow/internal/service"
	"github.com/Veraticus/opsflow/internal/storage"
)

// App is a fully wired opsflow instance.
type App struct {
	Store        service.Storage
	Matcher      *pattern.MatcherImpl
	Orchestrator *pipeline.Orchestrator
	Gateway      *gateway.Gateway
	Briefings    *briefing.Compiler
	Growth       *growth.Analyzer
	Scanner      *receipt.Scanner // nil when ai.api_key is unset
	Registry     *prometheus.Registry
	limiter      ratelimit.Limiter
	config       config.Config
}

// OpenStorage opens the configured database and brings its schema up to date.
func OpenStorage(ctx context.Context, cfg config.DatabaseConfig) (*storage.SQLStorage, error) {
	var (
		store *storage.SQLStorage
		err   error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err = storage.NewPostgresStorage(ctx, cfg.DSN)
	case config.DriverSQLite, "":
		store, err = storage.NewSQLiteStorage(config.ExpandPath(cfg.Path))
	default:
		return nil, fmt.Errorf("%w: unsupported database.driver %q", common.ErrInvalidConfig, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// New opens storage and wires everything on top of it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := OpenStorage(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a, err := Build(store, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// Build wires the pipeline over an already migrated store. Metrics go to a
// private registry so several Apps can coexist in one process.
func Build(store service.Storage, cfg config.Config) (*App, error) {
	matcher, err := pattern.NewMatcher()
	if err != nil {
		return nil, err
	}

	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	var scanner *receipt.Scanner
	if cfg.AI.APIKey != "" {
		if scanner, err = receipt.NewScanner(cfg.AI); err != nil {
			_ = limiter.Close()
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	briefings := briefing.NewCompiler(store, time.Now)
	analyzer := growth.NewAnalyzer(store, time.Now)

	stages := []pipeline.Stage{
		normalize.NewStage(time.Now),
		dedup.NewStage(dedup.New(store)),
		classify.NewStage(store, classify.NewClassifier(matcher)),
		policy.NewStage(store, policy.NewEvaluator(matcher), cfg.Pipeline.ApprovalThreshold),
		anomaly.NewStage(store),
		action.NewStage(action.NewExecutor(store, time.Now)),
		briefing.NewStage(briefings),
		growth.NewStage(analyzer),
	}

	orch := pipeline.New(store, stages, pipeline.Options{
		Metrics:      metrics,
		StageTimeout: cfg.Pipeline.StageTimeout,
	})

	gw := gateway.New(store, gateway.Options{
		Processor: orch,
		Limiter:   limiter,
		Metrics:   metrics,
	})

	return &App{
		Store:        store,
		Matcher:      matcher,
		Orchestrator: orch,
		Gateway:      gw,
		Briefings:    briefings,
		Growth:       analyzer,
		Scanner:      scanner,
		Registry:     reg,
		limiter:      limiter,
		config:       cfg,
	}, nil
}

// Handler returns the HTTP API.
func (a *App) Handler(version string) http.Handler {
	deps := api.Deps{
		Store:        a.Store,
		Gateway:      a.Gateway,
		Stages:       a.Orchestrator,
		Briefings:    a.Briefings,
		Growth:       a.Growth,
		Gatherer:     a.Registry,
		ServiceToken: a.config.Server.ServiceToken,
		CORSOrigins:  a.config.Server.CORSOrigins,
		Version:      version,
	}
	// A typed nil would defeat the handler's nil check.
	if a.Scanner != nil {
		deps.Scanner = a.Scanner
	}
	return api.New(deps).Handler()
}

// Redrive processes events left NEW every interval until ctx is done.
func (a *App) Redrive(ctx context.Context, interval time.Duration, batch int) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.Orchestrator.ProcessPending(ctx, batch)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("Redrive pass failed", "error", err)
				continue
			}
			if n > 0 {
				common.LogInfo("Redrove pending events", common.Fields{"count": n, "batch": batch})
			}
		}
	}
}

// Close releases the limiter and the store.
func (a *App) Close() error {
	return errors.Join(a.limiter.Close(), a.Store.Close())
}

// Package gateway admits external events exactly once and hands them to the pipeline.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/pipeline"
	"github.com/Veraticus/opsflow/internal/ratelimit"
	"github.com/Veraticus/opsflow/internal/service"
)

// Processor runs the pipeline for an admitted event.
type Processor interface {
	Process(ctx context.Context, event *model.Event) (*pipeline.RouteResult, error)
}

// IngestResult describes what admission did with a request.
type IngestResult struct {
	Results        *model.StageResults `json:"results,omitempty"`
	EventID        string              `json:"event_id"`
	IdempotencyKey string              `json:"idempotency_key"`
	Status         model.EventStatus   `json:"status"`
	AgentsInvoked  []model.StageName   `json:"agents_invoked"`
	IsDuplicate    bool                `json:"is_duplicate"`
}

// Options configure a Gateway. A nil Processor only admits; a nil Limiter never throttles.
type Options struct {
	Processor Processor
	Limiter   ratelimit.Limiter
	Metrics   *pipeline.Metrics
}

// Gateway is the single entry point for new events.
type Gateway struct {
	store     service.Storage
	processor Processor
	limiter   ratelimit.Limiter
	metrics   *pipeline.Metrics
}

// New creates a Gateway.
func New(store service.Storage, opts Options) *Gateway {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	return &Gateway{
		store:     store,
		processor: opts.Processor,
		limiter:   limiter,
		metrics:   opts.Metrics,
	}
}

// Ingest validates, authorizes and admits req. A newly admitted event is processed
// exactly once before returning; a resubmission returns the stored event unchanged.
func (g *Gateway) Ingest(ctx context.Context, caller Caller, req IngestRequest) (*IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !caller.IsService && caller.UserID == "" {
		return nil, common.ErrUnauthenticated
	}

	company, err := g.store.GetCompany(ctx, req.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load company: %w", err)
	}
	userID, err := authorize(caller, company)
	if err != nil {
		return nil, err
	}

	key, err := req.Key()
	if err != nil {
		return nil, err
	}

	// Resubmissions never spend a token; only new admissions are limited.
	if existing, err := g.store.GetEventByKey(ctx, req.Source, key); err == nil {
		g.metrics.ObserveIngest(req.Source, true)
		return duplicate(existing, key), nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up event: %w", err)
	}

	allowed, err := g.limiter.Allow(ctx, company.ID)
	if err != nil {
		slog.Warn("Rate limiter unavailable, admitting request", "company_id", company.ID, "error", err)
		allowed = true
	}
	if !allowed {
		return nil, fmt.Errorf("company %s: %w", company.ID, common.ErrRateLimit)
	}

	event := &model.Event{
		ID:         uuid.NewString(),
		EventType:  req.EventType,
		Source:     req.Source,
		ExternalID: key,
		Payload:    req.Payload,
		Metadata:   withCallerToken(req.Metadata, req.ExternalID),
		UserID:     userID,
		TenantID:   company.TenantID,
		CompanyID:  company.ID,
		OccurredAt: req.OccurredAt,
		Status:     model.EventStatusNew,
		CreatedAt:  time.Now().UTC(),
	}

	inserted, err := g.store.CreateEventIfAbsent(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to store event: %w", err)
	}
	g.metrics.ObserveIngest(req.Source, !inserted)

	if !inserted {
		existing, err := g.store.GetEventByKey(ctx, req.Source, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing event: %w", err)
		}
		return duplicate(existing, key), nil
	}

	slog.Info("Event admitted",
		"event_id", event.ID,
		"event_type", event.EventType,
		"source", event.Source,
		"company_id", company.ID)

	result := &IngestResult{
		EventID:        event.ID,
		IdempotencyKey: key,
		Status:         event.Status,
		AgentsInvoked:  []model.StageName{},
	}
	if g.processor == nil {
		return result, nil
	}

	run, err := g.processor.Process(ctx, event)
	switch {
	case errors.Is(err, pipeline.ErrAlreadyClaimed):
		result.Status = model.EventStatusProcessing
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("event %s admitted but processing failed: %w", event.ID, err)
	}

	result.Status = run.Status
	result.AgentsInvoked = run.AgentsInvoked
	result.Results = run.Results
	return result, nil
}

// Route admits an event on behalf of a user, resolving the company they own.
func (g *Gateway) Route(ctx context.Context, caller Caller, req RouteRequest) (*IngestResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	userID, err := caller.ActingFor(req.UserID)
	if err != nil {
		return nil, err
	}

	company, err := g.store.GetCompanyByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve company: %w", err)
	}

	return g.Ingest(ctx, Caller{UserID: userID, IsService: caller.IsService}, IngestRequest{
		Payload:    req.Payload,
		CompanyID:  company.ID,
		Source:     req.Source,
		EventType:  req.EventType,
		ExternalID: req.ExternalID,
	})
}

// duplicate reports a stored event, with its results when it finished processing.
func duplicate(existing *model.Event, key string) *IngestResult {
	result := &IngestResult{
		EventID:        existing.ID,
		IdempotencyKey: key,
		Status:         existing.Status,
		IsDuplicate:    true,
		AgentsInvoked:  []model.StageName{},
	}
	if len(existing.AgentResults) > 0 {
		stored := model.NewStageResults()
		if err := json.Unmarshal(existing.AgentResults, stored); err != nil {
			slog.Warn("Stored agent results unreadable", "event_id", existing.ID, "error", err)
			return result
		}
		result.Results = stored
		result.AgentsInvoked = invoked(stored)
	}
	return result
}

// authorize returns the user the event is attributed to.
func authorize(caller Caller, company *model.Company) (string, error) {
	if caller.IsService {
		if company.OwnerID == "" {
			return "", fmt.Errorf("company %s has no owner: %w", company.ID, common.ErrForbidden)
		}
		return company.OwnerID, nil
	}
	if company.OwnerID != caller.UserID {
		return "", fmt.Errorf("company %s: %w", company.ID, common.ErrForbidden)
	}
	return caller.UserID, nil
}

func withCallerToken(metadata map[string]any, externalID string) map[string]any {
	if externalID == "" {
		return metadata
	}
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["external_id"] = externalID
	return out
}

func invoked(results *model.StageResults) []model.StageName {
	names := []model.StageName{}
	for _, name := range model.StageNames {
		_, failed := results.Errors[name]
		if _, ok := results.Get(name); ok || failed {
			names = append(names, name)
		}
	}
	return names
}

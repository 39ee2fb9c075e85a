package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
)

var tracer = otel.Tracer("opsflow/pipeline")

// ErrAlreadyClaimed is returned by Process for an event that is no longer NEW.
var ErrAlreadyClaimed = errors.New("event already claimed")

// RouteResult is what a pipeline run produced.
type RouteResult struct {
	Results       *model.StageResults `json:"results"`
	EventID       string              `json:"event_id"`
	Status        model.EventStatus   `json:"status"`
	AgentsInvoked []model.StageName   `json:"agents_invoked"`
}

// Options tune an Orchestrator.
type Options struct {
	Routes       map[string][]model.StageName
	Metrics      *Metrics
	Now          func() time.Time
	StageTimeout time.Duration
}

// Orchestrator runs stages for events and owns event status.
type Orchestrator struct {
	store   service.Storage
	stages  map[model.StageName]Stage
	routes  map[string][]model.StageName
	metrics *Metrics
	now     func() time.Time
	timeout time.Duration
}

// New creates an Orchestrator over the given stages.
func New(store service.Storage, stages []Stage, opts Options) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		stages:  make(map[model.StageName]Stage, len(stages)),
		routes:  opts.Routes,
		metrics: opts.Metrics,
		now:     opts.Now,
		timeout: opts.StageTimeout,
	}
	for _, s := range stages {
		o.stages[s.Name()] = s
	}
	if o.routes == nil {
		o.routes = DefaultRoutes
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Metrics returns the collectors the orchestrator records to, if any.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Process claims a NEW event and runs its route. Stage failures are recorded in
// the results and never stop the run; the event always ends PROCESSED unless the
// results themselves cannot be stored.
func (o *Orchestrator) Process(ctx context.Context, event *model.Event) (*RouteResult, error) {
	if event == nil {
		return nil, errors.New("nil event")
	}

	claimed, err := o.store.ClaimEvent(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim event %s: %w", event.ID, err)
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClaimed, event.ID)
	}

	ctx, span := tracer.Start(ctx, "pipeline.Process",
		trace.WithAttributes(
			attribute.String("event.id", event.ID),
			attribute.String("event.type", event.EventType),
			attribute.String("event.source", string(event.Source)),
		))
	defer span.End()

	route := RouteFor(o.routes, event.EventType)
	results := model.NewStageResults()

	for _, name := range route {
		in := &model.StageInput{
			Payload:   event.Payload,
			Previous:  results,
			EventID:   event.ID,
			EventType: event.EventType,
			Source:    event.Source,
			UserID:    event.UserID,
			CompanyID: event.CompanyID,
		}
		res, _, err := o.runStage(ctx, name, in)
		if err != nil {
			results.SetError(name, err.Error())
			continue
		}
		results.Set(res)
	}

	encoded, err := json.Marshal(results)
	if err != nil {
		return nil, o.fail(ctx, span, event.ID, fmt.Errorf("failed to encode results: %w", err))
	}
	if err := o.store.CompleteEvent(ctx, event.ID, model.EventStatusProcessed, encoded, o.now().UTC()); err != nil {
		return nil, o.fail(ctx, span, event.ID, fmt.Errorf("failed to complete event: %w", err))
	}

	span.SetAttributes(attribute.Int("pipeline.failed_stages", len(results.Errors)))
	span.SetStatus(codes.Ok, "")
	slog.Info("Event processed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"stages", len(route),
		"failed_stages", len(results.Errors))

	return &RouteResult{
		Results:       results,
		EventID:       event.ID,
		Status:        model.EventStatusProcessed,
		AgentsInvoked: route,
	}, nil
}

// fail marks the event FAILED on a best-effort basis and returns cause.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, eventID string, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	if err := o.store.UpdateEventStatus(ctx, eventID, model.EventStatusFailed); err != nil {
		common.LogError(err, "Failed to mark event as failed", common.Fields{"event_id": eventID})
	}
	return cause
}

// ProcessPending re-drives events left NEW, oldest first. It returns how many
// were processed; events another worker claimed first are skipped.
func (o *Orchestrator) ProcessPending(ctx context.Context, limit int) (int, error) {
	events, err := o.store.ListEventsByStatus(ctx, model.EventStatusNew, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending events: %w", err)
	}

	processed := 0
	var errs []error
	for i := range events {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, err := o.Process(ctx, &events[i])
		switch {
		case errors.Is(err, ErrAlreadyClaimed):
			common.LogDebug("Pending event already claimed", common.Fields{"event_id": events[i].ID})
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		processed++
	}
	return processed, errors.Join(errs...)
}

// RunStage executes a single stage outside of any event lifecycle. It still
// writes the audit row. The error wraps common.ErrUnknownStage when no stage
// is registered under name.
func (o *Orchestrator) RunStage(ctx context.Context, name model.StageName, in *model.StageInput) (model.StageResult, time.Duration, error) {
	if _, ok := o.stages[name]; !ok {
		return nil, 0, fmt.Errorf("%w: %s", common.ErrUnknownStage, name)
	}
	if in.Previous == nil {
		in.Previous = model.NewStageResults()
	}
	return o.runStage(ctx, name, in)
}

func (o *Orchestrator) runStage(ctx context.Context, name model.StageName, in *model.StageInput) (model.StageResult, time.Duration, error) {
	ctx, span := tracer.Start(ctx, "pipeline.stage."+string(name),
		trace.WithAttributes(
			attribute.String("stage.name", string(name)),
			attribute.String("event.id", in.EventID),
		))
	defer span.End()

	start := o.now()
	var res model.StageResult
	var err error
	if stage, ok := o.stages[name]; ok {
		res, err = o.invoke(ctx, stage, in)
	} else {
		err = fmt.Errorf("%w: %s", common.ErrUnknownStage, name)
	}
	elapsed := o.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("Stage failed", "stage", name, "event_id", in.EventID, "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
		slog.Debug("Stage completed", "stage", name, "event_id", in.EventID, "duration", elapsed)
	}
	o.metrics.ObserveStage(name, elapsed, err)
	o.audit(ctx, name, in, res, elapsed, err)

	return res, elapsed, err
}

// invoke calls the stage, converting panics and missing results into errors and
// bounding the call by the stage timeout when one is set.
func (o *Orchestrator) invoke(ctx context.Context, stage Stage, in *model.StageInput) (model.StageResult, error) {
	if o.timeout <= 0 {
		return safeExecute(ctx, stage, in)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type outcome struct {
		res model.StageResult
		err error
	}
	// The stage may outlive this call, so it gets its own copy of the input
	// while Process goes on recording later stages into the original.
	snapshot := in.Clone()
	done := make(chan outcome, 1)
	go func() {
		res, err := safeExecute(ctx, stage, snapshot)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("stage %s timed out after %s: %w", stage.Name(), o.timeout, ctx.Err())
	}
}

func safeExecute(ctx context.Context, stage Stage, in *model.StageInput) (res model.StageResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("stage %s panicked: %v", stage.Name(), r)
		}
	}()

	res, err = stage.Execute(ctx, in)
	if err == nil && res == nil {
		err = fmt.Errorf("stage %s returned no result", stage.Name())
	}
	return res, err
}

func (o *Orchestrator) audit(ctx context.Context, name model.StageName, in *model.StageInput, res model.StageResult, elapsed time.Duration, stageErr error) {
	entry := &model.AgentLog{
		ID:         uuid.NewString(),
		EventID:    in.EventID,
		UserID:     in.UserID,
		AgentType:  string(name),
		ActionType: "execute",
		InputData: map[string]any{
			"event_type": in.EventType,
			"source":     string(in.Source),
			"payload":    in.Payload,
		},
		ExecutionTimeMS: elapsed.Milliseconds(),
		Success:         stageErr == nil,
		CreatedAt:       o.now().UTC(),
	}
	if stageErr != nil {
		entry.Error = stageErr.Error()
	} else {
		entry.OutputData = toMap(res)
		entry.ConfidenceScore = confidenceOf(res)
	}

	// The audit row is written even if the stage used up the request deadline.
	if err := o.store.SaveAgentLog(context.WithoutCancel(ctx), entry); err != nil {
		common.LogError(err, "Failed to write agent log", common.Fields{"stage": string(name), "event_id": in.EventID})
	}
}

func toMap(res model.StageResult) map[string]any {
	data, err := json.Marshal(res)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func confidenceOf(res model.StageResult) float64 {
	switch r := res.(type) {
	case *model.NormalizationResult:
		return r.Record.Confidence
	case *model.DedupResult:
		return r.MatchConfidence
	case *model.ClassificationResult:
		return r.Confidence
	default:
		return 0
	}
}

// Package dedup links normalized records to existing master operations or creates new ones.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
)

// Actions reported in the stage result.
const (
	ActionLinkedDuplicate = "linked_duplicate"
	ActionCreatedNew      = "created_new"
)

// windowDays bounds the candidate search on either side of the transaction date.
const windowDays = 3

// Request carries everything needed to place one normalized record.
type Request struct {
	RawData   map[string]any
	EventID   string
	UserID    string
	CompanyID string
	Source    string
	Record    model.NormalizedRecord
}

// Deduplicator runs the candidate query and the resulting insert in one transaction.
type Deduplicator struct {
	store service.Storage
	now   func() time.Time
}

// New creates a Deduplicator.
func New(store service.Storage) *Deduplicator {
	return &Deduplicator{store: store, now: time.Now}
}

// Deduplicate links req.Record to the best-scoring candidate at or above
// DuplicateThreshold, or creates a new pending_review MasterOperation.
func (d *Deduplicator) Deduplicate(ctx context.Context, req Request) (result *model.DedupResult, err error) {
	if req.UserID == "" {
		return nil, errors.New("deduplication requires a user id")
	}

	tx, err := d.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rec := req.Record
	from := rec.TransactionDate.AddDate(0, 0, -windowDays)
	to := rec.TransactionDate.AddDate(0, 0, windowDays)
	candidates, err := tx.FindDuplicateCandidates(ctx, req.UserID, rec.Amount, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load duplicate candidates: %w", err)
	}

	var (
		best      *model.MasterOperation
		bestScore float64
	)
	for i := range candidates {
		if s := Score(rec, candidates[i]); best == nil || s > bestScore {
			best, bestScore = &candidates[i], s
		}
	}

	now := d.now().UTC()
	source := &model.OperationSource{
		ID:         uuid.NewString(),
		EventID:    req.EventID,
		SourceType: req.Source,
		ExternalID: externalID(req),
		RawData:    req.RawData,
		CreatedAt:  now,
	}

	if best != nil && bestScore >= DuplicateThreshold {
		source.MasterOperationID = best.ID
		source.MatchType = model.MatchDuplicate
		source.MatchConfidence = bestScore
		if err = tx.CreateOperationSource(ctx, source); err != nil {
			return nil, err
		}
		if err = tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit deduplication: %w", err)
		}

		slog.Info("Linked duplicate operation",
			"trace_id", best.TraceID(req.Source, now),
			"master_operation_id", best.ID,
			"score", bestScore)

		return &model.DedupResult{
			IsDuplicate:       true,
			MasterOperationID: best.ID,
			MatchConfidence:   bestScore,
			BestScore:         bestScore,
			Action:            ActionLinkedDuplicate,
			TraceID:           best.TraceID(req.Source, now),
		}, nil
	}

	op := &model.MasterOperation{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		CompanyID:       req.CompanyID,
		OperationType:   rec.OperationType,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
		Description:     rec.Description,
		Counterparty:    rec.Counterparty,
		TransactionDate: rec.TransactionDate,
		Status:          model.OperationPendingReview,
		CreatedAt:       now,
	}
	if err = tx.CreateMasterOperation(ctx, op); err != nil {
		return nil, err
	}

	source.MasterOperationID = op.ID
	source.MatchType = model.MatchNew
	source.MatchConfidence = 100
	if err = tx.CreateOperationSource(ctx, source); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deduplication: %w", err)
	}

	traceID := op.TraceID(req.Source, now)
	slog.Info("Created master operation",
		"trace_id", traceID,
		"master_operation_id", op.ID,
		"best_score", bestScore)

	return &model.DedupResult{
		IsDuplicate:       false,
		MasterOperationID: op.ID,
		MatchConfidence:   100,
		BestScore:         bestScore,
		Action:            ActionCreatedNew,
		TraceID:           traceID,
	}, nil
}

func externalID(req Request) string {
	for _, key := range []string{"external_id", "id", "fitid"} {
		if v, ok := req.RawData[key].(string); ok && v != "" {
			return v
		}
	}
	return model.SourceFingerprint(req.Source, req.Record)
}

// Stage runs deduplication inside the pipeline.
type Stage struct {
	dedup *Deduplicator
}

// NewStage creates a deduplication stage.
func NewStage(d *Deduplicator) *Stage {
	return &Stage{dedup: d}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StageDeduplication }

// Execute implements pipeline.Stage.
func (s *Stage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	if in.Previous == nil || in.Previous.Normalization == nil {
		return nil, errors.New("deduplication requires a normalization result")
	}

	source := in.Previous.Normalization.Record.SourceType
	if source == "" {
		source = string(in.Source)
	}

	res, err := s.dedup.Deduplicate(ctx, Request{
		Record:    in.Previous.Normalization.Record,
		RawData:   in.Payload,
		EventID:   in.EventID,
		UserID:    in.UserID,
		CompanyID: in.CompanyID,
		Source:    source,
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

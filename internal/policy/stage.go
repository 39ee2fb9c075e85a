package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
	"github.com/Veraticus/opsflow/internal/storage"
)

// Stage runs policy evaluation inside the pipeline. It moves the linked operation
// to pending_approval and raises one alert per high or critical violation.
type Stage struct {
	store            service.Storage
	evaluator        *Evaluator
	defaultThreshold float64
}

// NewStage creates a policy stage. defaultThreshold applies when the company
// does not carry its own approval threshold.
func NewStage(store service.Storage, evaluator *Evaluator, defaultThreshold float64) *Stage {
	return &Stage{store: store, evaluator: evaluator, defaultThreshold: defaultThreshold}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StagePolicy }

// Execute implements pipeline.Stage.
func (s *Stage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	if in.Previous == nil || in.Previous.Normalization == nil {
		return nil, errors.New("policy requires a normalization result")
	}
	rec := in.Previous.Normalization.Record

	threshold, err := s.threshold(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}

	var rules []model.BusinessRule
	if in.UserID != "" {
		rules, err = s.store.ListBusinessRules(ctx, in.UserID, model.RuleTypePolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to load policy rules: %w", err)
		}
	}

	flags := Flags{Category: in.Previous.Category()}
	if in.Previous.Deduplication != nil {
		flags.PotentialDuplicate = in.Previous.Deduplication.IsDuplicate
	}

	result := s.evaluator.Evaluate(rec, threshold, rules, flags)

	opID := in.Previous.MasterOperationID()
	if result.RequiresApproval && opID != "" {
		err := s.store.UpdateOperationStatus(ctx, opID, model.OperationPendingApproval)
		switch {
		case errors.Is(err, storage.ErrInvalidTransition):
			slog.Info("Operation already past review; status left unchanged", "operation_id", opID)
		case err != nil:
			return nil, fmt.Errorf("failed to mark operation for approval: %w", err)
		}
	}

	for _, v := range result.Violations {
		if !v.Severity.IsSevere() || in.UserID == "" {
			continue
		}
		alert := &model.Alert{
			ID:          uuid.NewString(),
			UserID:      in.UserID,
			AlertType:   "policy_violation",
			Severity:    v.Severity,
			Title:       fmt.Sprintf("Policy violation: %s", v.Rule),
			Description: v.Message,
			Data: map[string]any{
				"rule":                v.Rule,
				"required_action":     v.RequiredAction,
				"amount":              rec.Amount,
				"event_id":            in.EventID,
				"master_operation_id": opID,
			},
		}
		if err := s.store.CreateAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("failed to create policy alert: %w", err)
		}
	}

	return &result, nil
}

func (s *Stage) threshold(ctx context.Context, companyID string) (float64, error) {
	if companyID == "" {
		return s.defaultThreshold, nil
	}
	company, err := s.store.GetCompany(ctx, companyID)
	if errors.Is(err, common.ErrNotFound) {
		return s.defaultThreshold, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load company: %w", err)
	}
	if company.ApprovalThreshold > 0 {
		return company.ApprovalThreshold, nil
	}
	return s.defaultThreshold, nil
}

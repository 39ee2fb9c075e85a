package anomaly

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
)

// HistoryLimit bounds how many recent operations feed the statistics.
const HistoryLimit = 100

// Stage runs anomaly detection inside the pipeline and raises an alert for each
// high or critical finding.
type Stage struct {
	store service.Storage
}

// NewStage creates an anomaly stage.
func NewStage(store service.Storage) *Stage {
	return &Stage{store: store}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StageAnomaly }

// Execute implements pipeline.Stage.
func (s *Stage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	if in.Previous == nil || in.Previous.Normalization == nil {
		return nil, errors.New("anomaly detection requires a normalization result")
	}
	if in.UserID == "" {
		return nil, errors.New("anomaly detection requires a user")
	}
	rec := in.Previous.Normalization.Record
	opID := in.Previous.MasterOperationID()

	historical, err := s.store.ListOperations(ctx, service.OperationFilter{
		UserID:    in.UserID,
		ExcludeID: opID,
		Limit:     HistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load operation history: %w", err)
	}

	category := in.Previous.Category()
	if category == "" {
		category = rec.Category
	}
	result := Detect(rec, category, historical)

	for _, a := range result.Anomalies {
		if !a.Severity.IsSevere() {
			continue
		}
		data := map[string]any{
			"anomaly_type":        a.Type,
			"amount":              rec.Amount,
			"confidence":          a.Confidence,
			"event_id":            in.EventID,
			"master_operation_id": opID,
		}
		for k, v := range a.Data {
			data[k] = v
		}
		alert := &model.Alert{
			ID:          uuid.NewString(),
			UserID:      in.UserID,
			AlertType:   "anomaly",
			Severity:    a.Severity,
			Title:       fmt.Sprintf("Anomaly detected: %s", a.Type),
			Description: a.Description,
			Data:        data,
		}
		if err := s.store.CreateAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("failed to create anomaly alert: %w", err)
		}
	}

	return &result, nil
}

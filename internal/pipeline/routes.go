// Package pipeline routes admitted events through an ordered list of stages.
package pipeline

import (
	"context"

	"github.com/Veraticus/opsflow/internal/model"
)

// Stage is one independent processing step. Execute reads what it needs from
// in.Previous and must not assume any earlier stage succeeded.
type Stage interface {
	Name() model.StageName
	Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error)
}

// DefaultPipeline runs for event types without a route.
var DefaultPipeline = []model.StageName{model.StageNormalization, model.StageClassification}

// DefaultRoutes maps event types to their ordered stages.
var DefaultRoutes = map[string][]model.StageName{
	"transaction.created": {
		model.StageNormalization, model.StageDeduplication, model.StageClassification,
		model.StagePolicy, model.StageAnomaly, model.StageAction,
	},
	"bank_statement.imported": {
		model.StageNormalization, model.StageDeduplication, model.StageClassification,
		model.StagePolicy, model.StageAnomaly, model.StageBriefing,
	},
	"payment.received": {
		model.StageNormalization, model.StageDeduplication, model.StageClassification,
		model.StagePolicy, model.StageAnomaly, model.StageAction,
	},
	"receipt.scanned": {
		model.StageNormalization, model.StageDeduplication, model.StageClassification,
		model.StagePolicy, model.StageAction,
	},
	"invoice.created": {
		model.StageNormalization, model.StageDeduplication, model.StageClassification,
		model.StagePolicy, model.StageAction,
	},
	"briefing.requested": {model.StageBriefing},
	"growth.requested":   {model.StageGrowth},
}

// RouteFor returns the stages for eventType, falling back to DefaultPipeline.
func RouteFor(routes map[string][]model.StageName, eventType string) []model.StageName {
	if stages, ok := routes[eventType]; ok {
		return stages
	}
	return DefaultPipeline
}

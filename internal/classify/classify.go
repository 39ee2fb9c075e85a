// Package classify assigns a category and confidence to normalized records.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/pattern"
	"github.com/Veraticus/opsflow/internal/service"
)

const (
	ruleConfidence       = 95.0
	suggestionConfidence = 75.0
	baseConfidence       = 50.0
	maxKeywordConfidence = 90.0
	pointsPerHit         = 10
)

// Classifier applies business rules, then keyword tables.
type Classifier struct {
	matcher pattern.Matcher
}

// NewClassifier creates a Classifier.
func NewClassifier(matcher pattern.Matcher) *Classifier {
	return &Classifier{matcher: matcher}
}

// Classify picks a category for rec. The first matching classification rule wins
// with confidence 95; otherwise each keyword hit scores 10 points toward its category.
// A receipt suggestion that names a known category is used when no keyword hits.
func (c *Classifier) Classify(rec model.NormalizedRecord, rules []model.BusinessRule) model.ClassificationResult {
	classificationRules := make([]model.BusinessRule, 0, len(rules))
	for _, rule := range rules {
		if rule.RuleType == model.RuleTypeClassification {
			classificationRules = append(classificationRules, rule)
		}
	}

	rule, err := c.matcher.FirstMatch(classificationRules, rec)
	if err != nil {
		slog.Warn("Skipped classification rule that failed to evaluate", "error", err)
	}
	if rule != nil {
		if category := rule.ActionString("category", ""); category != "" {
			return model.ClassificationResult{
				Category:   category,
				Confidence: ruleConfidence,
				RuleID:     rule.ID,
				Reasons:    []string{fmt.Sprintf("matched business rule %q", rule.Name)},
			}
		}
	}

	return classifyByKeywords(rec)
}

func classifyByKeywords(rec model.NormalizedRecord) model.ClassificationResult {
	table, fallback := tableFor(rec.OperationType)
	text := strings.ToLower(rec.Description + " " + rec.Counterparty)

	bestCategory := fallback
	bestScore := 0
	var bestHits []string
	for _, entry := range table {
		var hits []string
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				hits = append(hits, kw)
			}
		}
		if score := len(hits) * pointsPerHit; score > bestScore {
			bestCategory, bestScore, bestHits = entry.category, score, hits
		}
	}

	if bestScore == 0 {
		if rec.Category != "" && IsKnownCategory(rec.OperationType, rec.Category) {
			return model.ClassificationResult{
				Category:   rec.Category,
				Confidence: suggestionConfidence,
				Reasons:    []string{fmt.Sprintf("suggested category %q from receipt scan", rec.Category)},
			}
		}
		return model.ClassificationResult{
			Category:   fallback,
			Confidence: baseConfidence,
			Reasons:    []string{"no keyword matched; using default bucket"},
		}
	}

	reasons := make([]string, 0, len(bestHits))
	for _, kw := range bestHits {
		reasons = append(reasons, fmt.Sprintf("keyword %q matched %s", kw, bestCategory))
	}
	return model.ClassificationResult{
		Category:   bestCategory,
		Confidence: math.Min(maxKeywordConfidence, baseConfidence+2*float64(bestScore)),
		Reasons:    reasons,
	}
}

// Stage runs classification inside the pipeline and records the outcome on the
// linked master operation.
type Stage struct {
	store      service.Storage
	classifier *Classifier
}

// NewStage creates a classification stage.
func NewStage(store service.Storage, classifier *Classifier) *Stage {
	return &Stage{store: store, classifier: classifier}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StageClassification }

// Execute implements pipeline.Stage.
func (s *Stage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	if in.Previous == nil || in.Previous.Normalization == nil {
		return nil, errors.New("classification requires a normalization result")
	}

	var rules []model.BusinessRule
	if in.UserID != "" {
		var err error
		rules, err = s.store.ListBusinessRules(ctx, in.UserID, model.RuleTypeClassification)
		if err != nil {
			return nil, fmt.Errorf("failed to load classification rules: %w", err)
		}
	}

	result := s.classifier.Classify(in.Previous.Normalization.Record, rules)

	if opID := in.Previous.MasterOperationID(); opID != "" {
		if err := s.store.UpdateOperationClassification(ctx, opID, result.Category, result.Confidence, result.Reasons); err != nil {
			return nil, fmt.Errorf("failed to record classification: %w", err)
		}
	}
	return &result, nil
}

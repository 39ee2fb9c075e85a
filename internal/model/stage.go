package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// StageName identifies a pipeline stage.
type StageName string

// Stage name constants.
const (
	StageNormalization  StageName = "normalization"
	StageDeduplication  StageName = "deduplication"
	StageClassification StageName = "classification"
	StagePolicy         StageName = "policy"
	StageAnomaly        StageName = "anomaly"
	StageAction         StageName = "action"
	StageBriefing       StageName = "briefing"
	StageGrowth         StageName = "growth"
)

// StageNames lists every stage in canonical order.
var StageNames = []StageName{
	StageNormalization,
	StageDeduplication,
	StageClassification,
	StagePolicy,
	StageAnomaly,
	StageAction,
	StageBriefing,
	StageGrowth,
}

// IsValid reports whether n names a known stage.
func (n StageName) IsValid() bool {
	for _, known := range StageNames {
		if n == known {
			return true
		}
	}
	return false
}

// StageInput is everything a stage receives for one invocation.
type StageInput struct {
	Payload   map[string]any
	Previous  *StageResults
	EventID   string
	EventType string
	Source    EventSource
	UserID    string
	CompanyID string
}

// Clone returns a copy whose payload and previous results can be read while
// the original keeps accumulating. Individual stage results are shared; they
// are never modified once recorded.
func (in *StageInput) Clone() *StageInput {
	out := *in
	out.Payload = maps.Clone(in.Payload)
	out.Previous = in.Previous.Snapshot()
	return &out
}

// StageResult is implemented by every per-stage output.
type StageResult interface {
	Stage() StageName
}

// NormalizationResult is the normalization stage output.
type NormalizationResult struct {
	Record NormalizedRecord `json:"normalized"`
}

// Stage implements StageResult.
func (NormalizationResult) Stage() StageName { return StageNormalization }

// DedupResult is the deduplication stage output.
type DedupResult struct {
	MasterOperationID string  `json:"master_operation_id"`
	Action            string  `json:"action"`
	TraceID           string  `json:"trace_id"`
	MatchConfidence   float64 `json:"match_confidence"`
	BestScore         float64 `json:"best_score"`
	IsDuplicate       bool    `json:"is_duplicate"`
}

// Stage implements StageResult.
func (DedupResult) Stage() StageName { return StageDeduplication }

// ClassificationResult is the classification stage output.
type ClassificationResult struct {
	Category   string   `json:"category"`
	RuleID     string   `json:"rule_id,omitempty"`
	Reasons    []string `json:"reasons"`
	Confidence float64  `json:"confidence"`
}

// Stage implements StageResult.
func (ClassificationResult) Stage() StageName { return StageClassification }

// Violation is one policy finding.
type Violation struct {
	Rule           string   `json:"rule"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	RequiredAction string   `json:"required_action,omitempty"`
}

// PolicyResult is the policy stage output.
type PolicyResult struct {
	Violations       []Violation `json:"violations"`
	IsCompliant      bool        `json:"is_compliant"`
	RequiresApproval bool        `json:"requires_approval"`
}

// Stage implements StageResult.
func (PolicyResult) Stage() StageName { return StagePolicy }

// Anomaly is one anomaly finding.
type Anomaly struct {
	Data        map[string]any `json:"data,omitempty"`
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
}

// AnomalyResult is the anomaly stage output.
type AnomalyResult struct {
	Anomalies    []Anomaly `json:"anomalies"`
	HasAnomalies bool      `json:"has_anomalies"`
}

// Stage implements StageResult.
func (AnomalyResult) Stage() StageName { return StageAnomaly }

// ActionStatus reports how an action ended.
type ActionStatus string

// Action status constants.
const (
	ActionExecuted ActionStatus = "executed"
	ActionPending  ActionStatus = "pending"
	ActionSkipped  ActionStatus = "skipped"
	ActionFailed   ActionStatus = "failed"
)

// ActionOutcome reports one executed action.
type ActionOutcome struct {
	Action     string       `json:"action"`
	Status     ActionStatus `json:"status"`
	Details    string       `json:"details"`
	ExternalID string       `json:"external_id,omitempty"`
}

// ActionResult is the action stage output.
type ActionResult struct {
	Actions []ActionOutcome `json:"actions"`
}

// Stage implements StageResult.
func (ActionResult) Stage() StageName { return StageAction }

// BriefingContent is the structured body of a briefing.
type BriefingContent struct {
	Metrics           map[string]float64 `json:"metrics"`
	Summary           string             `json:"summary"`
	Priorities        []Task             `json:"priorities"`
	Alerts            []Alert            `json:"alerts"`
	ActionItems       []string           `json:"action_items"`
	FinancialSnapshot FinancialSnapshot  `json:"financial_snapshot"`
}

// FinancialSnapshot holds trailing totals.
type FinancialSnapshot struct {
	WeekOperations int     `json:"week_operations"`
	MonthIncome    float64 `json:"month_income"`
	MonthExpenses  float64 `json:"month_expenses"`
	NetCashFlow    float64 `json:"net_cash_flow"`
	PendingCount   int     `json:"pending_approval_count"`
	FlaggedCount   int     `json:"flagged_count"`
}

// BriefingResult is the briefing stage output.
type BriefingResult struct {
	Briefing Briefing `json:"briefing"`
}

// Stage implements StageResult.
func (BriefingResult) Stage() StageName { return StageBriefing }

// Insight is one growth observation.
type Insight struct {
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Impact         string  `json:"impact"`
	Recommendation string  `json:"recommendation,omitempty"`
	Metric         float64 `json:"metric,omitempty"`
}

// ContentSuggestions is the optional templated content bundle.
type ContentSuggestions struct {
	Topic    string          `json:"topic"`
	Platform string          `json:"platform"`
	Tone     string          `json:"tone"`
	Calendar []CalendarEntry `json:"calendar"`
	Captions []string        `json:"captions"`
	Hashtags []string        `json:"hashtags"`
}

// CalendarEntry schedules one post.
type CalendarEntry struct {
	Date   time.Time `json:"date"`
	Theme  string    `json:"theme"`
	Format string    `json:"format"`
}

// GrowthResult is the growth stage output.
type GrowthResult struct {
	ContentSuggestions *ContentSuggestions `json:"content_suggestions,omitempty"`
	Insights           []Insight           `json:"insights"`
}

// Stage implements StageResult.
func (GrowthResult) Stage() StageName { return StageGrowth }

// StageResults accumulates every prior stage output for one pipeline run.
// A stage slot is either its typed result or an entry in Errors, never both.
type StageResults struct {
	Normalization  *NormalizationResult
	Deduplication  *DedupResult
	Classification *ClassificationResult
	Policy         *PolicyResult
	Anomaly        *AnomalyResult
	Action         *ActionResult
	Briefing       *BriefingResult
	Growth         *GrowthResult
	Errors         map[StageName]string
}

// NewStageResults returns an empty accumulator.
func NewStageResults() *StageResults {
	return &StageResults{Errors: make(map[StageName]string)}
}

// Set stores a stage result and clears any error recorded for it.
func (r *StageResults) Set(res StageResult) {
	switch v := res.(type) {
	case *NormalizationResult:
		r.Normalization = v
	case *DedupResult:
		r.Deduplication = v
	case *ClassificationResult:
		r.Classification = v
	case *PolicyResult:
		r.Policy = v
	case *AnomalyResult:
		r.Anomaly = v
	case *ActionResult:
		r.Action = v
	case *BriefingResult:
		r.Briefing = v
	case *GrowthResult:
		r.Growth = v
	default:
		return
	}
	delete(r.Errors, res.Stage())
}

// SetError records a failed stage.
func (r *StageResults) SetError(name StageName, msg string) {
	if r.Errors == nil {
		r.Errors = make(map[StageName]string)
	}
	r.Errors[name] = msg
}

// Snapshot copies the accumulator. Nil stays nil.
func (r *StageResults) Snapshot() *StageResults {
	if r == nil {
		return nil
	}
	out := *r
	out.Errors = maps.Clone(r.Errors)
	if out.Errors == nil {
		out.Errors = make(map[StageName]string)
	}
	return &out
}

// Get returns the typed result for a stage, if present.
func (r *StageResults) Get(name StageName) (StageResult, bool) {
	if r == nil {
		return nil, false
	}
	var res StageResult
	switch name {
	case StageNormalization:
		if r.Normalization != nil {
			res = r.Normalization
		}
	case StageDeduplication:
		if r.Deduplication != nil {
			res = r.Deduplication
		}
	case StageClassification:
		if r.Classification != nil {
			res = r.Classification
		}
	case StagePolicy:
		if r.Policy != nil {
			res = r.Policy
		}
	case StageAnomaly:
		if r.Anomaly != nil {
			res = r.Anomaly
		}
	case StageAction:
		if r.Action != nil {
			res = r.Action
		}
	case StageBriefing:
		if r.Briefing != nil {
			res = r.Briefing
		}
	case StageGrowth:
		if r.Growth != nil {
			res = r.Growth
		}
	}
	return res, res != nil
}

// MasterOperationID returns the operation linked by deduplication, if any.
func (r *StageResults) MasterOperationID() string {
	if r == nil || r.Deduplication == nil {
		return ""
	}
	return r.Deduplication.MasterOperationID
}

// Category returns the classified category, if any.
func (r *StageResults) Category() string {
	if r == nil || r.Classification == nil {
		return ""
	}
	return r.Classification.Category
}

type stageError struct {
	Error string `json:"error"`
}

// MarshalJSON renders the wire shape {stage_name: output | {"error": msg}}.
func (r *StageResults) MarshalJSON() ([]byte, error) {
	out := make(map[StageName]any)
	for _, name := range StageNames {
		if msg, failed := r.Errors[name]; failed {
			out[name] = stageError{Error: msg}
			continue
		}
		if res, ok := r.Get(name); ok {
			out[name] = res
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire shape produced by MarshalJSON.
// Unknown stage names are ignored.
func (r *StageResults) UnmarshalJSON(data []byte) error {
	var raw map[StageName]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse stage results: %w", err)
	}
	*r = StageResults{Errors: make(map[StageName]string)}

	for name, body := range raw {
		var probe struct {
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(body, &probe); err == nil && probe.Error != nil {
			r.Errors[name] = *probe.Error
			continue
		}

		var res StageResult
		switch name {
		case StageNormalization:
			res = &NormalizationResult{}
		case StageDeduplication:
			res = &DedupResult{}
		case StageClassification:
			res = &ClassificationResult{}
		case StagePolicy:
			res = &PolicyResult{}
		case StageAnomaly:
			res = &AnomalyResult{}
		case StageAction:
			res = &ActionResult{}
		case StageBriefing:
			res = &BriefingResult{}
		case StageGrowth:
			res = &GrowthResult{}
		default:
			continue
		}
		if err := json.Unmarshal(body, res); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", name, err)
		}
		r.Set(res)
	}
	return nil
}

// Package growth derives business insights from trailing operations and clients.
package growth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/service"
)

// Insight types.
const (
	InsightMarginWarning       = "margin_warning"
	InsightGrowthInvestment    = "growth_investment"
	InsightAcquisitionStall    = "acquisition_stall"
	InsightAcquisitionSuccess  = "acquisition_success"
	InsightDiversificationRisk = "diversification_risk"
	InsightCostOptimization    = "cost_optimization"
	InsightScalingOpportunity  = "scaling_opportunity"
	InsightStatus              = "status"
)

// Impact levels.
const (
	ImpactHigh   = "high"
	ImpactMedium = "medium"
	ImpactLow    = "low"
)

const (
	operationWindow      = 90 * 24 * time.Hour
	clientWindow         = 30 * 24 * time.Hour
	lowMargin            = 0.20
	highMargin           = 0.40
	successfulClients    = 3
	incomeConcentration  = 0.70
	expenseConcentration = 0.40
	scalingIncome        = 10000.0
	uncategorized        = "uncategorized"
)

// Facts are the aggregates the heuristics run on.
type Facts struct {
	IncomeByCategory  map[string]decimal.Decimal
	ExpenseByCategory map[string]decimal.Decimal
	IncomeByCompany   map[string]decimal.Decimal
	Income            decimal.Decimal
	Expenses          decimal.Decimal
	Companies         int
	NewClients        int
}

// Aggregate folds operations into Facts. Only income for one of companies counts
// toward per-company income.
func Aggregate(ops []model.MasterOperation, companies []model.Company, newClients int) Facts {
	f := Facts{
		IncomeByCategory:  make(map[string]decimal.Decimal),
		ExpenseByCategory: make(map[string]decimal.Decimal),
		IncomeByCompany:   make(map[string]decimal.Decimal),
		Income:            decimal.Zero,
		Expenses:          decimal.Zero,
		Companies:         len(companies),
		NewClients:        newClients,
	}
	owned := make(map[string]bool, len(companies))
	for _, c := range companies {
		owned[c.ID] = true
	}

	for _, op := range ops {
		amount := decimal.NewFromFloat(op.Amount)
		category := op.Category
		if category == "" {
			category = uncategorized
		}
		switch op.OperationType {
		case model.OperationIncome:
			f.Income = f.Income.Add(amount)
			f.IncomeByCategory[category] = f.IncomeByCategory[category].Add(amount)
			if owned[op.CompanyID] {
				f.IncomeByCompany[op.CompanyID] = f.IncomeByCompany[op.CompanyID].Add(amount)
			}
		case model.OperationExpense:
			f.Expenses = f.Expenses.Add(amount)
			f.ExpenseByCategory[category] = f.ExpenseByCategory[category].Add(amount)
		}
	}
	return f
}

// Insights runs every heuristic over f. The result is never empty: when nothing
// fires a neutral status insight is returned.
func Insights(f Facts) []model.Insight {
	var insights []model.Insight

	if f.Income.IsPositive() {
		margin := f.Income.Sub(f.Expenses).Div(f.Income).InexactFloat64()
		switch {
		case margin < lowMargin:
			insights = append(insights, model.Insight{
				Type:           InsightMarginWarning,
				Title:          "Profit margin is thin",
				Description:    fmt.Sprintf("Your margin over the last 90 days is %.1f%%.", margin*100),
				Impact:         ImpactHigh,
				Recommendation: "Review pricing and your largest expense categories.",
				Metric:         margin,
			})
		case margin > highMargin:
			insights = append(insights, model.Insight{
				Type:           InsightGrowthInvestment,
				Title:          "Room to invest in growth",
				Description:    fmt.Sprintf("Your margin over the last 90 days is %.1f%%.", margin*100),
				Impact:         ImpactMedium,
				Recommendation: "Consider reinvesting part of the surplus in marketing or hiring.",
				Metric:         margin,
			})
		}
	}

	switch {
	case f.NewClients == 0:
		insights = append(insights, model.Insight{
			Type:           InsightAcquisitionStall,
			Title:          "No new clients this month",
			Description:    "No clients were added in the last 30 days.",
			Impact:         ImpactMedium,
			Recommendation: "Reach out to past leads or run a referral campaign.",
		})
	case f.NewClients >= successfulClients:
		insights = append(insights, model.Insight{
			Type:        InsightAcquisitionSuccess,
			Title:       "Client acquisition is working",
			Description: fmt.Sprintf("%d clients were added in the last 30 days.", f.NewClients),
			Impact:      ImpactLow,
			Metric:      float64(f.NewClients),
		})
	}

	if category, share, ok := dominant(f.IncomeByCategory, f.Income); ok && share > incomeConcentration {
		insights = append(insights, model.Insight{
			Type:           InsightDiversificationRisk,
			Title:          "Income depends on one category",
			Description:    fmt.Sprintf("%.0f%% of income comes from %s.", share*100, category),
			Impact:         ImpactHigh,
			Recommendation: "Develop a second revenue stream to reduce concentration risk.",
			Metric:         share,
		})
	}

	if category, share, ok := dominant(f.ExpenseByCategory, f.Expenses); ok && share > expenseConcentration {
		insights = append(insights, model.Insight{
			Type:           InsightCostOptimization,
			Title:          "One category dominates spending",
			Description:    fmt.Sprintf("%.0f%% of expenses go to %s.", share*100, category),
			Impact:         ImpactMedium,
			Recommendation: fmt.Sprintf("Look for savings in %s.", category),
			Metric:         share,
		})
	}

	var large []string
	threshold := decimal.NewFromFloat(scalingIncome)
	for id, income := range f.IncomeByCompany {
		if income.GreaterThan(threshold) {
			large = append(large, id)
		}
	}
	if len(large) == 1 {
		insights = append(insights, model.Insight{
			Type:           InsightScalingOpportunity,
			Title:          "One company is ready to scale",
			Description:    fmt.Sprintf("Company %s earned over %.0f in the last 90 days.", large[0], scalingIncome),
			Impact:         ImpactMedium,
			Recommendation: "Apply what works there to your other companies.",
			Metric:         f.IncomeByCompany[large[0]].InexactFloat64(),
		})
	}

	if len(insights) == 0 {
		insights = append(insights, model.Insight{
			Type:        InsightStatus,
			Title:       "Business is steady",
			Description: fmt.Sprintf("Income %s and expenses %s over the last 90 days.", f.Income.StringFixed(2), f.Expenses.StringFixed(2)),
			Impact:      ImpactLow,
		})
	}
	return insights
}

// dominant returns the largest category and its share of total. Ties go to the
// alphabetically first category.
func dominant(byCategory map[string]decimal.Decimal, total decimal.Decimal) (string, float64, bool) {
	if !total.IsPositive() || len(byCategory) == 0 {
		return "", 0, false
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	best := categories[0]
	for _, c := range categories[1:] {
		if byCategory[c].GreaterThan(byCategory[best]) {
			best = c
		}
	}
	return best, byCategory[best].Div(total).InexactFloat64(), true
}

// Analyzer loads the data for a user and runs the heuristics.
type Analyzer struct {
	store service.Storage
	now   func() time.Time
}

// NewAnalyzer creates an Analyzer. A nil clock uses time.Now.
func NewAnalyzer(store service.Storage, now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{store: store, now: now}
}

// Analyze returns insights for userID and, when req sets any field, a content bundle.
func (a *Analyzer) Analyze(ctx context.Context, userID string, req *ContentRequest) (*model.GrowthResult, error) {
	if userID == "" {
		return nil, errors.New("growth analysis requires a user")
	}
	now := a.now()

	since := now.Add(-operationWindow)
	ops, err := a.store.ListOperations(ctx, service.OperationFilter{UserID: userID, Since: &since})
	if err != nil {
		return nil, fmt.Errorf("failed to load operations: %w", err)
	}
	companies, err := a.store.ListCompanies(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load companies: %w", err)
	}
	clientsSince := now.Add(-clientWindow)
	clients, err := a.store.ListClients(ctx, userID, &clientsSince)
	if err != nil {
		return nil, fmt.Errorf("failed to load clients: %w", err)
	}

	result := &model.GrowthResult{
		Insights: Insights(Aggregate(ops, companies, len(clients))),
	}
	if req.Wanted() {
		result.ContentSuggestions = Suggest(*req, now)
	}
	return result, nil
}

// Stage runs the analyzer inside the pipeline. The payload may carry topic,
// platform and tone for the content bundle.
type Stage struct {
	analyzer *Analyzer
}

// NewStage creates a growth stage.
func NewStage(analyzer *Analyzer) *Stage {
	return &Stage{analyzer: analyzer}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StageGrowth }

// Execute implements pipeline.Stage.
func (s *Stage) Execute(ctx context.Context, in *model.StageInput) (model.StageResult, error) {
	req := ContentRequestFromPayload(in.Payload)
	res, err := s.analyzer.Analyze(ctx, in.UserID, req)
	if err != nil {
		return nil, err
	}
	return res, nil
}

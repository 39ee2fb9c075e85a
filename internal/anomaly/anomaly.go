// Package anomaly flags statistical outliers and suspicious patterns in operations.
package anomaly

import (
	"fmt"
	"math"

	"github.com/Veraticus/opsflow/internal/model"
)

// Anomaly types.
const (
	TypeAmountOutlier = "amount_outlier"
	TypeCategorySpike = "category_spike"
	TypeSameDayVolume = "same_day_frequency"
	TypeRoundNumber   = "round_number"
	TypeExpenseIncome = "expense_income_ratio"
)

const (
	// MinHistory is the number of historical points below which nothing is flagged.
	MinHistory = 5

	criticalZ           = 5.0
	highZ               = 3.0
	mediumZ             = 2.0
	maxConfidence       = 95.0
	minCategoryPoints   = 3
	categorySpikeFactor = 3.0
	sameDayLimit        = 5
	roundNumberFloor    = 100.0
	minRatioExpenses    = 10
	minRatioIncomes     = 3
	incomeShareLimit    = 0.5
)

// Detect compares rec against historical operations. category is the classified
// category of rec, which may be empty.
func Detect(rec model.NormalizedRecord, category string, historical []model.MasterOperation) model.AnomalyResult {
	result := model.AnomalyResult{Anomalies: []model.Anomaly{}}
	if len(historical) < MinHistory {
		return result
	}

	if a, ok := amountOutlier(rec, historical); ok {
		result.Anomalies = append(result.Anomalies, a)
	}
	if a, ok := categorySpike(rec, category, historical); ok {
		result.Anomalies = append(result.Anomalies, a)
	}
	if a, ok := sameDayFrequency(rec, historical); ok {
		result.Anomalies = append(result.Anomalies, a)
	}
	if a, ok := roundNumber(rec); ok {
		result.Anomalies = append(result.Anomalies, a)
	}
	if a, ok := expenseIncomeRatio(rec, historical); ok {
		result.Anomalies = append(result.Anomalies, a)
	}

	result.HasAnomalies = len(result.Anomalies) > 0
	return result
}

// amountOutlier uses the population standard deviation. A flat history has no
// spread to measure against and is skipped.
func amountOutlier(rec model.NormalizedRecord, historical []model.MasterOperation) (model.Anomaly, bool) {
	mean, stddev := meanStddev(historical)
	if stddev == 0 {
		return model.Anomaly{}, false
	}

	z := (rec.Amount - mean) / stddev
	absZ := math.Abs(z)

	var severity model.Severity
	var description string
	switch {
	case absZ > criticalZ:
		severity, description = model.SeverityCritical, "Extreme amount outlier"
	case absZ > highZ:
		severity, description = model.SeverityHigh, "Amount outlier"
	case absZ > mediumZ:
		severity, description = model.SeverityMedium, "Unusual amount"
	default:
		return model.Anomaly{}, false
	}

	return model.Anomaly{
		Type:        TypeAmountOutlier,
		Severity:    severity,
		Description: fmt.Sprintf("%s: %.2f is %.1f standard deviations from the mean of %.2f", description, rec.Amount, z, mean),
		Confidence:  math.Min(maxConfidence, 50+absZ*10),
		Data: map[string]any{
			"z_score": z,
			"mean":    mean,
			"stddev":  stddev,
		},
	}, true
}

func categorySpike(rec model.NormalizedRecord, category string, historical []model.MasterOperation) (model.Anomaly, bool) {
	if category == "" {
		return model.Anomaly{}, false
	}

	var sum float64
	var count int
	for _, op := range historical {
		if op.Category == category {
			sum += op.Amount
			count++
		}
	}
	if count < minCategoryPoints {
		return model.Anomaly{}, false
	}

	mean := sum / float64(count)
	if rec.Amount <= mean*categorySpikeFactor {
		return model.Anomaly{}, false
	}
	return model.Anomaly{
		Type:        TypeCategorySpike,
		Severity:    model.SeverityMedium,
		Description: fmt.Sprintf("Spending in %s is %.1fx the usual %.2f", category, rec.Amount/mean, mean),
		Confidence:  75,
		Data: map[string]any{
			"category":      category,
			"category_mean": mean,
		},
	}, true
}

func sameDayFrequency(rec model.NormalizedRecord, historical []model.MasterOperation) (model.Anomaly, bool) {
	if rec.TransactionDate.IsZero() {
		return model.Anomaly{}, false
	}
	day := rec.TransactionDate.UTC().Format("2006-01-02")

	count := 0
	for _, op := range historical {
		if op.TransactionDate.UTC().Format("2006-01-02") == day {
			count++
		}
	}
	if count < sameDayLimit {
		return model.Anomaly{}, false
	}
	return model.Anomaly{
		Type:        TypeSameDayVolume,
		Severity:    model.SeverityLow,
		Description: fmt.Sprintf("%d other transactions on %s", count, day),
		Confidence:  60,
		Data:        map[string]any{"date": day, "count": count},
	}, true
}

func roundNumber(rec model.NormalizedRecord) (model.Anomaly, bool) {
	cents := int64(math.Round(rec.Amount * 100))
	if rec.Amount <= roundNumberFloor || cents%10000 != 0 {
		return model.Anomaly{}, false
	}
	return model.Anomaly{
		Type:        TypeRoundNumber,
		Severity:    model.SeverityLow,
		Description: fmt.Sprintf("Round amount %.2f", rec.Amount),
		Confidence:  50,
	}, true
}

func expenseIncomeRatio(rec model.NormalizedRecord, historical []model.MasterOperation) (model.Anomaly, bool) {
	if rec.OperationType != model.OperationExpense {
		return model.Anomaly{}, false
	}

	var expenses, incomes int
	var incomeSum float64
	for _, op := range historical {
		switch op.OperationType {
		case model.OperationExpense:
			expenses++
		case model.OperationIncome:
			incomes++
			incomeSum += op.Amount
		}
	}
	if expenses < minRatioExpenses || incomes < minRatioIncomes {
		return model.Anomaly{}, false
	}

	avgIncome := incomeSum / float64(incomes)
	if rec.Amount <= avgIncome*incomeShareLimit {
		return model.Anomaly{}, false
	}
	return model.Anomaly{
		Type:        TypeExpenseIncome,
		Severity:    model.SeverityHigh,
		Description: fmt.Sprintf("Expense %.2f exceeds half of the average income %.2f", rec.Amount, avgIncome),
		Confidence:  80,
		Data:        map[string]any{"average_income": avgIncome},
	}, true
}

func meanStddev(historical []model.MasterOperation) (float64, float64) {
	var sum float64
	for _, op := range historical {
		sum += op.Amount
	}
	mean := sum / float64(len(historical))

	var sq float64
	for _, op := range historical {
		d := op.Amount - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(historical)))
}

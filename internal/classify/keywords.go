package classify

import "github.com/Veraticus/opsflow/internal/model"

// categoryKeywords pairs a category with the keywords that vote for it.
// Table order breaks ties.
type categoryKeywords struct {
	category string
	keywords []string
}

// Fallback categories when no keyword matches.
const (
	OtherIncome  = "other_income"
	OtherExpense = "other_expense"
)

var incomeKeywords = []categoryKeywords{
	{category: "sales", keywords: []string{"sale", "order", "invoice", "shopify", "product", "customer payment"}},
	{category: "consulting", keywords: []string{"consulting", "consultant", "advisory", "retainer", "freelance"}},
	{category: "subscription", keywords: []string{"subscription", "recurring", "membership", "monthly plan", "annual plan"}},
	{category: "refund_received", keywords: []string{"refund", "reimbursement", "cashback", "rebate"}},
	{category: "interest", keywords: []string{"interest", "dividend", "yield"}},
}

var expenseKeywords = []categoryKeywords{
	{category: "payroll", keywords: []string{"payroll", "salary", "wages", "bonus", "gusto"}},
	{category: "rent", keywords: []string{"rent", "lease", "landlord", "coworking"}},
	{category: "utilities", keywords: []string{"electric", "hydro", "water", "utility", "internet", "telecom", "phone"}},
	{category: "software", keywords: []string{"software", "saas", "aws", "github", "google workspace", "adobe", "slack", "license"}},
	{category: "marketing", keywords: []string{"marketing", "advertising", "ads", "campaign", "promotion", "seo"}},
	{category: "travel", keywords: []string{"travel", "flight", "airline", "hotel", "uber", "taxi", "airbnb", "train"}},
	{category: "meals", keywords: []string{"restaurant", "meal", "lunch", "dinner", "coffee", "cafe", "catering"}},
	{category: "supplies", keywords: []string{"supplies", "staples", "office depot", "paper", "printer", "stationery"}},
	{category: "professional_services", keywords: []string{"legal", "lawyer", "attorney", "accounting", "accountant", "bookkeeping", "notary"}},
	{category: "insurance", keywords: []string{"insurance", "premium", "underwriter"}},
	{category: "taxes", keywords: []string{"tax", "cra", "irs", "gst", "hst"}},
	{category: "bank_fees", keywords: []string{"bank fee", "service charge", "overdraft", "wire fee", "nsf"}},
}

func tableFor(opType model.OperationType) ([]categoryKeywords, string) {
	if opType == model.OperationIncome {
		return incomeKeywords, OtherIncome
	}
	return expenseKeywords, OtherExpense
}

// IsKnownCategory reports whether category belongs to the table for opType.
func IsKnownCategory(opType model.OperationType, category string) bool {
	table, fallback := tableFor(opType)
	if category == fallback {
		return true
	}
	for _, entry := range table {
		if entry.category == category {
			return true
		}
	}
	return false
}

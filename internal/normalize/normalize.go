// Package normalize maps heterogeneous event payloads onto model.NormalizedRecord.
package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/opsflow/internal/model"
)

const (
	defaultCurrency = "CAD"
	maxTextLength   = 255
	minConfidence   = 50.0
)

var (
	amountFields       = []string{"amount", "total"}
	dateFields         = []string{"date", "transaction_date", "created_at", "timestamp"}
	descriptionFields  = []string{"description", "memo", "note", "reference"}
	counterpartyFields = []string{"counterparty", "merchant", "vendor", "payee", "payer", "name"}
	typeFields         = []string{"operation_type", "type", "transaction_type", "direction"}
	categoryFields     = []string{"suggested_category", "category"}

	currencyCodes = map[string]string{
		"$":   "CAD",
		"CAD": "CAD",
		"C$":  "CAD",
		"US$": "USD",
		"USD": "USD",
		"R$":  "BRL",
		"BRL": "BRL",
		"€":   "EUR",
		"EUR": "EUR",
	}

	operationTypes = map[string]model.OperationType{
		"credit":       model.OperationIncome,
		"income":       model.OperationIncome,
		"deposit":      model.OperationIncome,
		"receive":      model.OperationIncome,
		"transfer_in":  model.OperationIncome,
		"debit":        model.OperationExpense,
		"expense":      model.OperationExpense,
		"withdrawal":   model.OperationExpense,
		"payment":      model.OperationExpense,
		"transfer_out": model.OperationExpense,
	}

	// Tried in order after RFC 3339.
	dateLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"02/01/2006",
		"2006-01-02",
		"02-01-2006",
	}

	nonAmountChars = regexp.MustCompile(`[^0-9.]`)
	nonWordChars   = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// sourceMarkers infer where a payload came from by the keys it carries.
var sourceMarkers = []struct {
	source string
	keys   []string
}{
	{source: "stripe", keys: []string{"stripe_id", "payment_intent", "charge_id", "livemode", "balance_transaction"}},
	{source: "bank", keys: []string{"fitid", "account_number", "bank_reference", "routing_number", "institution", "balance"}},
	{source: "receipt", keys: []string{"receipt_id", "items", "suggested_category", "total", "tax"}},
	{source: "csv", keys: []string{"csv_row", "row_number", "import_file"}},
}

// Normalize maps payload onto a canonical record, using the current date when
// no usable date is present.
func Normalize(payload map[string]any, eventType string) model.NormalizedRecord {
	return NormalizeAt(payload, eventType, time.Now())
}

// NormalizeAt is Normalize with an explicit fallback clock. The event type does
// not influence the record: a missing direction is always an expense.
func NormalizeAt(payload map[string]any, _ string, now time.Time) model.NormalizedRecord {
	confidence := 100.0

	amount, ok := parseAmount(payload)
	if !ok {
		confidence -= 20
	}

	date, ok := parseDate(payload)
	if !ok {
		date = truncateDay(now)
		confidence -= 15
	}

	counterparty := cleanText(firstString(payload, counterpartyFields))
	if counterparty == "" {
		confidence -= 10
	}

	description := cleanText(firstString(payload, descriptionFields))
	if description == "" {
		confidence -= 10
	}

	opType, ok := parseOperationType(payload)
	if !ok {
		opType = model.OperationExpense
		confidence -= 10
	}

	return model.NormalizedRecord{
		Amount:          amount,
		Currency:        parseCurrency(payload),
		TransactionDate: date,
		Description:     description,
		Counterparty:    counterparty,
		OperationType:   opType,
		SourceType:      inferSourceType(payload),
		Category:        strings.ToLower(strings.TrimSpace(firstString(payload, categoryFields))),
		Confidence:      math.Max(confidence, minConfidence),
	}
}

// Stage runs normalization inside the pipeline.
type Stage struct {
	now func() time.Time
}

// NewStage creates a normalization stage. A nil clock means time.Now.
func NewStage(now func() time.Time) *Stage {
	if now == nil {
		now = time.Now
	}
	return &Stage{now: now}
}

// Name implements pipeline.Stage.
func (s *Stage) Name() model.StageName { return model.StageNormalization }

// Execute implements pipeline.Stage.
func (s *Stage) Execute(_ context.Context, in *model.StageInput) (model.StageResult, error) {
	if in.Payload == nil {
		return nil, fmt.Errorf("normalization requires a payload")
	}
	rec := NormalizeAt(in.Payload, in.EventType, s.now())
	return &model.NormalizationResult{Record: rec}, nil
}

func parseAmount(payload map[string]any) (float64, bool) {
	for _, field := range amountFields {
		raw, present := payload[field]
		if !present || raw == nil {
			continue
		}
		if d, ok := toDecimal(raw); ok {
			return d.Abs().Round(2).InexactFloat64(), true
		}
	}
	return 0, false
}

func toDecimal(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		cleaned := nonAmountChars.ReplaceAllString(v, "")
		if cleaned == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(cleaned)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func parseCurrency(payload map[string]any) string {
	raw, ok := payload["currency"].(string)
	if !ok {
		return defaultCurrency
	}
	if code, known := currencyCodes[strings.ToUpper(strings.TrimSpace(raw))]; known {
		return code
	}
	return defaultCurrency
}

func parseDate(payload map[string]any) (time.Time, bool) {
	for _, field := range dateFields {
		raw, present := payload[field]
		if !present || raw == nil {
			continue
		}
		if t, ok := toDate(raw); ok {
			return t, true
		}
		// The first present field decides; an unparseable value counts as missing.
		return time.Time{}, false
	}
	return time.Time{}, false
}

func toDate(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case float64:
		return truncateDay(time.Unix(int64(v), 0)), v > 0
	case int64:
		return truncateDay(time.Unix(v, 0)), v > 0
	case string:
		s := strings.TrimSpace(v)
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return truncateDay(t), true
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return truncateDay(t), true
			}
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
			return truncateDay(time.Unix(secs, 0)), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseOperationType(payload map[string]any) (model.OperationType, bool) {
	for _, field := range typeFields {
		raw, ok := payload[field].(string)
		if !ok {
			continue
		}
		if t, known := operationTypes[strings.ToLower(strings.TrimSpace(raw))]; known {
			return t, true
		}
	}
	return "", false
}

func inferSourceType(payload map[string]any) string {
	if id, ok := payload["id"].(string); ok {
		for _, prefix := range []string{"ch_", "pi_", "in_", "py_"} {
			if strings.HasPrefix(id, prefix) {
				return "stripe"
			}
		}
	}
	for _, marker := range sourceMarkers {
		for _, key := range marker.keys {
			if _, ok := payload[key]; ok {
				return marker.source
			}
		}
	}
	return "manual"
}

func firstString(payload map[string]any, fields []string) string {
	for _, field := range fields {
		switch v := payload[field].(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				return v
			}
		case float64, int, int64:
			return fmt.Sprint(v)
		}
	}
	return ""
}

// cleanText trims, strips non-word characters, collapses whitespace and caps the length.
func cleanText(s string) string {
	s = nonWordChars.ReplaceAllString(s, "")
	s = strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) > maxTextLength {
		s = strings.TrimSpace(string([]rune(s)[:maxTextLength]))
	}
	return s
}

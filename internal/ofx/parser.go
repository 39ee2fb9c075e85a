// Package ofx reads OFX/QFX bank and card statements into ingestible entries.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

// Account kinds.
const (
	KindBank       = "bank"
	KindCreditCard = "credit_card"
)

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags missing their closing bracket at end of line.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Entry is one posted statement line.
type Entry struct {
	Date        time.Time
	Amount      decimal.Decimal // negative is money out
	FitID       string
	AccountID   string
	AccountKind string
	Currency    string
	Name        string
	Merchant    string
	Memo        string
	Type        string
	CheckNumber string
}

// ExternalID is stable across re-imports of the same statement.
func (e Entry) ExternalID() string {
	return e.AccountID + ":" + e.FitID
}

// Payload renders the entry as a bank_statement.imported event payload.
func (e Entry) Payload() map[string]any {
	direction := "credit"
	if e.Amount.IsNegative() {
		direction = "debit"
	}

	payload := map[string]any{
		"fitid":            e.FitID,
		"account_number":   e.AccountID,
		"account_kind":     e.AccountKind,
		"amount":           e.Amount.Abs().StringFixed(2),
		"type":             direction,
		"transaction_type": e.Type,
		"date":             e.Date.UTC().Format("2006-01-02"),
		"description":      e.Name,
		"counterparty":     e.Merchant,
	}
	if e.Currency != "" {
		payload["currency"] = e.Currency
	}
	if e.Memo != "" {
		payload["memo"] = e.Memo
	}
	if e.CheckNumber != "" {
		payload["check_number"] = e.CheckNumber
	}
	switch e.Type {
	case "INT", "DIV":
		payload["suggested_category"] = "interest"
	case "FEE", "SRVCHG":
		payload["suggested_category"] = "bank_fees"
	}
	return payload
}

// Parser reads OFX/QFX files.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes formatting issues banks commonly ship.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

// ParseFile returns every entry in the bank and credit card statements of r.
// A statement that cannot be converted is logged and skipped.
func (p *Parser) ParseFile(ctx context.Context, r io.Reader) ([]Entry, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var entries []Entry
	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			entries = append(entries, p.convertList(stmt.BankTranList, string(stmt.BankAcctFrom.AcctID), KindBank, stmt.CurDef.String())...)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			entries = append(entries, p.convertList(stmt.BankTranList, string(stmt.CCAcctFrom.AcctID), KindCreditCard, stmt.CurDef.String())...)
		}
	}

	slog.Info("Parsed OFX file", "entries", len(entries))
	return entries, nil
}

func (p *Parser) convertList(list *ofxgo.TransactionList, accountID, kind, currency string) []Entry {
	if list == nil {
		return nil
	}
	entries := make([]Entry, 0, len(list.Transactions))
	for _, tx := range list.Transactions {
		if tx.FiTID == "" {
			slog.Warn("Skipping OFX transaction without FITID", "account", accountID, "name", string(tx.Name))
			continue
		}
		entries = append(entries, Entry{
			Date:        tx.DtPosted.Time,
			Amount:      decimal.NewFromBigRat(&tx.TrnAmt.Rat, 4),
			FitID:       string(tx.FiTID),
			AccountID:   accountID,
			AccountKind: kind,
			Currency:    currency,
			Name:        strings.TrimSpace(string(tx.Name)),
			Merchant:    p.extractMerchantName(tx),
			Memo:        strings.TrimSpace(string(tx.Memo)),
			Type:        tx.TrnType.String(),
			CheckNumber: string(tx.CheckNum),
		})
	}
	return entries
}

var merchantPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"ACH CREDIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
}

// extractMerchantName prefers PAYEE, then NAME (or MEMO when NAME is generic),
// stripping card-network prefixes and a leading MM/DD.
func (p *Parser) extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	upper := strings.ToUpper(name)
	for _, prefix := range merchantPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

// Accounts returns the distinct account IDs in entries, sorted.
func Accounts(entries []Entry) []string {
	seen := make(map[string]bool)
	var accounts []string
	for _, e := range entries {
		if e.AccountID != "" && !seen[e.AccountID] {
			seen[e.AccountID] = true
			accounts = append(accounts, e.AccountID)
		}
	}
	sort.Strings(accounts)
	return accounts
}

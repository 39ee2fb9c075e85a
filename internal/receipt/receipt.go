// Package receipt extracts structured expenses from receipt images with a
// chat-completion model and turns them into event payloads.
package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/config"
)

const systemPrompt = `You read receipts for a small-business bookkeeping system.
Respond with ONLY a JSON object with these fields:
merchant (string), total (number), tax (number or null), currency (ISO 4217 code),
date (YYYY-MM-DD), category (one short snake_case expense category),
confidence (0 to 1), items (array of {description, amount, quantity}).`

// Item is one receipt line.
type Item struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    float64         `json:"quantity,omitempty"`
}

// Extraction is the validated model output.
type Extraction struct {
	Tax        *decimal.Decimal `json:"tax,omitempty"`
	Merchant   string           `json:"merchant"`
	Currency   string           `json:"currency,omitempty"`
	Date       string           `json:"date"`
	Category   string           `json:"category,omitempty"`
	Items      []Item           `json:"items,omitempty"`
	Total      decimal.Decimal  `json:"total"`
	Confidence float64          `json:"confidence,omitempty"`
}

// Payload renders the extraction as a receipt.scanned event payload.
func (e *Extraction) Payload() map[string]any {
	payload := map[string]any{
		"type":        "expense",
		"merchant":    e.Merchant,
		"description": "Receipt from " + e.Merchant,
		"total":       e.Total.StringFixed(2),
		"date":        e.Date,
	}
	if e.Currency != "" {
		payload["currency"] = e.Currency
	}
	if e.Category != "" {
		payload["suggested_category"] = e.Category
	}
	if e.Tax != nil {
		payload["tax"] = e.Tax.StringFixed(2)
	}
	if len(e.Items) > 0 {
		items := make([]any, len(e.Items))
		for i, it := range e.Items {
			items[i] = map[string]any{
				"description": it.Description,
				"amount":      it.Amount.StringFixed(2),
				"quantity":    it.Quantity,
			}
		}
		payload["items"] = items
	}
	return payload
}

// ScanRequest points at the receipt image. ImageURL may be an https or data: URL.
type ScanRequest struct {
	ImageURL string `json:"image_url" validate:"required"`
	Hint     string `json:"hint,omitempty"`
}

// Scanner calls the completion service and validates what it returns.
type Scanner struct {
	client *openai.Client
	schema *jsonschema.Schema
	model  string
	retry  common.RetryOptions
}

// NewScanner builds a Scanner from the ai configuration section.
func NewScanner(cfg config.AIConfig) (*Scanner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: ai.api_key is required for receipt scanning", common.ErrMissingConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Scanner{
		client: openai.NewClientWithConfig(clientCfg),
		schema: schema,
		model:  model,
		retry: common.RetryOptions{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Jitter:       0.2,
		},
	}, nil
}

// Scan extracts an expense from the receipt image. Upstream failures wrap
// common.ErrAIRateLimited, common.ErrAIQuotaExhausted or common.ErrAIUpstream;
// only server-side failures are retried.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*Extraction, error) {
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, common.NewValidationError("image_url", "is required")
	}

	prompt := "Extract the receipt in this image."
	if req.Hint != "" {
		prompt += " Context from the uploader: " + req.Hint
	}
	completion := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    req.ImageURL,
						Detail: openai.ImageURLDetailAuto,
					}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.1,
	}

	var content string
	err := common.WithRetry(ctx, func() error {
		resp, err := s.client.CreateChatCompletion(ctx, completion)
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return &common.RetryableError{Err: fmt.Errorf("%w: no choices returned", common.ErrAIUpstream), Retryable: true}
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, s.retry)
	if err != nil {
		slog.Error("Receipt scan failed", "model", s.model, "error", err)
		return nil, err
	}

	return s.parse(content)
}

func (s *Scanner) parse(content string) (*Extraction, error) {
	content = stripFences(content)

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("%w: response is not JSON: %w", common.ErrAIUpstream, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: extraction failed validation: %w", common.ErrAIUpstream, err)
	}

	var ext Extraction
	if err := json.Unmarshal([]byte(content), &ext); err != nil {
		return nil, fmt.Errorf("%w: failed to decode extraction: %w", common.ErrAIUpstream, err)
	}
	ext.Currency = strings.ToUpper(ext.Currency)
	return &ext, nil
}

// classify maps a client error onto the AI error sentinels, marking only
// server-side and transport failures as retryable.
func classify(err error) error {
	status := 0
	code := ""

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if c, ok := apiErr.Code.(string); ok {
			code = c
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusPaymentRequired || code == "insufficient_quota":
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrAIQuotaExhausted, err), Retryable: false}
	case status == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrAIRateLimited, err), Retryable: false}
	case status == 0 || status >= http.StatusInternalServerError:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrAIUpstream, err), Retryable: true}
	default:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrAIUpstream, err), Retryable: false}
	}
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// Package model defines the core domain models used throughout the application.
package model

import (
	"encoding/json"
	"time"
)

// EventSource identifies where a raw business event came from.
type EventSource string

// Event source constants.
const (
	SourceManual      EventSource = "manual"
	SourceBank        EventSource = "bank"
	SourceStripe      EventSource = "stripe"
	SourceEmail       EventSource = "email"
	SourceCalendar    EventSource = "calendar"
	SourceCrawler     EventSource = "crawler"
	SourceDocs        EventSource = "docs"
	SourceIntegration EventSource = "integration"
)

// EventSources lists every accepted event source.
var EventSources = []EventSource{
	SourceManual,
	SourceBank,
	SourceStripe,
	SourceEmail,
	SourceCalendar,
	SourceCrawler,
	SourceDocs,
	SourceIntegration,
}

// IsValid reports whether s is one of the enumerated sources.
func (s EventSource) IsValid() bool {
	for _, known := range EventSources {
		if s == known {
			return true
		}
	}
	return false
}

// EventStatus tracks an event through the pipeline.
type EventStatus string

// Event status constants. Only the orchestrator mutates status.
const (
	EventStatusNew        EventStatus = "NEW"
	EventStatusProcessing EventStatus = "PROCESSING"
	EventStatusProcessed  EventStatus = "PROCESSED"
	EventStatusFailed     EventStatus = "FAILED"
)

// Event is an admitted, idempotency-keyed record of something that happened.
type Event struct {
	CreatedAt    time.Time       `json:"created_at"`
	OccurredAt   *time.Time      `json:"occurred_at,omitempty"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	Payload      map[string]any  `json:"payload"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	AgentResults json.RawMessage `json:"agent_results,omitempty"`
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	Source       EventSource     `json:"source"`
	ExternalID   string          `json:"external_id"`
	UserID       string          `json:"user_id"`
	TenantID     string          `json:"tenant_id"`
	CompanyID    string          `json:"company_id"`
	Status       EventStatus     `json:"status"`
}

// PayloadWithResults returns a copy of the payload with agent_results merged in,
// which is how the event is presented to callers once processing completed.
func (e *Event) PayloadWithResults() map[string]any {
	out := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		out[k] = v
	}
	if len(e.AgentResults) > 0 {
		out["agent_results"] = e.AgentResults
	}
	return out
}

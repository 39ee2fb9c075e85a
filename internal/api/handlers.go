package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/gateway"
	"github.com/Veraticus/opsflow/internal/growth"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/receipt"
)

// EventTypeReceiptScanned is the event type scanned receipts are admitted as.
const EventTypeReceiptScanned = "receipt.scanned"

type ingestResponse struct {
	*gateway.IngestResult
	Success bool `json:"success"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.deps.Version})
}

func (s *Server) ingest(c *gin.Context) {
	var req gateway.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badBody(err))
		return
	}

	res, err := s.deps.Gateway.Ingest(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ingestResponse{IngestResult: res, Success: true})
}

// route reports success even when individual stages failed; failures are in results.
func (s *Server) route(c *gin.Context) {
	var req gateway.RouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badBody(err))
		return
	}

	res, err := s.deps.Gateway.Route(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ingestResponse{IngestResult: res, Success: true})
}

type stageRequest struct {
	Payload   map[string]any      `json:"payload"`
	Previous  *model.StageResults `json:"previous_results"`
	EventID   string              `json:"event_id"`
	EventType string              `json:"event_type"`
	Source    model.EventSource   `json:"source"`
	UserID    string              `json:"user_id"`
	CompanyID string              `json:"company_id"`
}

func (s *Server) runStage(c *gin.Context) {
	name := model.StageName(c.Param("name"))
	if !name.IsValid() {
		writeError(c, fmt.Errorf("%w: %s", common.ErrUnknownStage, name))
		return
	}

	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badBody(err))
		return
	}
	userID, err := callerFrom(c).ActingFor(req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	res, elapsed, err := s.deps.Stages.RunStage(c.Request.Context(), name, &model.StageInput{
		Payload:   req.Payload,
		Previous:  req.Previous,
		EventID:   req.EventID,
		EventType: req.EventType,
		Source:    req.Source,
		UserID:    userID,
		CompanyID: req.CompanyID,
	})
	if err != nil {
		if errors.Is(err, common.ErrUnknownStage) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":           false,
			"error":             err.Error(),
			"execution_time_ms": elapsed.Milliseconds(),
		})
		return
	}

	body, err := stageBody(res)
	if err != nil {
		writeError(c, err)
		return
	}
	body["success"] = true
	body["execution_time_ms"] = elapsed.Milliseconds()
	c.JSON(http.StatusOK, body)
}

func stageBody(res model.StageResult) (gin.H, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stage result: %w", err)
	}
	body := gin.H{}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("failed to encode stage result: %w", err)
	}
	return body, nil
}

type scanRequest struct {
	CompanyID  string `json:"company_id"`
	ImageURL   string `json:"image_url"`
	Hint       string `json:"hint,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// scanReceipt extracts a receipt and admits it as a receipt.scanned event.
func (s *Server) scanReceipt(c *gin.Context) {
	if s.deps.Scanner == nil {
		writeError(c, fmt.Errorf("%w: receipt scanning needs ai.api_key", common.ErrMissingConfig))
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badBody(err))
		return
	}
	if req.CompanyID == "" {
		writeError(c, common.NewValidationError("company_id", "is required"))
		return
	}

	ctx := c.Request.Context()
	caller := callerFrom(c)
	// Check access before paying for an extraction.
	if !caller.IsService {
		if caller.UserID == "" {
			writeError(c, common.ErrUnauthenticated)
			return
		}
		company, err := s.deps.Store.GetCompany(ctx, req.CompanyID)
		if err != nil {
			writeError(c, err)
			return
		}
		if company.OwnerID != caller.UserID {
			writeError(c, fmt.Errorf("company %s: %w", company.ID, common.ErrForbidden))
			return
		}
	}

	ext, err := s.deps.Scanner.Scan(ctx, receipt.ScanRequest{ImageURL: req.ImageURL, Hint: req.Hint})
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.deps.Gateway.Ingest(ctx, caller, gateway.IngestRequest{
		CompanyID:  req.CompanyID,
		Source:     model.SourceDocs,
		EventType:  EventTypeReceiptScanned,
		ExternalID: req.ExternalID,
		Payload:    ext.Payload(),
		Metadata:   map[string]any{"extraction_confidence": ext.Confidence},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"extraction":      ext,
		"event_id":        res.EventID,
		"is_duplicate":    res.IsDuplicate,
		"idempotency_key": res.IdempotencyKey,
		"status":          res.Status,
		"agents_invoked":  res.AgentsInvoked,
		"results":         res.Results,
	})
}

func (s *Server) getEvent(c *gin.Context) {
	caller := callerFrom(c)
	if !caller.IsService && caller.UserID == "" {
		writeError(c, common.ErrUnauthenticated)
		return
	}

	event, err := s.deps.Store.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !caller.IsService && event.UserID != caller.UserID {
		writeError(c, fmt.Errorf("event %s: %w", event.ID, common.ErrForbidden))
		return
	}

	view := *event
	view.Payload = event.PayloadWithResults()
	view.AgentResults = nil
	c.JSON(http.StatusOK, gin.H{"success": true, "event": view})
}

func (s *Server) getBriefing(c *gin.Context) {
	userID, err := callerFrom(c).ActingFor(c.Query("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	b, err := s.deps.Briefings.Compile(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "briefing": b})
}

type growthRequest struct {
	UserID string `json:"user_id"`
	growth.ContentRequest
}

func (s *Server) postGrowth(c *gin.Context) {
	var req growthRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, badBody(err))
		return
	}
	userID, err := callerFrom(c).ActingFor(req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	var content *growth.ContentRequest
	if req.ContentRequest.Wanted() {
		content = &req.ContentRequest
	}

	res, err := s.deps.Growth.Analyze(c.Request.Context(), userID, content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "growth": res})
}

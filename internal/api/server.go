// Package api exposes ingestion, routing and reporting over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/opsflow/internal/briefing"
	"github.com/Veraticus/opsflow/internal/gateway"
	"github.com/Veraticus/opsflow/internal/growth"
	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/receipt"
	"github.com/Veraticus/opsflow/internal/service"
)

// StageRunner runs one named stage outside an event lifecycle.
type StageRunner interface {
	RunStage(ctx context.Context, name model.StageName, in *model.StageInput) (model.StageResult, time.Duration, error)
}

// Scanner extracts receipts from images.
type Scanner interface {
	Scan(ctx context.Context, req receipt.ScanRequest) (*receipt.Extraction, error)
}

// Deps are the components the server delegates to. Scanner may be nil when
// no AI service is configured; Gatherer defaults to the global registry.
type Deps struct {
	Store        service.Storage
	Gateway      *gateway.Gateway
	Stages       StageRunner
	Briefings    *briefing.Compiler
	Growth       *growth.Analyzer
	Scanner      Scanner
	Gatherer     prometheus.Gatherer
	ServiceToken string
	CORSOrigins  []string
	Version      string
}

// Server holds the HTTP handlers.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	return &Server{deps: deps}
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors(s.deps.CORSOrigins))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	authed := r.Group("/", identify(s.deps.ServiceToken))
	authed.POST("/ingest", s.ingest)
	authed.POST("/route", s.route)
	authed.POST("/stage/:name", s.runStage)
	authed.POST("/receipts/scan", s.scanReceipt)
	authed.GET("/events/:id", s.getEvent)
	authed.GET("/briefing", s.getBriefing)
	authed.POST("/growth", s.postGrowth)

	return r
}

package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Veraticus/opsflow/internal/model"
)

// Metrics holds the pipeline and ingestion collectors. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	ingested      *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: stage, outcome (success, error)
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opsflow",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"stage", "outcome"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsflow",
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Stage executions that returned an error or panicked",
		}, []string{"stage"}),
		// Labels: source, outcome (admitted, duplicate)
		ingested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opsflow",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Events offered to the gateway by outcome",
		}, []string{"source", "outcome"}),
	}
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(name model.StageName, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.stageFailures.WithLabelValues(string(name)).Inc()
	}
	m.stageDuration.WithLabelValues(string(name), outcome).Observe(elapsed.Seconds())
}

// ObserveIngest records one ingestion attempt.
func (m *Metrics) ObserveIngest(source model.EventSource, duplicate bool) {
	if m == nil {
		return
	}
	outcome := "admitted"
	if duplicate {
		outcome = "duplicate"
	}
	m.ingested.WithLabelValues(string(source), outcome).Inc()
}

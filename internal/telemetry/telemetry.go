// Package telemetry installs the process-wide trace provider.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Veraticus/opsflow/internal/common"
	"github.com/Veraticus/opsflow/internal/config"
)

// Trace exporter names accepted in telemetry.traces.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Shutdown flushes and stops whatever Init started.
type Shutdown func(context.Context) error

// Init sets the global tracer provider for cfg. With the none exporter the
// default no-op provider stays in place and Shutdown does nothing.
func Init(cfg config.TelemetryConfig, version string) (Shutdown, error) {
	return initWithWriter(cfg, version, os.Stderr)
}

func initWithWriter(cfg config.TelemetryConfig, version string, w io.Writer) (Shutdown, error) {
	switch cfg.Traces {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("%w: unknown trace exporter %q", common.ErrInvalidConfig, cfg.Traces)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", "opsflow"),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

// Package telemetry installs the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Exporter names accepted by Setup.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config selects the exporter.
type Config struct {
	Exporter       string
	ServiceName    string
	ServiceVersion string
	Output         io.Writer // stdout exporter target, nil = stdout
}

// ShutdownFunc flushes pending spans and releases the provider.
type ShutdownFunc func(context.Context) error

// Setup builds a tracer provider for cfg, installs it globally, and returns
// the tracer services should use. The "none" exporter installs a no-op
// provider so spans cost nothing.
func Setup(cfg Config, log *zap.Logger) (trace.Tracer, ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "renderd"
	}

	switch strings.ToLower(cfg.Exporter) {
	case "", ExporterNone:
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil

	case ExporterStdout:
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(
				attribute.String("service.name", cfg.ServiceName),
				attribute.String("service.version", cfg.ServiceVersion),
			)),
		)
		otel.SetTracerProvider(tp)
		log.Info("tracing enabled", zap.String("exporter", ExporterStdout))
		return tp.Tracer(cfg.ServiceName), tp.Shutdown, nil

	default:
		return nil, nil, fmt.Errorf("unknown tracing exporter %q (must be none or stdout)", cfg.Exporter)
	}
}

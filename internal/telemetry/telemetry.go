// Package telemetry wires the process-wide OpenTelemetry tracer and meter
// providers used by the enforcement engine and semantic encoder. It is
// deliberately minimal: a stdout exporter for both signals, matching the
// teacher's "the OSS build should be observable without standing up a
// collector" stance (the same reasoning behind the bundled Prometheus
// registry in internal/adapter/inbound/http).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ServiceName identifies this process in every span and metric emitted.
const ServiceName = "sentinelgate"

// Setup installs a global TracerProvider and MeterProvider. When enabled is
// false it installs the no-op providers the otel API already defaults to,
// so callers can unconditionally defer the returned shutdown func.
func Setup(ctx context.Context, enabled bool) (shutdown func(context.Context) error, err error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
	)
	otel.SetMeterProvider(mp)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry: shut down tracer provider: %w", err)
		}
		if err := mp.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry: shut down meter provider: %w", err)
		}
		return nil
	}, nil
}

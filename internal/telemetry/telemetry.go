// Package telemetry wires up OpenTelemetry tracing, gated by config so it
// costs nothing when disabled.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and tears down whatever telemetry Setup installed. It is
// always safe to call, even when tracing was never enabled.
type Shutdown func(context.Context) error

// Setup installs a stdout-exporting TracerProvider and MeterProvider as the
// global providers when enabled is true, and returns a Shutdown to call on
// process exit. When enabled is false it installs nothing and returns a
// no-op Shutdown. Both exporters print to stdout; this is for local
// diagnosis, not a production telemetry pipeline.
func Setup(ctx context.Context, enabled bool, serviceName string) (Shutdown, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("telemetry: create stdout metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
		return meterProvider.Shutdown(ctx)
	}, nil
}

// Tracer returns the package-level tracer for knockd's own spans. Safe to
// call whether or not Setup enabled tracing: a no-op tracer is used
// otherwise.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/sitegui/knockd")
}

// Meter returns the package-level meter for knockd's own instruments. Safe
// to call whether or not Setup enabled tracing: a no-op meter is used
// otherwise.
func Meter() metric.Meter {
	return otel.Meter("github.com/sitegui/knockd")
}

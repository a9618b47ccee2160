// Package observability wires the daemon's tracer and meter providers.
// The teacher's internal/hooks and internal/storage/dolt call otel.Tracer
// directly against whatever global provider is registered; this package
// is what registers one, using stdout exporters the way the teacher's
// go.mod already pulls in (otel/exporters/stdout/stdouttrace and
// stdoutmetric) for local/dev observability without a collector.
package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown flushes and releases the registered providers.
type Shutdown func(ctx context.Context) error

// Init registers a TracerProvider and MeterProvider that write spans and
// metrics to w as newline-delimited JSON. Pass io.Discard to disable
// output while still exercising the same machinery.
func Init(w io.Writer) (Shutdown, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	otel.SetTracerProvider(tp)

	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}

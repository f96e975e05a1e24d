// Package otel provides OpenTelemetry instrumentation for Worklift.
// Exporter wiring is deferred; instruments and spans record through the
// global providers so an exporter can be attached without code changes.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function until an OTLP exporter is
// configured.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel: tracer using global provider", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}

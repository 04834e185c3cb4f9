// Package otel provides OpenTelemetry tracing and metrics instruments for
// the pipeline. Exporter wiring is left to the deployment; without a
// configured provider the instruments are no-ops.
package otel

import (
	"context"
	"log/slog"
)

// ShutdownFunc is called to flush and shut down the trace provider.
type ShutdownFunc func(ctx context.Context) error

// InitTracer returns a no-op shutdown function. Deployments that export
// traces install their own TracerProvider before calling this.
func InitTracer(serviceName string) ShutdownFunc {
	slog.Info("otel tracer initialized", "service", serviceName)
	return func(_ context.Context) error {
		return nil
	}
}

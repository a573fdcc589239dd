// Package observability provides optional OpenTelemetry tracing.
//
// Traces are exported over OTLP HTTP to a local collector agent (the agent
// handles authentication, buffering, and forwarding). Tracing is best-effort:
// if the exporter cannot be created the server runs untraced rather than
// failing startup.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName identifies this process in trace backends.
const ServiceName = "talky-server"

// Setup installs a global tracer provider exporting to the given OTLP HTTP
// endpoint (host:port). An empty endpoint disables tracing.
//
// Returns a shutdown function that flushes pending spans; it is always
// non-nil and safe to call.
func Setup(ctx context.Context, endpoint string, logger *slog.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }

	if endpoint == "" {
		return noop
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // collector agent is local, no TLS
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
		))
	if err != nil {
		logger.Warn("failed to build trace resource, tracing disabled", "error", err)
		return noop
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled", "endpoint", endpoint, "service", ServiceName)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down tracer provider: %w", err)
		}
		return nil
	}
}

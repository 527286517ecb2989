package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup installs a tracer provider that batches spans to exporter and returns
// its shutdown func.
func Setup(serviceName string, exporter sdktrace.SpanExporter) (func(context.Context) error, error) {
	if exporter == nil {
		return nil, fmt.Errorf("tracing: exporter is required")
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	SetTracer(provider.Tracer(serviceName))

	return provider.Shutdown, nil
}

// Package tracing holds the process-wide tracer and trace-context helpers.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer sets the tracer used by StartSpan. Without one, spans are no-ops.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// activeSpan returns the recording span in ctx, or nil.
func activeSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// StartSpan starts a new span with the given name and returns the context and span.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	if span := activeSpan(ctx); span != nil && err != nil {
		span.RecordError(err)
	}
}

func inject(ctx context.Context) propagation.MapCarrier {
	carrier := propagation.MapCarrier{}
	if activeSpan(ctx) == nil {
		return carrier
	}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier
}

// GetTraceParent returns the W3C traceparent for ctx.
func GetTraceParent(ctx context.Context) string {
	return inject(ctx).Get("traceparent")
}

// GetTraceState returns the W3C tracestate for ctx.
func GetTraceState(ctx context.Context) string {
	return inject(ctx).Get("tracestate")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := activeSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

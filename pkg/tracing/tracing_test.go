package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracing(t *testing.T) {
	t.Run("should be a no-op without a tracer", func(t *testing.T) {
		SetTracer(nil)
		ctx, span := StartSpan(context.Background(), "noop")
		defer span.End()

		assert.Empty(t, GetTraceID(ctx))
		assert.Empty(t, GetTraceParent(ctx))
	})

	t.Run("should expose trace ids once a provider is installed", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		shutdown, err := Setup("far-warehousing-test", exporter)
		require.NoError(t, err)
		defer func() {
			_ = shutdown(context.Background())
			SetTracer(nil)
		}()

		ctx, span := StartSpan(context.Background(), "Pipeline.Run")
		traceID := GetTraceID(ctx)
		assert.Len(t, traceID, 32)
		assert.Contains(t, GetTraceParent(ctx), traceID)
		span.End()
	})

	t.Run("should require an exporter", func(t *testing.T) {
		var exporter sdktrace.SpanExporter
		_, err := Setup("x", exporter)
		assert.Error(t, err)
	})
}

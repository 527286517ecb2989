package exporters

import (
	"context"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to the debug log. Used when no collector is configured.
type LogExporter struct {
	Logger ectologger.Logger
}

func (e *LogExporter) ExportSpans(ctx context.Context, spans []trace.ReadOnlySpan) error {
	for _, span := range spans {
		e.Logger.WithFields(map[string]any{
			"trace_id": span.SpanContext().TraceID().String(),
			"span":     span.Name(),
			"duration": span.EndTime().Sub(span.StartTime()).String(),
		}).Debug("span finished")
	}
	return nil
}

func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}

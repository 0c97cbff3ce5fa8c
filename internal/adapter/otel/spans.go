package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "overhearops"

// StartRunSpan starts the root span of a pipeline run.
func StartRunSpan(ctx context.Context, runID, threadID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("thread.id", threadID),
			attribute.String("run.mode", mode),
		),
	)
}

// StartStageSpan starts a span for one pipeline stage. branchID is empty
// outside the execute fan-out.
func StartStageSpan(ctx context.Context, stage, runID, branchID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("run.id", runID),
		attribute.String("stage.name", stage),
	}
	if branchID != "" {
		attrs = append(attrs, attribute.String("branch.id", branchID))
	}
	return otel.Tracer(tracerName).Start(ctx, stage, trace.WithAttributes(attrs...))
}

// EndSpan copies the stage record attributes onto span, records err and ends it.
func EndSpan(span trace.Span, attrs map[string]any, err error) {
	span.SetAttributes(Attributes(attrs)...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Attributes converts a trace record attribute map to otel key-values.
func Attributes(attrs map[string]any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch x := v.(type) {
		case string:
			out = append(out, attribute.String(k, x))
		case int:
			out = append(out, attribute.Int(k, x))
		case int64:
			out = append(out, attribute.Int64(k, x))
		case float64:
			out = append(out, attribute.Float64(k, x))
		case bool:
			out = append(out, attribute.Bool(k, x))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(x)))
		}
	}
	return out
}

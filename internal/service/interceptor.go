package service

import (
	"context"
	"log/slog"
	"time"

	otelx "github.com/overhearops/overhearops/internal/adapter/otel"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/trace"
)

// Invocation describes one stage (or branch) call passing through the
// interceptor chain.
type Invocation struct {
	Run      run.Context
	Stage    run.Stage
	BranchID string
	Input    any
}

// Handler performs the wrapped stage work and returns its output.
type Handler func(ctx context.Context) (any, error)

// Interceptor wraps a stage call. It must call next at most once.
type Interceptor func(ctx context.Context, inv Invocation, next Handler) (any, error)

// Chain composes interceptors; the first one is outermost.
func Chain(interceptors ...Interceptor) Interceptor {
	return func(ctx context.Context, inv Invocation, next Handler) (any, error) {
		h := next
		for i := len(interceptors) - 1; i >= 0; i-- {
			ic, inner := interceptors[i], h
			h = func(ctx context.Context) (any, error) { return ic(ctx, inv, inner) }
		}
		return h(ctx)
	}
}

// TraceInterceptor appends a trace record per call to the run's recorder
// and mirrors it onto an OpenTelemetry span.
func TraceInterceptor() Interceptor {
	return func(ctx context.Context, inv Invocation, next Handler) (any, error) {
		ctx, span := otelx.StartStageSpan(ctx, string(inv.Stage), inv.Run.RunID, inv.BranchID)
		start := time.Now()

		out, err := next(ctx)

		end := time.Now()
		attrs := map[string]any{
			trace.AttrRole:        string(inv.Stage),
			trace.AttrThreadID:    inv.Run.ThreadID,
			trace.AttrApproxIn:    trace.ApproxTokens(inv.Input),
			trace.AttrApproxOut:   int64(0),
			trace.AttrStatus:      trace.StatusOK,
			trace.AttrRunID:       inv.Run.RunID,
			trace.AttrStartUnixNs: start.UnixNano(),
			trace.AttrEndUnixNs:   end.UnixNano(),
			trace.AttrDurationMs:  float64(end.Sub(start).Microseconds()) / 1000,
		}
		if inv.BranchID != "" {
			attrs[trace.AttrBranchID] = inv.BranchID
		}
		if sc := span.SpanContext(); sc.IsValid() {
			attrs[trace.AttrTraceID] = sc.TraceID().String()
			attrs[trace.AttrSpanID] = sc.SpanID().String()
		}
		if err != nil {
			attrs[trace.AttrStatus] = trace.StatusError
			attrs[trace.AttrError] = err.Error()
		} else {
			attrs[trace.AttrApproxOut] = trace.ApproxTokens(out)
		}

		if inv.Run.Trace != nil {
			inv.Run.Trace.Add(trace.Record{Name: string(inv.Stage), Attributes: attrs})
		}
		otelx.EndSpan(span, attrs, err)
		return out, err
	}
}

// LogInterceptor logs stage completion with run and branch ids.
func LogInterceptor() Interceptor {
	return func(ctx context.Context, inv Invocation, next Handler) (any, error) {
		start := time.Now()
		out, err := next(ctx)
		args := []any{
			"run_id", inv.Run.RunID,
			"stage", string(inv.Stage),
			"duration", time.Since(start),
		}
		if inv.BranchID != "" {
			args = append(args, "branch_id", inv.BranchID)
		}
		if err != nil {
			slog.WarnContext(ctx, "stage failed", append(args, "error", err)...)
			return out, err
		}
		slog.DebugContext(ctx, "stage completed", args...)
		return out, err
	}
}

// MetricsInterceptor records stage durations and branch failures.
func MetricsInterceptor(m *otelx.Metrics) Interceptor {
	return func(ctx context.Context, inv Invocation, next Handler) (any, error) {
		start := time.Now()
		out, err := next(ctx)
		m.ObserveStage(ctx, string(inv.Stage), time.Since(start).Seconds(), err != nil)
		return out, err
	}
}

package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "overhearops"

// Metrics holds all OverhearOps metric instruments.
type Metrics struct {
	RunsStarted    metric.Int64Counter
	RunsCompleted  metric.Int64Counter
	RunsFailed     metric.Int64Counter
	BranchFailures metric.Int64Counter
	GateDecisions  metric.Int64Counter
	StageDuration  metric.Float64Histogram
	RunDuration    metric.Float64Histogram
}

// NewMetrics creates all metric instruments on mp. A nil provider uses the
// global one.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.RunsStarted, err = meter.Int64Counter("overhearops.runs.started",
		metric.WithDescription("Number of runs started"))
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("overhearops.runs.completed",
		metric.WithDescription("Number of runs completed"))
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("overhearops.runs.failed",
		metric.WithDescription("Number of runs failed"))
	if err != nil {
		return nil, err
	}

	m.BranchFailures, err = meter.Int64Counter("overhearops.branches.failed",
		metric.WithDescription("Number of branch executions that produced a placeholder"))
	if err != nil {
		return nil, err
	}

	m.GateDecisions, err = meter.Int64Counter("overhearops.gate.decisions",
		metric.WithDescription("Gate decisions by action"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("overhearops.stage.duration_seconds",
		metric.WithDescription("Stage duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("overhearops.run.duration_seconds",
		metric.WithDescription("Run duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveStage records one stage execution. Safe on a nil receiver.
func (m *Metrics) ObserveStage(ctx context.Context, stage string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Bool("failed", failed),
	))
	if failed && stage == "execute" {
		m.BranchFailures.Add(ctx, 1)
	}
}

// ObserveGate counts a gate decision.
func (m *Metrics) ObserveGate(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.GateDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// InstrumentationName is the name used for OTEL instrumentation.
	InstrumentationName = "github.com/fyrsmithlabs/agentflow/internal/orchestrator"
)

// Metrics provides OpenTelemetry metrics for the orchestrator.
type Metrics struct {
	// Counters
	stageTotal   metric.Int64Counter
	sessionTotal metric.Int64Counter

	// Gauges (using UpDownCounter for gauge semantics)
	stageActive metric.Int64UpDownCounter

	// Histograms
	stageDuration metric.Float64Histogram
	tokensUsed    metric.Int64Histogram
	handoffTokens metric.Int64Histogram

	initialized bool
}

// NewMetrics creates a new Metrics instance with the provided meter.
// If meter is nil, uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.stageTotal, err = meter.Int64Counter(
		"agentflow.stage.total",
		metric.WithDescription("Stages reaching a terminal state, by outcome"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return nil, err
	}

	m.sessionTotal, err = meter.Int64Counter(
		"agentflow.session.total",
		metric.WithDescription("Sessions finished, by final status"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.stageActive, err = meter.Int64UpDownCounter(
		"agentflow.stage.active.count",
		metric.WithDescription("Number of stages currently in progress or validation"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return nil, err
	}

	m.stageDuration, err = meter.Float64Histogram(
		"agentflow.stage.duration.seconds",
		metric.WithDescription("Wall time from stage start to terminal state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	m.tokensUsed, err = meter.Int64Histogram(
		"agentflow.agent.tokens.used",
		metric.WithDescription("Estimated tokens used per agent execution"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 2000, 4000, 8000, 16000),
	)
	if err != nil {
		return nil, err
	}

	m.handoffTokens, err = meter.Int64Histogram(
		"agentflow.handoff.tokens",
		metric.WithDescription("Estimated tokens per compressed handoff"),
		metric.WithUnit("{token}"),
		metric.WithExplicitBucketBoundaries(50, 100, 250, 500, 1000, 2000),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordStageStarted marks a stage active.
func (m *Metrics) RecordStageStarted(ctx context.Context, phase string) {
	if m == nil || !m.initialized {
		return
	}
	m.stageActive.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordStageEnded records a stage leaving the active set.
// Note: stage and session ids are omitted from metrics to bound cardinality.
func (m *Metrics) RecordStageEnded(ctx context.Context, phase, outcome string, duration time.Duration) {
	if m == nil || !m.initialized {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
	)
	m.stageTotal.Add(ctx, 1, attrs)
	m.stageActive.Add(ctx, -1, metric.WithAttributes(attribute.String("phase", phase)))
	m.stageDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordStageSkipped counts a stage that never started.
func (m *Metrics) RecordStageSkipped(ctx context.Context, phase, reason string) {
	if m == nil || !m.initialized {
		return
	}
	m.stageTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", "skipped"),
		attribute.String("reason", reason),
	))
}

// RecordExecution records agent token usage.
func (m *Metrics) RecordExecution(ctx context.Context, agentType string, tokens int) {
	if m == nil || !m.initialized {
		return
	}
	m.tokensUsed.Record(ctx, int64(tokens), metric.WithAttributes(attribute.String("agent_type", agentType)))
}

// RecordHandoff records the size of a compressed handoff.
func (m *Metrics) RecordHandoff(ctx context.Context, tokens int, truncated bool) {
	if m == nil || !m.initialized {
		return
	}
	m.handoffTokens.Record(ctx, int64(tokens), metric.WithAttributes(attribute.Bool("truncated", truncated)))
}

// RecordSession records a finished session.
func (m *Metrics) RecordSession(ctx context.Context, status SessionStatus) {
	if m == nil || !m.initialized {
		return
	}
	m.sessionTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// stageAttributes returns common span attributes for a stage.
func stageAttributes(sessionID, stageID, phase string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("agentflow.session_id", sessionID),
		attribute.String("agentflow.stage_id", stageID),
		attribute.String("agentflow.phase", phase),
	}
}

// endSpan records err on span, sets its status and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

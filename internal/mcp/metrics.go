package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentflow/internal/orchestrator"
	"github.com/fyrsmithlabs/agentflow/internal/workflow"
)

const instrumentationName = "github.com/fyrsmithlabs/agentflow/internal/mcp"

// Metrics records tool traffic and the outcome of sessions started through
// workflow_run. Instruments that fail to register are left nil and skipped.
type Metrics struct {
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	active      metric.Int64UpDownCounter
	runs        metric.Int64Counter
}

// NewMetrics creates tool metrics. If meter is nil, uses the global meter
// provider.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create mcp instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &Metrics{}
	var err error

	m.invocations, err = meter.Int64Counter("agentflow.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls by tool"),
		metric.WithUnit("{invocation}"))
	warn("invocations_total", err)

	m.duration, err = meter.Float64Histogram("agentflow.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency by tool"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	warn("duration_seconds", err)

	m.errors, err = meter.Int64Counter("agentflow.mcp.tool.errors_total",
		metric.WithDescription("Failed MCP tool calls by tool and reason"),
		metric.WithUnit("{error}"))
	warn("errors_total", err)

	m.active, err = meter.Int64UpDownCounter("agentflow.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in flight"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.runs, err = meter.Int64Counter("agentflow.mcp.runs_total",
		metric.WithDescription("Sessions started by workflow_run, by outcome"),
		metric.WithUnit("{session}"))
	warn("runs_total", err)

	return m
}

// track marks tool active and returns a func that records the invocation.
func (m *Metrics) track(ctx context.Context, tool string) func(err error) {
	if m == nil {
		return func(error) {}
	}
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.active != nil {
		m.active.Add(ctx, 1, attrs)
	}
	return func(err error) {
		if m.active != nil {
			m.active.Add(ctx, -1, attrs)
		}
		m.RecordInvocation(ctx, tool, time.Since(start), err)
	}
}

// RecordInvocation records one tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	toolAttr := attribute.String("tool", tool)

	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(toolAttr))
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(toolAttr))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(toolAttr, attribute.String("reason", categorizeError(err))))
	}
}

// RecordRun records how a background session ended.
func (m *Metrics) RecordRun(ctx context.Context, err error) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", runOutcome(err))))
}

// runOutcome maps the error returned by Orchestrator.Run to a label.
func runOutcome(err error) string {
	var failed *orchestrator.FailedStagesError
	switch {
	case err == nil:
		return "completed"
	case errors.As(err, &failed):
		return "failed_stages"
	case errors.Is(err, orchestrator.ErrSessionAborted):
		return "aborted"
	case errors.Is(err, orchestrator.ErrSessionStopped):
		return "stopped"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

// categorizeError maps an error to a bounded reason label.
func categorizeError(err error) string {
	var cfgErr *workflow.ConfigurationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, orchestrator.ErrUnknownStage), errors.Is(err, orchestrator.ErrNoSession):
		return "not_found"
	case errors.Is(err, orchestrator.ErrAlreadyResolved), errors.Is(err, orchestrator.ErrSessionRunning):
		return "conflict"
	case errors.As(err, &cfgErr), errors.Is(err, errInvalidArgument):
		return "validation_error"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal_error"
	}
}

package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/agentflow/internal/dispatch"

// Metrics records dispatched task outcomes.
type Metrics struct {
	tasks    metric.Int64Counter
	duration metric.Float64Histogram

	initialized bool
}

// NewMetrics creates dispatch metrics. If meter is nil, uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	m := &Metrics{}
	var err error

	m.tasks, err = meter.Int64Counter(
		"agentflow.dispatch.tasks",
		metric.WithDescription("Agent tasks dispatched through Temporal, by result"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"agentflow.dispatch.duration",
		metric.WithDescription("Time from workflow start to result"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	m.initialized = true
	return m, nil
}

// RecordTask records one dispatched task.
func (m *Metrics) RecordTask(ctx context.Context, d time.Duration, err error) {
	if m == nil || !m.initialized {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	m.tasks.Add(ctx, 1, attrs)
	m.duration.Record(ctx, d.Seconds(), attrs)
}

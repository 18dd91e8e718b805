package http

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/agentflow/internal/http"

// requestMetrics instruments the API. Instruments that fail to register stay
// nil and are skipped.
type requestMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
	answers  metric.Int64Counter
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &requestMetrics{}
	var err error

	m.requests, err = meter.Int64Counter("agentflow.http.requests_total",
		metric.WithDescription("HTTP requests by method, route template and status"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("agentflow.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route template and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5))
	warn("request_duration_seconds", err)

	m.inFlight, err = meter.Int64UpDownCounter("agentflow.http.active_requests",
		metric.WithDescription("HTTP requests currently being served"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	m.answers, err = meter.Int64Counter("agentflow.http.answers_total",
		metric.WithDescription("Reviewer answers accepted over HTTP, by kind and answer"),
		metric.WithUnit("{answer}"))
	warn("answers_total", err)

	return m
}

// middleware records every request once echo has written its status.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			// Handlers return *echo.HTTPError; write it here so the recorded
			// status is the one the client sees.
			if err := next(c); err != nil {
				c.Error(err)
			}

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return nil
		}
	}
}

// recordAnswer counts an accepted validation verdict or failure decision.
// kind is "validation" or "decision"; answer is approved/rejected or
// continue/abort.
func (m *requestMetrics) recordAnswer(ctx context.Context, kind, answer string) {
	if m == nil || m.answers == nil {
		return
	}
	m.answers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("answer", answer),
	))
}

// normalizePath keeps stage ids out of label values. c.Path() is already the
// route template; unmatched requests have an empty path.
func normalizePath(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}

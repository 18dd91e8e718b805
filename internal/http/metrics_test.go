package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRequestMetrics_Middleware(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newRequestMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.middleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.POST("/api/v1/validations/:stage_id", func(c echo.Context) error {
		if c.Param("stage_id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "unknown stage")
		}
		return c.NoContent(http.StatusNoContent)
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/health"},
		{http.MethodPost, "/api/v1/validations/analyze"},
		{http.MethodPost, "/api/v1/validations/design"},
		{http.MethodPost, "/api/v1/validations/missing"},
	} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(r.method, r.path, nil))
	}

	metrics := collect(t, reader)

	requests, ok := metrics["agentflow.http.requests_total"]
	require.True(t, ok, "requests counter not recorded")
	sum, ok := requests.Data.(metricdata.Sum[int64])
	require.True(t, ok, "unexpected data type %T", requests.Data)

	var total int64
	byStatus := map[int64]int64{}
	for _, dp := range sum.DataPoints {
		total += dp.Value
		endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
		assert.NotEqual(t, "/api/v1/validations/analyze", endpoint.AsString(), "stage id leaked into endpoint label")
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsInt64()] += dp.Value
	}
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(1), byStatus[http.StatusNotFound])
	assert.Equal(t, int64(2), byStatus[http.StatusNoContent])

	duration, ok := metrics["agentflow.http.request_duration_seconds"]
	require.True(t, ok, "duration histogram not recorded")
	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(4), count)
}

func TestRequestMetrics_RecordAnswer(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newRequestMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	ctx := context.Background()
	m.recordAnswer(ctx, "validation", "approved")
	m.recordAnswer(ctx, "validation", "approved")
	m.recordAnswer(ctx, "decision", "abort")

	var nilMetrics *requestMetrics
	assert.NotPanics(t, func() { nilMetrics.recordAnswer(ctx, "decision", "continue") })

	answers, ok := collect(t, reader)["agentflow.http.answers_total"]
	require.True(t, ok)
	sum := answers.Data.(metricdata.Sum[int64])

	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		kind, _ := dp.Attributes.Value("kind")
		answer, _ := dp.Attributes.Value("answer")
		got[kind.AsString()+"/"+answer.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"validation/approved": 2, "decision/abort": 1}, got)
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"":                              "unmatched",
		"/health":                       "/health",
		"/api/v1/validations/:stage_id": "/api/v1/validations/:stage_id",
		"/api/v1/status":                "/api/v1/status",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizePath(in), in)
	}
}

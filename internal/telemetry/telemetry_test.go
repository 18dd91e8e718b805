package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.IsEnabled())
	assert.Equal(t, HealthStatus{Healthy: true}, tel.Health())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"enabled local grpc", func(c *Config) { c.Enabled = true }, false},
		{"enabled local http", func(c *Config) { c.Enabled = true; c.Protocol = ProtocolHTTP; c.Endpoint = "http://127.0.0.1:4318" }, false},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "udp" }, true},
		{"insecure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"secure remote", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"sample rate too high", func(c *Config) { c.Enabled = true; c.SampleRate = 1.5 }, true},
		{"zero shutdown", func(c *Config) { c.Enabled = true; c.ShutdownAfter = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "agentflow-ci",
		Endpoint:        "[::1]:4317",
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "agentflow-ci", cfg.ServiceName)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.True(t, cfg.Insecure, "loopback endpoints default to plaintext")
	assert.NoError(t, cfg.Validate())

	remote := FromSettings(config.ObservabilityConfig{Endpoint: "collector.internal:4317"}, "")
	assert.False(t, remote.Insecure)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Tracer("test")
		_ = tel.Meter("test")
		_ = tel.Shutdown(context.Background())
	})
	assert.Nil(t, tel.LoggerProvider())
	assert.Equal(t, HealthStatus{Healthy: false, Degraded: true}, tel.Health())
	assert.False(t, tel.IsEnabled())
}

func TestTelemetry_Shutdown(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.ShutdownAfter = config.Duration(100 * time.Millisecond)

	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)

	require.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.Health().Healthy)
}

func TestTestTelemetry_Recording(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("test").Start(ctx, "stage.execute")
	span.SetAttributes(attribute.String("stage.id", "design"), attribute.Int("tokens", 42))
	span.End()

	tt.AssertSpanExists(t, "stage.execute")
	tt.AssertSpanAttribute(t, "stage.execute", "stage.id", "design")
	tt.AssertSpanAttribute(t, "stage.execute", "tokens", int64(42))

	counter, err := tt.Meter("test").Int64Counter("agentflow.test.total")
	require.NoError(t, err)
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("k", "v")))

	assert.Contains(t, tt.MetricNames(ctx), "agentflow.test.total")
	assert.True(t, tt.IsEnabled())
	assert.NotNil(t, tt.LoggerProvider())
}

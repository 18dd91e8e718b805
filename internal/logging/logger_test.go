package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/fyrsmithlabs/agentflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.Equal(t, cfg, logger.config)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestNewLogger_OTELOnlyWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "trace", Format: "json"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = FromSettings(config.LoggingConfig{Format: "yaml"})
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	ctx = WithWorkflow(ctx, "feature-delivery")
	ctx = WithSessionID(ctx, "sess-123")
	ctx = WithStageID(ctx, "analyze-requirements")

	tl.Info(ctx, "stage started", zap.String("phase", "analysis"))

	tl.AssertLogged(t, zapcore.InfoLevel, "stage started")
	tl.AssertField(t, "stage started", "workflow", "feature-delivery")
	tl.AssertField(t, "stage started", "session.id", "sess-123")
	tl.AssertField(t, "stage started", "stage.id", "analyze-requirements")
	tl.AssertField(t, "stage started", "phase", "analysis")

	entry := tl.FilterMessage("stage started").All()[0]
	assert.Contains(t, entry.ContextMap(), "trace_id")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "prompt dump")
	tl.Debug(ctx, "debug")
	tl.Warn(ctx, "warn")
	tl.Error(ctx, "error")

	tl.AssertLogged(t, TraceLevel, "prompt dump")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug")
	tl.AssertLogged(t, zapcore.WarnLevel, "warn")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error")
	tl.AssertNotLogged(t, zapcore.InfoLevel, "prompt dump")

	tl.Reset()
	assert.Empty(t, tl.All())
}

func TestLogger_WithAndNamed(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("pool").With(zap.String("agent_type", "design"))

	child.Info(context.Background(), "agent created")

	entries := tl.FilterMessage("agent created").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pool", entries[0].LoggerName)
	assert.Equal(t, "design", entries[0].ContextMap()["agent_type"])
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, ContextFields(ctx))
	assert.Panics(t, func() { WithSessionID(ctx, "") })
	assert.Panics(t, func() { WithRequestID(ctx, "has spaces") })

	// invalid stage IDs are dropped, not fatal
	assert.Equal(t, "", StageIDFromContext(WithStageID(ctx, "bad id!")))
	assert.Equal(t, "", WorkflowFromContext(WithWorkflow(ctx, "")))

	l := Nop()
	assert.Same(t, l, FromContext(WithLogger(ctx, l)))
	assert.NotNil(t, FromContext(ctx))
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "backend call"}, []zapcore.Field{
		zap.String("api_key", "sk-live-123"),
		zap.String("header", "Bearer abc.def"),
		zap.String("stage", "design"),
		Secret("backend_key", config.Secret("abcd")),
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &decoded))
	assert.Equal(t, "[REDACTED]", decoded["api_key"])
	assert.Equal(t, "[REDACTED:pattern]", decoded["header"])
	assert.Equal(t, "design", decoded["stage"])
	assert.Equal(t, "[REDACTED:4]", decoded["backend_key"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), RedactionConfig{})
	require.NoError(t, err)

	buf, err := enc.EncodeEntry(zapcore.Entry{Message: "m"}, []zapcore.Field{zap.String("token", "abc")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"token":"abc"`)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"k": ""} }},
		{"zero tick", func(c *Config) { c.Sampling.Enabled = true; c.Sampling.Tick = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLogger_Writer(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Output.Writer = &buf

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "stage completed", zap.String("stage_id", "design"))
	require.NoError(t, logger.Sync())

	assert.Contains(t, buf.String(), `"msg":"stage completed"`)
	assert.Contains(t, buf.String(), `"stage_id":"design"`)
}

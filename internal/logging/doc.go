// Package logging provides structured logging with OpenTelemetry integration.
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug) for prompt and payload dumps
//   - stdout and OpenTelemetry outputs (via the otelzap bridge)
//   - correlation fields pulled from context (trace, workflow, session, stage)
//   - key and pattern based redaction on the stdout encoder
//   - optional sampling below Error
//
// # Usage
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	defer logger.Sync()
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	ctx = logging.WithStageID(ctx, "design-api")
//	logger.Info(ctx, "stage started", zap.String("phase", "design"))
//
// Engine components take a plain *zap.Logger; pass logger.Underlying().
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "stage skipped", zap.String("reason", "dependency"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "stage skipped")
//	tl.AssertField(t, "stage skipped", "reason", "dependency")
package logging

package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if wf := WorkflowFromContext(ctx); wf != "" {
		fields = append(fields, zap.String("workflow", wf))
	}
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}
	if stageID := StageIDFromContext(ctx); stageID != "" {
		fields = append(fields, zap.String("stage.id", stageID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type (
	workflowCtxKey struct{}
	sessionCtxKey  struct{}
	stageCtxKey    struct{}
	requestCtxKey  struct{}
	loggerCtxKey   struct{}
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters", name)
	}
	return nil
}

func stringValue(ctx context.Context, key any) string {
	if s, ok := ctx.Value(key).(string); ok {
		return s
	}
	return ""
}

// WithSessionID adds session ID to context.
// Panics if sessionID is empty or malformed; session IDs are generated, never user input.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if err := validateID(sessionID, "sessionID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionIDFromContext extracts session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	return stringValue(ctx, sessionCtxKey{})
}

// WithWorkflow adds the workflow name to context.
// Names come from definition files, so an unusable name is dropped instead of panicking.
func WithWorkflow(ctx context.Context, name string) context.Context {
	if len(name) == 0 || len(name) > maxIDLen || !utf8.ValidString(name) {
		return ctx
	}
	return context.WithValue(ctx, workflowCtxKey{}, name)
}

// WorkflowFromContext extracts the workflow name from context.
func WorkflowFromContext(ctx context.Context) string {
	return stringValue(ctx, workflowCtxKey{})
}

// WithStageID adds the current stage ID to context. Invalid IDs are dropped.
func WithStageID(ctx context.Context, stageID string) context.Context {
	if validateID(stageID, "stageID") != nil {
		return ctx
	}
	return context.WithValue(ctx, stageCtxKey{}, stageID)
}

// StageIDFromContext extracts the stage ID from context.
func StageIDFromContext(ctx context.Context) string {
	return stringValue(ctx, stageCtxKey{})
}

// WithRequestID adds request ID to context.
// Panics if requestID is empty or contains invalid characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if err := validateID(requestID, "requestID"); err != nil {
		panic(fmt.Sprintf("logging: %v", err))
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestCtxKey{})
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}

// Package logging provides structured logging utilities with error context integration.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
)

type loggingContextKey string

const (
	loggingContextKeyRequestID loggingContextKey = "request_id"
	loggingContextKeyTraceID   loggingContextKey = "trace_id"
	loggingContextKeyCaller    loggingContextKey = "caller_id"
	loggingContextKeyUploadID  loggingContextKey = "upload_id"

	idBytes = 8 // Random bytes per generated ID
)

// ContextWithTracing attaches trace and request identifiers to the context.
func ContextWithTracing(ctx context.Context, traceID, requestID string) context.Context {
	ctx = context.WithValue(ctx, loggingContextKeyTraceID, traceID)

	return context.WithValue(ctx, loggingContextKeyRequestID, requestID)
}

// ContextWithCaller attaches the authenticated caller identity to the context.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, loggingContextKeyCaller, caller)
}

// ContextWithUploadID attaches the upload session ID to the context.
func ContextWithUploadID(ctx context.Context, uploadID string) context.Context {
	return context.WithValue(ctx, loggingContextKeyUploadID, uploadID)
}

// GenerateTraceID generates a random trace identifier.
func GenerateTraceID() string {
	return generateID()
}

// GenerateRequestID generates a random request identifier.
func GenerateRequestID() string {
	return generateID()
}

func generateID() string {
	buf := make([]byte, idBytes)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}

	return hex.EncodeToString(buf)
}

// WithError adds error context to logger fields.
func WithError(err error) []zap.Field {
	if err == nil {
		return []zap.Field{}
	}

	fields := []zap.Field{
		zap.Error(err),
	}

	// If it's a GatewayError, add all context
	var gatewayErr *errors.GatewayError
	if stderrors.As(err, &gatewayErr) {
		fields = append(fields,
			zap.String("error_type", string(gatewayErr.Type)),
			zap.String("component", gatewayErr.Component),
			zap.String("operation", gatewayErr.Operation),
			zap.String("severity", string(gatewayErr.Severity)),
			zap.Bool("retryable", gatewayErr.Retryable),
		)

		if gatewayErr.RetryAfter > 0 {
			fields = append(fields, zap.Int("retry_after", gatewayErr.RetryAfter))
		}

		if len(gatewayErr.Context) > 0 {
			fields = append(fields, zap.Any("error_context", gatewayErr.Context))
		}

		// Add stack trace for high severity errors
		if gatewayErr.Severity == errors.SeverityHigh || gatewayErr.Severity == errors.SeverityCritical {
			if len(gatewayErr.Stack) > 0 {
				fields = append(fields, zap.Strings("stack_trace", gatewayErr.Stack))
			}
		}
	}

	return fields
}

// WithRequestContext adds request context to logger fields.
func WithRequestContext(ctx context.Context) []zap.Field {
	fields := []zap.Field{}

	contextKeys := []struct {
		key   loggingContextKey
		field string
	}{
		{loggingContextKeyRequestID, "request_id"},
		{loggingContextKeyTraceID, "trace_id"},
		{loggingContextKeyCaller, "caller_id"},
		{loggingContextKeyUploadID, "upload_id"},
	}

	for _, ck := range contextKeys {
		if value := extractStringFromContext(ctx, ck.key); value != "" {
			fields = append(fields, zap.String(ck.field, value))
		}
	}

	return fields
}

func extractStringFromContext(ctx context.Context, key loggingContextKey) string {
	if value := ctx.Value(key); value != nil {
		if str, ok := value.(string); ok {
			return str
		}
	}

	return ""
}

// LogError logs an error with full context.
func LogError(ctx context.Context, logger *zap.Logger, msg string, err error, additionalFields ...zap.Field) {
	fields := WithError(err)
	fields = append(fields, WithRequestContext(ctx)...)
	fields = append(fields, additionalFields...)

	logAtLevel(logger, getLogLevelForError(err), msg, fields)
}

// getLogLevelForError determines the appropriate log level based on error severity.
func getLogLevelForError(err error) zapcore.Level {
	var gatewayErr *errors.GatewayError
	if !stderrors.As(err, &gatewayErr) {
		return zapcore.ErrorLevel
	}

	switch gatewayErr.Severity {
	case errors.SeverityLow:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

func logAtLevel(logger *zap.Logger, level zapcore.Level, msg string, fields []zap.Field) {
	switch level {
	case zapcore.DebugLevel:
		logger.Debug(msg, fields...)
	case zapcore.WarnLevel:
		logger.Warn(msg, fields...)
	default:
		logger.Error(msg, fields...)
	}
}

// LogRequest logs a request with context.
func LogRequest(ctx context.Context, logger *zap.Logger, msg string, additionalFields ...zap.Field) {
	fields := WithRequestContext(ctx)
	fields = append(fields, additionalFields...)
	logger.Info(msg, fields...)
}

// LogDebug logs debug information with context.
func LogDebug(ctx context.Context, logger *zap.Logger, msg string, additionalFields ...zap.Field) {
	fields := WithRequestContext(ctx)
	fields = append(fields, additionalFields...)
	logger.Debug(msg, fields...)
}

// EnhanceLogger creates a new logger with permanent context fields.
func EnhanceLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := WithRequestContext(ctx)
	if len(fields) > 0 {
		return logger.With(fields...)
	}

	return logger
}

package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
)

func TestWithError_GatewayError(t *testing.T) {
	err := errors.NewRateLimitError("flood wait", 30).WithComponent("relay")

	fields := WithError(err)

	names := make(map[string]bool)
	for _, f := range fields {
		names[f.Key] = true
	}

	assert.True(t, names["error"])
	assert.True(t, names["error_type"])
	assert.True(t, names["component"])
	assert.True(t, names["retry_after"])
}

func TestWithError_Nil(t *testing.T) {
	assert.Empty(t, WithError(nil))
}

func TestWithRequestContext(t *testing.T) {
	ctx := ContextWithTracing(context.Background(), "trace-1", "req-1")
	ctx = ContextWithCaller(ctx, "dashboard")
	ctx = ContextWithUploadID(ctx, "abc123")

	fields := WithRequestContext(ctx)
	assert.Len(t, fields, 4)
}

func TestLogError_SeverityLevels(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	// Low severity logs at warn
	LogError(context.Background(), logger, "low", errors.NewValidationError("bad"))
	// High severity logs at error
	LogError(context.Background(), logger, "high", errors.NewInternalError("boom"))

	logs := recorded.All()
	assert.Len(t, logs, 2)
	assert.Equal(t, zap.WarnLevel, logs[0].Level)
	assert.Equal(t, zap.ErrorLevel, logs[1].Level)
}

func TestGenerateIDs(t *testing.T) {
	a := GenerateTraceID()
	b := GenerateTraceID()

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

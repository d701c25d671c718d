package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	// Logger functions must never panic
	ctx := context.Background()
	Initialize()

	t.Run("InfoContext", func(t *testing.T) {
		InfoContext(ctx, "Test info message", "key", "value", "number", 42)
	})

	t.Run("Info", func(t *testing.T) {
		Info("Test info message", "component", "test")
	})

	t.Run("Warn", func(t *testing.T) {
		Warn("Test warning message", "component", "test")
	})

	t.Run("WarnContext", func(t *testing.T) {
		WarnContext(ctx, "Test warning message", "component", "test")
	})

	t.Run("Error", func(t *testing.T) {
		Error("Test error message", "error", "sample error", "severity", "test")
	})

	t.Run("ErrorContext", func(t *testing.T) {
		ErrorContext(ctx, "Test error message", "error", "sample error")
	})

	t.Run("Debug", func(t *testing.T) {
		Debug("Test debug message", "debug", true)
	})

	t.Run("DebugContext", func(t *testing.T) {
		DebugContext(ctx, "Test debug message", "debug", true)
	})
}

func TestLoggerInitialization(t *testing.T) {
	logger := Get()
	require.NotNil(t, logger)
	assert.Same(t, logger, Get())

	assert.NotNil(t, With("callref", 1))
	assert.NotNil(t, WithGroup("q931"))
}

func TestConfigureAndLevel(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(&buf, "text"))
	defer func() {
		_ = Configure(os.Stdout, "json")
		level.Set(slog.LevelInfo)
	}()

	Debug("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, SetLevel("debug"))
	Debug("shown", "tei", 0)
	assert.Contains(t, buf.String(), "msg=shown")
	assert.Contains(t, buf.String(), "tei=0")

	assert.Error(t, SetLevel("verbose"))
	assert.Error(t, Configure(&buf, "xml"))
}

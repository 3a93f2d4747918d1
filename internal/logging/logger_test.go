package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
}

func TestNewLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voltwatch.log")

	logger, err := NewLogger("info", "json", path)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("refresh complete")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"refresh complete"`)
	assert.Contains(t, string(data), `"service":"voltwatch"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewLogger_Console(t *testing.T) {
	logger, err := NewLogger("debug", "console", "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

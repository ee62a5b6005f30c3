package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/v0xg/omniagent/internal/config"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggerConfig{Level: "warn"}, zapcore.AddSync(&buf))

	logger.Info("hidden")
	logger.Warn("shown", zap.String("k", "v"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "omniagent.")
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggerConfig{Level: "chatty"}, zapcore.AddSync(&buf))

	logger.Debug("debug")
	logger.Info("info")

	assert.NotContains(t, buf.String(), "debug")
	assert.Contains(t, buf.String(), "info")
}

func TestNewWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	var buf bytes.Buffer
	logger := New(config.LoggerConfig{Level: "info", LogFile: path, MaxSizeMB: 1}, zapcore.AddSync(&buf))

	logger.Info("to file")
	Sync(logger)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestWithRunFile(t *testing.T) {
	var buf bytes.Buffer
	base := New(config.LoggerConfig{Level: "info"}, zapcore.AddSync(&buf))
	path := filepath.Join(t.TempDir(), "run", "run.log")

	runLogger, closeFn, err := WithRunFile(base, path)
	require.NoError(t, err)

	runLogger.Info("step finished", zap.Int("step", 1))
	base.Info("not in run log")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"step":1`)
	assert.NotContains(t, string(data), "not in run log")
	assert.Contains(t, buf.String(), "step finished")
}

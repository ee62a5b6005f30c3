// Package logging builds the zap loggers used across omniagent.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/v0xg/omniagent/internal/config"
)

// ServiceName is the root logger name
const ServiceName = "omniagent"

const (
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorBlue   = "\x1b[34m"
	colorReset  = "\x1b[0m"
)

// New builds the process logger: a console core on w plus, if cfg.LogFile is
// set, a rotating JSON file core.
func New(cfg config.LoggerConfig, w zapcore.WriteSyncer) *zap.Logger {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(cfg.Color), w, level),
	}

	if cfg.LogFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		})
		cores = append(cores, zapcore.NewCore(jsonEncoder(), fileWriter, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddStacktrace(zap.ErrorLevel)).Named(ServiceName)
}

// NewStderr is New writing the console output to stderr.
// Stdout stays free for the MCP stdio transport.
func NewStderr(cfg config.LoggerConfig) *zap.Logger {
	return New(cfg, zapcore.Lock(os.Stderr))
}

// WithRunFile tees base into a JSON log at path. The returned func closes the file.
func WithRunFile(base *zap.Logger, path string) (*zap.Logger, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return base, noopClose, fmt.Errorf("create log dir: %w", err)
	}

	sink := &lumberjack.Logger{Filename: path, MaxSize: 50}
	fileCore := zapcore.NewCore(jsonEncoder(), zapcore.AddSync(sink), zap.DebugLevel)

	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	closeFn := func() error {
		_ = logger.Sync()
		return sink.Close()
	}
	return logger, closeFn, nil
}

// Sync flushes l, ignoring the errors stdout/stderr return on some platforms
func Sync(l *zap.Logger) {
	if err := l.Sync(); err != nil {
		msg := err.Error()
		if !strings.Contains(msg, "sync /dev/std") &&
			!strings.Contains(msg, "invalid argument") &&
			!strings.Contains(msg, "inappropriate ioctl") {
			fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
		}
	}
}

func noopClose() error { return nil }

func jsonEncoder() zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(enc)
}

func consoleEncoder(color bool) zapcore.Encoder {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		enc.EncodeLevel = colorLevelEncoder
	}
	enc.EncodeName = func(name string, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(enc)
}

func colorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var color string
	switch level {
	case zapcore.DebugLevel:
		color = colorBlue
	case zapcore.InfoLevel:
		color = colorGreen
	case zapcore.WarnLevel:
		color = colorYellow
	default:
		color = colorRed
	}
	enc.AppendString(color + strings.ToUpper(level.String()) + colorReset)
}

// Package logging provides the structured logger used across the diagnostic
// engine. The Logger interface is intentionally small so collaborators can
// inject their own implementation; the default is backed by zap.
package logging

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields carries structured metadata attached to a log line.
type Fields map[string]interface{}

// Logger is the observability contract consumed by the engine. All methods
// must be safe for concurrent use and must never panic.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

type zapLogger struct {
	z *zap.Logger
}

// New builds a production zap logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(level string) (Logger, error) {
	z, err := NewZap(level)
	if err != nil {
		return nil, err
	}
	return &zapLogger{z: z}, nil
}

// NewZap builds the underlying zap logger for callers that need the raw
// handle, like the audit sink.
func NewZap(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Wrap adapts an existing zap logger to the engine's Logger contract.
func Wrap(z *zap.Logger) Logger {
	return &zapLogger{z: z}
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *zapLogger) Debug(msg string, fields Fields) { l.z.Debug(msg, toZap(fields)...) }
func (l *zapLogger) Info(msg string, fields Fields)  { l.z.Info(msg, toZap(fields)...) }
func (l *zapLogger) Warn(msg string, fields Fields)  { l.z.Warn(msg, toZap(fields)...) }
func (l *zapLogger) Error(msg string, fields Fields) { l.z.Error(msg, toZap(fields)...) }

// toZap converts Fields to zap fields in deterministic key order.
func toZap(fields Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	return zf
}

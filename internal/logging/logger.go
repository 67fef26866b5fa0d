package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger pairs a production zap logger with the level it was built with so the
// level can be changed while the process runs.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// NewLogger returns a logger configured for structured production logging.
func NewLogger(level string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger, level: cfg.Level}, nil
}

// SetLevel changes the minimum enabled level. Unknown names fall back to info.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(ParseLevel(level))
}

// Level reports the current minimum enabled level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// ParseLevel maps a configuration value to a zap level.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Package logging builds the zap loggers used by the harvester.
//
// Logs go to stderr by default so stdout stays free for the run report.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	level   zapcore.Level
	outputs []string
}

// Option adjusts the logger configuration.
type Option func(*options)

// WithLevel sets the minimum enabled level.
func WithLevel(level zapcore.Level) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithOutputs replaces the sinks logs are written to. Paths follow
// zap.Config.OutputPaths conventions ("stderr", "stdout", file paths).
func WithOutputs(paths ...string) Option {
	return func(o *options) {
		if len(paths) > 0 {
			o.outputs = append([]string(nil), paths...)
		}
	}
}

// ParseLevel converts a config string such as "debug" into a zap level. An
// empty string means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

// New builds a zap.Logger configured for development or production.
func New(development bool, opts ...Option) (*zap.Logger, error) {
	o := options{level: zapcore.InfoLevel, outputs: []string{"stderr"}}
	if development {
		o.level = zapcore.DebugLevel
	}
	for _, opt := range opts {
		opt(&o)
	}

	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(o.level)
		cfg.OutputPaths = o.outputs
		cfg.ErrorOutputPaths = []string{"stderr"}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(o.level)
	cfg.OutputPaths = o.outputs
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

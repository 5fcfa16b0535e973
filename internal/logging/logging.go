package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoding.
type Format string

const (
	// FormatJSON is used by the long-running inspector service.
	FormatJSON Format = "json"
	// FormatConsole is used by one-shot CLI commands writing to a terminal.
	FormatConsole Format = "console"
)

// New creates a structured logger at the given level ("debug", "info", ...).
// JSON output uses the production encoder with ISO8601 timestamps.
func New(level string, format Format) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var cfg zap.Config
	switch format {
	case FormatJSON, "":
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "json"
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.StacktraceKey = "stacktrace"
		cfg.DisableStacktrace = false
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.Encoding = "console"
		cfg.OutputPaths = []string{"stderr"}
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

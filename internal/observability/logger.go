package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. verbose forces debug level; otherwise
// level is one of debug, info, warn, error.
func NewLogger(level string, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.DisableStacktrace = true
	config.Sampling = nil

	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Node returns a child logger tagged with the pipeline node it serves.
func Node(logger *zap.Logger, node string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named(node).With(zap.String("node", node))
}

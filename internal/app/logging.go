package app

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dshills/keyweave/internal/config"
)

// ParseLogLevel parses a level name. Unknown names yield info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	// Level is the minimum level logged. A *slog.LevelVar allows changing
	// it later.
	Level slog.Leveler
	// Format is text or json.
	Format string
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Service is attached to every record.
	Service string
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:   slog.LevelInfo,
		Format:  "text",
		Output:  os.Stderr,
		Service: "keyweave",
	}
}

// LoggerConfigFrom builds a LoggerConfig from the [log] section.
func LoggerConfigFrom(c config.LogConfig, level *slog.LevelVar) LoggerConfig {
	cfg := DefaultLoggerConfig()
	level.Set(ParseLogLevel(c.Level))
	cfg.Level = level
	if c.Format != "" {
		cfg.Format = c.Format
	}
	return cfg
}

// NewLogger creates a structured logger.
func NewLogger(cfg LoggerConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == nil {
		cfg.Level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: cfg.Level}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(cfg.Output, opts)
	} else {
		h = slog.NewTextHandler(cfg.Output, opts)
	}

	logger := slog.New(h)
	if cfg.Service != "" {
		logger = logger.With("service", cfg.Service)
	}
	return logger
}

// discardLogger drops everything.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

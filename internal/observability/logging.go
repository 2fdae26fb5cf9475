package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig selects the log level and an optional rotating file sink.
type LogConfig struct {
	Level      string `koanf:"level"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

var (
	output       io.Writer = os.Stdout
	defaultLevel           = zerolog.InfoLevel
)

// Setup configures the process-wide log sink. Without a file, logs go to stdout
// only; with one, they go to both.
func Setup(cfg LogConfig) {
	defaultLevel = parseLogLevel(cfg.Level)
	if cfg.File == "" {
		output = os.Stdout
		return
	}
	output = io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
}

// NewLogger creates a structured JSON logger for one component at the
// configured level. NAI_LOG_LEVEL overrides it.
func NewLogger(component string) zerolog.Logger {
	level := defaultLevel
	if env := os.Getenv("NAI_LOG_LEVEL"); env != "" {
		level = parseLogLevel(env)
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

func parseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	// RFC3339 with sub-second precision
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

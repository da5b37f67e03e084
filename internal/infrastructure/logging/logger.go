package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-blocks/internal/infrastructure/config"
)

// ServiceName is the value of the service attribute on every entry.
const ServiceName = "graylogic-blocks"

// redacted replaces the value of any attribute named in secretKeys.
const redacted = "[redacted]"

var secretKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"authorization": true,
}

// Logger is the hub's structured logger. Every entry carries the service
// name and build version; components add their own name with Component.
type Logger struct {
	*slog.Logger
}

// New builds a logger from the logging section of config.yaml. Unknown
// levels fall back to info, unknown formats to JSON and unknown outputs
// to stdout.
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return newLogger(out, cfg, version)
}

func newLogger(out io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	}

	return &Logger{Logger: slog.New(h).With("service", ServiceName, "version", version)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// redact blanks credentials that reach a log call, e.g. a config dump.
func redact(_ []string, a slog.Attr) slog.Attr {
	if secretKeys[strings.ToLower(a.Key)] && a.Value.String() != "" {
		return slog.String(a.Key, redacted)
	}
	return a
}

// With returns a logger that adds args to every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags entries with the owning component, e.g. "workspace" or
// "mqtt".
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is the JSON info logger used before config.yaml is read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

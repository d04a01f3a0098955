package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/dispatch-auth/internal/infrastructure/config"
)

const (
	serviceName = "dispatch-auth"
	redacted    = "[REDACTED]"
)

// sensitiveKeys never reach the output, at any nesting depth.
var sensitiveKeys = map[string]bool{
	"password":         true,
	"current_password": true,
	"new_password":     true,
	"access_token":     true,
	"refresh_token":    true,
	"token":            true,
	"authorization":    true,
	"secret":           true,
}

// Logger is a slog.Logger carrying the service and version attributes.
// It is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New writes to stdout, or stderr when cfg.Output says so.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	h := newHandler(strings.ToLower(cfg.Format), w, &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	})
	return &Logger{Logger: slog.New(h).With("service", serviceName, "version", version)}
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		a.Value = slog.StringValue(redacted)
	}
	return a
}

// parseLevel falls back to info for anything it does not recognise.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// With returns a child logger, e.g. logger.With("component", "janitor").
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the JSON/info/stdout logger used before config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

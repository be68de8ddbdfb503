// Package logger wraps log/slog with the conventions used across secmon:
// JSON in production, text in development, redaction of credential-like
// keys, and request/tenant ids taken from the context of *Context calls.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Logger struct {
	*slog.Logger
}

type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Output io.Writer
}

func New(cfg Config) *Logger {
	level := parseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level == slog.LevelDebug,
		ReplaceAttr: redact,
	}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{Logger: slog.New(contextHandler{h})}
}

func NewProduction() *Logger {
	return New(Config{Level: "info", Format: "json"})
}

// NewNop discards everything. Used by tests.
func NewNop() *Logger {
	return New(Config{Level: "error", Output: io.Discard})
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ContextKey types the context values the handler copies into records.
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyTenantID  ContextKey = "tenant_id"
)

var contextKeys = []ContextKey{ContextKeyRequestID, ContextKeyTenantID}

// contextHandler adds request_id and tenant_id from the record's context.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, k := range contextKeys {
			if v, ok := ctx.Value(k).(string); ok && v != "" {
				r.AddAttrs(slog.String(string(k), v))
			}
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

// sensitiveKeys are masked wherever they appear inside an attribute key.
var sensitiveKeys = []string{
	"password", "passwd", "secret", "token", "authorization", "cookie",
	"api_key", "apikey", "private_key", "access_key", "credential",
	"dsn", "database_url", "redis_url", "webhook_url",
}

func redact(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

func parseLevel(s string) slog.Level {
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

// Package middleware holds the HTTP middleware chain of the secmon API.
package middleware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/openctemio/secmon/pkg/apierror"
	"github.com/openctemio/secmon/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestIDKey is the context key holding the request id.
const RequestIDKey = logger.ContextKeyRequestID

// RequestID propagates the caller's X-Request-ID or assigns a new one, and
// echoes it on the response.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
		})
	}
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// recorder remembers what the inner handlers did with the response. It is
// shared by every middleware that calls wrap, so the access log sees the
// tenant resolved deeper in the chain.
type recorder struct {
	http.ResponseWriter
	statusCode int
	tenantID   string
}

func wrap(w http.ResponseWriter) *recorder {
	if rw, ok := w.(*recorder); ok {
		return rw
	}
	return &recorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *recorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades through.
func (rw *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rw *recorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// LoggerConfig tunes the access log.
type LoggerConfig struct {
	// SkipPaths are never logged.
	SkipPaths []string
	// SlowRequestThreshold logs slower requests as warnings. Zero disables it.
	SlowRequestThreshold time.Duration
}

// DefaultLoggerConfig skips the probe and scrape endpoints.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		SkipPaths:            []string{"/health", "/ready", "/metrics"},
		SlowRequestThreshold: 5 * time.Second,
	}
}

// Logger writes one access log line per request: errors for 5xx, warnings
// for 4xx and slow requests, info otherwise.
func Logger(log *logger.Logger, cfg LoggerConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(cfg.SkipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			elapsed := time.Since(start)

			level, msg := slog.LevelInfo, "http request"
			switch {
			case rw.statusCode >= http.StatusInternalServerError:
				level = slog.LevelError
			case rw.statusCode >= http.StatusBadRequest:
				level = slog.LevelWarn
			case cfg.SlowRequestThreshold > 0 && elapsed > cfg.SlowRequestThreshold:
				level, msg = slog.LevelWarn, "slow http request"
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", rw.statusCode,
				"duration", elapsed,
				"remote_addr", r.RemoteAddr,
			}
			if rw.tenantID != "" {
				attrs = append(attrs, "tenant_id", rw.tenantID)
			}
			log.Log(r.Context(), level, msg, attrs...)
		})
	}
}

// Recovery turns a handler panic into a 500. The stack is logged outside
// production only.
func Recovery(log *logger.Logger, isProduction bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				attrs := []any{"panic", fmt.Sprint(rec)}
				if !isProduction {
					attrs = append(attrs, "stack", string(debug.Stack()))
				}
				log.ErrorContext(r.Context(), "panic recovered", attrs...)
				apierror.InternalError(fmt.Errorf("panic: %v", rec)).WriteJSON(w)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

package handler

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// readyTimeout bounds all dependency pings of one readiness probe.
const readyTimeout = 5 * time.Second

// Pinger is a dependency the readiness probe can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	names   []string
	pingers []Pinger
}

type HealthHandlerOption func(*HealthHandler)

// WithCheck makes readiness depend on p. A nil p is ignored so callers can
// pass optional components unconditionally.
func WithCheck(name string, p Pinger) HealthHandlerOption {
	return func(h *HealthHandler) {
		if p == nil {
			return
		}
		h.names = append(h.names, name)
		h.pingers = append(h.pingers, p)
	}
}

func NewHealthHandler(opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Health answers 200 as long as the process serves HTTP.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

type ReadyResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of pinging one dependency.
type CheckResult struct {
	Status   string `json:"status"` // ok or error
	Duration string `json:"duration,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Ready pings every dependency concurrently and answers 503 if any fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	results := make([]CheckResult, len(h.pingers))
	var g errgroup.Group
	for i, p := range h.pingers {
		g.Go(func() error {
			results[i] = ping(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(results)),
	}
	code := http.StatusOK
	for i, res := range results {
		resp.Checks[h.names[i]] = res
		if res.Status != "ok" {
			resp.Status, code = "not_ready", http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func ping(ctx context.Context, p Pinger) CheckResult {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return CheckResult{Status: "error", Duration: time.Since(start).String(), Error: err.Error()}
	}
	return CheckResult{Status: "ok", Duration: time.Since(start).String()}
}

package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openctemio/secmon/internal/config"
	redisinfra "github.com/openctemio/secmon/internal/infra/redis"
	"github.com/openctemio/secmon/pkg/apierror"
	"github.com/openctemio/secmon/pkg/logger"
)

// Limiter decides whether one more request for key is allowed now. When it is
// not, retryAfter says how long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// LocalLimiter is an in-process token bucket per key.
type LocalLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates a limiter and starts its idle-key cleanup.
func NewLocalLimiter(cfg *config.RateLimitConfig) *LocalLimiter {
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	l := &LocalLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(cfg.RequestsPerSec),
		burst:    max(cfg.Burst, 1),
		cleanup:  cleanup,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go l.cleanupVisitors()
	return l
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	lim := l.visitor(key)
	r := lim.Reserve()
	if !r.OK() {
		return false, time.Second, nil
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay, nil
	}
	return true, 0, nil
}

// Stop stops the cleanup goroutine and waits for it to exit.
func (l *LocalLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
	<-l.stopped
}

func (l *LocalLimiter) visitor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

func (l *LocalLimiter) cleanupVisitors() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()
	defer close(l.stopped)

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mu.Lock()
			for key, v := range l.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(l.visitors, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RedisLimiter adapts the distributed sliding-window limiter.
type RedisLimiter struct {
	limiter *redisinfra.RateLimiter
}

// NewRedisLimiter wraps rl.
func NewRedisLimiter(rl *redisinfra.RateLimiter) *RedisLimiter {
	return &RedisLimiter{limiter: rl}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, key)
	if err != nil {
		return false, 0, err
	}
	if res.Allowed {
		return true, 0, nil
	}
	return false, max(time.Until(res.RetryAt), time.Second), nil
}

// RateLimit rejects requests over the limit with 429, keyed by tenant.
// A limiter error lets the request through.
func RateLimit(name string, limiter Limiter, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetTenantID(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}

			allowed, retryAfter, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.Warn("rate limiter unavailable, allowing request",
					"limiter", name,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				rateLimitedTotal.WithLabelValues(name).Inc()
				log.Warn("rate limit exceeded",
					"limiter", name,
					"key", key,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				apierror.RateLimitExceeded().WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

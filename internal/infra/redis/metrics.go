package redis

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Redis collectors. Every collector lives under the
// "<namespace>_redis_" prefix.
type Metrics struct {
	opDuration *prometheus.HistogramVec
	opErrors   *prometheus.CounterVec
	cache      *prometheus.CounterVec
	relayed    *prometheus.CounterVec
	pool       *prometheus.GaugeVec
}

// DefaultMetrics is used by every component in this package.
var DefaultMetrics = NewMetrics("secmon", prometheus.DefaultRegisterer)

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	const sub = "redis"
	return &Metrics{
		opDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: sub,
			Name:    "operation_duration_seconds",
			Help:    "Duration of Redis operations.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		opErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "operation_errors_total",
			Help: "Redis operations that returned an error.",
		}, []string{"operation"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "cache_lookups_total",
			Help: "Cache lookups by cache prefix and result (hit or miss).",
		}, []string{"cache", "result"}),
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "events_relayed_total",
			Help: "Events relayed over pub/sub by direction (in or out).",
		}, []string{"direction"}),
		pool: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "pool",
			Help: "Connection pool statistics as last sampled.",
		}, []string{"stat"}),
	}
}

// ObserveOperation records one Redis round trip.
func (m *Metrics) ObserveOperation(operation string, d time.Duration, err error) {
	m.opDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.opErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cache.WithLabelValues(cache, result).Inc()
}

// RecordRelay counts an event sent ("out") or received ("in").
func (m *Metrics) RecordRelay(direction string) {
	m.relayed.WithLabelValues(direction).Inc()
}

// SamplePool copies the client's pool counters into the pool gauge.
func (m *Metrics) SamplePool(c *Client) {
	if c == nil {
		return
	}
	s := c.rdb.PoolStats()
	for stat, v := range map[string]uint32{
		"hits":     s.Hits,
		"misses":   s.Misses,
		"timeouts": s.Timeouts,
		"total":    s.TotalConns,
		"idle":     s.IdleConns,
		"stale":    s.StaleConns,
	} {
		m.pool.WithLabelValues(stat).Set(float64(v))
	}
}

// StartPoolStatsCollector samples the pool every interval until the returned
// stop function is called or ctx ends.
func StartPoolStatsCollector(ctx context.Context, c *Client, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				DefaultMetrics.SamplePool(c)
			}
		}
	}()
	return cancel
}

// Timed starts timing an operation; call the result with the outcome.
//
//	done := Timed("cache_get")
//	err := ...
//	done(err)
func Timed(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		DefaultMetrics.ObserveOperation(operation, time.Since(start), err)
	}
}

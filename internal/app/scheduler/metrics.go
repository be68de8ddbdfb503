package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics implements the Metrics interface using Prometheus.
type PrometheusMetrics struct {
	runsTotal    *prometheus.CounterVec
	skippedTotal *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	taskRunning  *prometheus.GaugeVec
	lastRunTime  *prometheus.GaugeVec
}

// NewPrometheusMetrics creates the collectors under the given namespace and
// registers them with the given registerer (the default one when nil).
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) *PrometheusMetrics {
	if namespace == "" {
		namespace = "secmon"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Total number of task runs by result",
			},
			[]string{"task", "result"},
		),
		skippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "skipped_ticks_total",
				Help:      "Total number of ticks skipped because the previous run was still executing",
			},
			[]string{"task"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "run_duration_seconds",
				Help:      "Duration of task runs in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"task"},
		),
		taskRunning: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "task_running",
				Help:      "Whether a task body is executing (1) or not (0)",
			},
			[]string{"task"},
		),
		lastRunTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix timestamp of the last finished run",
			},
			[]string{"task"},
		),
	}
}

// RecordRun records a finished run.
func (m *PrometheusMetrics) RecordRun(task string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.runsTotal.WithLabelValues(task, result).Inc()
	m.runDuration.WithLabelValues(task).Observe(duration.Seconds())
	m.lastRunTime.WithLabelValues(task).SetToCurrentTime()
}

// IncrementSkipped counts a skipped tick.
func (m *PrometheusMetrics) IncrementSkipped(task string) {
	m.skippedTotal.WithLabelValues(task).Inc()
}

// SetTaskRunning sets whether a task body is executing.
func (m *PrometheusMetrics) SetTaskRunning(task string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	m.taskRunning.WithLabelValues(task).Set(v)
}

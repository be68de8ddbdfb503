// Package metrics holds the Prometheus collectors shared by secmon components.
// All collectors register with the default registry under the secmon
// namespace.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "secmon"

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

// Finding pipeline.
var (
	AlertsCreatedTotal = counter("alerts_created_total",
		"Alerts created, by alert type and severity.", "type", "severity")
	VulnerabilitiesCreatedTotal = counter("vulnerabilities_created_total",
		"Vulnerabilities written, by severity.", "severity")
	FindingsFailedTotal = counter("findings_failed_total",
		"Findings rejected or failed during ingest, by reason.", "reason")
)

// Scan orchestrator.
var (
	ScansTotal = counter("scans_total",
		"Finished scan jobs, by kind and final state.", "kind", "state")
	ScansCoalescedTotal = counter("scans_coalesced_total",
		"Scan start requests folded into an in-flight job, by kind.", "kind")
	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Scan job run time, by kind.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"kind"})
	ScansInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scans_in_progress",
		Help:      "Scan jobs currently pending or running.",
	})
)

// Score calculator and notifier.
var (
	SecurityScore = gauge("security_score",
		"Last computed security score, by tenant.", "tenant_id")
	// ScoreFallbacksTotal counts computations answered from the cache or
	// the neutral default.
	ScoreFallbacksTotal = counter("score_fallbacks_total",
		"Score computations that fell back, by source.", "source")
	EventsPublishedTotal = counter("events_published_total",
		"Events handed to the notifier, by event name.", "event")
	EventsDroppedTotal = counter("events_dropped_total",
		"Events dropped on a full subscriber buffer, by subscriber.", "subscriber")
)

// Monitor cycles and alert forwarding.
var (
	CheckCyclesTotal = counter("check_cycles_total",
		"Per-tenant security check cycles, by result.", "result")
	ReportsGeneratedTotal = counter("reports_generated_total",
		"Daily security reports, by result.", "result")
	AlertsForwardedTotal = counter("alerts_forwarded_total",
		"Alerts sent to external channels, by provider and result.", "provider", "result")
)

// Package event defines the messages the engine pushes to realtime observers.
package event

import (
	"context"
	"time"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Name identifies an event kind on the wire.
type Name string

const (
	SecurityAlert         Name = "security-alert"
	SecurityMetricsUpdate Name = "security-metrics-update"
	ScanStarted           Name = "scan-started"
	ScanCompleted         Name = "scan-completed"
	ScanFailed            Name = "scan-failed"
	AssetDiscovered       Name = "asset-discovered"
	SecurityDailyReport   Name = "security-daily-report"
)

// Event is a tenant-scoped notification. Payload must be JSON-serializable.
type Event struct {
	Name      Name      `json:"event"`
	TenantID  shared.ID `json:"tenant_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(name Name, tenantID shared.ID, payload any) Event {
	return Event{
		Name:      name,
		TenantID:  tenantID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events to observers. Publish never blocks on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// AlertPayload is carried by SecurityAlert events.
type AlertPayload struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
	AffectedAssets  []string  `json:"affected_assets"`
	VulnerabilityID string    `json:"vulnerability_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// MetricsType is the type of every MetricsPayload.
const MetricsType = "security_metrics"

// MetricsPayload is carried by SecurityMetricsUpdate events. ID identifies
// one published snapshot.
type MetricsPayload struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Score         int       `json:"score"`
	TotalAssets   int64     `json:"total_assets"`
	ActiveThreats int64     `json:"active_threats"`
	CriticalVulns int64     `json:"critical_vulns"`
	Stale         bool      `json:"stale"`
	Timestamp     time.Time `json:"timestamp"`
}

// ScanPayload is carried by scan lifecycle events. ID is the scan's
// correlation id.
type ScanPayload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AssetPayload is carried by AssetDiscovered events.
type AssetPayload struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IP          string    `json:"ip"`
	Category    string    `json:"category"`
	Criticality string    `json:"criticality"`
	ScanID      string    `json:"scan_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

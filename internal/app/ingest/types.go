// Package ingest turns raw findings into persisted vulnerabilities and alerts.
package ingest

import (
	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
)

const (
	// MaxFindingsPerBatch bounds a single Ingest call.
	MaxFindingsPerBatch = 10000

	// DefaultSource is recorded on alerts raised by the pipeline.
	DefaultSource = "security-monitor"
)

// Item is one persisted result. Vulnerability is nil for findings that only
// raise an alert (such as threat signals).
type Item struct {
	Vulnerability *vulnerability.Vulnerability
	Alert         *alert.Alert
}

// Output is the result of one batch.
type Output struct {
	Items                  []Item          `json:"-"`
	VulnerabilitiesCreated int             `json:"vulnerabilities_created"`
	AlertsCreated          int             `json:"alerts_created"`
	Duplicates             int             `json:"duplicates"`
	Failed                 []FailedFinding `json:"failed,omitempty"`
	Warnings               []string        `json:"warnings,omitempty"`
}

// FailedFinding describes a finding that could not be persisted.
type FailedFinding struct {
	Index      int    `json:"index"`
	Key        string `json:"key"`
	AssetID    string `json:"asset_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Error      string `json:"error"`
}

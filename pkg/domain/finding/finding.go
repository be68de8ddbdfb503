// Package finding defines the raw detector output fed into the alert pipeline.
package finding

import (
	"strconv"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Finding is a raw, unvalidated observation. It is never persisted as-is.
type Finding struct {
	TenantID    shared.ID
	AssetID     shared.ID
	AssetName   string
	Severity    shared.Severity
	Title       string
	Description string
	ExternalID  string
	Score       float64
	Category    string
	Solution    string
	// Kind selects the alert type raised for the finding. Empty means vulnerability.
	Kind string
	// Message overrides the generated alert headline when set.
	Message string
}

// Key identifies findings that describe the same weakness on the same asset.
// Findings without an external id are keyed by their position in the batch.
func (f Finding) Key(index int) string {
	if f.ExternalID == "" {
		return f.AssetID.String() + "|#" + strconv.Itoa(index)
	}
	return f.AssetID.String() + "|" + f.ExternalID
}

// Package detector turns an asset inventory into raw findings.
//
// Detectors never write. The default RandomDetector and ThreatDetector are
// placeholders that emit synthetic findings so the rest of the engine can be
// exercised end to end; real heuristics plug in behind the same interface.
package detector

import (
	"context"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Finding kinds understood by the pipeline.
const (
	KindVulnerability   = "vulnerability"
	KindThreatDetection = "threat_detection"
)

// Detector inspects a tenant's assets and reports findings.
type Detector interface {
	Name() string
	Detect(ctx context.Context, tenantID shared.ID, assets []*asset.Asset) ([]finding.Finding, error)
}

func onlineAssets(assets []*asset.Asset) []*asset.Asset {
	out := make([]*asset.Asset, 0, len(assets))
	for _, a := range assets {
		if a.IsOnline() {
			out = append(out, a)
		}
	}
	return out
}

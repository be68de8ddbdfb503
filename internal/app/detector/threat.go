package detector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// ThreatDetector is a placeholder signal that occasionally reports
// suspicious network activity on one of the tenant's online assets.
type ThreatDetector struct {
	probability float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewThreatDetector creates a detector that fires with the given probability per call.
func NewThreatDetector(probability float64, seed uint64) *ThreatDetector {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &ThreatDetector{
		probability: probability,
		rng:         rand.New(rand.NewPCG(seed, ^seed)),
	}
}

// Name returns the detector name.
func (d *ThreatDetector) Name() string {
	return "threat"
}

// Detect emits at most one high-severity threat finding, bound to a randomly
// chosen online asset. Nothing is reported when no asset is online.
func (d *ThreatDetector) Detect(ctx context.Context, tenantID shared.ID, assets []*asset.Asset) ([]finding.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := onlineAssets(assets)
	if len(candidates) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	roll := d.rng.Float64()
	target := candidates[d.rng.IntN(len(candidates))]
	d.mu.Unlock()

	if roll >= d.probability {
		return nil, nil
	}
	return []finding.Finding{{
		TenantID:    tenantID,
		AssetID:     target.ID(),
		AssetName:   target.Name(),
		Severity:    shared.SeverityHigh,
		Title:       "Suspicious network activity",
		Description: fmt.Sprintf("Anomalous traffic pattern observed on %s", target.Name()),
		Category:    "Threat Detection",
		Kind:        KindThreatDetection,
		Message:     fmt.Sprintf("Suspicious network activity detected on %s", target.Name()),
	}}, nil
}

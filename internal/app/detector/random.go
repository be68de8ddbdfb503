package detector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/finding"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// scoreBands are the CVSS ranges scores are drawn from per severity.
var scoreBands = map[shared.Severity][2]float64{
	shared.SeverityLow:      {0.1, 3.9},
	shared.SeverityMedium:   {4.0, 6.9},
	shared.SeverityHigh:     {7.0, 8.9},
	shared.SeverityCritical: {9.0, 10.0},
}

// RandomDetector is a placeholder that reports synthetic vulnerabilities on a
// random sample of online assets.
type RandomDetector struct {
	profile Profile
	weights []float64
	year    int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomDetector creates a detector. A zero seed draws a random one; any
// other seed makes the output reproducible.
func NewRandomDetector(p Profile, seed uint64) *RandomDetector {
	if seed == 0 {
		seed = rand.Uint64()
	}
	weights := make([]float64, len(shared.AllSeverities()))
	for name, w := range p.SeverityWeights {
		if sev, err := shared.ParseSeverity(name); err == nil && w > 0 {
			weights[sev.Rank()-1] = w
		}
	}
	return &RandomDetector{
		profile: p,
		weights: weights,
		year:    time.Now().Year(),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Name returns the detector name.
func (d *RandomDetector) Name() string {
	return "random"
}

// Detect samples up to SampleSize online assets and rolls once per asset.
func (d *RandomDetector) Detect(ctx context.Context, tenantID shared.ID, assets []*asset.Asset) ([]finding.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates := onlineAssets(assets)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if d.profile.SampleSize < len(candidates) {
		candidates = candidates[:d.profile.SampleSize]
	}

	var out []finding.Finding
	for _, a := range candidates {
		if d.rng.Float64() >= d.profile.Probability {
			continue
		}
		sev := d.severity()
		cve := fmt.Sprintf("CVE-%d-%04d", d.year, d.rng.IntN(10000))
		out = append(out, finding.Finding{
			TenantID:    tenantID,
			AssetID:     a.ID(),
			AssetName:   a.Name(),
			Severity:    sev,
			Title:       "Newly Discovered Security Vulnerability",
			Description: fmt.Sprintf("Security vulnerability %s detected on %s", cve, a.Name()),
			ExternalID:  cve,
			Score:       d.score(sev),
			Category:    "Security",
			Solution:    "Apply latest security patches",
			Kind:        KindVulnerability,
		})
	}
	return out, nil
}

// severity draws from the profile's weights. Callers hold d.mu.
func (d *RandomDetector) severity() shared.Severity {
	all := shared.AllSeverities()
	var total float64
	for _, w := range d.weights {
		total += w
	}
	if total <= 0 {
		return all[d.rng.IntN(len(all))]
	}
	roll := d.rng.Float64() * total
	for i, w := range d.weights {
		roll -= w
		if roll < 0 {
			return all[i]
		}
	}
	return shared.SeverityCritical
}

// score draws a CVSS score within the severity band. Callers hold d.mu.
func (d *RandomDetector) score(s shared.Severity) float64 {
	band := scoreBands[s]
	v := band[0] + d.rng.Float64()*(band[1]-band[0])
	return float64(int(v*10)) / 10
}

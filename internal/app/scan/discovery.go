package scan

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/shared"
)

// DiscoverySource reports the assets currently observable for a tenant.
// Returned assets are unsaved; the orchestrator reconciles them by IP.
type DiscoverySource interface {
	Discover(ctx context.Context, tenantID shared.ID) ([]*asset.Asset, error)
}

var (
	deviceTypes = []string{
		"Windows Server 2022",
		"Windows 11 Pro",
		"Ubuntu 22.04",
		"macOS Ventura",
		"Cisco Router",
		"HP Printer",
		"iPhone",
		"Android Device",
	}
	owners = []string{
		"IT Department",
		"Finance Department",
		"HR Department",
		"Sales Department",
		"Marketing Department",
		"Operations",
	}
	departments = []string{"IT", "Finance", "HR", "Sales", "Marketing", "Operations"}

	// criticalityWeights are indexed by severity rank - 1.
	criticalityWeights = []float64{0.4, 0.3, 0.2, 0.1}
)

// SyntheticDiscovery is a placeholder source that reports between 5 and 14
// hosts on 192.168.1.0/24. IPs are unique within one run.
type SyntheticDiscovery struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticDiscovery creates a source. A zero seed draws a random one.
func NewSyntheticDiscovery(seed uint64) *SyntheticDiscovery {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &SyntheticDiscovery{rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// Discover implements DiscoverySource.
func (d *SyntheticDiscovery) Discover(ctx context.Context, tenantID shared.ID) ([]*asset.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	n := 5 + d.rng.IntN(10)
	hosts := d.rng.Perm(254)[:n]
	categories := asset.AllCategories()
	now := time.Now().UTC()

	out := make([]*asset.Asset, 0, n)
	for i, host := range hosts {
		a, err := asset.NewAsset(
			tenantID,
			fmt.Sprintf("Device-%03d", i+1),
			fmt.Sprintf("192.168.1.%d", host+1),
			categories[d.rng.IntN(len(categories))],
			d.criticality(),
		)
		if err != nil {
			return nil, err
		}
		a.SetProfile(
			deviceTypes[d.rng.IntN(len(deviceTypes))],
			owners[d.rng.IntN(len(owners))],
			departments[d.rng.IntN(len(departments))],
		)
		a.AddTag("discovered")
		a.AddTag("network-scan")
		a.MarkScanned(now)
		out = append(out, a)
	}
	return out, nil
}

func (d *SyntheticDiscovery) criticality() shared.Severity {
	roll := d.rng.Float64()
	all := shared.AllSeverities()
	for i, w := range criticalityWeights {
		if roll < w {
			return all[i]
		}
		roll -= w
	}
	return all[len(all)-1]
}

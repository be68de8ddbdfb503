// Package asset holds the inventory entity that the monitoring engine scans.
package asset

import (
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Asset represents an inventory item owned by a tenant.
type Asset struct {
	id                 shared.ID
	tenantID           shared.ID
	name               string
	ip                 string
	deviceType         string
	category           Category
	owner              string
	department         string
	criticality        shared.Severity
	status             Status
	lastScanAt         *time.Time
	vulnerabilityCount int
	tags               []string
	createdAt          time.Time
	updatedAt          time.Time
}

// NewAsset creates a new Asset for a tenant.
func NewAsset(tenantID shared.ID, name, ip string, category Category, criticality shared.Severity) (*Asset, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("%w: tenant id is required", shared.ErrValidation)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	if net.ParseIP(ip) == nil {
		return nil, fmt.Errorf("%w: invalid ip address %q", shared.ErrValidation, ip)
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: invalid category", shared.ErrValidation)
	}
	if !criticality.IsValid() {
		return nil, fmt.Errorf("%w: invalid criticality", shared.ErrValidation)
	}

	now := time.Now().UTC()
	return &Asset{
		id:          shared.NewID(),
		tenantID:    tenantID,
		name:        name,
		ip:          ip,
		category:    category,
		criticality: criticality,
		status:      StatusUnknown,
		tags:        make([]string, 0),
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// Reconstitute recreates an Asset from persistence.
func Reconstitute(
	id, tenantID shared.ID,
	name, ip, deviceType string,
	category Category,
	owner, department string,
	criticality shared.Severity,
	status Status,
	lastScanAt *time.Time,
	vulnerabilityCount int,
	tags []string,
	createdAt, updatedAt time.Time,
) *Asset {
	if tags == nil {
		tags = make([]string, 0)
	}
	return &Asset{
		id:                 id,
		tenantID:           tenantID,
		name:               name,
		ip:                 ip,
		deviceType:         deviceType,
		category:           category,
		owner:              owner,
		department:         department,
		criticality:        criticality,
		status:             status,
		lastScanAt:         lastScanAt,
		vulnerabilityCount: vulnerabilityCount,
		tags:               tags,
		createdAt:          createdAt,
		updatedAt:          updatedAt,
	}
}

func (a *Asset) ID() shared.ID                { return a.id }
func (a *Asset) TenantID() shared.ID          { return a.tenantID }
func (a *Asset) Name() string                 { return a.name }
func (a *Asset) IP() string                   { return a.ip }
func (a *Asset) DeviceType() string           { return a.deviceType }
func (a *Asset) Category() Category           { return a.category }
func (a *Asset) Owner() string                { return a.owner }
func (a *Asset) Department() string           { return a.department }
func (a *Asset) Criticality() shared.Severity { return a.criticality }
func (a *Asset) Status() Status               { return a.status }
func (a *Asset) LastScanAt() *time.Time       { return a.lastScanAt }
func (a *Asset) VulnerabilityCount() int      { return a.vulnerabilityCount }
func (a *Asset) CreatedAt() time.Time         { return a.createdAt }
func (a *Asset) UpdatedAt() time.Time         { return a.updatedAt }

// Tags returns a copy of the asset tags.
func (a *Asset) Tags() []string {
	return slices.Clone(a.tags)
}

// IsOnline reports whether the asset was reachable at last observation.
func (a *Asset) IsOnline() bool {
	return a.status == StatusOnline
}

// SetProfile sets descriptive fields that discovery fills in.
func (a *Asset) SetProfile(deviceType, owner, department string) {
	a.deviceType = deviceType
	a.owner = owner
	a.department = department
	a.updatedAt = time.Now().UTC()
}

// AddTag adds a tag if not already present.
func (a *Asset) AddTag(tag string) {
	if tag == "" || slices.Contains(a.tags, tag) {
		return
	}
	a.tags = append(a.tags, tag)
	a.updatedAt = time.Now().UTC()
}

// UpdateStatus changes the observed status.
func (a *Asset) UpdateStatus(status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid status", shared.ErrValidation)
	}
	a.status = status
	a.updatedAt = time.Now().UTC()
	return nil
}

// MarkScanned records a successful observation at the given time.
func (a *Asset) MarkScanned(at time.Time) {
	at = at.UTC()
	a.status = StatusOnline
	a.lastScanAt = &at
	a.updatedAt = time.Now().UTC()
}

// SetVulnerabilityCount stores the cached count of open vulnerabilities.
func (a *Asset) SetVulnerabilityCount(n int) {
	if n < 0 {
		n = 0
	}
	a.vulnerabilityCount = n
	a.updatedAt = time.Now().UTC()
}

// IsStale reports whether the asset has not been scanned within maxAge of now.
// An asset that was never scanned is stale.
func (a *Asset) IsStale(now time.Time, maxAge time.Duration) bool {
	if a.lastScanAt == nil {
		return true
	}
	return now.Sub(*a.lastScanAt) > maxAge
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (a *Asset) Clone() *Asset {
	c := *a
	c.tags = slices.Clone(a.tags)
	if a.lastScanAt != nil {
		t := *a.lastScanAt
		c.lastScanAt = &t
	}
	return &c
}

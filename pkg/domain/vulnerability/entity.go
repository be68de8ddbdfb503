// Package vulnerability holds vulnerability records raised against assets.
package vulnerability

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Status is the lifecycle state of a vulnerability. Only operators move it
// past open; the engine always creates open records.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// IsOpen reports whether the vulnerability still counts against its assets.
func (s Status) IsOpen() bool {
	return s == StatusOpen || s == StatusInProgress
}

// OpenStatuses returns the statuses that count as open.
func OpenStatuses() []Status {
	return []Status{StatusOpen, StatusInProgress}
}

// MaxScore is the top of the CVSS scale.
const MaxScore = 10.0

// Vulnerability is a persisted weakness affecting one or more assets.
type Vulnerability struct {
	id             shared.ID
	tenantID       shared.ID
	externalID     string
	title          string
	description    string
	severity       shared.Severity
	score          float64
	status         Status
	affectedAssets []shared.ID
	category       string
	solution       string
	discoveredAt   time.Time
	updatedAt      time.Time
}

// NewVulnerability creates an open vulnerability.
func NewVulnerability(
	tenantID shared.ID,
	title string,
	severity shared.Severity,
	score float64,
	affectedAssets []shared.ID,
) (*Vulnerability, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("%w: tenant id is required", shared.ErrValidation)
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", shared.ErrValidation)
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: invalid severity", shared.ErrValidation)
	}
	if score < 0 || score > MaxScore {
		return nil, fmt.Errorf("%w: score %.1f out of range [0,10]", shared.ErrValidation, score)
	}
	if len(affectedAssets) == 0 {
		return nil, fmt.Errorf("%w: at least one affected asset is required", shared.ErrValidation)
	}

	now := time.Now().UTC()
	return &Vulnerability{
		id:             shared.NewID(),
		tenantID:       tenantID,
		title:          title,
		severity:       severity,
		score:          score,
		status:         StatusOpen,
		affectedAssets: slices.Clone(affectedAssets),
		discoveredAt:   now,
		updatedAt:      now,
	}, nil
}

// Reconstitute recreates a Vulnerability from persistence.
func Reconstitute(
	id, tenantID shared.ID,
	externalID, title, description string,
	severity shared.Severity,
	score float64,
	status Status,
	affectedAssets []shared.ID,
	category, solution string,
	discoveredAt, updatedAt time.Time,
) *Vulnerability {
	return &Vulnerability{
		id:             id,
		tenantID:       tenantID,
		externalID:     externalID,
		title:          title,
		description:    description,
		severity:       severity,
		score:          score,
		status:         status,
		affectedAssets: affectedAssets,
		category:       category,
		solution:       solution,
		discoveredAt:   discoveredAt,
		updatedAt:      updatedAt,
	}
}

func (v *Vulnerability) ID() shared.ID             { return v.id }
func (v *Vulnerability) TenantID() shared.ID       { return v.tenantID }
func (v *Vulnerability) ExternalID() string        { return v.externalID }
func (v *Vulnerability) Title() string             { return v.title }
func (v *Vulnerability) Description() string       { return v.description }
func (v *Vulnerability) Severity() shared.Severity { return v.severity }
func (v *Vulnerability) Score() float64            { return v.score }
func (v *Vulnerability) Status() Status            { return v.status }
func (v *Vulnerability) Category() string          { return v.category }
func (v *Vulnerability) Solution() string          { return v.solution }
func (v *Vulnerability) DiscoveredAt() time.Time   { return v.discoveredAt }
func (v *Vulnerability) UpdatedAt() time.Time      { return v.updatedAt }

// AffectedAssets returns a copy of the affected asset ids.
func (v *Vulnerability) AffectedAssets() []shared.ID {
	return slices.Clone(v.affectedAssets)
}

// Affects reports whether the vulnerability references the asset.
func (v *Vulnerability) Affects(assetID shared.ID) bool {
	return slices.ContainsFunc(v.affectedAssets, assetID.Equals)
}

// SetExternalID sets the advisory identifier (e.g. a CVE id).
func (v *Vulnerability) SetExternalID(id string) {
	v.externalID = id
	v.updatedAt = time.Now().UTC()
}

// SetDetails sets descriptive fields.
func (v *Vulnerability) SetDetails(description, category, solution string) {
	v.description = description
	v.category = category
	v.solution = solution
	v.updatedAt = time.Now().UTC()
}

// UpdateStatus moves the vulnerability to a new status.
func (v *Vulnerability) UpdateStatus(s Status) error {
	if !s.IsValid() {
		return fmt.Errorf("%w: invalid status %q", shared.ErrValidation, s)
	}
	v.status = s
	v.updatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy.
func (v *Vulnerability) Clone() *Vulnerability {
	c := *v
	c.affectedAssets = slices.Clone(v.affectedAssets)
	return &c
}

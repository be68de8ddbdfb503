// Package alert holds operator-facing notifications raised by the engine.
package alert

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/openctemio/secmon/pkg/domain/shared"
)

// Type classifies what raised an alert.
type Type string

const (
	TypeVulnerability   Type = "vulnerability"
	TypeAssetManagement Type = "asset_management"
	TypeThreatDetection Type = "threat_detection"
	TypeScan            Type = "scan"
)

// IsValid checks if the type is valid.
func (t Type) IsValid() bool {
	switch t {
	case TypeVulnerability, TypeAssetManagement, TypeThreatDetection, TypeScan:
		return true
	}
	return false
}

// Status is the lifecycle state of an alert. It only moves forward.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

func (s Status) rank() int {
	switch s {
	case StatusActive:
		return 1
	case StatusAcknowledged:
		return 2
	case StatusResolved:
		return 3
	}
	return 0
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	return s.rank() > 0
}

// Alert is a persisted notification.
type Alert struct {
	id              shared.ID
	tenantID        shared.ID
	alertType       Type
	severity        shared.Severity
	message         string
	description     string
	source          string
	status          Status
	affectedAssets  []shared.ID
	vulnerabilityID *shared.ID
	createdAt       time.Time
	updatedAt       time.Time
}

// NewAlert creates an active alert.
func NewAlert(tenantID shared.ID, alertType Type, severity shared.Severity, message, source string) (*Alert, error) {
	if tenantID.IsZero() {
		return nil, fmt.Errorf("%w: tenant id is required", shared.ErrValidation)
	}
	if !alertType.IsValid() {
		return nil, fmt.Errorf("%w: invalid alert type %q", shared.ErrValidation, alertType)
	}
	if !severity.IsValid() {
		return nil, fmt.Errorf("%w: invalid severity", shared.ErrValidation)
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", shared.ErrValidation)
	}

	now := time.Now().UTC()
	return &Alert{
		id:             shared.NewID(),
		tenantID:       tenantID,
		alertType:      alertType,
		severity:       severity,
		message:        message,
		source:         source,
		status:         StatusActive,
		affectedAssets: make([]shared.ID, 0),
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

// Reconstitute recreates an Alert from persistence.
func Reconstitute(
	id, tenantID shared.ID,
	alertType Type,
	severity shared.Severity,
	message, description, source string,
	status Status,
	affectedAssets []shared.ID,
	vulnerabilityID *shared.ID,
	createdAt, updatedAt time.Time,
) *Alert {
	return &Alert{
		id:              id,
		tenantID:        tenantID,
		alertType:       alertType,
		severity:        severity,
		message:         message,
		description:     description,
		source:          source,
		status:          status,
		affectedAssets:  affectedAssets,
		vulnerabilityID: vulnerabilityID,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
	}
}

func (a *Alert) ID() shared.ID               { return a.id }
func (a *Alert) TenantID() shared.ID         { return a.tenantID }
func (a *Alert) Type() Type                  { return a.alertType }
func (a *Alert) Severity() shared.Severity   { return a.severity }
func (a *Alert) Message() string             { return a.message }
func (a *Alert) Description() string         { return a.description }
func (a *Alert) Source() string              { return a.source }
func (a *Alert) Status() Status              { return a.status }
func (a *Alert) VulnerabilityID() *shared.ID { return a.vulnerabilityID }
func (a *Alert) CreatedAt() time.Time        { return a.createdAt }
func (a *Alert) UpdatedAt() time.Time        { return a.updatedAt }

// AffectedAssets returns a copy of the affected asset ids.
func (a *Alert) AffectedAssets() []shared.ID {
	return slices.Clone(a.affectedAssets)
}

// IsActive reports whether the alert still needs attention.
func (a *Alert) IsActive() bool {
	return a.status == StatusActive
}

// SetDescription sets the long-form text.
func (a *Alert) SetDescription(d string) {
	a.description = d
	a.updatedAt = time.Now().UTC()
}

// SetMessage replaces the headline.
func (a *Alert) SetMessage(m string) {
	if strings.TrimSpace(m) == "" {
		return
	}
	a.message = m
	a.updatedAt = time.Now().UTC()
}

// AddAffectedAsset links an asset to the alert.
func (a *Alert) AddAffectedAsset(id shared.ID) {
	if slices.ContainsFunc(a.affectedAssets, id.Equals) {
		return
	}
	a.affectedAssets = append(a.affectedAssets, id)
}

// Affects reports whether the alert references the asset.
func (a *Alert) Affects(id shared.ID) bool {
	return slices.ContainsFunc(a.affectedAssets, id.Equals)
}

// LinkVulnerability ties the alert to the vulnerability it mirrors.
func (a *Alert) LinkVulnerability(id shared.ID) {
	a.vulnerabilityID = &id
}

// Advance moves the alert forward. Moving back (or staying put) is rejected.
func (a *Alert) Advance(to Status) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: invalid status %q", shared.ErrValidation, to)
	}
	if to.rank() <= a.status.rank() {
		return fmt.Errorf("%w: cannot move alert from %s to %s", shared.ErrValidation, a.status, to)
	}
	a.status = to
	a.updatedAt = time.Now().UTC()
	return nil
}

// Clone returns a deep copy.
func (a *Alert) Clone() *Alert {
	c := *a
	c.affectedAssets = slices.Clone(a.affectedAssets)
	if a.vulnerabilityID != nil {
		id := *a.vulnerabilityID
		c.vulnerabilityID = &id
	}
	return &c
}

package postgres

import (
	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/tenant"
	"github.com/openctemio/secmon/pkg/domain/user"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
)

var (
	_ asset.Repository         = (*AssetRepository)(nil)
	_ vulnerability.Repository = (*VulnerabilityRepository)(nil)
	_ alert.Repository         = (*AlertRepository)(nil)
	_ scanjob.Repository       = (*ScanJobRepository)(nil)
	_ tenant.Lister            = (*TenantRepository)(nil)
	_ user.Counter             = (*UserRepository)(nil)
)

// Repositories bundles the PostgreSQL stores.
type Repositories struct {
	Assets          *AssetRepository
	Vulnerabilities *VulnerabilityRepository
	Alerts          *AlertRepository
	ScanJobs        *ScanJobRepository
	Tenants         *TenantRepository
	Users           *UserRepository
}

// NewRepositories creates every repository on db.
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Assets:          NewAssetRepository(db),
		Vulnerabilities: NewVulnerabilityRepository(db),
		Alerts:          NewAlertRepository(db),
		ScanJobs:        NewScanJobRepository(db),
		Tenants:         NewTenantRepository(db),
		Users:           NewUserRepository(db),
	}
}

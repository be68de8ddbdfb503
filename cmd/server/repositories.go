package main

import (
	"context"
	"fmt"

	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/internal/infra/memory"
	"github.com/openctemio/secmon/internal/infra/postgres"
	"github.com/openctemio/secmon/pkg/domain/alert"
	"github.com/openctemio/secmon/pkg/domain/asset"
	"github.com/openctemio/secmon/pkg/domain/scanjob"
	"github.com/openctemio/secmon/pkg/domain/shared"
	"github.com/openctemio/secmon/pkg/domain/tenant"
	"github.com/openctemio/secmon/pkg/domain/user"
	"github.com/openctemio/secmon/pkg/domain/vulnerability"
	"github.com/openctemio/secmon/pkg/logger"
)

// Repositories holds the stores selected by STORE_DRIVER.
type Repositories struct {
	Assets          asset.Repository
	Vulnerabilities vulnerability.Repository
	Alerts          alert.Repository
	ScanJobs        scanjob.Repository
	Tenants         tenant.Lister
	Users           user.Counter

	// DB is nil for the memory driver.
	DB *postgres.DB
}

// NewRepositories opens the configured store.
func NewRepositories(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Repositories, error) {
	if cfg.Database.Driver == config.StoreDriverMemory {
		return newMemoryRepositories(cfg, log)
	}
	return newPostgresRepositories(ctx, cfg, log)
}

func newMemoryRepositories(cfg *config.Config, log *logger.Logger) (*Repositories, error) {
	store := memory.NewStore()
	for _, raw := range cfg.Database.SeedTenants {
		id, err := shared.IDFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid seed tenant %q: %w", raw, err)
		}
		store.AddTenant(id)
	}
	log.Info("memory store initialized", "tenants", len(cfg.Database.SeedTenants))

	return &Repositories{
		Assets:          store.Assets(),
		Vulnerabilities: store.Vulnerabilities(),
		Alerts:          store.Alerts(),
		ScanJobs:        memory.NewScanJobRepository(),
		Tenants:         store,
		Users:           store,
	}, nil
}

func newPostgresRepositories(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Repositories, error) {
	db, err := postgres.New(ctx, &cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		applied, err := db.Migrate(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Info("database migrations applied", "count", applied)
	}

	repos := postgres.NewRepositories(db)
	return &Repositories{
		Assets:          repos.Assets,
		Vulnerabilities: repos.Vulnerabilities,
		Alerts:          repos.Alerts,
		ScanJobs:        repos.ScanJobs,
		Tenants:         repos.Tenants,
		Users:           repos.Users,
		DB:              db,
	}, nil
}

// Close releases the database connection, if any.
func (r *Repositories) Close() error {
	if r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

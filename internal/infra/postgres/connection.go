// Package postgres implements the secmon store contracts on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/openctemio/secmon/internal/config"
	"github.com/openctemio/secmon/pkg/logger"
	"github.com/openctemio/secmon/pkg/migrations"
)

const connectTimeout = 5 * time.Second

// DB is the shared connection pool.
type DB struct {
	*sql.DB
	logger *logger.Logger
}

// New opens the pool described by cfg and checks that the server answers.
func New(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	log = log.With("component", "postgres")
	log.Info("postgres connected", "host", cfg.Host, "database", cfg.Name, "max_open_conns", cfg.MaxOpenConns)
	return &DB{DB: sqlDB, logger: log}, nil
}

// Ping is used by the readiness check.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Migrate applies the embedded schema migrations and returns how many ran.
func (db *DB) Migrate(ctx context.Context) (int, error) {
	return migrations.NewRunner(db.DB, migrations.FS(), db.logger).Up(ctx)
}

func (db *DB) Close() error {
	db.logger.Info("closing postgres pool")
	return db.DB.Close()
}

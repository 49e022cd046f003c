// Package storage opens the relational store migrations are applied to.
// PostgreSQL is reached through lib/pq ("postgres") or pgx ("pgx"); SQLite
// through modernc.org/sqlite ("sqlite").
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/tpoint-labs/tpoint/internal/dialect"
	"github.com/tpoint-labs/tpoint/internal/errors"
)

// Config configures the store connection.
type Config struct {
	// Driver is one of the dialect driver names.
	Driver string

	// DSN is the connection string (a file path or :memory: for SQLite).
	DSN string

	// MaxOpenConns is the maximum number of open connections.
	// Ignored for SQLite, which always uses a single connection.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime.
	ConnMaxLifetime time.Duration

	// PingTimeout bounds each connectivity check done by Open.
	PingTimeout time.Duration

	// Retry controls how long Open waits for the store to come up.
	Retry RetryConfig
}

// Store is an open database together with its dialect.
type Store struct {
	DB      *sql.DB
	Dialect dialect.Dialect
}

// Open opens and pings the store described by cfg.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialect.ForDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.NewStoreUnavailable(cfg.Driver, fmt.Errorf("dsn is empty"))
	}

	dsn := cfg.DSN
	if cfg.Driver == dialect.DriverSQLite {
		dsn = SQLiteDSN(dsn)
	}

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, errors.NewStoreUnavailable(cfg.Driver, err)
	}
	configurePool(db, cfg)

	result := withRetry(ctx, cfg.Retry, func() error {
		return CheckConnectivity(ctx, db, cfg.PingTimeout)
	})
	if !result.Success {
		db.Close()
		return nil, errors.NewStoreUnavailable(cfg.Driver, fmt.Errorf("%d attempts: %w", result.Attempts, result.LastError))
	}
	return &Store{DB: db, Dialect: d}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// CheckConnectivity verifies the database answers within timeout.
func CheckConnectivity(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// SQLiteDSN enables foreign-key enforcement, a busy timeout and immediate
// transactions on every connection. Cascade and set-null policies are only
// enforced by SQLite when foreign keys are on.
func SQLiteDSN(dsn string) string {
	params := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

func configurePool(db *sql.DB, cfg Config) {
	if cfg.Driver == dialect.DriverSQLite {
		// One connection: an in-memory database lives and dies with it,
		// and SQLite has a single writer anyway.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		return
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

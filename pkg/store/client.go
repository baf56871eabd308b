// Package store is Lyra's durable persistence layer: tasks, jobs, pages,
// fragments, claims, edges, the auth queue, feedback, engine health and
// domain budgets. Every operation either fully commits or has no visible
// effect.
//
// Grounded on the teacher's pkg/database/client.go, but written directly
// against jackc/pgx/v5 rather than a generated ORM client: the ORM's query
// builder is produced by `entc generate`, which this module cannot run, so
// the Store talks SQL directly through the same driver the teacher already
// depends on underneath its ORM.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a pgx connection pool plus a dedicated LISTEN/NOTIFY
// connection used to implement get_status's long-poll (see notify.go).
type Store struct {
	pool   *pgxpool.Pool
	notify *notifyListener
}

// Config holds the connection parameters for Open.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Open connects to Postgres, runs pending migrations, and starts the
// background LISTEN connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	listener, err := newNotifyListener(ctx, cfg.DSN)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("starting notify listener: %w", err)
	}

	slog.Info("Store opened")
	return &Store{pool: pool, notify: listener}, nil
}

// Close releases the connection pool and the notify listener. Safe to call
// once at process shutdown.
func (s *Store) Close() {
	s.notify.Close()
	s.pool.Close()
}

// Health reports whether the store can reach Postgres.
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// runMigrations applies every pending migration in migrations/. Does not
// call m.Close() on success — that would close the shared connection the
// migrate driver opened from dsn, independent from the pgxpool.
func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Package postgres implements every persistence.* repository against
// PostgreSQL via sqlx + lib/pq: each repo is a struct holding *sqlx.DB and a
// default query timeout, built with a NewXRepo constructor, inspecting
// pq.Error codes for unique violations.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ceglabs/ceg/internal/persistence"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to Postgres and configures the connection pool.
func Open(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)
	return db, nil
}

// Migrate applies every embedded migration in filename order. There is no
// version table: every statement is idempotent (CREATE TABLE/INDEX IF NOT
// EXISTS), which is sufficient for this module's single linear schema and
// avoids pulling in a migration framework absent from the example pack
// (documented in DESIGN.md).
func Migrate(ctx context.Context, db *sqlx.DB) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("postgres: read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("postgres: read %s: %w", name, err)
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("postgres: apply %s: %w", name, err)
		}
	}
	return nil
}

const defaultQueryTimeout = 5 * time.Second

// Health implements persistence.RepositoryHealth against the connection
// pool's own Ping, the same liveness probe db.Open's caller already uses
// to size the pool.
type Health struct {
	db *sqlx.DB
}

func NewHealth(db *sqlx.DB) persistence.RepositoryHealth {
	return &Health{db: db}
}

func (h *Health) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()
	return h.db.PingContext(ctx)
}

func (h *Health) Health(ctx context.Context) persistence.HealthCheck {
	start := time.Now()
	err := h.Ping(ctx)
	check := persistence.HealthCheck{
		Healthy:        err == nil,
		ResponseTimeMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		check.Errors = []string{err.Error()}
	}
	return check
}

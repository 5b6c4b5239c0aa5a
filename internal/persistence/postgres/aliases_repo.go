package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type aliasRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewAliasRepo(db *sqlx.DB, timeout time.Duration) persistence.AliasRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &aliasRepo{db: db, timeout: timeout}
}

func (r *aliasRepo) Lookup(ctx context.Context, normalized string) (*domain.Alias, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var a domain.Alias
	err := r.db.GetContext(ctx, &a, `
		SELECT normalized_string, issuer_id, origin, confidence, tombstoned
		FROM aliases WHERE normalized_string = $1 AND NOT tombstoned`, normalized)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alias repo: %s: %w", normalized, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("alias repo: lookup: %w", err)
	}
	return &a, nil
}

// Learn upserts a (curated or auto-learned) alias, per spec.md §4.5's
// auto-learn path: a later curated write always wins over a learned one.
func (r *aliasRepo) Learn(ctx context.Context, alias domain.Alias) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO aliases (normalized_string, issuer_id, origin, confidence, tombstoned)
		VALUES ($1,$2,$3,$4,false)
		ON CONFLICT (normalized_string) DO UPDATE SET
			issuer_id = EXCLUDED.issuer_id,
			origin = EXCLUDED.origin,
			confidence = EXCLUDED.confidence,
			tombstoned = false
		WHERE aliases.origin = 'learned' OR EXCLUDED.origin = 'curated'`,
		alias.NormalizedString, alias.IssuerID, string(alias.Origin), alias.Confidence)
	if err != nil {
		return fmt.Errorf("alias repo: learn: %w", err)
	}
	return nil
}

func (r *aliasRepo) Tombstone(ctx context.Context, normalized string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE aliases SET tombstoned = true WHERE normalized_string = $1`, normalized)
	if err != nil {
		return fmt.Errorf("alias repo: tombstone: %w", err)
	}
	return nil
}

func (r *aliasRepo) ListAll(ctx context.Context) ([]domain.Alias, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []domain.Alias
	err := r.db.SelectContext(ctx, &out, `
		SELECT normalized_string, issuer_id, origin, confidence, tombstoned FROM aliases`)
	if err != nil {
		return nil, fmt.Errorf("alias repo: list all: %w", err)
	}
	return out, nil
}

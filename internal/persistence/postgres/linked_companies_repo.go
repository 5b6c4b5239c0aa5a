package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type linkedCompanyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewLinkedCompanyRepo(db *sqlx.DB, timeout time.Duration) persistence.LinkedCompanyRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &linkedCompanyRepo{db: db, timeout: timeout}
}

func (r *linkedCompanyRepo) InsertBatch(ctx context.Context, links []domain.LinkedCompany) error {
	if len(links) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("linked company repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO linked_companies (news_id, issuer_id, method, score, is_primary)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (news_id, issuer_id) DO UPDATE SET
			method = EXCLUDED.method, score = EXCLUDED.score, is_primary = EXCLUDED.is_primary`)
	if err != nil {
		return fmt.Errorf("linked company repo: prepare: %w", err)
	}
	defer stmt.Close()

	for _, l := range links {
		if _, err := stmt.ExecContext(ctx, l.NewsID, l.IssuerID, string(l.Method), l.Score, l.IsPrimary); err != nil {
			return fmt.Errorf("linked company repo: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("linked company repo: commit: %w", err)
	}
	return nil
}

func (r *linkedCompanyRepo) ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.LinkedCompany, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []domain.LinkedCompany
	err := r.db.SelectContext(ctx, &out, `
		SELECT news_id, issuer_id, method, score, is_primary
		FROM linked_companies WHERE news_id = $1`, newsID)
	if err != nil {
		return nil, fmt.Errorf("linked company repo: list by news: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type entityRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewEntityRepo(db *sqlx.DB, timeout time.Duration) persistence.EntityRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &entityRepo{db: db, timeout: timeout}
}

// InsertBatch writes every extracted entity for one news item in a single
// transaction, ordinal-numbered in slice order.
func (r *entityRepo) InsertBatch(ctx context.Context, entities []domain.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("entity repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO entities (news_id, ordinal, kind, raw_text, normalized, confidence, attrs)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (news_id, ordinal) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("entity repo: prepare: %w", err)
	}
	defer stmt.Close()

	for i, e := range entities {
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("entity repo: marshal attrs: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.NewsID, i, string(e.Kind), e.RawText, e.Normalized, e.Confidence, attrs); err != nil {
			return fmt.Errorf("entity repo: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("entity repo: commit: %w", err)
	}
	return nil
}

type entityRow struct {
	NewsID     uuid.UUID       `db:"news_id"`
	Kind       string          `db:"kind"`
	RawText    string          `db:"raw_text"`
	Normalized string          `db:"normalized"`
	Confidence float64         `db:"confidence"`
	Attrs      json.RawMessage `db:"attrs"`
}

func (r *entityRepo) ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Entity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []entityRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT news_id, kind, raw_text, normalized, confidence, attrs
		FROM entities WHERE news_id = $1 ORDER BY ordinal`, newsID)
	if err != nil {
		return nil, fmt.Errorf("entity repo: list by news: %w", err)
	}

	out := make([]domain.Entity, 0, len(rows))
	for _, row := range rows {
		var attrs map[string]any
		if len(row.Attrs) > 0 {
			if err := json.Unmarshal(row.Attrs, &attrs); err != nil {
				return nil, fmt.Errorf("entity repo: unmarshal attrs: %w", err)
			}
		}
		out = append(out, domain.Entity{
			NewsID:     row.NewsID,
			Kind:       domain.EntityKind(row.Kind),
			RawText:    row.RawText,
			Normalized: row.Normalized,
			Confidence: row.Confidence,
			Attrs:      attrs,
		})
	}
	return out, nil
}

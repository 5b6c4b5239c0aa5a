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

type topicRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewTopicRepo(db *sqlx.DB, timeout time.Duration) persistence.TopicRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &topicRepo{db: db, timeout: timeout}
}

func (r *topicRepo) InsertBatch(ctx context.Context, topics []domain.Topic) error {
	if len(topics) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("topic repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO topics (news_id, code, confidence, is_primary)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (news_id, code) DO UPDATE SET
			confidence = EXCLUDED.confidence, is_primary = EXCLUDED.is_primary`)
	if err != nil {
		return fmt.Errorf("topic repo: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range topics {
		if _, err := stmt.ExecContext(ctx, t.NewsID, t.Code, t.Confidence, t.IsPrimary); err != nil {
			return fmt.Errorf("topic repo: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("topic repo: commit: %w", err)
	}
	return nil
}

func (r *topicRepo) ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out []domain.Topic
	err := r.db.SelectContext(ctx, &out, `
		SELECT news_id, code, confidence, is_primary FROM topics WHERE news_id = $1`, newsID)
	if err != nil {
		return nil, fmt.Errorf("topic repo: list by news: %w", err)
	}
	return out, nil
}

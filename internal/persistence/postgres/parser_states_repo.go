package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type parserStateRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewParserStateRepo(db *sqlx.DB, timeout time.Duration) persistence.ParserStateRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &parserStateRepo{db: db, timeout: timeout}
}

// Get returns the zero-value ParserState for a source that has never polled,
// since parser_states is only populated on first Save (spec.md §4.1).
func (r *parserStateRepo) Get(ctx context.Context, sourceID uuid.UUID) (domain.ParserState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var ps domain.ParserState
	err := r.db.GetContext(ctx, &ps, `
		SELECT last_external_id, last_poll_at, error_count, backfill_completed
		FROM parser_states WHERE source_id = $1`, sourceID)
	if err == sql.ErrNoRows {
		return domain.ParserState{}, nil
	}
	if err != nil {
		return domain.ParserState{}, fmt.Errorf("parser state repo: get: %w", err)
	}
	return ps, nil
}

func (r *parserStateRepo) Save(ctx context.Context, sourceID uuid.UUID, state domain.ParserState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO parser_states (source_id, last_external_id, last_poll_at, error_count, backfill_completed)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (source_id) DO UPDATE SET
			last_external_id = EXCLUDED.last_external_id,
			last_poll_at = EXCLUDED.last_poll_at,
			error_count = EXCLUDED.error_count,
			backfill_completed = EXCLUDED.backfill_completed`,
		sourceID, state.LastExternalID, state.LastPollAt, state.ErrorCount, state.BackfillCompleted)
	if err != nil {
		return fmt.Errorf("parser state repo: save: %w", err)
	}
	return nil
}

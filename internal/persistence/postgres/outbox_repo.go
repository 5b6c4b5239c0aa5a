package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type outboxRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewOutboxRepo(db *sqlx.DB, timeout time.Duration) persistence.OutboxRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &outboxRepo{db: db, timeout: timeout}
}

// claimLease bounds how long a claimed row is held out of the pending pool
// before it becomes eligible again, so a relay crash between claim and ack
// doesn't wedge the row forever.
const claimLease = 30 * time.Second

// Insert writes a new Pending row outside of News ingestion's co-written
// transaction, for events the enrichment pipeline raises after the fact.
func (r *outboxRepo) Insert(ctx context.Context, row domain.OutboxRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox (id, topic, payload, status, retries, next_attempt_at, created_at)
		VALUES ($1, $2, $3, 'pending', 0, now(), now())`,
		row.ID, row.Topic, row.Payload)
	if err != nil {
		return fmt.Errorf("outbox repo: insert: %w", err)
	}
	return nil
}

// ClaimBatch locks up to batchSize due rows with SKIP LOCKED and pushes their
// next_attempt_at out by claimLease so a crashed relay doesn't wedge them;
// the caller moves a row to sent/retry/dead_lettered once the publish
// attempt resolves (spec.md §4.11).
func (r *outboxRepo) ClaimBatch(ctx context.Context, batchSize int) ([]domain.OutboxRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("outbox repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	var rows []domain.OutboxRow
	err = tx.SelectContext(ctx, &rows, `
		SELECT id, topic, payload, status, retries, next_attempt_at, created_at
		FROM outbox
		WHERE status IN ('pending', 'failed') AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox repo: claim select: %w", err)
	}

	if len(rows) > 0 {
		ids := make([]uuid.UUID, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.ID)
		}
		_, err = tx.ExecContext(ctx, `UPDATE outbox SET next_attempt_at = $2 WHERE id = ANY($1)`,
			pq.Array(ids), time.Now().UTC().Add(claimLease))
		if err != nil {
			return nil, fmt.Errorf("outbox repo: claim update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("outbox repo: commit claim: %w", err)
	}
	return rows, nil
}

func (r *outboxRepo) MarkSent(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET status = 'sent' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("outbox repo: mark sent: %w", err)
	}
	return nil
}

func (r *outboxRepo) ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = 'failed', retries = retries + 1, next_attempt_at = $2
		WHERE id = $1`, id, nextAttempt)
	if err != nil {
		return fmt.Errorf("outbox repo: schedule retry: %w", err)
	}
	return nil
}

func (r *outboxRepo) MarkDeadLettered(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET status = 'dead_lettered' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("outbox repo: mark dead lettered: %w", err)
	}
	return nil
}

func (r *outboxRepo) PurgeSentOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM outbox WHERE status = 'sent' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox repo: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox repo: rows affected: %w", err)
	}
	return n, nil
}

func (r *outboxRepo) CountPending(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM outbox WHERE status IN ('pending', 'failed')`)
	if err != nil {
		return 0, fmt.Errorf("outbox repo: count pending: %w", err)
	}
	return n, nil
}

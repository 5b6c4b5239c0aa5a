package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type eventRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewEventRepo(db *sqlx.DB, timeout time.Duration) persistence.EventRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &eventRepo{db: db, timeout: timeout}
}

type eventRow struct {
	ID              uuid.UUID       `db:"id"`
	NewsID          uuid.UUID       `db:"news_id"`
	Type            string          `db:"type"`
	Title           string          `db:"title"`
	Ts              time.Time       `db:"ts"`
	Attrs           json.RawMessage `db:"attrs"`
	IsAnchor        bool            `db:"is_anchor"`
	Confidence      float64         `db:"confidence"`
	ExtractionOrder int             `db:"extraction_order"`
}

// InsertBatch writes the (at most max_events_per_news, spec.md §4.6) events
// extracted from one news item, preserving slice order as ExtractionOrder's
// tie-break key.
func (r *eventRepo) InsertBatch(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("event repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO events (id, news_id, type, title, ts, attrs, is_anchor, confidence, extraction_order)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`)
	if err != nil {
		return fmt.Errorf("event repo: prepare: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		attrs, err := json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("event repo: marshal attrs: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.NewsID, string(e.Type), e.Title, e.Ts,
			attrs, e.IsAnchor, e.Confidence, e.ExtractionOrder); err != nil {
			return fmt.Errorf("event repo: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("event repo: commit: %w", err)
	}
	return nil
}

func (r *eventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row eventRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, news_id, type, title, ts, attrs, is_anchor, confidence, extraction_order
		FROM events WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event repo: %s: %w", id, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("event repo: get by id: %w", err)
	}
	ev, err := rowToEvent(row)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListInWindow orders by (ts, extraction_order) so the causal engine sees a
// deterministic candidate sequence for forward/retroactive scoring.
func (r *eventRepo) ListInWindow(ctx context.Context, tr persistence.TimeRange) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, news_id, type, title, ts, attrs, is_anchor, confidence, extraction_order
		FROM events WHERE ts >= $1 AND ts < $2
		ORDER BY ts, extraction_order`, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("event repo: list in window: %w", err)
	}
	return rowsToEvents(rows)
}

func (r *eventRepo) ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, news_id, type, title, ts, attrs, is_anchor, confidence, extraction_order
		FROM events WHERE news_id = $1 ORDER BY extraction_order`, newsID)
	if err != nil {
		return nil, fmt.Errorf("event repo: list by news: %w", err)
	}
	return rowsToEvents(rows)
}

func rowToEvent(row eventRow) (domain.Event, error) {
	var attrs domain.EventAttrs
	if len(row.Attrs) > 0 {
		if err := json.Unmarshal(row.Attrs, &attrs); err != nil {
			return domain.Event{}, fmt.Errorf("event repo: unmarshal attrs: %w", err)
		}
	}
	return domain.Event{
		ID:              row.ID,
		NewsID:          row.NewsID,
		Type:            domain.EventType(row.Type),
		Title:           row.Title,
		Ts:              row.Ts,
		Attrs:           attrs,
		IsAnchor:        row.IsAnchor,
		Confidence:      row.Confidence,
		ExtractionOrder: row.ExtractionOrder,
	}, nil
}

func rowsToEvents(rows []eventRow) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := rowToEvent(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

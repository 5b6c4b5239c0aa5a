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

type impactEdgeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewImpactEdgeRepo(db *sqlx.DB, timeout time.Duration) persistence.ImpactEdgeRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &impactEdgeRepo{db: db, timeout: timeout}
}

type impactEdgeRow struct {
	EventID     uuid.UUID `db:"event_id"`
	Ticker      string    `db:"ticker"`
	AR          float64   `db:"ar"`
	CAR         float64   `db:"car"`
	VolumeRatio float64   `db:"volume_ratio"`
	Window      string    `db:"window"`
	Significant bool      `db:"significant"`
}

func (r *impactEdgeRepo) Upsert(ctx context.Context, edge domain.ImpactEdge) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO impact_edges (event_id, ticker, ar, car, volume_ratio, window, significant, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		ON CONFLICT (event_id, ticker) DO UPDATE SET
			ar = EXCLUDED.ar,
			car = EXCLUDED.car,
			volume_ratio = EXCLUDED.volume_ratio,
			window = EXCLUDED.window,
			significant = EXCLUDED.significant,
			updated_at = now()`,
		edge.EventID, edge.Ticker, edge.AR, edge.CAR, edge.VolumeRatio, edge.Window, edge.Significant)
	if err != nil {
		return fmt.Errorf("impact edge repo: upsert: %w", err)
	}
	return nil
}

func (r *impactEdgeRepo) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.ImpactEdge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []impactEdgeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT event_id, ticker, ar, car, volume_ratio, window, significant
		FROM impact_edges WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("impact edge repo: list by event: %w", err)
	}
	out := make([]domain.ImpactEdge, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ImpactEdge{
			EventID:     row.EventID,
			Ticker:      row.Ticker,
			AR:          row.AR,
			CAR:         row.CAR,
			VolumeRatio: row.VolumeRatio,
			Window:      row.Window,
			Significant: row.Significant,
		})
	}
	return out, nil
}

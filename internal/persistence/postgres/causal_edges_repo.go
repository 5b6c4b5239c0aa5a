package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type causalEdgeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewCausalEdgeRepo(db *sqlx.DB, timeout time.Duration) persistence.CausalEdgeRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &causalEdgeRepo{db: db, timeout: timeout}
}

type causalEdgeRow struct {
	CauseEventID          uuid.UUID      `db:"cause_event_id"`
	EffectEventID         uuid.UUID      `db:"effect_event_id"`
	Kind                  string         `db:"kind"`
	Sign                  string         `db:"sign"`
	ExpectedLagMinSeconds int64          `db:"expected_lag_min_seconds"`
	ExpectedLagMaxSeconds int64          `db:"expected_lag_max_seconds"`
	ConfPrior             float64        `db:"conf_prior"`
	ConfText              float64        `db:"conf_text"`
	ConfMarket            float64        `db:"conf_market"`
	ConfTotal             float64        `db:"conf_total"`
	EvidenceSet           pq.StringArray `db:"evidence_set"`
	IsRetroactive         bool           `db:"is_retroactive"`
}

// Upsert overwrites the edge on (cause_event_id, effect_event_id): re-scoring
// always fully replaces conf_* and evidence_set, per spec.md §4.8's edge
// maintenance step.
func (r *causalEdgeRepo) Upsert(ctx context.Context, edge domain.CausalEdge) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO causal_edges (
			cause_event_id, effect_event_id, kind, sign,
			expected_lag_min_seconds, expected_lag_max_seconds,
			conf_prior, conf_text, conf_market, conf_total,
			evidence_set, is_retroactive, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		ON CONFLICT (cause_event_id, effect_event_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			sign = EXCLUDED.sign,
			expected_lag_min_seconds = EXCLUDED.expected_lag_min_seconds,
			expected_lag_max_seconds = EXCLUDED.expected_lag_max_seconds,
			conf_prior = EXCLUDED.conf_prior,
			conf_text = EXCLUDED.conf_text,
			conf_market = EXCLUDED.conf_market,
			conf_total = EXCLUDED.conf_total,
			evidence_set = EXCLUDED.evidence_set,
			is_retroactive = EXCLUDED.is_retroactive,
			updated_at = now()`,
		edge.CauseEventID, edge.EffectEventID, string(edge.Kind), string(edge.Sign),
		int64(edge.ExpectedLag.Min/time.Second), int64(edge.ExpectedLag.Max/time.Second),
		edge.ConfPrior, edge.ConfText, edge.ConfMarket, edge.ConfTotal,
		pq.Array(edge.EvidenceSet), edge.IsRetroactive)
	if err != nil {
		return fmt.Errorf("causal edge repo: upsert: %w", err)
	}
	return nil
}

func (r *causalEdgeRepo) Delete(ctx context.Context, causeEventID, effectEventID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM causal_edges WHERE cause_event_id = $1 AND effect_event_id = $2`,
		causeEventID, effectEventID)
	if err != nil {
		return fmt.Errorf("causal edge repo: delete: %w", err)
	}
	return nil
}

func (r *causalEdgeRepo) Get(ctx context.Context, causeEventID, effectEventID uuid.UUID) (*domain.CausalEdge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row causalEdgeRow
	err := r.db.GetContext(ctx, &row, `
		SELECT cause_event_id, effect_event_id, kind, sign,
		       expected_lag_min_seconds, expected_lag_max_seconds,
		       conf_prior, conf_text, conf_market, conf_total,
		       evidence_set, is_retroactive
		FROM causal_edges WHERE cause_event_id = $1 AND effect_event_id = $2`,
		causeEventID, effectEventID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("causal edge repo: %s->%s: %w", causeEventID, effectEventID, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("causal edge repo: get: %w", err)
	}
	edge := rowToCausalEdge(row)
	return &edge, nil
}

func (r *causalEdgeRepo) OutgoingFrom(ctx context.Context, eventID uuid.UUID) ([]domain.CausalEdge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []causalEdgeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT cause_event_id, effect_event_id, kind, sign,
		       expected_lag_min_seconds, expected_lag_max_seconds,
		       conf_prior, conf_text, conf_market, conf_total,
		       evidence_set, is_retroactive
		FROM causal_edges WHERE cause_event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("causal edge repo: outgoing from: %w", err)
	}
	return rowsToCausalEdges(rows), nil
}

func (r *causalEdgeRepo) IncomingTo(ctx context.Context, eventID uuid.UUID) ([]domain.CausalEdge, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []causalEdgeRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT cause_event_id, effect_event_id, kind, sign,
		       expected_lag_min_seconds, expected_lag_max_seconds,
		       conf_prior, conf_text, conf_market, conf_total,
		       evidence_set, is_retroactive
		FROM causal_edges WHERE effect_event_id = $1`, eventID)
	if err != nil {
		return nil, fmt.Errorf("causal edge repo: incoming to: %w", err)
	}
	return rowsToCausalEdges(rows), nil
}

func rowToCausalEdge(row causalEdgeRow) domain.CausalEdge {
	return domain.CausalEdge{
		CauseEventID:  row.CauseEventID,
		EffectEventID: row.EffectEventID,
		Kind:          domain.CausalEdgeKind(row.Kind),
		Sign:          domain.Sign(row.Sign),
		ExpectedLag: domain.Lag{
			Min: time.Duration(row.ExpectedLagMinSeconds) * time.Second,
			Max: time.Duration(row.ExpectedLagMaxSeconds) * time.Second,
		},
		ConfPrior:     row.ConfPrior,
		ConfText:      row.ConfText,
		ConfMarket:    row.ConfMarket,
		ConfTotal:     row.ConfTotal,
		EvidenceSet:   []string(row.EvidenceSet),
		IsRetroactive: row.IsRetroactive,
	}
}

func rowsToCausalEdges(rows []causalEdgeRow) []domain.CausalEdge {
	out := make([]domain.CausalEdge, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToCausalEdge(row))
	}
	return out
}

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

type sourceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewSourceRepo(db *sqlx.DB, timeout time.Duration) persistence.SourceRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &sourceRepo{db: db, timeout: timeout}
}

type sourceRow struct {
	ID          uuid.UUID       `db:"id"`
	Code        string          `db:"code"`
	Kind        string          `db:"kind"`
	DisplayName string          `db:"display_name"`
	BaseLocator string          `db:"base_locator"`
	TrustLevel  int             `db:"trust_level"`
	Enabled     bool            `db:"enabled"`
	Config      json.RawMessage `db:"config"`
}

func (r *sourceRepo) ListEnabled(ctx context.Context) ([]domain.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []sourceRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, code, kind, display_name, base_locator, trust_level, enabled, config
		FROM sources WHERE enabled ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("source repo: list enabled: %w", err)
	}

	out := make([]domain.Source, 0, len(rows))
	for _, row := range rows {
		s, err := rowToSource(row)
		if err != nil {
			return nil, err
		}
		ps, err := r.parserStateOf(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		s.ParserState = ps
		out = append(out, s)
	}
	return out, nil
}

func (r *sourceRepo) GetByCode(ctx context.Context, code string) (*domain.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row sourceRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, code, kind, display_name, base_locator, trust_level, enabled, config
		FROM sources WHERE code = $1`, code)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source repo: %s: %w", code, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("source repo: get by code: %w", err)
	}
	s, err := rowToSource(row)
	if err != nil {
		return nil, err
	}
	ps, err := r.parserStateOf(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	s.ParserState = ps
	return &s, nil
}

func (r *sourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row sourceRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, code, kind, display_name, base_locator, trust_level, enabled, config
		FROM sources WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("source repo: %s: %w", id, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("source repo: get by id: %w", err)
	}
	s, err := rowToSource(row)
	if err != nil {
		return nil, err
	}
	ps, err := r.parserStateOf(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	s.ParserState = ps
	return &s, nil
}

func (r *sourceRepo) Upsert(ctx context.Context, source domain.Source) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	cfg, err := json.Marshal(source.Config)
	if err != nil {
		return fmt.Errorf("source repo: marshal config: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (id, code, kind, display_name, base_locator, trust_level, enabled, config)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			display_name = EXCLUDED.display_name,
			base_locator = EXCLUDED.base_locator,
			trust_level = EXCLUDED.trust_level,
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config`,
		source.ID, source.Code, string(source.Kind), source.DisplayName, source.BaseLocator,
		source.TrustLevel, source.Enabled, cfg)
	if err != nil {
		return fmt.Errorf("source repo: upsert: %w", err)
	}
	return nil
}

// MarkUnhealthy does not disable the source; it only bumps the parser
// state's error_count so the ops surface can alert on sources crossing a
// configured failure budget (spec.md §4.1).
func (r *sourceRepo) MarkUnhealthy(ctx context.Context, sourceID uuid.UUID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO parser_states (source_id, error_count, last_poll_at)
		VALUES ($1, 1, now())
		ON CONFLICT (source_id) DO UPDATE SET
			error_count = parser_states.error_count + 1,
			last_poll_at = now()`, sourceID)
	if err != nil {
		return fmt.Errorf("source repo: mark unhealthy (%s): %w", reason, err)
	}
	return nil
}

func (r *sourceRepo) parserStateOf(ctx context.Context, sourceID uuid.UUID) (domain.ParserState, error) {
	var ps domain.ParserState
	err := r.db.GetContext(ctx, &ps, `
		SELECT last_external_id, last_poll_at, error_count, backfill_completed
		FROM parser_states WHERE source_id = $1`, sourceID)
	if err == sql.ErrNoRows {
		return domain.ParserState{}, nil
	}
	if err != nil {
		return domain.ParserState{}, fmt.Errorf("source repo: parser state: %w", err)
	}
	return ps, nil
}

func rowToSource(row sourceRow) (domain.Source, error) {
	var cfg map[string]any
	if len(row.Config) > 0 {
		if err := json.Unmarshal(row.Config, &cfg); err != nil {
			return domain.Source{}, fmt.Errorf("source repo: unmarshal config: %w", err)
		}
	}
	return domain.Source{
		ID:          row.ID,
		Code:        row.Code,
		Kind:        domain.SourceKind(row.Kind),
		DisplayName: row.DisplayName,
		BaseLocator: row.BaseLocator,
		TrustLevel:  row.TrustLevel,
		Enabled:     row.Enabled,
		Config:      cfg,
	}, nil
}

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

type issuerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewIssuerRepo(db *sqlx.DB, timeout time.Duration) persistence.IssuerRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &issuerRepo{db: db, timeout: timeout}
}

type issuerRow struct {
	ID          uuid.UUID      `db:"id"`
	LegalName   string         `db:"legal_name"`
	ShortNames  pq.StringArray `db:"short_names"`
	Ticker      string         `db:"ticker"`
	ISIN        *string        `db:"isin"`
	Board       *string        `db:"board"`
	SectorID    *string        `db:"sector_id"`
	CountryCode string         `db:"country_code"`
	IsTraded    bool           `db:"is_traded"`
}

func (r *issuerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Issuer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row issuerRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, legal_name, short_names, ticker, isin, board, sector_id, country_code, is_traded
		FROM issuers WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("issuer repo: %s: %w", id, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("issuer repo: get by id: %w", err)
	}
	issuer := rowToIssuer(row)
	return &issuer, nil
}

// Upsert is a plain insert-or-replace on the primary key; issuers mirror an
// external securities master so there is no partial-update semantics to
// preserve (spec.md §6.3).
func (r *issuerRepo) Upsert(ctx context.Context, issuer domain.Issuer) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if issuer.ID == uuid.Nil {
		issuer.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO issuers (id, legal_name, short_names, ticker, isin, board, sector_id, country_code, is_traded)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			legal_name = EXCLUDED.legal_name,
			short_names = EXCLUDED.short_names,
			ticker = EXCLUDED.ticker,
			isin = EXCLUDED.isin,
			board = EXCLUDED.board,
			sector_id = EXCLUDED.sector_id,
			country_code = EXCLUDED.country_code,
			is_traded = EXCLUDED.is_traded`,
		issuer.ID, issuer.LegalName, pq.Array(issuer.ShortNames), issuer.Ticker, issuer.ISIN, issuer.Board,
		issuer.SectorID, issuer.CountryCode, issuer.IsTraded)
	if err != nil {
		return fmt.Errorf("issuer repo: upsert: %w", err)
	}
	return nil
}

// Search is a loose trigram-free substring match over legal name, ticker,
// and short names; the linker only uses this as a final fallback behind the
// Alias Cache and fuzzy scoring (spec.md §4.5).
func (r *issuerRepo) Search(ctx context.Context, query string, limit int) ([]domain.Issuer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []issuerRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, legal_name, short_names, ticker, isin, board, sector_id, country_code, is_traded
		FROM issuers
		WHERE legal_name ILIKE '%' || $1 || '%'
			OR ticker ILIKE '%' || $1 || '%'
			OR $1 = ANY(short_names)
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("issuer repo: search: %w", err)
	}
	out := make([]domain.Issuer, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToIssuer(row))
	}
	return out, nil
}

func rowToIssuer(row issuerRow) domain.Issuer {
	return domain.Issuer{
		ID:          row.ID,
		LegalName:   row.LegalName,
		ShortNames:  []string(row.ShortNames),
		Ticker:      row.Ticker,
		ISIN:        row.ISIN,
		Board:       row.Board,
		SectorID:    row.SectorID,
		CountryCode: row.CountryCode,
		IsTraded:    row.IsTraded,
	}
}

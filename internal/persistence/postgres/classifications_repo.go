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

type classificationRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewClassificationRepo(db *sqlx.DB, timeout time.Duration) persistence.ClassificationRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &classificationRepo{db: db, timeout: timeout}
}

type classificationRow struct {
	NewsID        uuid.UUID      `db:"news_id"`
	SectorCode    string         `db:"sector_code"`
	CountryCode   string         `db:"country_code"`
	NewsType      string         `db:"news_type"`
	NewsSubtype   string         `db:"news_subtype"`
	SecondaryTags pq.StringArray `db:"secondary_tags"`
}

func (r *classificationRepo) Upsert(ctx context.Context, newsID uuid.UUID, c domain.Classification) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classifications (news_id, sector_code, country_code, news_type, news_subtype, secondary_tags, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		ON CONFLICT (news_id) DO UPDATE SET
			sector_code = EXCLUDED.sector_code,
			country_code = EXCLUDED.country_code,
			news_type = EXCLUDED.news_type,
			news_subtype = EXCLUDED.news_subtype,
			secondary_tags = EXCLUDED.secondary_tags,
			updated_at = now()`,
		newsID, c.SectorCode, c.CountryCode, string(c.NewsType), string(c.NewsSubtype), pq.Array(c.SecondaryTags))
	if err != nil {
		return fmt.Errorf("classification repo: upsert: %w", err)
	}
	return nil
}

func (r *classificationRepo) Get(ctx context.Context, newsID uuid.UUID) (*domain.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row classificationRow
	err := r.db.GetContext(ctx, &row, `
		SELECT news_id, sector_code, country_code, news_type, news_subtype, secondary_tags
		FROM classifications WHERE news_id = $1`, newsID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("classification repo: %s: %w", newsID, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("classification repo: get: %w", err)
	}
	return &domain.Classification{
		SectorCode:    row.SectorCode,
		CountryCode:   row.CountryCode,
		NewsType:      domain.NewsType(row.NewsType),
		NewsSubtype:   domain.NewsSubtype(row.NewsSubtype),
		SecondaryTags: []string(row.SecondaryTags),
	}, nil
}

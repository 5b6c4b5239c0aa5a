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

type newsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewNewsRepo creates a PostgreSQL-backed NewsRepo.
func NewNewsRepo(db *sqlx.DB, timeout time.Duration) persistence.NewsRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &newsRepo{db: db, timeout: timeout}
}

type newsRow struct {
	ID               uuid.UUID `db:"id"`
	SourceID         uuid.UUID `db:"source_id"`
	ExternalID       string    `db:"external_id"`
	Title            string    `db:"title"`
	Text             string    `db:"text"`
	Summary          *string   `db:"summary"`
	PublishedAt      time.Time `db:"published_at"`
	DetectedAt       time.Time `db:"detected_at"`
	URL              *string   `db:"url"`
	Lang             string    `db:"lang"`
	ContentHash      []byte    `db:"content_hash"`
	DedupStatus      string    `db:"dedup_status"`
	IsAd             bool      `db:"is_ad"`
	AdScore          float64   `db:"ad_score"`
	AdReasons        pq.StringArray `db:"ad_reasons"`
	EnrichmentStatus string    `db:"enrichment_status"`
}

// TryInsert writes News, its images, the news<->image links, and the
// co-written outbox row atomically, per spec.md §4.3. Invariant (spec.md
// §3): a News is dedup-winning iff it is the first write with its
// content_hash; losers are discarded without touching any other table.
func (r *newsRepo) TryInsert(ctx context.Context, news *domain.News, images []domain.Image, outboxEvent domain.OutboxRow) (persistence.InsertOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("news repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	// Check content-hash dedup first: a loser is discarded entirely, never
	// touching images/outbox (spec.md §3 invariant 1 / §8 property 1).
	var existingByHash uuid.UUID
	err = tx.GetContext(ctx, &existingByHash, `SELECT id FROM news WHERE content_hash = $1`, news.ContentHash[:])
	switch {
	case err == nil:
		return persistence.DuplicateOnHash, nil
	case err != sql.ErrNoRows:
		return "", fmt.Errorf("news repo: check content hash: %w", err)
	}

	var existingByExternal uuid.UUID
	err = tx.GetContext(ctx, &existingByExternal, `SELECT id FROM news WHERE source_id = $1 AND external_id = $2`, news.SourceID, news.ExternalID)
	switch {
	case err == nil:
		return persistence.DuplicateOnExternalID, nil
	case err != sql.ErrNoRows:
		return "", fmt.Errorf("news repo: check external id: %w", err)
	}

	if news.ID == uuid.Nil {
		news.ID = uuid.New()
	}
	if news.DedupStatus == "" {
		news.DedupStatus = domain.DedupStatusWinner
	}
	if news.EnrichmentStatus == "" {
		news.EnrichmentStatus = domain.EnrichmentPending
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO news (id, source_id, external_id, title, text, summary, published_at,
			detected_at, url, lang, content_hash, dedup_status, is_ad, ad_score, ad_reasons, enrichment_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		news.ID, news.SourceID, news.ExternalID, news.Title, news.Text, news.Summary,
		news.PublishedAt, news.DetectedAt, news.URL, news.Lang, news.ContentHash[:],
		string(news.DedupStatus), news.IsAd, news.AdScore, pq.Array(news.AdReasons), string(news.EnrichmentStatus))
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Lost a race against a concurrent writer; re-check which
			// constraint won and report accordingly (spec.md §8 property 1).
			if pqErr.Constraint == "news_content_hash_key" {
				return persistence.DuplicateOnHash, nil
			}
			return persistence.DuplicateOnExternalID, nil
		}
		return "", fmt.Errorf("news repo: insert news: %w", err)
	}

	for _, img := range images {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO images (id, digest, mime_type, width, height, size_bytes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (digest) DO NOTHING`,
			img.ID, img.Digest[:], img.MimeType, img.Width, img.Height, img.SizeBytes, img.CreatedAt); err != nil {
			return "", fmt.Errorf("news repo: insert image: %w", err)
		}

		var imageID uuid.UUID
		if err := tx.GetContext(ctx, &imageID, `SELECT id FROM images WHERE digest = $1`, img.Digest[:]); err != nil {
			return "", fmt.Errorf("news repo: resolve image id: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO news_images (news_id, image_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, news.ID, imageID); err != nil {
			return "", fmt.Errorf("news repo: link image: %w", err)
		}
	}

	if err := insertOutboxTx(ctx, tx, outboxEvent); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("news repo: commit: %w", err)
	}
	return persistence.Inserted, nil
}

func insertOutboxTx(ctx context.Context, tx *sqlx.Tx, row domain.OutboxRow) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = domain.OutboxPending
	}
	if row.NextAttemptAt.IsZero() {
		row.NextAttemptAt = time.Now().UTC()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (id, topic, payload, status, retries, next_attempt_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		row.ID, row.Topic, row.Payload, string(row.Status), row.Retries, row.NextAttemptAt, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("news repo: insert outbox: %w", err)
	}
	return nil
}

func (r *newsRepo) MarkEnriched(ctx context.Context, newsID uuid.UUID, summary *string, status domain.EnrichmentStatus) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE news SET summary = COALESCE($2, summary), enrichment_status = $3 WHERE id = $1`,
		newsID, summary, string(status))
	if err != nil {
		return fmt.Errorf("news repo: mark enriched: %w", err)
	}
	return nil
}

// StreamUnenriched claims a batch via SELECT ... FOR UPDATE SKIP LOCKED so
// concurrent enrichment workers never contend on the same row (spec.md §4.3,
// §5 "claim-and-lock iterator").
func (r *newsRepo) StreamUnenriched(ctx context.Context, batchSize int) ([]domain.News, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("news repo: begin tx: %w", err)
	}
	defer tx.Rollback()

	var rows []newsRow
	err = tx.SelectContext(ctx, &rows, `
		SELECT id, source_id, external_id, title, text, summary, published_at, detected_at,
			url, lang, content_hash, dedup_status, is_ad, ad_score, ad_reasons, enrichment_status
		FROM news
		WHERE enrichment_status = 'pending' AND dedup_status = 'winner'
		ORDER BY detected_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1`, batchSize)
	if err != nil {
		return nil, fmt.Errorf("news repo: select unenriched: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if len(ids) > 0 {
		_, err = tx.ExecContext(ctx, `UPDATE news SET enrichment_status = 'in_progress' WHERE id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return nil, fmt.Errorf("news repo: claim batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("news repo: commit claim: %w", err)
	}

	out := make([]domain.News, 0, len(rows))
	for _, row := range rows {
		n := rowToNews(row)
		n.EnrichmentStatus = domain.EnrichmentInProgress
		out = append(out, n)
	}
	return out, nil
}

func (r *newsRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row newsRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, source_id, external_id, title, text, summary, published_at, detected_at,
			url, lang, content_hash, dedup_status, is_ad, ad_score, ad_reasons, enrichment_status
		FROM news WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("news repo: news %s: %w", id, domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("news repo: get by id: %w", err)
	}
	n := rowToNews(row)
	return &n, nil
}

func (r *newsRepo) CountUnenriched(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var n int
	err := r.db.GetContext(ctx, &n, `SELECT count(*) FROM news WHERE enrichment_status IN ('pending','in_progress')`)
	if err != nil {
		return 0, fmt.Errorf("news repo: count unenriched: %w", err)
	}
	return n, nil
}

func rowToNews(row newsRow) domain.News {
	var hash [32]byte
	copy(hash[:], row.ContentHash)

	return domain.News{
		ID:               row.ID,
		SourceID:         row.SourceID,
		ExternalID:       row.ExternalID,
		Title:            row.Title,
		Text:             row.Text,
		Summary:          row.Summary,
		PublishedAt:      row.PublishedAt,
		DetectedAt:       row.DetectedAt,
		URL:              row.URL,
		Lang:             row.Lang,
		ContentHash:      hash,
		DedupStatus:      domain.DedupStatus(row.DedupStatus),
		IsAd:             row.IsAd,
		AdScore:          row.AdScore,
		AdReasons:        []string(row.AdReasons),
		EnrichmentStatus: domain.EnrichmentStatus(row.EnrichmentStatus),
	}
}

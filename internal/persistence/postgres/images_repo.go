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

type imageRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewImageRepo(db *sqlx.DB, timeout time.Duration) persistence.ImageRepo {
	if timeout == 0 {
		timeout = defaultQueryTimeout
	}
	return &imageRepo{db: db, timeout: timeout}
}

type imageRow struct {
	ID        uuid.UUID `db:"id"`
	Digest    []byte    `db:"digest"`
	MimeType  string    `db:"mime_type"`
	Width     int       `db:"width"`
	Height    int       `db:"height"`
	SizeBytes int       `db:"size_bytes"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *imageRepo) FindByDigest(ctx context.Context, digest [32]byte) (*domain.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row imageRow
	err := r.db.GetContext(ctx, &row, `SELECT id, digest, mime_type, width, height, size_bytes, created_at FROM images WHERE digest = $1`, digest[:])
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("image repo: digest: %w", domain.ErrResourceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("image repo: find by digest: %w", err)
	}
	img := rowToImage(row)
	return &img, nil
}

func (r *imageRepo) Insert(ctx context.Context, img domain.Image) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO images (id, digest, mime_type, width, height, size_bytes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (digest) DO NOTHING`,
		img.ID, img.Digest[:], img.MimeType, img.Width, img.Height, img.SizeBytes, img.CreatedAt)
	if err != nil {
		return fmt.Errorf("image repo: insert: %w", err)
	}
	return nil
}

func (r *imageRepo) LinkToNews(ctx context.Context, newsID, imageID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO news_images (news_id, image_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, newsID, imageID)
	if err != nil {
		return fmt.Errorf("image repo: link to news: %w", err)
	}
	return nil
}

func rowToImage(row imageRow) domain.Image {
	var digest [32]byte
	copy(digest[:], row.Digest)
	return domain.Image{
		ID:        row.ID,
		Digest:    digest,
		MimeType:  row.MimeType,
		Width:     row.Width,
		Height:    row.Height,
		SizeBytes: row.SizeBytes,
		CreatedAt: row.CreatedAt,
	}
}

// Package images implements the content-addressed image store of
// spec.md's C5: images are deduplicated by digest, and thumbnails are
// derived deterministically so re-ingesting the same bytes never
// re-renders a thumbnail.
package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

// ThumbnailMaxDim bounds the longer edge of a derived thumbnail.
const ThumbnailMaxDim = 256

// Store content-addresses raw image bytes and derives thumbnails on
// demand, backed by persistence.ImageRepo.
type Store struct {
	repo persistence.ImageRepo
}

func New(repo persistence.ImageRepo) *Store {
	return &Store{repo: repo}
}

// Ingest hashes data, returning the existing Image row if the digest is
// already known, or inserting a new one otherwise.
func (s *Store) Ingest(ctx context.Context, data []byte, mimeType string) (domain.Image, error) {
	digest := sha256.Sum256(data)

	existing, err := s.repo.FindByDigest(ctx, digest)
	if err != nil {
		return domain.Image{}, fmt.Errorf("images: find by digest: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.Image{}, fmt.Errorf("images: decode config: %w: %w", err, domain.ErrDataValidation)
	}

	img := domain.Image{
		ID:        uuid.New(),
		Digest:    digest,
		MimeType:  mimeType,
		Width:     cfg.Width,
		Height:    cfg.Height,
		SizeBytes: len(data),
	}
	if err := s.repo.Insert(ctx, img); err != nil {
		return domain.Image{}, fmt.Errorf("images: insert: %w", err)
	}
	return img, nil
}

// LinkToNews associates an already-ingested image with a News row.
func (s *Store) LinkToNews(ctx context.Context, newsID, imageID uuid.UUID) error {
	if err := s.repo.LinkToNews(ctx, newsID, imageID); err != nil {
		return fmt.Errorf("images: link to news: %w", err)
	}
	return nil
}

// Thumbnail decodes data and scales it so its longer edge is at most
// ThumbnailMaxDim, re-encoding as JPEG. Deterministic: same input bytes
// always produce the same output bytes (no randomised compression
// parameters, fixed quality).
func Thumbnail(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("images: decode: %w: %w", err, domain.ErrDataValidation)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("images: zero-sized source: %w", domain.ErrDataValidation)
	}

	scale := 1.0
	if w > h && w > ThumbnailMaxDim {
		scale = float64(ThumbnailMaxDim) / float64(w)
	} else if h >= w && h > ThumbnailMaxDim {
		scale = float64(ThumbnailMaxDim) / float64(h)
	}
	dstW, dstH := int(float64(w)*scale), int(float64(h)*scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("images: encode thumbnail: %w", err)
	}
	return out.Bytes(), nil
}

// Package ingestion is the per-source polling task of spec.md §4.1/§5:
// "one polling task per enabled source", each owning its parser_state
// exclusively, scoring every item through the antispam scorer before it
// reaches the durable News store.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ceglabs/ceg/internal/antispam"
	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/images"
	"github.com/ceglabs/ceg/internal/metrics"
	"github.com/ceglabs/ceg/internal/persistence"
	"github.com/ceglabs/ceg/internal/sources"
)

// Poller runs one goroutine per enabled Source, each polling its adapter on
// its own interval and writing accepted items through NewsRepo.TryInsert.
type Poller struct {
	sourcesRepo   persistence.SourceRepo
	parserState   persistence.ParserStateRepo
	news          persistence.NewsRepo
	registry      *sources.Registry
	scorer        *antispam.Scorer
	imageStore    *images.Store
	imageClient   *http.Client
	cfg           config.EnrichmentConfig
	pollIntervals map[string]time.Duration
	m             *metrics.Registry
}

func NewPoller(sourcesRepo persistence.SourceRepo, parserState persistence.ParserStateRepo, news persistence.NewsRepo, registry *sources.Registry, scorer *antispam.Scorer, imageStore *images.Store, imageClient *http.Client, cfg config.EnrichmentConfig, pollIntervals map[string]time.Duration, m *metrics.Registry) *Poller {
	if imageClient == nil {
		imageClient = http.DefaultClient
	}
	return &Poller{
		sourcesRepo:   sourcesRepo,
		parserState:   parserState,
		news:          news,
		registry:      registry,
		scorer:        scorer,
		imageStore:    imageStore,
		imageClient:   imageClient,
		cfg:           cfg,
		pollIntervals: pollIntervals,
		m:             m,
	}
}

// Run starts one polling goroutine per enabled Source and blocks until ctx
// is cancelled, per spec.md §5's "one polling task per enabled source".
func (p *Poller) Run(ctx context.Context) error {
	srcs, err := p.sourcesRepo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("ingestion: list enabled sources: %w", err)
	}

	done := make(chan struct{}, len(srcs))
	for _, src := range srcs {
		go func(src domain.Source) {
			defer func() { done <- struct{}{} }()
			p.pollLoop(ctx, src)
		}(src)
	}

	<-ctx.Done()
	for range srcs {
		<-done
	}
	return nil
}

func (p *Poller) pollLoop(ctx context.Context, src domain.Source) {
	adapter, err := p.registry.For(src)
	if err != nil {
		log.Error().Err(err).Str("source", src.Code).Msg("ingestion: no adapter registered")
		return
	}

	interval := 30 * time.Second
	if d, ok := p.pollIntervals[src.Code]; ok && d > 0 {
		interval = d
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.pollOnce(ctx, src, adapter); err != nil {
			log.Error().Err(err).Str("source", src.Code).Msg("ingestion: poll failed")
			if domain.Classify(err) != domain.DispositionRetry {
				if err := p.sourcesRepo.MarkUnhealthy(ctx, src.ID, err.Error()); err != nil {
					log.Error().Err(err).Str("source", src.Code).Msg("ingestion: mark unhealthy failed")
				}
			}
		}

		if p.backlogFull(ctx) {
			sleepOrDone(ctx, p.cfg.BackoffPoll)
			continue
		}
		sleepOrDone(ctx, interval)
	}
}

func (p *Poller) backlogFull(ctx context.Context) bool {
	if p.cfg.MaxBacklog <= 0 {
		return false
	}
	n, err := p.news.CountUnenriched(ctx)
	if err != nil {
		return false
	}
	return n >= p.cfg.MaxBacklog
}

func (p *Poller) pollOnce(ctx context.Context, src domain.Source, adapter sources.Adapter) error {
	cursor, err := p.parserState.Get(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("ingestion: load cursor: %w", err)
	}

	items, next, retryable, err := adapter.Poll(ctx, src, cursor)
	if err != nil {
		if retryable {
			return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
		}
		return err
	}

	for _, raw := range items {
		if err := p.ingestOne(ctx, src, raw); err != nil {
			log.Error().Err(err).Str("source", src.Code).Str("external_id", raw.ExternalID).Msg("ingestion: ingest item failed")
		}
	}

	if err := p.parserState.Save(ctx, src.ID, next); err != nil {
		return fmt.Errorf("ingestion: save cursor: %w", err)
	}
	return nil
}

func (p *Poller) ingestOne(ctx context.Context, src domain.Source, raw domain.RawNews) error {
	decision := p.scorer.Score(raw, src.TrustLevel)

	news := &domain.News{
		ID:               uuid.New(),
		SourceID:         raw.SourceID,
		ExternalID:       raw.ExternalID,
		Title:            raw.Title,
		Text:             raw.Text,
		Summary:          raw.Summary,
		PublishedAt:      raw.PublishedAt,
		DetectedAt:       time.Now().UTC(),
		URL:              raw.URL,
		Lang:             raw.Lang,
		ContentHash:      contentHash(raw.Title, raw.Text),
		IsAd:             decision.IsAd,
		AdScore:          decision.Score,
		AdReasons:        decision.AdReasons,
		EnrichmentStatus: domain.EnrichmentPending,
	}

	imgs := p.fetchImages(ctx, raw.MediaRefs)

	payload, err := json.Marshal(map[string]any{"news_id": news.ID, "source_id": news.SourceID, "external_id": news.ExternalID})
	if err != nil {
		return fmt.Errorf("ingestion: marshal outbox payload: %w", err)
	}
	outboxEvent := domain.OutboxRow{Topic: domain.TopicNewsCreated, Payload: payload}

	outcome, err := p.news.TryInsert(ctx, news, imgs, outboxEvent)
	if err != nil {
		return fmt.Errorf("ingestion: try insert: %w", err)
	}

	if p.m != nil {
		p.m.NewsIngested.WithLabelValues(src.Code, string(outcome)).Inc()
		p.m.AdDecisions.WithLabelValues(src.Code, boolLabel(decision.IsAd)).Inc()
	}
	return nil
}

// fetchImages downloads and content-addresses every media reference. A
// download failure for one ref is logged and skipped rather than failing
// the whole item — images are enrichment, not the News row itself.
func (p *Poller) fetchImages(ctx context.Context, mediaRefs []string) []domain.Image {
	if p.imageStore == nil {
		return nil
	}
	var out []domain.Image
	for _, ref := range mediaRefs {
		img, err := p.downloadAndIngest(ctx, ref)
		if err != nil {
			log.Warn().Err(err).Str("media_ref", ref).Msg("ingestion: image fetch failed, skipping")
			continue
		}
		out = append(out, img)
	}
	return out
}

func (p *Poller) downloadAndIngest(ctx context.Context, url string) (domain.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Image{}, err
	}
	resp, err := p.imageClient.Do(req)
	if err != nil {
		return domain.Image{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.Image{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return domain.Image{}, err
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return p.imageStore.Ingest(ctx, data, mimeType)
}

func contentHash(title, text string) [32]byte {
	normalized := strings.ToLower(strings.TrimSpace(title)) + "\n" + strings.ToLower(strings.TrimSpace(text))
	return sha256.Sum256([]byte(normalized))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

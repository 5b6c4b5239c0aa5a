// Package enrichment orchestrates the per-news enrichment pipeline (C6):
// extractor -> entities -> linker -> classifier -> event extractor ->
// CEG/event-study -> mark enriched, per spec.md §4.4.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ceglabs/ceg/internal/ceg"
	"github.com/ceglabs/ceg/internal/classifier"
	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/eventstudy"
	"github.com/ceglabs/ceg/internal/events"
	"github.com/ceglabs/ceg/internal/extractor"
	"github.com/ceglabs/ceg/internal/graphwriter"
	"github.com/ceglabs/ceg/internal/linker"
	"github.com/ceglabs/ceg/internal/metrics"
	"github.com/ceglabs/ceg/internal/persistence"
)

// Pipeline wires every collaborator spec.md §4.4's 7 steps need. One
// Pipeline is shared by every worker in Pool.
type Pipeline struct {
	news            persistence.NewsRepo
	entities        persistence.EntityRepo
	linked          persistence.LinkedCompanyRepo
	topics          persistence.TopicRepo
	classifications persistence.ClassificationRepo
	issuers         persistence.IssuerRepo
	sources         persistence.SourceRepo
	eventRepo       persistence.EventRepo
	outbox          persistence.OutboxRepo

	extract  extractor.Client
	link     *linker.Linker
	eventsX  *events.Extractor
	cegEng   *ceg.Engine
	study    *eventstudy.Analyser
	impacts  persistence.ImpactEdgeRepo
	graph    *graphwriter.Writer

	cfg config.EnrichmentConfig
	m   *metrics.Registry
}

// Deps bundles every collaborator New needs — kept as one struct since the
// list is long and all of it is required (no optional wiring).
type Deps struct {
	News            persistence.NewsRepo
	Entities        persistence.EntityRepo
	Linked          persistence.LinkedCompanyRepo
	Topics          persistence.TopicRepo
	Classifications persistence.ClassificationRepo
	Issuers         persistence.IssuerRepo
	Sources         persistence.SourceRepo
	Events          persistence.EventRepo
	Outbox          persistence.OutboxRepo
	Impacts    persistence.ImpactEdgeRepo
	Extractor  extractor.Client
	Linker     *linker.Linker
	EventX     *events.Extractor
	CEG        *ceg.Engine
	Study      *eventstudy.Analyser
	Graph      *graphwriter.Writer
	Cfg        config.EnrichmentConfig
	Metrics    *metrics.Registry
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		news: d.News, entities: d.Entities, linked: d.Linked, topics: d.Topics,
		classifications: d.Classifications, issuers: d.Issuers, sources: d.Sources, eventRepo: d.Events,
		outbox: d.Outbox, impacts: d.Impacts, extract: d.Extractor, link: d.Linker,
		eventsX: d.EventX, cegEng: d.CEG, study: d.Study, graph: d.Graph, cfg: d.Cfg, m: d.Metrics,
	}
}

// ProcessOne runs all 7 steps of spec.md §4.4 for one News item. Advertising
// items (news.IsAd) skip straight to skipAd: no Entities, LinkedCompanies,
// or Events are ever produced for an ad. Extractor failures are retried up
// to cfg.MaxRetries; exhaustion marks the News Failed (but leaves it
// readable) and emits NewsEnrichmentFailed.
func (p *Pipeline) ProcessOne(ctx context.Context, news domain.News) error {
	if news.IsAd {
		return p.skipAd(ctx, news)
	}

	extraction, err := p.extractWithRetry(ctx, news)
	if err != nil {
		return p.fail(ctx, news, err)
	}

	if err := p.persistEntities(ctx, news, extraction); err != nil {
		return p.fail(ctx, news, err)
	}

	linkedIssuers, err := p.linkCompanies(ctx, news, extraction)
	if err != nil {
		return p.fail(ctx, news, err)
	}

	classification := classifier.Classify(classifier.Input{
		Title:            news.Title,
		Text:             news.Text,
		Lang:             news.Lang,
		LinkedIssuers:    linkedIssuers,
		TitleMentionsOrg: len(linkedIssuers) > 0,
	})
	if err := p.persistClassification(ctx, news.ID, classification); err != nil {
		return p.fail(ctx, news, err)
	}

	sourceTrust := 0
	if src, err := p.sources.GetByID(ctx, news.SourceID); err == nil {
		sourceTrust = src.TrustLevel
	} else {
		log.Warn().Err(err).Str("source_id", news.SourceID.String()).Msg("enrichment: source lookup failed, defaulting trust to 0")
	}

	newEvents := p.eventsX.Extract(events.Input{
		NewsID:      news.ID,
		Title:       news.Title,
		Text:        news.Text,
		PublishedAt: news.PublishedAt,
		SourceTrust: sourceTrust,
		Companies:   extraction.Companies,
		Tickers:     tickersOf(linkedIssuers),
		People:      extraction.People,
		Markets:     extraction.Markets,
		Metrics:     extraction.FinancialMetrics,
	})
	if len(newEvents) > 0 {
		if err := p.eventRepo.InsertBatch(ctx, newEvents); err != nil {
			return p.fail(ctx, news, fmt.Errorf("enrichment: persist events: %w", err))
		}
		if p.m != nil {
			for _, e := range newEvents {
				p.m.EventsExtracted.WithLabelValues(string(e.Type)).Inc()
			}
		}
	}

	if err := p.linkAndAnalyse(ctx, newEvents); err != nil {
		return p.fail(ctx, news, err)
	}

	if err := p.news.MarkEnriched(ctx, news.ID, nil, domain.EnrichmentDone); err != nil {
		return fmt.Errorf("enrichment: mark enriched: %w", err)
	}
	return p.emit(ctx, domain.TopicNewsEnriched, map[string]any{"news_id": news.ID})
}

// skipAd marks an advertisement News item Done without running entity
// extraction, linking, classification, or event extraction: no Events or
// LinkedCompanies are ever produced for news.IsAd items.
func (p *Pipeline) skipAd(ctx context.Context, news domain.News) error {
	if err := p.news.MarkEnriched(ctx, news.ID, nil, domain.EnrichmentDone); err != nil {
		return fmt.Errorf("enrichment: mark ad news enriched: %w", err)
	}
	return p.emit(ctx, domain.TopicNewsEnriched, map[string]any{"news_id": news.ID, "is_ad": true})
}

func (p *Pipeline) extractWithRetry(ctx context.Context, news domain.News) (extractor.Extraction, error) {
	req := extractor.Request{Text: news.Text, Title: news.Title, PublishedAt: news.PublishedAt, Lang: news.Lang}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		ex, err := p.extract.Extract(ctx, req)
		if err == nil {
			return ex, nil
		}
		lastErr = err
		if domain.Classify(err) != domain.DispositionRetry {
			return extractor.Extraction{}, err
		}
		log.Warn().Err(err).Str("news_id", news.ID.String()).Int("attempt", attempt).Msg("enrichment: extractor retry")
	}
	return extractor.Extraction{}, fmt.Errorf("enrichment: extractor retry budget exhausted: %w", lastErr)
}

func (p *Pipeline) persistEntities(ctx context.Context, news domain.News, ex extractor.Extraction) error {
	var ents []domain.Entity
	for _, c := range ex.Companies {
		ents = append(ents, domain.Entity{NewsID: news.ID, Kind: domain.EntityOrg, RawText: c, Normalized: linker.Normalize(c), Confidence: ex.Confidence})
	}
	for _, person := range ex.People {
		ents = append(ents, domain.Entity{NewsID: news.ID, Kind: domain.EntityPerson, RawText: person, Normalized: person, Confidence: ex.Confidence})
	}
	for _, metric := range ex.FinancialMetrics {
		ents = append(ents, domain.Entity{NewsID: news.ID, Kind: domain.EntityMoney, RawText: metric, Normalized: metric, Confidence: ex.Confidence})
	}
	if len(ents) == 0 {
		return nil
	}
	if err := p.entities.InsertBatch(ctx, ents); err != nil {
		return fmt.Errorf("enrichment: persist entities: %w", err)
	}
	return nil
}

func (p *Pipeline) linkCompanies(ctx context.Context, news domain.News, ex extractor.Extraction) ([]domain.Issuer, error) {
	var links []domain.LinkedCompany
	var issuers []domain.Issuer

	for _, company := range ex.Companies {
		isInTitle := containsFold(news.Title, company)
		res, err := p.link.Resolve(ctx, news.ID, company, isInTitle)
		if err != nil {
			return nil, fmt.Errorf("enrichment: link %q: %w", company, err)
		}
		if !res.Resolved {
			continue
		}

		// Every LinkedCompany must resolve to an existing Issuer at commit
		// time: skip the link entirely rather than persist one with no
		// backing Issuer row.
		issuer, err := p.issuers.GetByID(ctx, res.Linked.IssuerID)
		if err != nil {
			log.Warn().Err(err).Str("issuer_id", res.Linked.IssuerID.String()).Msg("enrichment: linked issuer not found in mirror, dropping link")
			continue
		}
		links = append(links, res.Linked)
		issuers = append(issuers, *issuer)
	}

	if len(links) > 0 {
		if err := p.linked.InsertBatch(ctx, links); err != nil {
			return nil, fmt.Errorf("enrichment: persist linked companies: %w", err)
		}
	}
	return issuers, nil
}

func (p *Pipeline) persistClassification(ctx context.Context, newsID uuid.UUID, c domain.Classification) error {
	if err := p.classifications.Upsert(ctx, newsID, c); err != nil {
		return fmt.Errorf("enrichment: persist classification: %w", err)
	}
	if len(c.Topics) == 0 {
		return nil
	}
	topics := make([]domain.Topic, len(c.Topics))
	for i, t := range c.Topics {
		t.NewsID = newsID
		topics[i] = t
	}
	if err := p.topics.InsertBatch(ctx, topics); err != nil {
		return fmt.Errorf("enrichment: persist topics: %w", err)
	}
	return nil
}

// linkAndAnalyse implements step 6: CEG linking plus event-study impact
// edges for every newly extracted event, then mirrors both to the graph.
func (p *Pipeline) linkAndAnalyse(ctx context.Context, newEvents []domain.Event) error {
	if len(newEvents) == 0 {
		return nil
	}
	if err := p.cegEng.LinkNewEvents(ctx, newEvents); err != nil {
		return fmt.Errorf("enrichment: ceg link: %w", err)
	}

	for _, ev := range newEvents {
		if p.graph != nil {
			if err := p.graph.WriteEvent(ctx, ev, ev.NewsID.String(), nil); err != nil {
				log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("enrichment: graph write event failed")
			}
		}

		for _, ticker := range ev.Attrs.Tickers {
			result, err := p.study.Analyse(ctx, ticker, ev.Ts)
			if err != nil {
				log.Warn().Err(err).Str("ticker", ticker).Msg("enrichment: event study failed")
				continue
			}
			edge := domain.ImpactEdge{
				EventID: ev.ID, Ticker: ticker, AR: result.AR, CAR: result.CAR,
				VolumeRatio: result.VolumeRatio, Window: "event_window", Significant: result.Significant,
			}
			if err := p.impacts.Upsert(ctx, edge); err != nil {
				return fmt.Errorf("enrichment: persist impact edge: %w", err)
			}
			if p.graph != nil {
				if err := p.graph.WriteImpactEdge(ctx, edge); err != nil {
					log.Warn().Err(err).Str("event_id", ev.ID.String()).Msg("enrichment: graph write impact failed")
				}
			}
		}
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, news domain.News, cause error) error {
	if p.m != nil {
		p.m.EnrichmentFailed.Inc()
	}
	if err := p.news.MarkEnriched(ctx, news.ID, nil, domain.EnrichmentFailed); err != nil {
		log.Error().Err(err).Str("news_id", news.ID.String()).Msg("enrichment: failed to mark News as Failed")
	}
	if err := p.emit(ctx, domain.TopicNewsEnrichmentFailed, map[string]any{"news_id": news.ID, "error": cause.Error()}); err != nil {
		log.Error().Err(err).Str("news_id", news.ID.String()).Msg("enrichment: failed to emit failure event")
	}
	return fmt.Errorf("enrichment: news %s: %w", news.ID, cause)
}

func (p *Pipeline) emit(ctx context.Context, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("enrichment: marshal outbox payload: %w", err)
	}
	row := domain.OutboxRow{ID: uuid.New(), Topic: topic, Payload: body, Status: domain.OutboxPending, CreatedAt: time.Now().UTC()}
	if err := p.outbox.Insert(ctx, row); err != nil {
		return fmt.Errorf("enrichment: insert outbox row: %w", err)
	}
	return nil
}

func tickersOf(issuers []domain.Issuer) []string {
	out := make([]string, 0, len(issuers))
	for _, i := range issuers {
		if i.Ticker != "" {
			out = append(out, i.Ticker)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(linker.Normalize(haystack), linker.Normalize(needle))
}

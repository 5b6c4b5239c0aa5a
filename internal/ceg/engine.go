// Package ceg implements the CMNLN Causal Engine (C10): the core that
// maintains the CAUSES edge set on the event graph by scoring event
// pairs against a prior table, textual connectors, and market reaction,
// per spec.md §4.8.
package ceg

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/eventstudy"
	"github.com/ceglabs/ceg/internal/persistence"
)

// Engine owns the CAUSES edge set. One Engine instance is shared by every
// enrichment worker; edge maintenance for a given pair is serialised via
// a keyed mutex so concurrent news items touching the same past/future
// event can't race on the same row.
type Engine struct {
	events persistence.EventRepo
	edges  persistence.CausalEdgeRepo
	news   persistence.NewsRepo
	study  *eventstudy.Analyser
	cfg    config.CEGConfig
	locks  *keyedMutex
}

func New(events persistence.EventRepo, edges persistence.CausalEdgeRepo, news persistence.NewsRepo, study *eventstudy.Analyser, cfg config.CEGConfig) *Engine {
	return &Engine{events: events, edges: edges, news: news, study: study, cfg: cfg, locks: newKeyedMutex()}
}

// LinkNewEvents runs spec.md §4.8 steps 1-3 for one batch of events
// belonging to a single news item: forward linking against past events,
// internal linking within the batch, and retroactive linking for
// retro-eligible types.
func (e *Engine) LinkNewEvents(ctx context.Context, newEvents []domain.Event) error {
	if len(newEvents) == 0 {
		return nil
	}

	// spec.md §4.8 step 2: pairs within the same news, ordered by (ts,
	// extraction order) - newEvents is expected pre-sorted that way by the
	// event extractor, but sort defensively since callers may not guarantee it.
	sorted := append([]domain.Event(nil), newEvents...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Ts.Equal(sorted[j].Ts) {
			return sorted[i].Ts.Before(sorted[j].Ts)
		}
		return sorted[i].ExtractionOrder < sorted[j].ExtractionOrder
	})

	textCache := map[uuid.UUID]newsText{}

	for i, cur := range sorted {
		// Step 1: forward linking against past events in the lookback window.
		past, err := e.events.ListInWindow(ctx, persistence.TimeRange{
			From: cur.Ts.Add(-e.cfg.Lookback()),
			To:   cur.Ts,
		})
		if err != nil {
			return fmt.Errorf("ceg: list past events: %w", err)
		}
		if err := e.linkGroup(ctx, cur, past, true, domain.CausalHypothesis, false, textCache); err != nil {
			return err
		}

		// Step 2: internal linking - every earlier event in this same batch.
		if i > 0 {
			if err := e.linkGroup(ctx, cur, sorted[:i], true, domain.CausalHypothesis, false, textCache); err != nil {
				return err
			}
		}

		// Step 3: retroactive linking for retro-eligible types.
		if retroEligible[cur.Type] {
			future, err := e.events.ListInWindow(ctx, persistence.TimeRange{
				From: cur.Ts.Add(time.Nanosecond),
				To:   cur.Ts.Add(e.cfg.RetroWindow() + time.Nanosecond),
			})
			if err != nil {
				return fmt.Errorf("ceg: list future events: %w", err)
			}
			if err := e.linkGroup(ctx, cur, future, false, domain.CausalRetro, true, textCache); err != nil {
				return err
			}
		}
	}
	return nil
}

// linkGroup scores anchor against every candidate, grouped by candidate
// EventType so only the highest-scoring candidate of each type survives
// as an edge (spec.md §4.8's tie-break/dominance rule); dominated or
// below-threshold pairs have any existing edge removed.
func (e *Engine) linkGroup(ctx context.Context, anchor domain.Event, candidates []domain.Event, anchorIsEffect bool, kind domain.CausalEdgeKind, isRetro bool, textCache map[uuid.UUID]newsText) error {
	byType := make(map[domain.EventType][]scored)
	for _, cand := range candidates {
		if cand.ID == anchor.ID {
			continue
		}
		cause, effect := cand, anchor
		if !anchorIsEffect {
			cause, effect = anchor, cand
		}
		edge, err := e.score(ctx, cause, effect, textCache)
		if err != nil {
			return err
		}
		byType[cand.Type] = append(byType[cand.Type], scored{candidate: cand, edge: edge})
	}

	for _, group := range byType {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].edge.ConfTotal > group[j].edge.ConfTotal
		})
		for idx, g := range group {
			cause, effect := g.candidate, anchor
			if !anchorIsEffect {
				cause, effect = anchor, g.candidate
			}
			if idx == 0 && g.edge.ConfTotal >= e.cfg.MinConfidence {
				if g.edge.Kind != domain.CausalConfirmed {
					g.edge.Kind = kind
				}
				g.edge.IsRetroactive = isRetro
				if err := e.upsertEdge(ctx, g.edge); err != nil {
					return err
				}
			} else if err := e.removeIfDominated(ctx, cause.ID, effect.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

type scored struct {
	candidate domain.Event
	edge      domain.CausalEdge
}

type newsText struct {
	title, text string
}

// score implements spec.md §4.8's score(e_a -> e_b).
func (e *Engine) score(ctx context.Context, cause, effect domain.Event, textCache map[uuid.UUID]newsText) (domain.CausalEdge, error) {
	p, hasPrior := lookupPrior(cause.Type, effect.Type)

	causeText, err := e.newsTextOf(ctx, cause.NewsID, textCache)
	if err != nil {
		return domain.CausalEdge{}, err
	}
	effectText, err := e.newsTextOf(ctx, effect.NewsID, textCache)
	if err != nil {
		return domain.CausalEdge{}, err
	}
	cText, marker := confText(causeText.title+" "+causeText.text, effectText.title+" "+effectText.text)

	cMarket := e.confMarket(ctx, effect)

	confPrior, sign, expectedLag := 0.0, domain.SignEither, domain.Lag{}
	if hasPrior {
		confPrior, sign, expectedLag = p.confPrior, p.sign, p.lag
	}

	confTotal := e.cfg.Weights.Prior*confPrior + e.cfg.Weights.Text*cText + e.cfg.Weights.Market*cMarket

	if hasPrior {
		actualLag := effect.Ts.Sub(cause.Ts)
		if actualLag < 0 {
			actualLag = -actualLag
		}
		if actualLag < expectedLag.Min || actualLag > expectedLag.Max {
			confTotal *= 0.75
		}
	}

	var evidence []string
	if hasPrior {
		evidence = append(evidence, fmt.Sprintf("prior:%s->%s", cause.Type, effect.Type))
	}
	if marker != "" {
		evidence = append(evidence, "connector:"+marker)
	}
	if cMarket > 0 {
		evidence = append(evidence, "market_reaction")
	}

	kind := domain.CausalHypothesis
	if confPrior >= 0.6 && cText >= 0.6 && cMarket >= 0.6 {
		kind = domain.CausalConfirmed
	}

	return domain.CausalEdge{
		CauseEventID:  cause.ID,
		EffectEventID: effect.ID,
		Kind:          kind,
		Sign:          sign,
		ExpectedLag:   expectedLag,
		ConfPrior:     confPrior,
		ConfText:      cText,
		ConfMarket:    cMarket,
		ConfTotal:     confTotal,
		EvidenceSet:   evidence,
	}, nil
}

func (e *Engine) confMarket(ctx context.Context, effect domain.Event) float64 {
	if len(effect.Attrs.Tickers) == 0 {
		return 0
	}
	ticker := effect.Attrs.Tickers[0]

	result, err := e.study.Analyse(ctx, ticker, effect.Ts)
	if err != nil {
		log.Warn().Err(err).Str("ticker", ticker).Str("event_id", effect.ID.String()).Msg("ceg: event study failed, treating conf_market as 0")
		return 0
	}
	return eventstudy.ConfMarket(result)
}

func (e *Engine) newsTextOf(ctx context.Context, newsID uuid.UUID, cache map[uuid.UUID]newsText) (newsText, error) {
	if t, ok := cache[newsID]; ok {
		return t, nil
	}
	n, err := e.news.GetByID(ctx, newsID)
	if err != nil {
		return newsText{}, fmt.Errorf("ceg: load news %s: %w", newsID, err)
	}
	t := newsText{title: n.Title, text: n.Text}
	cache[newsID] = t
	return t, nil
}

func (e *Engine) upsertEdge(ctx context.Context, edge domain.CausalEdge) error {
	unlock := e.locks.Lock(edgeKey(edge.CauseEventID, edge.EffectEventID))
	defer unlock()

	if err := e.edges.Upsert(ctx, edge); err != nil {
		return fmt.Errorf("ceg: upsert edge: %w", err)
	}
	return nil
}

func (e *Engine) removeIfDominated(ctx context.Context, causeID, effectID uuid.UUID) error {
	unlock := e.locks.Lock(edgeKey(causeID, effectID))
	defer unlock()

	existing, err := e.edges.Get(ctx, causeID, effectID)
	if err != nil {
		if domain.Classify(err) == domain.DispositionSkip {
			return nil // no edge to remove
		}
		return fmt.Errorf("ceg: get edge for dominance check: %w", err)
	}
	if existing == nil {
		return nil
	}
	if err := e.edges.Delete(ctx, causeID, effectID); err != nil {
		return fmt.Errorf("ceg: delete dominated edge: %w", err)
	}
	return nil
}

func edgeKey(causeID, effectID uuid.UUID) string {
	return causeID.String() + "->" + effectID.String()
}

// Chain is one path discovered by Chains.
type Chain struct {
	Events []uuid.UUID
	Edges  []domain.CausalEdge
}

// ChainOptions bounds a Chains traversal.
type ChainOptions struct {
	MaxDepth      int
	MinConfidence float64
}

// Chains performs a BFS from start, respecting a confidence floor and
// temporal monotonicity (each hop's effect.ts must not precede the ts of
// the event the hop starts from, i.e. the previous hop's effect), per spec.md §4.8's chain traversal rule.
func (e *Engine) Chains(ctx context.Context, start uuid.UUID, opts ChainOptions) ([]Chain, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}

	startEvent, err := e.events.GetByID(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("ceg: chains: start event: %w", err)
	}

	type frontier struct {
		chain   Chain
		lastTs  time.Time
		depth   int
	}
	queue := []frontier{{chain: Chain{Events: []uuid.UUID{start}}, lastTs: startEvent.Ts}}
	var out []Chain

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		lastID := cur.chain.Events[len(cur.chain.Events)-1]
		outgoing, err := e.edges.OutgoingFrom(ctx, lastID)
		if err != nil {
			return nil, fmt.Errorf("ceg: chains: outgoing edges: %w", err)
		}

		for _, edge := range outgoing {
			if edge.ConfTotal < opts.MinConfidence {
				continue
			}
			effect, err := e.events.GetByID(ctx, edge.EffectEventID)
			if err != nil {
				continue
			}
			if effect.Ts.Before(cur.lastTs) {
				continue // temporal monotonicity
			}
			if containsEvent(cur.chain.Events, edge.EffectEventID) {
				continue // no cycles
			}

			next := frontier{
				chain: Chain{
					Events: append(append([]uuid.UUID(nil), cur.chain.Events...), edge.EffectEventID),
					Edges:  append(append([]domain.CausalEdge(nil), cur.chain.Edges...), edge),
				},
				lastTs: effect.Ts,
				depth:  cur.depth + 1,
			}
			out = append(out, next.chain)
			if next.depth < opts.MaxDepth {
				queue = append(queue, next)
			}
		}
	}
	return out, nil
}

func containsEvent(events []uuid.UUID, id uuid.UUID) bool {
	for _, e := range events {
		if e == id {
			return true
		}
	}
	return false
}

package ceg

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/eventstudy"
	"github.com/ceglabs/ceg/internal/persistence"
	"github.com/ceglabs/ceg/internal/priceapi"
)

type fakeEventRepo struct {
	byID   map[uuid.UUID]domain.Event
	window []domain.Event
}

func newFakeEventRepo(events ...domain.Event) *fakeEventRepo {
	r := &fakeEventRepo{byID: map[uuid.UUID]domain.Event{}}
	for _, e := range events {
		r.byID[e.ID] = e
	}
	r.window = events
	return r
}

func (f *fakeEventRepo) InsertBatch(ctx context.Context, events []domain.Event) error { return nil }

func (f *fakeEventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	return &e, nil
}

func (f *fakeEventRepo) ListInWindow(ctx context.Context, tr persistence.TimeRange) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.window {
		if !e.Ts.Before(tr.From) && e.Ts.Before(tr.To) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeEventRepo) ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range f.byID {
		if e.NewsID == newsID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCausalEdgeRepo struct {
	edges map[string]domain.CausalEdge
}

func newFakeCausalEdgeRepo() *fakeCausalEdgeRepo {
	return &fakeCausalEdgeRepo{edges: map[string]domain.CausalEdge{}}
}

func (f *fakeCausalEdgeRepo) Upsert(ctx context.Context, edge domain.CausalEdge) error {
	f.edges[edgeKey(edge.CauseEventID, edge.EffectEventID)] = edge
	return nil
}

func (f *fakeCausalEdgeRepo) Delete(ctx context.Context, causeEventID, effectEventID uuid.UUID) error {
	delete(f.edges, edgeKey(causeEventID, effectEventID))
	return nil
}

func (f *fakeCausalEdgeRepo) Get(ctx context.Context, causeEventID, effectEventID uuid.UUID) (*domain.CausalEdge, error) {
	e, ok := f.edges[edgeKey(causeEventID, effectEventID)]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	return &e, nil
}

func (f *fakeCausalEdgeRepo) OutgoingFrom(ctx context.Context, eventID uuid.UUID) ([]domain.CausalEdge, error) {
	var out []domain.CausalEdge
	for _, e := range f.edges {
		if e.CauseEventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeCausalEdgeRepo) IncomingTo(ctx context.Context, eventID uuid.UUID) ([]domain.CausalEdge, error) {
	var out []domain.CausalEdge
	for _, e := range f.edges {
		if e.EffectEventID == eventID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeNewsRepo struct {
	persistence.NewsRepo
	byID map[uuid.UUID]domain.News
}

func newFakeNewsRepo(items ...domain.News) *fakeNewsRepo {
	r := &fakeNewsRepo{byID: map[uuid.UUID]domain.News{}}
	for _, n := range items {
		r.byID[n.ID] = n
	}
	return r
}

func (f *fakeNewsRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error) {
	n, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrResourceNotFound
	}
	return &n, nil
}

type fakePriceClient struct{}

func (fakePriceClient) Candles(ctx context.Context, ticker string, from, to time.Time, interval time.Duration) ([]priceapi.Candle, error) {
	return nil, nil // no history -> conf_market always 0
}

func testCfg() config.CEGConfig {
	return config.CEGConfig{
		LookbackDays:    30,
		RetroWindowDays: 30,
		MinConfidence:   0.3,
		Weights:         config.CEGWeights{Prior: 0.4, Text: 0.3, Market: 0.3},
	}
}

func newTestEngine(events *fakeEventRepo, edges *fakeCausalEdgeRepo, news *fakeNewsRepo) *Engine {
	study := eventstudy.New(fakePriceClient{}, config.EventStudyConfig{EstimationDays: 30, EventWindowDays: 1, SignificanceSigma: 2, MinObservations: 20})
	return New(events, edges, news, study, testCfg())
}

// Sanctions on day 0 should forward-link to a stock_drop 2 days later
// (spec.md §4.8's domain prior for sanctions->stock_drop).
func TestLinkNewEvents_ForwardLinking(t *testing.T) {
	newsID := uuid.New()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	cause := domain.Event{ID: uuid.New(), NewsID: newsID, Type: domain.EventSanctions, Ts: base}
	effect := domain.Event{ID: uuid.New(), NewsID: newsID, Type: domain.EventStockDrop, Ts: base.Add(48 * time.Hour)}

	events := newFakeEventRepo(cause, effect)
	edgesRepo := newFakeCausalEdgeRepo()
	news := newFakeNewsRepo(domain.News{ID: newsID, Title: "Санкции привело к падению акций", Text: "Новые санкции."})

	engine := newTestEngine(events, edgesRepo, news)
	require.NoError(t, engine.LinkNewEvents(context.Background(), []domain.Event{effect}))

	edge, err := edgesRepo.Get(context.Background(), cause.ID, effect.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SignNegative, edge.Sign)
	assert.Greater(t, edge.ConfTotal, 0.0)
	assert.Greater(t, edge.ConfPrior, 0.0)
}

// An edge pair whose actual lag falls outside the prior's expected
// interval gets the 0.75 penalty applied to conf_total.
func TestScore_LagOutsideExpectedInterval_Penalised(t *testing.T) {
	newsID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	cause := domain.Event{ID: uuid.New(), NewsID: newsID, Type: domain.EventSanctions, Ts: base}
	withinLag := domain.Event{ID: uuid.New(), NewsID: newsID, Type: domain.EventStockDrop, Ts: base.Add(1 * time.Hour)}
	outsideLag := domain.Event{ID: uuid.New(), NewsID: newsID, Type: domain.EventStockDrop, Ts: base.Add(10 * 24 * time.Hour)}

	news := newFakeNewsRepo(domain.News{ID: newsID, Title: "Санкции", Text: "ничего"})
	events := newFakeEventRepo(cause, withinLag, outsideLag)
	engine := newTestEngine(events, newFakeCausalEdgeRepo(), news)

	within, err := engine.score(context.Background(), cause, withinLag, map[uuid.UUID]newsText{})
	require.NoError(t, err)
	outside, err := engine.score(context.Background(), cause, outsideLag, map[uuid.UUID]newsText{})
	require.NoError(t, err)

	assert.Less(t, outside.ConfTotal, within.ConfTotal)
}

// Retroactive linking: a sanctions event discovered after the fact must
// link forward to a stock_drop that already happened, tagged is_retroactive.
func TestLinkNewEvents_RetroactiveLinking(t *testing.T) {
	newsID1, newsID2 := uuid.New(), uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	earlierDrop := domain.Event{ID: uuid.New(), NewsID: newsID1, Type: domain.EventStockDrop, Ts: base}
	lateSanctions := domain.Event{ID: uuid.New(), NewsID: newsID2, Type: domain.EventSanctions, Ts: base.Add(-24 * time.Hour)}

	events := newFakeEventRepo(earlierDrop, lateSanctions)
	edgesRepo := newFakeCausalEdgeRepo()
	news := newFakeNewsRepo(
		domain.News{ID: newsID1, Title: "Акции упали", Text: "обвал на фоне санкций"},
		domain.News{ID: newsID2, Title: "Введены санкции", Text: "новость пришла позже"},
	)

	engine := newTestEngine(events, edgesRepo, news)
	require.NoError(t, engine.LinkNewEvents(context.Background(), []domain.Event{lateSanctions}))

	edge, err := edgesRepo.Get(context.Background(), lateSanctions.ID, earlierDrop.ID)
	require.NoError(t, err)
	assert.True(t, edge.IsRetroactive)
	assert.Equal(t, domain.CausalRetro, edge.Kind)
}

// Two past events of the same type both qualify for the same effect; only
// the higher-scoring one should survive as an edge.
func TestLinkGroup_DominanceKeepsOnlyHighestScoring(t *testing.T) {
	newsA, newsB, newsEffect := uuid.New(), uuid.New(), uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	weak := domain.Event{ID: uuid.New(), NewsID: newsA, Type: domain.EventSanctions, Ts: base}
	strong := domain.Event{ID: uuid.New(), NewsID: newsB, Type: domain.EventSanctions, Ts: base.Add(time.Hour)}
	effect := domain.Event{ID: uuid.New(), NewsID: newsEffect, Type: domain.EventStockDrop, Ts: base.Add(2 * time.Hour)}

	events := newFakeEventRepo(weak, strong, effect)
	edgesRepo := newFakeCausalEdgeRepo()
	news := newFakeNewsRepo(
		domain.News{ID: newsA, Title: "Санкции объявлены", Text: "кратко"},
		domain.News{ID: newsB, Title: "Санкции привело к падению", Text: "в результате санкций обвал"},
		domain.News{ID: newsEffect, Title: "Падение акций", Text: "обвал"},
	)

	engine := newTestEngine(events, edgesRepo, news)
	require.NoError(t, engine.LinkNewEvents(context.Background(), []domain.Event{effect}))

	_, err := edgesRepo.Get(context.Background(), strong.ID, effect.ID)
	assert.NoError(t, err)

	_, err = edgesRepo.Get(context.Background(), weak.ID, effect.ID)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestChains_BFSRespectsConfidenceFloorAndMonotonicity(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	events := newFakeEventRepo(
		domain.Event{ID: a, Ts: base},
		domain.Event{ID: b, Ts: base.Add(time.Hour)},
		domain.Event{ID: c, Ts: base.Add(2 * time.Hour)},
	)
	edgesRepo := newFakeCausalEdgeRepo()
	require.NoError(t, edgesRepo.Upsert(context.Background(), domain.CausalEdge{CauseEventID: a, EffectEventID: b, ConfTotal: 0.8, Kind: domain.CausalConfirmed}))
	require.NoError(t, edgesRepo.Upsert(context.Background(), domain.CausalEdge{CauseEventID: b, EffectEventID: c, ConfTotal: 0.1, Kind: domain.CausalHypothesis}))

	engine := newTestEngine(events, edgesRepo, newFakeNewsRepo())
	chains, err := engine.Chains(context.Background(), a, ChainOptions{MaxDepth: 3, MinConfidence: 0.5})
	require.NoError(t, err)

	require.Len(t, chains, 1)
	assert.Equal(t, []uuid.UUID{a, b}, chains[0].Events)
}

package ingestion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceglabs/ceg/internal/antispam"
	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
	"github.com/ceglabs/ceg/internal/sources"
)

type fakeAdapter struct {
	items     []domain.RawNews
	next      domain.ParserState
	err       error
	retryable bool
}

func (a *fakeAdapter) Poll(ctx context.Context, src domain.Source, cursor domain.ParserState) ([]domain.RawNews, domain.ParserState, bool, error) {
	if a.err != nil {
		return nil, domain.ParserState{}, a.retryable, a.err
	}
	return a.items, a.next, false, nil
}

func (a *fakeAdapter) Backfill(ctx context.Context, src domain.Source, horizonDays int) (<-chan domain.RawNews, error) {
	ch := make(chan domain.RawNews)
	close(ch)
	return ch, nil
}

type fakeParserStateRepo struct {
	mu     sync.Mutex
	states map[uuid.UUID]domain.ParserState
	saved  []domain.ParserState
}

func newFakeParserStateRepo() *fakeParserStateRepo {
	return &fakeParserStateRepo{states: make(map[uuid.UUID]domain.ParserState)}
}

func (r *fakeParserStateRepo) Get(ctx context.Context, sourceID uuid.UUID) (domain.ParserState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[sourceID], nil
}

func (r *fakeParserStateRepo) Save(ctx context.Context, sourceID uuid.UUID, state domain.ParserState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[sourceID] = state
	r.saved = append(r.saved, state)
	return nil
}

type fakeSourceRepo struct {
	unhealthy []string
}

func (r *fakeSourceRepo) ListEnabled(ctx context.Context) ([]domain.Source, error) { return nil, nil }
func (r *fakeSourceRepo) GetByCode(ctx context.Context, code string) (*domain.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	return nil, nil
}
func (r *fakeSourceRepo) Upsert(ctx context.Context, source domain.Source) error { return nil }
func (r *fakeSourceRepo) MarkUnhealthy(ctx context.Context, sourceID uuid.UUID, reason string) error {
	r.unhealthy = append(r.unhealthy, reason)
	return nil
}

type fakeNewsRepo struct {
	mu       sync.Mutex
	inserted []*domain.News
	outcome  persistence.InsertOutcome
	unenriched int
}

func (r *fakeNewsRepo) TryInsert(ctx context.Context, news *domain.News, images []domain.Image, outboxEvent domain.OutboxRow) (persistence.InsertOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, news)
	if r.outcome == "" {
		return persistence.Inserted, nil
	}
	return r.outcome, nil
}
func (r *fakeNewsRepo) MarkEnriched(ctx context.Context, newsID uuid.UUID, summary *string, status domain.EnrichmentStatus) error {
	return nil
}
func (r *fakeNewsRepo) StreamUnenriched(ctx context.Context, batchSize int) ([]domain.News, error) {
	return nil, nil
}
func (r *fakeNewsRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error) {
	return nil, nil
}
func (r *fakeNewsRepo) CountUnenriched(ctx context.Context) (int, error) { return r.unenriched, nil }

func testSource() domain.Source {
	return domain.Source{ID: uuid.New(), Code: "test-src", Kind: domain.SourceKindHTML, TrustLevel: 5, Enabled: true}
}

func testPoller(adapter sources.Adapter, news *fakeNewsRepo, parserState *fakeParserStateRepo, srcRepo *fakeSourceRepo) *Poller {
	registry := sources.NewRegistry()
	registry.RegisterKind(domain.SourceKindHTML, adapter)
	scorer := antispam.New(config.AntispamConfig{ThresholdDefault: 5.0, ThresholdTrusted: 8.0, TrustedLevel: 7})
	return NewPoller(srcRepo, parserState, news, registry, scorer, nil, nil, config.EnrichmentConfig{MaxBacklog: 10, BackoffPoll: time.Millisecond}, nil, nil)
}

func TestPollOnce_InsertsItemsAndAdvancesCursor(t *testing.T) {
	src := testSource()
	adapter := &fakeAdapter{
		items: []domain.RawNews{
			{SourceID: src.ID, ExternalID: "1", Title: "Банк повысил ставку", Text: "подробности"},
		},
		next: domain.ParserState{LastExternalID: "1"},
	}
	news := &fakeNewsRepo{}
	parserState := newFakeParserStateRepo()
	p := testPoller(adapter, news, parserState, &fakeSourceRepo{})

	err := p.pollOnce(context.Background(), src, adapter)
	require.NoError(t, err)

	require.Len(t, news.inserted, 1)
	assert.Equal(t, "1", news.inserted[0].ExternalID)
	assert.NotEqual(t, uuid.Nil, news.inserted[0].ID)

	require.Len(t, parserState.saved, 1)
	assert.Equal(t, "1", parserState.saved[0].LastExternalID)
}

func TestPollOnce_NoItems_StillSavesCursor(t *testing.T) {
	src := testSource()
	adapter := &fakeAdapter{next: domain.ParserState{LastExternalID: "0"}}
	news := &fakeNewsRepo{}
	parserState := newFakeParserStateRepo()
	p := testPoller(adapter, news, parserState, &fakeSourceRepo{})

	err := p.pollOnce(context.Background(), src, adapter)
	require.NoError(t, err)
	assert.Empty(t, news.inserted)
	require.Len(t, parserState.saved, 1)
}

func TestPollOnce_AdScoredItem_StillInserted(t *testing.T) {
	src := testSource()
	adapter := &fakeAdapter{
		items: []domain.RawNews{
			{SourceID: src.ID, ExternalID: "ad1", Title: "Купи акции сейчас! Скидка 90%!", Text: "реклама реклама реклама"},
		},
	}
	news := &fakeNewsRepo{}
	parserState := newFakeParserStateRepo()
	p := testPoller(adapter, news, parserState, &fakeSourceRepo{})
	p.scorer = antispam.New(config.AntispamConfig{ThresholdDefault: 5.0, ThresholdTrusted: 8.0, TrustedLevel: 7, Rules: []config.AntispamRule{
		{ID: "kw_discount", Kind: "keyword", Weight: 3.0, Pattern: `скидка \d+%`},
		{ID: "kw_buy", Kind: "keyword", Weight: 2.5, Pattern: `купи (акции|сейчас)`},
	}})

	err := p.pollOnce(context.Background(), src, adapter)
	require.NoError(t, err)
	require.Len(t, news.inserted, 1)
	assert.True(t, news.inserted[0].IsAd)
}

func TestBacklogFull_RespectsMaxBacklog(t *testing.T) {
	news := &fakeNewsRepo{unenriched: 20}
	p := testPoller(&fakeAdapter{}, news, newFakeParserStateRepo(), &fakeSourceRepo{})
	assert.True(t, p.backlogFull(context.Background()))

	news.unenriched = 1
	assert.False(t, p.backlogFull(context.Background()))
}

func TestBacklogFull_DisabledWhenMaxBacklogZero(t *testing.T) {
	news := &fakeNewsRepo{unenriched: 1_000_000}
	p := testPoller(&fakeAdapter{}, news, newFakeParserStateRepo(), &fakeSourceRepo{})
	p.cfg.MaxBacklog = 0
	assert.False(t, p.backlogFull(context.Background()))
}

func TestPollLoop_AdapterError_MarksSourceUnhealthy(t *testing.T) {
	src := testSource()
	adapter := &fakeAdapter{err: assertErr{}, retryable: false}
	srcRepo := &fakeSourceRepo{}
	news := &fakeNewsRepo{}
	p := testPoller(adapter, news, newFakeParserStateRepo(), srcRepo)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p.pollLoop(ctx, src)

	assert.NotEmpty(t, srcRepo.unhealthy)
}

type assertErr struct{}

func (assertErr) Error() string { return "adapter failure" }

package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

type fakeNewsRepo struct {
	marked       bool
	markedStatus domain.EnrichmentStatus
}

func (r *fakeNewsRepo) TryInsert(ctx context.Context, news *domain.News, images []domain.Image, outboxEvent domain.OutboxRow) (persistence.InsertOutcome, error) {
	return persistence.Inserted, nil
}

func (r *fakeNewsRepo) MarkEnriched(ctx context.Context, newsID uuid.UUID, summary *string, status domain.EnrichmentStatus) error {
	r.marked = true
	r.markedStatus = status
	return nil
}

func (r *fakeNewsRepo) StreamUnenriched(ctx context.Context, batchSize int) ([]domain.News, error) {
	return nil, nil
}

func (r *fakeNewsRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error) {
	return nil, nil
}

func (r *fakeNewsRepo) CountUnenriched(ctx context.Context) (int, error) { return 0, nil }

type fakeOutboxRepo struct {
	inserted []domain.OutboxRow
}

func (r *fakeOutboxRepo) Insert(ctx context.Context, row domain.OutboxRow) error {
	r.inserted = append(r.inserted, row)
	return nil
}
func (r *fakeOutboxRepo) ClaimBatch(ctx context.Context, batchSize int) ([]domain.OutboxRow, error) {
	return nil, nil
}
func (r *fakeOutboxRepo) MarkSent(ctx context.Context, id uuid.UUID) error { return nil }
func (r *fakeOutboxRepo) ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time) error {
	return nil
}
func (r *fakeOutboxRepo) MarkDeadLettered(ctx context.Context, id uuid.UUID) error { return nil }
func (r *fakeOutboxRepo) PurgeSentOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}
func (r *fakeOutboxRepo) CountPending(ctx context.Context) (int, error) { return 0, nil }

// extract/entities/linked/topics/classifications/issuers/sources/eventRepo
// are all left nil: ProcessOne must never touch any of them for an ad item,
// so a nil-pointer panic on any of those paths would fail this test just as
// loudly as a wrong assertion would.
func TestProcessOne_AdNews_SkipsEntitiesLinksAndEvents(t *testing.T) {
	news := fakeNewsRepo{}
	outbox := fakeOutboxRepo{}

	p := New(Deps{
		News:   &news,
		Outbox: &outbox,
	})

	err := p.ProcessOne(context.Background(), domain.News{ID: uuid.New(), IsAd: true})
	require.NoError(t, err)

	assert.True(t, news.marked)
	assert.Equal(t, domain.EnrichmentDone, news.markedStatus)
	require.Len(t, outbox.inserted, 1)
	assert.Equal(t, domain.TopicNewsEnriched, outbox.inserted[0].Topic)
}

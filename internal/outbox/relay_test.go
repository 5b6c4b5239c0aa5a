package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/stream"
)

type fakeOutboxRepo struct {
	mu            sync.Mutex
	rows          []domain.OutboxRow
	sent          []uuid.UUID
	rescheduled   map[uuid.UUID]time.Time
	deadLettered  []uuid.UUID
	claimErr      error
}

func newFakeOutboxRepo(rows ...domain.OutboxRow) *fakeOutboxRepo {
	return &fakeOutboxRepo{rows: rows, rescheduled: map[uuid.UUID]time.Time{}}
}

func (f *fakeOutboxRepo) Insert(ctx context.Context, row domain.OutboxRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeOutboxRepo) ClaimBatch(ctx context.Context, batchSize int) ([]domain.OutboxRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	out := f.rows
	f.rows = nil
	return out, nil
}

func (f *fakeOutboxRepo) MarkSent(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeOutboxRepo) ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescheduled[id] = nextAttempt
	return nil
}

func (f *fakeOutboxRepo) MarkDeadLettered(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deadLettered = append(f.deadLettered, id)
	return nil
}

func (f *fakeOutboxRepo) PurgeSentOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeOutboxRepo) CountPending(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows), nil
}

type failingBus struct {
	err error
}

func (b *failingBus) Publish(ctx context.Context, topic string, env stream.Envelope) error {
	return b.err
}
func (b *failingBus) Start(ctx context.Context) error { return nil }
func (b *failingBus) Stop(ctx context.Context) error  { return nil }
func (b *failingBus) Health() stream.HealthStatus     { return stream.HealthStatus{Healthy: true} }

func testOutboxCfg() config.OutboxConfig {
	return config.OutboxConfig{
		BatchSize:        10,
		BaseRetrySeconds: 1,
		MaxRetries:       3,
		KeepDays:         7,
		PollInterval:     10 * time.Millisecond,
	}
}

func TestDrainOnce_PublishSucceeds_MarksSent(t *testing.T) {
	row := domain.OutboxRow{ID: uuid.New(), Topic: domain.TopicNewsEnriched, Payload: []byte(`{}`)}
	repo := newFakeOutboxRepo(row)
	bus := stream.NewStubBus()
	require.NoError(t, bus.Start(context.Background()))

	relay := NewRelay(repo, bus, testOutboxCfg(), nil)
	require.NoError(t, relay.drainOnce(context.Background()))

	assert.Equal(t, []uuid.UUID{row.ID}, repo.sent)
	assert.Empty(t, repo.rescheduled)

	stub, ok := stream.AsStub(bus)
	require.True(t, ok)
	published := stub.Published()
	require.Len(t, published, 1)
	assert.Equal(t, domain.TopicNewsEnriched, published[0].Topic)
}

func TestDrainOnce_PublishFails_BelowRetryBudget_Reschedules(t *testing.T) {
	row := domain.OutboxRow{ID: uuid.New(), Topic: domain.TopicNewsEnriched, Payload: []byte(`{}`), Retries: 1}
	repo := newFakeOutboxRepo(row)
	bus := &failingBus{err: errors.New("broker unreachable")}

	relay := NewRelay(repo, bus, testOutboxCfg(), nil)
	require.NoError(t, relay.drainOnce(context.Background()))

	assert.Empty(t, repo.sent)
	assert.Empty(t, repo.deadLettered)
	require.Contains(t, repo.rescheduled, row.ID)
	assert.True(t, repo.rescheduled[row.ID].After(time.Now()))
}

func TestDrainOnce_PublishFails_AtRetryBudget_DeadLetters(t *testing.T) {
	cfg := testOutboxCfg()
	row := domain.OutboxRow{ID: uuid.New(), Topic: domain.TopicNewsEnriched, Payload: []byte(`{}`), Retries: cfg.MaxRetries}
	repo := newFakeOutboxRepo(row)
	bus := &failingBus{err: errors.New("broker unreachable")}

	relay := NewRelay(repo, bus, cfg, nil)
	require.NoError(t, relay.drainOnce(context.Background()))

	assert.Empty(t, repo.sent)
	assert.Empty(t, repo.rescheduled)
	assert.Equal(t, []uuid.UUID{row.ID}, repo.deadLettered)
}

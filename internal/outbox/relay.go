// Package outbox implements the Outbox Relay (C13): the background loop
// that drains persistence.OutboxRepo into the stream.EventBus, retrying
// with backoff and dead-lettering after the configured budget, per
// spec.md §4.11. A ticker-driven claim-batch-publish-or-reschedule loop.
package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/metrics"
	"github.com/ceglabs/ceg/internal/netutil"
	"github.com/ceglabs/ceg/internal/persistence"
	"github.com/ceglabs/ceg/internal/stream"
)

type Relay struct {
	repo persistence.OutboxRepo
	bus  stream.EventBus
	cfg  config.OutboxConfig
	m    *metrics.Registry
}

func NewRelay(repo persistence.OutboxRepo, bus stream.EventBus, cfg config.OutboxConfig, m *metrics.Registry) *Relay {
	return &Relay{repo: repo, bus: bus, cfg: cfg, m: m}
}

// Run polls at cfg.PollInterval and purges old sent rows once an hour until
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	purgeTicker := time.NewTicker(time.Hour)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				log.Error().Err(err).Msg("outbox: drain failed")
			}
		case <-purgeTicker.C:
			if _, err := r.Purge(ctx); err != nil {
				log.Error().Err(err).Msg("outbox: purge failed")
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	batchSize := r.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	rows, err := r.repo.ClaimBatch(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, row := range rows {
		r.deliver(ctx, row)
	}

	if r.m != nil {
		if n, err := r.repo.CountPending(ctx); err == nil {
			r.m.OutboxPending.Set(float64(n))
		}
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, row domain.OutboxRow) {
	env := stream.Envelope{
		Type:       row.Topic,
		OccurredAt: row.CreatedAt,
		Payload:    row.Payload,
	}

	if err := r.bus.Publish(ctx, row.Topic, env); err != nil {
		r.reschedule(ctx, row, err)
		return
	}

	if err := r.repo.MarkSent(ctx, row.ID); err != nil {
		log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("outbox: mark sent failed")
		return
	}
	if r.m != nil {
		r.m.OutboxSent.Inc()
	}
}

func (r *Relay) reschedule(ctx context.Context, row domain.OutboxRow, publishErr error) {
	maxRetries := r.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	if row.Retries >= maxRetries {
		if err := r.repo.MarkDeadLettered(ctx, row.ID); err != nil {
			log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("outbox: dead-letter failed")
			return
		}
		log.Warn().Err(publishErr).Str("outbox_id", row.ID.String()).Str("topic", row.Topic).Int("retries", row.Retries).
			Msg("outbox: row dead-lettered after exhausting retry budget")
		if r.m != nil {
			r.m.OutboxDeadLettered.Inc()
		}
		return
	}

	base := r.cfg.BaseRetry()
	next := time.Now().Add(netutil.Exponential(base, row.Retries, 15*time.Minute))
	if err := r.repo.ScheduleRetry(ctx, row.ID, next); err != nil {
		log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("outbox: schedule retry failed")
	}
}

// Purge deletes Sent rows older than keep, per spec.md §4.11's retention
// policy. Run calls it on its own hourly ticker.
func (r *Relay) Purge(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.cfg.Keep())
	return r.repo.PurgeSentOlderThan(ctx, cutoff)
}

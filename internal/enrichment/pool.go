package enrichment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/metrics"
	"github.com/ceglabs/ceg/internal/persistence"
)

// Pool runs cfg.Workers goroutines, each repeatedly claiming a batch of
// unenriched News via StreamUnenriched and running it through Pipeline: a
// flat worker-goroutines-plus-WaitGroup shape, since this pipeline has no
// inter-stage buffering to justify a staged fan-out.
type Pool struct {
	news     persistence.NewsRepo
	pipeline *Pipeline
	cfg      config.EnrichmentConfig
	m        *metrics.Registry
}

func NewPool(news persistence.NewsRepo, pipeline *Pipeline, cfg config.EnrichmentConfig, m *metrics.Registry) *Pool {
	return &Pool{news: news, pipeline: pipeline, cfg: cfg, m: m}
}

// Run blocks until ctx is cancelled, fanning out cfg.Workers goroutines.
func (p *Pool) Run(ctx context.Context) {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	batchSize := 1
	backoff := p.cfg.BackoffPoll
	if backoff <= 0 {
		backoff = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := p.news.StreamUnenriched(ctx, batchSize)
		if err != nil {
			log.Error().Err(err).Int("worker", id).Msg("enrichment: claim batch failed")
			sleepOrDone(ctx, backoff)
			continue
		}
		if len(batch) == 0 {
			if p.m != nil {
				if n, err := p.news.CountUnenriched(ctx); err == nil {
					p.m.BacklogDepth.Set(float64(n))
				}
			}
			sleepOrDone(ctx, backoff)
			continue
		}

		for _, news := range batch {
			start := time.Now()
			if err := p.pipeline.ProcessOne(ctx, news); err != nil {
				log.Error().Err(err).Str("news_id", news.ID.String()).Int("worker", id).Msg("enrichment: process failed")
			}
			if p.m != nil {
				p.m.EnrichmentLatency.WithLabelValues("total").Observe(time.Since(start).Seconds())
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStreamsConfig configures the Redis-Streams-backed EventBus.
type RedisStreamsConfig struct {
	Addr        string
	DB          int
	MaxLen      int64 // approximate stream trim length, 0 disables trimming
	PublishTimeout time.Duration
}

// redisBus publishes envelopes onto a Redis stream per topic via XADD. This
// gives the relay "persistent delivery" (spec.md §4.11) without requiring a
// broker driver absent from the example pack: Redis is already the module's
// dependency for the Alias Cache, so the outbox relay reuses the same client.
type redisBus struct {
	cfg    RedisStreamsConfig
	client *redis.Client

	mu      sync.RWMutex
	healthy bool
	errs    []string
}

// NewRedisBus constructs a Redis Streams event bus. Start must be called
// before Publish.
func NewRedisBus(cfg RedisStreamsConfig) EventBus {
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &redisBus{cfg: cfg}
}

func (b *redisBus) Start(ctx context.Context) error {
	b.client = redis.NewClient(&redis.Options{Addr: b.cfg.Addr, DB: b.cfg.DB})
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.setHealth(false, []string{err.Error()})
		return fmt.Errorf("redis bus: ping: %w", err)
	}
	b.setHealth(true, nil)
	log.Info().Str("addr", b.cfg.Addr).Msg("redis event bus started")
	return nil
}

func (b *redisBus) Stop(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func (b *redisBus) Publish(ctx context.Context, topic string, env Envelope) error {
	if b.client == nil {
		return ErrBusNotStarted
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.PublishTimeout)
	defer cancel()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis bus: marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: streamKey(topic),
		Values: map[string]any{"envelope": body},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		b.setHealth(false, []string{err.Error()})
		return fmt.Errorf("redis bus: xadd %s: %w", topic, err)
	}
	return nil
}

func (b *redisBus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	status := "healthy"
	if !b.healthy {
		status = "degraded"
	}
	return HealthStatus{Healthy: b.healthy, Status: status, Errors: append([]string(nil), b.errs...)}
}

func (b *redisBus) setHealth(healthy bool, errs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
	b.errs = errs
}

func streamKey(topic string) string {
	return "ceg:stream:" + topic
}

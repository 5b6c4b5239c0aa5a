package linker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/persistence"
)

// AliasCache is the read-mostly, copy-on-write alias snapshot of spec.md §5:
// reads hit an immutable map under a read lock; writes go through a
// single owning goroutine that persists to Postgres (source of truth) and
// mirrors to Redis (the same go-redis dependency the Redis Streams bus
// uses, here repurposed as a reference-data cache) before publishing the new
// snapshot.
type AliasCache struct {
	mu       sync.RWMutex
	snapshot map[string]domain.Alias

	repo   persistence.AliasRepo
	redis  *redis.Client
	writes chan learnRequest
}

type learnRequest struct {
	alias domain.Alias
	done  chan error
}

// NewAliasCache loads the curated seed plus every persisted alias from repo,
// starts the single-writer goroutine, and returns a ready cache.
func NewAliasCache(ctx context.Context, repo persistence.AliasRepo, redisClient *redis.Client, curatedSeed map[string]uuid.UUID) (*AliasCache, error) {
	c := &AliasCache{
		snapshot: make(map[string]domain.Alias),
		repo:     repo,
		redis:    redisClient,
		writes:   make(chan learnRequest, 64),
	}

	for normalized, issuerID := range curatedSeed {
		c.snapshot[normalized] = domain.Alias{
			NormalizedString: normalized,
			IssuerID:         issuerID,
			Origin:           domain.AliasCurated,
			Confidence:       1.0,
		}
	}

	persisted, err := repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("alias cache: load persisted aliases: %w", err)
	}
	for _, a := range persisted {
		if a.Tombstoned {
			delete(c.snapshot, a.NormalizedString)
			continue
		}
		c.snapshot[a.NormalizedString] = a
	}

	go c.run()
	return c, nil
}

// Lookup checks the curated layer then the learned layer, both served from
// the same immutable snapshot (spec.md §4.5 step 2).
func (c *AliasCache) Lookup(normalized string) (domain.Alias, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.snapshot[normalized]
	return a, ok
}

// Learn persists a new learned alias and publishes the updated snapshot.
// Learned aliases are monotonic: Learn never overwrites a curated entry
// (spec.md §4.5 "operator may tombstone curated entries" implies curated
// entries otherwise stand).
func (c *AliasCache) Learn(ctx context.Context, alias domain.Alias) error {
	req := learnRequest{alias: alias, done: make(chan error, 1)}
	select {
	case c.writes <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *AliasCache) run() {
	for req := range c.writes {
		req.done <- c.applyLearn(req.alias)
	}
}

func (c *AliasCache) applyLearn(alias domain.Alias) error {
	c.mu.RLock()
	existing, ok := c.snapshot[alias.NormalizedString]
	c.mu.RUnlock()
	if ok && existing.Origin == domain.AliasCurated {
		return nil
	}

	ctx := context.Background()
	if err := c.repo.Learn(ctx, alias); err != nil {
		return fmt.Errorf("alias cache: persist learned alias: %w", err)
	}
	if c.redis != nil {
		c.redis.Set(ctx, redisAliasKey(alias.NormalizedString), alias.IssuerID.String(), 0)
	}

	c.mu.Lock()
	next := make(map[string]domain.Alias, len(c.snapshot)+1)
	for k, v := range c.snapshot {
		next[k] = v
	}
	next[alias.NormalizedString] = alias
	c.snapshot = next
	c.mu.Unlock()
	return nil
}

func redisAliasKey(normalized string) string {
	return "ceg:alias:" + normalized
}

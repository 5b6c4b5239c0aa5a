// Package sources implements the per-origin ingestion adapters of
// spec.md §4.1: a uniform Poll/Backfill contract, one concrete adapter
// per Source.Kind, and the registry that wires a Source to its adapter.
package sources

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceglabs/ceg/internal/domain"
)

// Adapter is the strategy-record contract every concrete source
// implementation satisfies, per spec.md §9 and §4.1.
type Adapter interface {
	// Poll fetches new items since cursor and returns the advanced cursor.
	// A non-nil, non-retryable error means the caller should mark the
	// source unhealthy; a retryable one means back off and try again.
	Poll(ctx context.Context, src domain.Source, cursor domain.ParserState) (items []domain.RawNews, next domain.ParserState, retryable bool, err error)

	// Backfill streams historical items back to horizonDays, closing the
	// channel when exhausted or ctx is done.
	Backfill(ctx context.Context, src domain.Source, horizonDays int) (<-chan domain.RawNews, error)
}

// Registry maps a Source's (Kind, Code) to the Adapter instance that
// serves it: one adapter package per transport kind, collapsed into a
// single lookup.
type Registry struct {
	mu       sync.RWMutex
	byKind   map[domain.SourceKind]Adapter
	byCode   map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		byKind: make(map[domain.SourceKind]Adapter),
		byCode: make(map[string]Adapter),
	}
}

// RegisterKind binds a default adapter for every Source of this Kind.
func (r *Registry) RegisterKind(kind domain.SourceKind, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = a
}

// RegisterCode overrides the kind-level default for one specific Source
// code — useful when a single channel needs bespoke handling.
func (r *Registry) RegisterCode(code string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode[code] = a
}

// For resolves the Adapter that should serve src.
func (r *Registry) For(src domain.Source) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if a, ok := r.byCode[src.Code]; ok {
		return a, nil
	}
	if a, ok := r.byKind[src.Kind]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("sources: no adapter registered for kind %q (code %q)", src.Kind, src.Code)
}

// Package persistence declares the repository interfaces every component
// depends on: one interface per aggregate, a Repository struct aggregating
// them, and a RepositoryHealth interface for connection-pool introspection.
package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ceglabs/ceg/internal/domain"
)

// TimeRange is an inclusive-from/exclusive-to time window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// InsertOutcome is the result of TryInsert, per spec.md §4.3.
type InsertOutcome string

const (
	Inserted             InsertOutcome = "inserted"
	DuplicateOnHash       InsertOutcome = "duplicate_on_hash"
	DuplicateOnExternalID InsertOutcome = "duplicate_on_external_id"
)

// NewsRepo is the durable News store of spec.md §4.3 (C4).
type NewsRepo interface {
	// TryInsert atomically writes News, its Images/NewsImage rows, and the
	// co-written Outbox event in one transaction.
	TryInsert(ctx context.Context, news *domain.News, images []domain.Image, outboxEvent domain.OutboxRow) (InsertOutcome, error)

	MarkEnriched(ctx context.Context, newsID uuid.UUID, summary *string, status domain.EnrichmentStatus) error

	// StreamUnenriched yields a batch of News claimed via row-level locks
	// that skip already-claimed rows, so multiple workers can run concurrently.
	StreamUnenriched(ctx context.Context, batchSize int) ([]domain.News, error)

	GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error)

	CountUnenriched(ctx context.Context) (int, error)
}

// ImageRepo is the content-addressed image store of spec.md §4.3/C5.
type ImageRepo interface {
	FindByDigest(ctx context.Context, digest [32]byte) (*domain.Image, error)
	Insert(ctx context.Context, img domain.Image) error
	LinkToNews(ctx context.Context, newsID, imageID uuid.UUID) error
}

// EntityRepo persists per-news extraction records (C6 step 2).
type EntityRepo interface {
	InsertBatch(ctx context.Context, entities []domain.Entity) error
	ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Entity, error)
}

// IssuerRepo is the canonical securities-master mirror (C1).
type IssuerRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Issuer, error)
	Upsert(ctx context.Context, issuer domain.Issuer) error
	Search(ctx context.Context, query string, limit int) ([]domain.Issuer, error)
}

// AliasRepo is the learnable Alias Cache's durable backing store (C1/C7).
type AliasRepo interface {
	Lookup(ctx context.Context, normalized string) (*domain.Alias, error)
	Learn(ctx context.Context, alias domain.Alias) error
	Tombstone(ctx context.Context, normalized string) error
	ListAll(ctx context.Context) ([]domain.Alias, error)
}

// LinkedCompanyRepo persists News-to-Issuer resolutions (C7).
type LinkedCompanyRepo interface {
	InsertBatch(ctx context.Context, links []domain.LinkedCompany) error
	ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.LinkedCompany, error)
}

// TopicRepo persists taxonomy tags (C8).
type TopicRepo interface {
	InsertBatch(ctx context.Context, topics []domain.Topic) error
	ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Topic, error)
}

// ClassificationRepo persists the sector/country/news-type/subtype half of
// the classifier's output that doesn't fit Topic's {code, confidence} shape (C8).
type ClassificationRepo interface {
	Upsert(ctx context.Context, newsID uuid.UUID, c domain.Classification) error
	Get(ctx context.Context, newsID uuid.UUID) (*domain.Classification, error)
}

// EventRepo persists extracted Events (C9).
type EventRepo interface {
	InsertBatch(ctx context.Context, events []domain.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	// ListInWindow returns events with ts in [from, to), ordered by (ts, extraction_order).
	ListInWindow(ctx context.Context, tr TimeRange) ([]domain.Event, error)
	ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Event, error)
}

// CausalEdgeRepo persists the CMNLN engine's CAUSES edge set (C10).
type CausalEdgeRepo interface {
	Upsert(ctx context.Context, edge domain.CausalEdge) error
	Delete(ctx context.Context, causeEventID, effectEventID uuid.UUID) error
	Get(ctx context.Context, causeEventID, effectEventID uuid.UUID) (*domain.CausalEdge, error)
	// OutgoingFrom returns every edge whose cause is eventID, for chain traversal.
	OutgoingFrom(ctx context.Context, eventID uuid.UUID) ([]domain.CausalEdge, error)
	// IncomingTo returns every edge whose effect is eventID, used when
	// re-scoring an edge pair to find dominated duplicates.
	IncomingTo(ctx context.Context, eventID uuid.UUID) ([]domain.CausalEdge, error)
}

// ImpactEdgeRepo persists IMPACTS edges produced by the event-study analyser (C11).
type ImpactEdgeRepo interface {
	Upsert(ctx context.Context, edge domain.ImpactEdge) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.ImpactEdge, error)
}

// ParserStateRepo is the single-writer-per-source cursor store (C3).
type ParserStateRepo interface {
	Get(ctx context.Context, sourceID uuid.UUID) (domain.ParserState, error)
	Save(ctx context.Context, sourceID uuid.UUID, state domain.ParserState) error
}

// SourceRepo manages configured Sources (C3).
type SourceRepo interface {
	ListEnabled(ctx context.Context) ([]domain.Source, error)
	GetByCode(ctx context.Context, code string) (*domain.Source, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error)
	Upsert(ctx context.Context, source domain.Source) error
	MarkUnhealthy(ctx context.Context, sourceID uuid.UUID, reason string) error
}

// OutboxRepo is the reliable-delivery queue of spec.md §4.11 (C13).
type OutboxRepo interface {
	// Insert writes a new Pending row outside of News ingestion's co-written
	// transaction — used by the enrichment pipeline to emit NewsEnriched/
	// NewsEnrichmentFailed once enrichment resolves (spec.md §4.4 step 7).
	Insert(ctx context.Context, row domain.OutboxRow) error

	// ClaimBatch selects up to batchSize Pending rows with next_attempt_at
	// <= now using a concurrency-safe skip-locked cursor.
	ClaimBatch(ctx context.Context, batchSize int) ([]domain.OutboxRow, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, nextAttempt time.Time) error
	MarkDeadLettered(ctx context.Context, id uuid.UUID) error
	PurgeSentOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	CountPending(ctx context.Context) (int, error)
}

// Repository aggregates every repository the application wires together.
type Repository struct {
	News            NewsRepo
	Images          ImageRepo
	Entities        EntityRepo
	Issuers         IssuerRepo
	Aliases         AliasRepo
	LinkedCompanies LinkedCompanyRepo
	Topics          TopicRepo
	Classifications ClassificationRepo
	Events          EventRepo
	CausalEdges     CausalEdgeRepo
	ImpactEdges     ImpactEdgeRepo
	ParserStates    ParserStateRepo
	Sources         SourceRepo
	Outbox          OutboxRepo
}

// HealthCheck summarises repository connectivity for the ops surface.
type HealthCheck struct {
	Healthy        bool
	Errors         []string
	ResponseTimeMS int64
}

// RepositoryHealth lets the ops HTTP surface probe storage liveness.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
}

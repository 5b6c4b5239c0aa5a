// Package extractor wraps the external entity/event extraction collaborator
// of spec.md §6.2. It is an opaque function from the pipeline's point of
// view: the pipeline consumes only Extraction's fields, never the internals
// of whatever model or service produced them.
package extractor

import (
	"context"
	"time"
)

// Urgency mirrors spec.md §6.2's urgency enum.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Extraction is the structured result of extract(text, title, published_at, lang).
type Extraction struct {
	Companies        []string `json:"companies"`
	People           []string `json:"people"`
	Markets          []string `json:"markets"`
	FinancialMetrics []string `json:"financial_metrics"`
	EventTypes       []string `json:"event_types"`
	Sector           *string  `json:"sector,omitempty"`
	Country          *string  `json:"country,omitempty"`
	IsAnchor         *bool    `json:"is_anchor,omitempty"`
	Urgency          Urgency  `json:"urgency"`
	Confidence       float64  `json:"confidence"`
	IsAdvertisement  bool     `json:"is_advertisement"`
	ContentTypes     []string `json:"content_types"`
}

// Request is the extractor's input contract.
type Request struct {
	Text        string
	Title       string
	PublishedAt time.Time
	Lang        string
}

// Client is the pipeline-facing contract; both the HTTP-backed
// implementation and the local Fallback satisfy it.
type Client interface {
	Extract(ctx context.Context, req Request) (Extraction, error)
}

// Package graphwriter performs the idempotent MERGE-shaped dual-write to
// the graph store described in spec.md §4.10: uniqueness per node label by
// id, updated_at set on every write, relationship properties fully
// replaced on MERGE. created_at is not set: the upserts carry no separate
// on-create properties.
package graphwriter

import (
	"context"
	"fmt"
	"time"

	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/graphstore"
)

// Writer drives graphstore.Client with domain-shaped upserts.
type Writer struct {
	store graphstore.Client
	now   func() time.Time
}

// New builds a Writer. now is injectable for deterministic tests.
func New(store graphstore.Client, now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{store: store, now: now}
}

// WriteEvent upserts an Event node and its MENTIONS/ABOUT edges to the News
// and Issuers it references.
func (w *Writer) WriteEvent(ctx context.Context, ev domain.Event, newsID string, issuerIDs []string) error {
	if err := w.store.MergeNode(ctx, graphstore.NodeUpsert{
		Label: graphstore.NodeEvent,
		ID:    ev.ID.String(),
		Props: map[string]any{
			"type":       string(ev.Type),
			"title":      ev.Title,
			"ts":         ev.Ts,
			"is_anchor":  ev.IsAnchor,
			"confidence": ev.Confidence,
			"updated_at": w.now(),
		},
	}); err != nil {
		return fmt.Errorf("graphwriter: merge event node: %w", err)
	}

	if err := w.store.MergeRelationship(ctx, graphstore.RelUpsert{
		Type:      graphstore.RelAbout,
		FromLabel: graphstore.NodeEvent,
		FromID:    ev.ID.String(),
		ToLabel:   graphstore.NodeNews,
		ToID:      newsID,
		Props:     map[string]any{"updated_at": w.now()},
	}); err != nil {
		return fmt.Errorf("graphwriter: merge about relationship: %w", err)
	}

	for _, issuerID := range issuerIDs {
		if err := w.store.MergeRelationship(ctx, graphstore.RelUpsert{
			Type:      graphstore.RelMentions,
			FromLabel: graphstore.NodeEvent,
			FromID:    ev.ID.String(),
			ToLabel:   graphstore.NodeIssuer,
			ToID:      issuerID,
			Props:     map[string]any{"updated_at": w.now()},
		}); err != nil {
			return fmt.Errorf("graphwriter: merge mentions relationship: %w", err)
		}
	}
	return nil
}

// WriteCausalEdge upserts a CAUSES relationship, replacing its property set
// in full per spec.md §4.10.
func (w *Writer) WriteCausalEdge(ctx context.Context, edge domain.CausalEdge) error {
	err := w.store.MergeRelationship(ctx, graphstore.RelUpsert{
		Type:      graphstore.RelCauses,
		FromLabel: graphstore.NodeEvent,
		FromID:    edge.CauseEventID.String(),
		ToLabel:   graphstore.NodeEvent,
		ToID:      edge.EffectEventID.String(),
		Props: map[string]any{
			"kind":           string(edge.Kind),
			"sign":           string(edge.Sign),
			"conf_prior":     edge.ConfPrior,
			"conf_text":      edge.ConfText,
			"conf_market":    edge.ConfMarket,
			"conf_total":     edge.ConfTotal,
			"evidence_set":   edge.EvidenceSet,
			"is_retroactive": edge.IsRetroactive,
			"updated_at":     w.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("graphwriter: merge causes edge: %w", err)
	}
	return nil
}

// WriteImpactEdge upserts an IMPACTS relationship from an Event to a traded Instrument.
func (w *Writer) WriteImpactEdge(ctx context.Context, edge domain.ImpactEdge) error {
	if err := w.store.MergeNode(ctx, graphstore.NodeUpsert{
		Label: graphstore.NodeInstrument,
		ID:    edge.Ticker,
		Props: map[string]any{"ticker": edge.Ticker, "updated_at": w.now()},
	}); err != nil {
		return fmt.Errorf("graphwriter: merge instrument node: %w", err)
	}

	err := w.store.MergeRelationship(ctx, graphstore.RelUpsert{
		Type:      graphstore.RelImpacts,
		FromLabel: graphstore.NodeEvent,
		FromID:    edge.EventID.String(),
		ToLabel:   graphstore.NodeInstrument,
		ToID:      edge.Ticker,
		Props: map[string]any{
			"ar":           edge.AR,
			"car":          edge.CAR,
			"volume_ratio": edge.VolumeRatio,
			"window":       edge.Window,
			"significant":  edge.Significant,
			"updated_at":   w.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("graphwriter: merge impacts edge: %w", err)
	}
	return nil
}

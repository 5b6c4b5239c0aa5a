// Package metrics exposes every Prometheus series the pipeline emits: one
// struct holding every metric, built once at startup, served over promhttp.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric series the ingestion, enrichment, CEG, and
// outbox components emit.
type Registry struct {
	// Ingestion / antispam
	NewsIngested      *prometheus.CounterVec // by source_code, dedup_status
	AdDecisions       *prometheus.CounterVec // by source_code, is_ad
	AdapterErrors     *prometheus.CounterVec // by source_code, failure_class
	BacklogDepth      prometheus.Gauge

	// Enrichment
	EnrichmentLatency *prometheus.HistogramVec // by stage
	EnrichmentFailed  prometheus.Counter
	EventsExtracted   *prometheus.CounterVec // by type

	// CEG
	EdgesCreated  *prometheus.CounterVec // by kind
	EdgesDeleted  prometheus.Counter
	EdgesUpgraded prometheus.Counter

	// Outbox
	OutboxPending      prometheus.Gauge
	OutboxSent         prometheus.Counter
	OutboxDeadLettered prometheus.Counter
}

// NewRegistry builds and registers every metric on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		NewsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceg_news_ingested_total",
			Help: "News items accepted by the repository, by source and dedup outcome.",
		}, []string{"source_code", "dedup_status"}),

		AdDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceg_antispam_decisions_total",
			Help: "Antispam scorer decisions, by source and is_ad.",
		}, []string{"source_code", "is_ad"}),

		AdapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceg_adapter_errors_total",
			Help: "Source adapter errors, by source and failure class.",
		}, []string{"source_code", "failure_class"}),

		BacklogDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ceg_unenriched_backlog_depth",
			Help: "Number of News rows awaiting enrichment.",
		}),

		EnrichmentLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ceg_enrichment_stage_duration_seconds",
			Help:    "Duration of each enrichment pipeline stage.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),

		EnrichmentFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ceg_enrichment_failed_total",
			Help: "News items that exhausted their enrichment retry budget.",
		}),

		EventsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceg_events_extracted_total",
			Help: "Events extracted, by type.",
		}, []string{"type"}),

		EdgesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ceg_causal_edges_created_total",
			Help: "CAUSES edges upserted, by kind.",
		}, []string{"kind"}),

		EdgesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ceg_causal_edges_deleted_total",
			Help: "CAUSES edges deleted on recompute for falling below the confidence floor.",
		}),

		EdgesUpgraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ceg_causal_edges_upgraded_total",
			Help: "CAUSES edges upgraded to kind=confirmed.",
		}),

		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ceg_outbox_pending",
			Help: "Outbox rows currently pending delivery.",
		}),

		OutboxSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ceg_outbox_sent_total",
			Help: "Outbox rows successfully published.",
		}),

		OutboxDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ceg_outbox_dead_lettered_total",
			Help: "Outbox rows moved to dead_lettered after exhausting retries.",
		}),
	}

	reg.MustRegister(
		r.NewsIngested, r.AdDecisions, r.AdapterErrors, r.BacklogDepth,
		r.EnrichmentLatency, r.EnrichmentFailed, r.EventsExtracted,
		r.EdgesCreated, r.EdgesDeleted, r.EdgesUpgraded,
		r.OutboxPending, r.OutboxSent, r.OutboxDeadLettered,
	)
	return r
}

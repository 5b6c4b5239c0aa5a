// Package domain holds the core data model shared by every component of
// the ingestion, enrichment, and causal-event-graph pipelines.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind enumerates the transport a Source is polled over.
type SourceKind string

const (
	SourceKindMessageChannel SourceKind = "message_channel"
	SourceKindHTML           SourceKind = "html"
)

// ParserState is mutated exclusively by the adapter that owns its Source.
type ParserState struct {
	LastExternalID    string    `db:"last_external_id" json:"last_external_id"`
	LastPollAt        time.Time `db:"last_poll_at" json:"last_poll_at"`
	ErrorCount        int       `db:"error_count" json:"error_count"`
	BackfillCompleted bool      `db:"backfill_completed" json:"backfill_completed"`
}

// Source is a configured news origin (a channel or a web site).
type Source struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	Code        string         `db:"code" json:"code"`
	Kind        SourceKind     `db:"kind" json:"kind"`
	DisplayName string         `db:"display_name" json:"display_name"`
	BaseLocator string         `db:"base_locator" json:"base_locator"`
	TrustLevel  int            `db:"trust_level" json:"trust_level"` // [0,10]
	Enabled     bool           `db:"enabled" json:"enabled"`
	Config      map[string]any `db:"config" json:"config"`
	ParserState ParserState    `db:"-" json:"parser_state"`
}

// DedupStatus records the outcome of the content-hash/external-id dedup check.
type DedupStatus string

const (
	DedupStatusWinner DedupStatus = "winner"
	DedupStatusLoser  DedupStatus = "loser"
)

// EnrichmentStatus tracks a News item through the enrichment pipeline.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentDone       EnrichmentStatus = "done"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// News is a single ingested item, immutable after first write except for
// enrichment status and ad flags.
type News struct {
	ID               uuid.UUID        `db:"id" json:"id"`
	SourceID         uuid.UUID        `db:"source_id" json:"source_id"`
	ExternalID       string           `db:"external_id" json:"external_id"`
	Title            string           `db:"title" json:"title"`
	Text             string           `db:"text" json:"text"`
	Summary          *string          `db:"summary" json:"summary,omitempty"`
	PublishedAt      time.Time        `db:"published_at" json:"published_at"`
	DetectedAt       time.Time        `db:"detected_at" json:"detected_at"`
	URL              *string          `db:"url" json:"url,omitempty"`
	Lang             string           `db:"lang" json:"lang"`
	ContentHash      [32]byte         `db:"content_hash" json:"content_hash"`
	DedupStatus      DedupStatus      `db:"dedup_status" json:"dedup_status"`
	IsAd             bool             `db:"is_ad" json:"is_ad"`
	AdScore          float64          `db:"ad_score" json:"ad_score"`
	AdReasons        []string         `db:"ad_reasons" json:"ad_reasons"`
	EnrichmentStatus EnrichmentStatus `db:"enrichment_status" json:"enrichment_status"`
}

// RawNews is the uniform emission contract every source adapter produces.
type RawNews struct {
	SourceID    uuid.UUID         `json:"source_id"`
	ExternalID  string            `json:"external_id"`
	Title       string            `json:"title"`
	Text        string            `json:"text"`
	Summary     *string           `json:"summary,omitempty"`
	PublishedAt time.Time         `json:"published_at"`
	URL         *string           `json:"url,omitempty"`
	MediaRefs   []string          `json:"media_refs,omitempty"`
	RawMeta     map[string]string `json:"raw_meta,omitempty"`
	Lang        string            `json:"lang,omitempty"`
}

// Image is content-addressed by its 256-bit digest.
type Image struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Digest    [32]byte  `db:"digest" json:"digest"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	Width     int       `db:"width" json:"width"`
	Height    int       `db:"height" json:"height"`
	SizeBytes int       `db:"size_bytes" json:"size_bytes"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Thumbnail is a deterministically-derived smaller rendition of an Image.
type Thumbnail struct {
	ImageID   uuid.UUID `db:"image_id" json:"image_id"`
	MaxEdge   int       `db:"max_edge" json:"max_edge"`
	MimeType  string    `db:"mime_type" json:"mime_type"`
	Bytes     []byte    `db:"bytes" json:"-"`
	SizeBytes int       `db:"size_bytes" json:"size_bytes"`
}

// EntityKind enumerates the extraction categories the entity recognizer emits.
type EntityKind string

const (
	EntityOrg        EntityKind = "org"
	EntityPerson     EntityKind = "person"
	EntityLocation   EntityKind = "location"
	EntityDate       EntityKind = "date"
	EntityMoney      EntityKind = "money"
	EntityPercentage EntityKind = "percentage"
	EntityAmount     EntityKind = "amount"
	EntityPeriod     EntityKind = "period"
	EntityUnit       EntityKind = "unit"
)

// Entity is a single per-news extraction record; deleted with its parent News.
type Entity struct {
	NewsID     uuid.UUID      `db:"news_id" json:"news_id"`
	Kind       EntityKind     `db:"kind" json:"kind"`
	RawText    string         `db:"raw_text" json:"raw_text"`
	Normalized string         `db:"normalized" json:"normalized"`
	Confidence float64        `db:"confidence" json:"confidence"`
	Attrs      map[string]any `db:"attrs" json:"attrs,omitempty"`
}

// Issuer is the canonical reference record for a traded or non-traded entity.
type Issuer struct {
	ID          uuid.UUID `db:"id" json:"id"`
	LegalName   string    `db:"legal_name" json:"legal_name"`
	ShortNames  []string  `db:"short_names" json:"short_names"`
	Ticker      string    `db:"ticker" json:"ticker"`
	ISIN        *string   `db:"isin" json:"isin,omitempty"`
	Board       *string   `db:"board" json:"board,omitempty"`
	SectorID    *string   `db:"sector_id" json:"sector_id,omitempty"`
	CountryCode string    `db:"country_code" json:"country_code"`
	IsTraded    bool      `db:"is_traded" json:"is_traded"`
}

// AliasOrigin distinguishes operator-curated aliases from auto-learned ones.
type AliasOrigin string

const (
	AliasCurated AliasOrigin = "curated"
	AliasLearned AliasOrigin = "learned"
)

// Alias maps a normalised free-text string to an Issuer.
type Alias struct {
	NormalizedString string      `db:"normalized_string" json:"normalized_string"`
	IssuerID         uuid.UUID   `db:"issuer_id" json:"issuer_id"`
	Origin           AliasOrigin `db:"origin" json:"origin"`
	Confidence       float64     `db:"confidence" json:"confidence"`
	Tombstoned       bool        `db:"tombstoned" json:"tombstoned"`
}

// LinkMethod records how a LinkedCompany was resolved.
type LinkMethod string

const (
	LinkMethodAliasExact  LinkMethod = "alias_exact"
	LinkMethodFuzzy       LinkMethod = "fuzzy"
	LinkMethodAutoLearned LinkMethod = "auto_learned"
)

// LinkedCompany associates a News item with a resolved Issuer.
type LinkedCompany struct {
	NewsID    uuid.UUID  `db:"news_id" json:"news_id"`
	IssuerID  uuid.UUID  `db:"issuer_id" json:"issuer_id"`
	Method    LinkMethod `db:"method" json:"method"`
	Score     float64    `db:"score" json:"score"`
	IsPrimary bool       `db:"is_primary" json:"is_primary"`
}

// Topic is a taxonomy tag attached to a News item (max 3 per news).
type Topic struct {
	NewsID     uuid.UUID `db:"news_id" json:"news_id"`
	Code       string    `db:"code" json:"code"`
	Confidence float64   `db:"confidence" json:"confidence"`
	IsPrimary  bool      `db:"is_primary" json:"is_primary"`
}

// NewsType and NewsSubtype classify a News item's shape, per spec.md §4.6.
type NewsType string

const (
	NewsTypeOneCompany NewsType = "one_company"
	NewsTypeMarket     NewsType = "market"
	NewsTypeRegulatory NewsType = "regulatory"
)

type NewsSubtype string

const (
	SubtypeEarnings         NewsSubtype = "earnings"
	SubtypeGuidance         NewsSubtype = "guidance"
	SubtypeMnA              NewsSubtype = "mna"
	SubtypeDefault          NewsSubtype = "default"
	SubtypeSanctions        NewsSubtype = "sanctions"
	SubtypeHack             NewsSubtype = "hack"
	SubtypeLegal            NewsSubtype = "legal"
	SubtypeESG              NewsSubtype = "esg"
	SubtypeSupplyChain      NewsSubtype = "supply_chain"
	SubtypeTechOutage       NewsSubtype = "tech_outage"
	SubtypeManagementChange NewsSubtype = "management_change"
	SubtypeOther            NewsSubtype = "other"
)

// Classification is the output of the Topic/Sector/Country/Type classifier.
type Classification struct {
	Topics        []Topic
	SectorCode    string
	CountryCode   string
	NewsType      NewsType
	NewsSubtype   NewsSubtype
	SecondaryTags []string // up to 3
}

// EventType enumerates the families the event extractor recognises.
type EventType string

const (
	EventSanctions         EventType = "sanctions"
	EventRateHike          EventType = "rate_hike"
	EventRateCut           EventType = "rate_cut"
	EventEarnings          EventType = "earnings"
	EventEarningsBeat      EventType = "earnings_beat"
	EventEarningsMiss      EventType = "earnings_miss"
	EventGuidance          EventType = "guidance"
	EventGuidanceCut       EventType = "guidance_cut"
	EventMnA               EventType = "mna"
	EventIPO               EventType = "ipo"
	EventDividends         EventType = "dividends"
	EventDividendCut       EventType = "dividend_cut"
	EventBuyback           EventType = "buyback"
	EventDefault           EventType = "default"
	EventManagementChange  EventType = "management_change"
	EventSupplyChain       EventType = "supply_chain"
	EventProduction        EventType = "production"
	EventAccident          EventType = "accident"
	EventStrike            EventType = "strike"
	EventLegal             EventType = "legal"
	EventRegulatory        EventType = "regulatory"
	EventStockDrop         EventType = "stock_drop"
	EventStockRally        EventType = "stock_rally"
	EventRubAppreciation   EventType = "rub_appreciation"
	EventRubDepreciation   EventType = "rub_depreciation"
)

// EventAttrs is the open attribute bag populated from entities and links.
type EventAttrs struct {
	Companies []string `json:"companies,omitempty"`
	Tickers   []string `json:"tickers,omitempty"`
	People    []string `json:"people,omitempty"`
	Markets   []string `json:"markets,omitempty"`
	Metrics   []string `json:"metrics,omitempty"`
}

// Event is a typed, timestamped fact extracted from an enriched News item.
type Event struct {
	ID         uuid.UUID `db:"id" json:"id"`
	NewsID     uuid.UUID `db:"news_id" json:"news_id"`
	Type       EventType `db:"type" json:"type"`
	Title      string    `db:"title" json:"title"`
	Ts         time.Time `db:"ts" json:"ts"`
	Attrs      EventAttrs `db:"attrs" json:"attrs"`
	IsAnchor   bool      `db:"is_anchor" json:"is_anchor"`
	Confidence float64   `db:"confidence" json:"confidence"`
	// ExtractionOrder breaks ties among same-timestamp events from one News.
	ExtractionOrder int `db:"extraction_order" json:"extraction_order"`
}

// CausalEdgeKind tracks how much evidence backs a CAUSES edge.
type CausalEdgeKind string

const (
	CausalHypothesis CausalEdgeKind = "hypothesis"
	CausalRetro      CausalEdgeKind = "retro"
	CausalConfirmed  CausalEdgeKind = "confirmed"
)

// Sign is the directional polarity of a causal relationship.
type Sign string

const (
	SignPositive Sign = "+"
	SignNegative Sign = "-"
	SignEither   Sign = "±"
)

// Lag is a symbolic expected-delay interval, e.g. "0-1d".
type Lag struct {
	Min time.Duration
	Max time.Duration
}

// CausalEdge is a directed CAUSES relationship between two Events.
type CausalEdge struct {
	CauseEventID  uuid.UUID      `db:"cause_event_id" json:"cause_event_id"`
	EffectEventID uuid.UUID      `db:"effect_event_id" json:"effect_event_id"`
	Kind          CausalEdgeKind `db:"kind" json:"kind"`
	Sign          Sign           `db:"sign" json:"sign"`
	ExpectedLag   Lag            `db:"-" json:"expected_lag"`
	ConfPrior     float64        `db:"conf_prior" json:"conf_prior"`
	ConfText      float64        `db:"conf_text" json:"conf_text"`
	ConfMarket    float64        `db:"conf_market" json:"conf_market"`
	ConfTotal     float64        `db:"conf_total" json:"conf_total"`
	EvidenceSet   []string       `db:"evidence_set" json:"evidence_set"`
	IsRetroactive bool           `db:"is_retroactive" json:"is_retroactive"`
}

// ImpactEdge is a directed IMPACTS relationship between an Event and a traded Instrument.
type ImpactEdge struct {
	EventID      uuid.UUID `db:"event_id" json:"event_id"`
	Ticker       string    `db:"ticker" json:"ticker"`
	AR           float64   `db:"ar" json:"ar"`
	CAR          float64   `db:"car" json:"car"`
	VolumeRatio  float64   `db:"volume_ratio" json:"volume_ratio"`
	Window       string    `db:"window" json:"window"`
	Significant  bool      `db:"significant" json:"significant"`
}

// OutboxStatus tracks the delivery lifecycle of one outbox row.
type OutboxStatus string

const (
	OutboxPending      OutboxStatus = "pending"
	OutboxSent         OutboxStatus = "sent"
	OutboxFailed       OutboxStatus = "failed"
	OutboxDeadLettered OutboxStatus = "dead_lettered"
)

// OutboxRow is co-written with originating domain state in one atomic unit.
type OutboxRow struct {
	ID            uuid.UUID    `db:"id" json:"id"`
	Topic         string       `db:"topic" json:"topic"`
	Payload       []byte       `db:"payload" json:"payload"`
	Status        OutboxStatus `db:"status" json:"status"`
	Retries       int          `db:"retries" json:"retries"`
	NextAttemptAt time.Time    `db:"next_attempt_at" json:"next_attempt_at"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
}

// Outbox topic names, per spec.md §6.6.
const (
	TopicNewsCreated          = "news.created"
	TopicNewsEnriched         = "news.enriched"
	TopicNewsEnrichmentFailed = "news.enrichment_failed"
	TopicEventCreated         = "event.created"
	TopicEventCaused          = "event.caused"
	TopicEventImpacts         = "event.impacts"
)

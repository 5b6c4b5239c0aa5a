// Package events builds typed Event records from an enriched News item, per
// spec.md §4.7: an ordered table of regex/keyword families, first-sentence
// title selection, attrs from entities/linked companies, and anchor
// eligibility gating.
package events

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ceglabs/ceg/internal/domain"
)

// family is one entry of the ordered event-type table. Every family is
// tried against the text, so one sentence can yield several event types;
// each family contributes at most one event, titled by its first matching
// sentence, in table order.
type family struct {
	eventType domain.EventType
	pattern   *regexp.Regexp
}

// defaultAnchorEligible is the compiled-in set of anchor-eligible event
// types, used when New is given a nil anchorEligible map.
var defaultAnchorEligible = map[domain.EventType]bool{
	domain.EventSanctions:       true,
	domain.EventDefault:         true,
	domain.EventRegulatory:      true,
	domain.EventRateHike:        true,
	domain.EventRateCut:         true,
	domain.EventMnA:             true,
}

var families = []family{
	{domain.EventSanctions, regexp.MustCompile(`(?i)санкци`)},
	{domain.EventRateHike, regexp.MustCompile(`(?i)повысил[а-я]*\s+(ключевую\s+)?ставк`)},
	{domain.EventRateCut, regexp.MustCompile(`(?i)снизил[а-я]*\s+(ключевую\s+)?ставк`)},
	{domain.EventEarningsBeat, regexp.MustCompile(`(?i)прибыль.*превысил`)},
	{domain.EventEarningsMiss, regexp.MustCompile(`(?i)прибыль.*ниже\s+ожидани`)},
	{domain.EventEarnings, regexp.MustCompile(`(?i)(чистая\s+прибыль|выручка)`)},
	{domain.EventGuidanceCut, regexp.MustCompile(`(?i)снизил[а-я]*\s+прогноз`)},
	{domain.EventGuidance, regexp.MustCompile(`(?i)прогноз`)},
	{domain.EventMnA, regexp.MustCompile(`(?i)(слияни|поглощени|приобрел[а-я]*\s+долю)`)},
	{domain.EventIPO, regexp.MustCompile(`(?i)(ipo|первичное\s+размещение)`)},
	{domain.EventDividendCut, regexp.MustCompile(`(?i)сократил[а-я]*\s+дивиденд`)},
	{domain.EventDividends, regexp.MustCompile(`(?i)дивиденд`)},
	{domain.EventBuyback, regexp.MustCompile(`(?i)обратный\s+выкуп`)},
	{domain.EventDefault, regexp.MustCompile(`(?i)(дефолт|банкрот)`)},
	{domain.EventManagementChange, regexp.MustCompile(`(?i)(назначил[а-я]*\s+(ген|нов)|покинул\s+пост|отставк)`)},
	{domain.EventSupplyChain, regexp.MustCompile(`(?i)(поставк|цепочк[а-я]*\s+поставок)`)},
	{domain.EventProduction, regexp.MustCompile(`(?i)(добыч|производств)`)},
	{domain.EventAccident, regexp.MustCompile(`(?i)(авари|пожар|взрыв)`)},
	{domain.EventStrike, regexp.MustCompile(`(?i)(забастовк|стачк)`)},
	{domain.EventLegal, regexp.MustCompile(`(?i)(суд[а-я]*\s+иск|судебн)`)},
	{domain.EventRegulatory, regexp.MustCompile(`(?i)(цб\s+рф|банк\s+росси|регулятор)`)},
	{domain.EventStockDrop, regexp.MustCompile(`(?i)акции.*(упал|снизил[а-я]*\s+на)`)},
	{domain.EventStockRally, regexp.MustCompile(`(?i)акции.*(выросл|укрепил[а-я]*\s+на)`)},
	{domain.EventRubAppreciation, regexp.MustCompile(`(?i)рубл[ья].*(укрепил|вырос)`)},
	{domain.EventRubDepreciation, regexp.MustCompile(`(?i)рубл[ья].*(ослаб|упал)`)},
}

// sentenceSplit is a conservative Russian-text sentence boundary matcher.
var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

// Input bundles one news item's enrichment state needed to build events.
type Input struct {
	NewsID       uuid.UUID
	Title        string
	Text         string
	PublishedAt  time.Time
	SourceTrust  int
	Companies    []string
	Tickers      []string
	People       []string
	Markets      []string
	Metrics      []string
}

// Extractor builds Events from an enriched News item.
type Extractor struct {
	maxEvents      int
	anchorEligible map[domain.EventType]bool
}

// New builds an Extractor. anchorEligible may be nil to use the default set.
func New(maxEvents int, anchorEligible map[domain.EventType]bool) *Extractor {
	if maxEvents <= 0 {
		maxEvents = 5
	}
	if anchorEligible == nil {
		anchorEligible = defaultAnchorEligible
	}
	return &Extractor{maxEvents: maxEvents, anchorEligible: anchorEligible}
}

// Extract returns 0..maxEvents Events, in first-match order (which doubles
// as ExtractionOrder for same-timestamp tie-breaking).
func (x *Extractor) Extract(in Input) []domain.Event {
	sentences := sentenceSplit.Split(in.Title+". "+in.Text, -1)

	seen := make(map[domain.EventType]bool, len(families))
	var out []domain.Event

	for _, fam := range families {
		if len(out) >= x.maxEvents {
			break
		}
		if seen[fam.eventType] {
			continue
		}
		title := firstMatchingSentence(sentences, fam.pattern)
		if title == "" {
			continue
		}
		seen[fam.eventType] = true

		confidence := 0.6
		if x.anchorEligible[fam.eventType] {
			confidence = 0.75
		}
		isAnchor := x.anchorEligible[fam.eventType] && confidence >= 0.7 && in.SourceTrust >= 7

		out = append(out, domain.Event{
			ID:     uuid.New(),
			NewsID: in.NewsID,
			Type:   fam.eventType,
			Title:  title,
			Ts:     in.PublishedAt,
			Attrs: domain.EventAttrs{
				Companies: in.Companies,
				Tickers:   in.Tickers,
				People:    in.People,
				Markets:   in.Markets,
				Metrics:   in.Metrics,
			},
			IsAnchor:        isAnchor,
			Confidence:      confidence,
			ExtractionOrder: len(out),
		})
	}
	return out
}

func firstMatchingSentence(sentences []string, pattern *regexp.Regexp) string {
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s != "" && pattern.MatchString(s) {
			return s
		}
	}
	return ""
}

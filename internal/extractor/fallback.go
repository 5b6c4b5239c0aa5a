package extractor

import (
	"context"
	"regexp"
	"strings"
)

// companyPattern matches a capitalised run of Cyrillic words as a crude
// organisation-name proxy; good enough for the conservative fallback this
// is, not for production-grade NER.
var companyPattern = regexp.MustCompile(`[А-ЯЁ][а-яё]+(?:\s+[А-ЯЁ][а-яё]+){0,2}`)

// eventKeyword pairs a Russian keyword with the event_type it implies; kept
// intentionally small since this fallback only needs to keep the pipeline
// moving when the real extractor is unavailable (spec.md §6.2: "A local
// fallback implementation MAY be substituted").
var eventKeywords = []struct {
	keyword   string
	eventType string
}{
	{"санкции", "sanctions"},
	{"повысил ставку", "rate_hike"},
	{"снизил ставку", "rate_cut"},
	{"прибыль", "earnings"},
	{"дивиденд", "dividends"},
	{"слияние", "mna"},
	{"поглощение", "mna"},
	{"банкрот", "default"},
}

// Fallback is a conservative, keyword-only local stand-in for the external
// extractor. It never raises urgency above Normal and always reports low
// confidence, so downstream stages treat its output cautiously.
type Fallback struct{}

func NewFallback() *Fallback { return &Fallback{} }

func (f *Fallback) Extract(_ context.Context, req Request) (Extraction, error) {
	lower := strings.ToLower(req.Title + "\n" + req.Text)

	var eventTypes []string
	for _, ek := range eventKeywords {
		if strings.Contains(lower, ek.keyword) {
			eventTypes = append(eventTypes, ek.eventType)
		}
	}

	companies := uniqueMatches(companyPattern.FindAllString(req.Title+" "+req.Text, -1))

	return Extraction{
		Companies:  companies,
		EventTypes: eventTypes,
		Urgency:    UrgencyNormal,
		Confidence: 0.3,
	}, nil
}

func uniqueMatches(matches []string) []string {
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Package classifier implements the deterministic Topic/Sector/Country/Type
// tagging of spec.md §4.6: keyword- and lexicon-driven, no external calls.
package classifier

import (
	"sort"
	"strings"

	"github.com/ceglabs/ceg/internal/domain"
)

// sectorKeywords maps a lowercase keyword to the ICB-like sector code it implies.
var sectorKeywords = map[string]string{
	"банк":       "financials",
	"кредит":     "financials",
	"нефт":       "energy",
	"газ":        "energy",
	"металл":     "materials",
	"сталь":      "materials",
	"ритейл":     "consumer",
	"телеком":    "telecom",
	"связь":      "telecom",
	"строитель":  "industrials",
}

// countryKeywords maps a lowercase keyword to the ISO-2 country code it implies.
var countryKeywords = map[string]string{
	"россии":   "RU",
	"российск": "RU",
	"сша":      "US",
	"америк":   "US",
	"китай":    "CN",
	"европ":    "EU",
}

// subtypeKeywords is evaluated in order; the first hit wins, matching the
// event extractor's own ordered-family-table idiom (spec.md §4.7).
var subtypeKeywords = []struct {
	keyword string
	subtype domain.NewsSubtype
}{
	{"санкции", domain.SubtypeSanctions},
	{"прогноз", domain.SubtypeGuidance},
	{"слияни", domain.SubtypeMnA},
	{"поглощени", domain.SubtypeMnA},
	{"дефолт", domain.SubtypeDefault},
	{"взлом", domain.SubtypeHack},
	{"суд", domain.SubtypeLegal},
	{"иск", domain.SubtypeLegal},
	{"esg", domain.SubtypeESG},
	{"поставк", domain.SubtypeSupplyChain},
	{"сбой", domain.SubtypeTechOutage},
	{"назначен", domain.SubtypeManagementChange},
	{"отставк", domain.SubtypeManagementChange},
	{"прибыль", domain.SubtypeEarnings},
	{"выручк", domain.SubtypeEarnings},
}

var secondaryTagKeywords = map[string]string{
	"дивиденд":  "dividends",
	"ии":        "ai",
	"искусственный интеллект": "ai",
	"квартал":   "quarterly",
}

// Input bundles what the classifier needs; callers assemble it from a News
// item's enrichment so far (entities, linked companies, language).
type Input struct {
	Title           string
	Text            string
	Lang            string
	LinkedIssuers   []domain.Issuer
	TitleMentionsOrg bool
}

// Classify produces the full taxonomy tagging for one news item.
func Classify(in Input) domain.Classification {
	lower := strings.ToLower(in.Title + "\n" + in.Text)

	sector := sectorFromIssuers(in.LinkedIssuers)
	if sector == "" {
		sector = firstMatch(lower, sectorKeywords)
	}

	country := countryFromLang(in.Lang)
	if c := firstMatch(lower, countryKeywords); c != "" {
		country = c
	}

	newsType := classifyNewsType(in)
	subtype := classifySubtype(lower)
	secondary := secondaryTags(lower)

	return domain.Classification{
		SectorCode:    sector,
		CountryCode:   country,
		NewsType:      newsType,
		NewsSubtype:   subtype,
		SecondaryTags: secondary,
	}
}

func sectorFromIssuers(issuers []domain.Issuer) string {
	for _, iss := range issuers {
		if iss.SectorID != nil && *iss.SectorID != "" {
			return *iss.SectorID
		}
	}
	return ""
}

func countryFromLang(lang string) string {
	if lang == "ru" {
		return "RU"
	}
	return ""
}

func classifyNewsType(in Input) domain.NewsType {
	switch {
	case len(in.LinkedIssuers) == 1:
		return domain.NewsTypeOneCompany
	case len(in.LinkedIssuers) > 1:
		return domain.NewsTypeMarket
	default:
		return domain.NewsTypeRegulatory
	}
}

func classifySubtype(lower string) domain.NewsSubtype {
	for _, sk := range subtypeKeywords {
		if strings.Contains(lower, sk.keyword) {
			return sk.subtype
		}
	}
	return domain.SubtypeOther
}

// secondaryTags returns up to 3 tags, sorted for determinism.
func secondaryTags(lower string) []string {
	var tags []string
	for kw, tag := range secondaryTagKeywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	if len(tags) > 3 {
		tags = tags[:3]
	}
	return tags
}

func firstMatch(lower string, table map[string]string) string {
	// Iteration order over a map is random in Go; sort keys first so the
	// result is deterministic regardless of which keyword matches the text.
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(lower, k) {
			return table[k]
		}
	}
	return ""
}

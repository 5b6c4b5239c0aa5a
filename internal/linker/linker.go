package linker

import (
	"context"
	"fmt"

	agnivade "github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
	"github.com/ceglabs/ceg/internal/secmaster"
)

// Linker resolves a free-text organisation mention to an Issuer, per
// spec.md §4.5.
type Linker struct {
	cache     *AliasCache
	secmaster secmaster.Client
	cfg       config.LinkerConfig
}

func New(cache *AliasCache, sm secmaster.Client, cfg config.LinkerConfig) *Linker {
	return &Linker{cache: cache, secmaster: sm, cfg: cfg}
}

// Resolution is the outcome of Resolve: either a LinkedCompany or unresolved.
type Resolution struct {
	Linked   domain.LinkedCompany
	Resolved bool
}

// Resolve implements spec.md §4.5 steps 1-5 for one organisation mention.
func (l *Linker) Resolve(ctx context.Context, newsID uuid.UUID, mention string, isInTitle bool) (Resolution, error) {
	normalized := Normalize(mention)
	if normalized == "" {
		return Resolution{}, nil
	}

	if alias, ok := l.cache.Lookup(normalized); ok {
		return Resolution{
			Resolved: true,
			Linked: domain.LinkedCompany{
				NewsID:    newsID,
				IssuerID:  alias.IssuerID,
				Method:    domain.LinkMethodAliasExact,
				Score:     100,
				IsPrimary: isInTitle,
			},
		}, nil
	}

	results, err := l.secmaster.Search(ctx, normalized)
	if err != nil {
		return Resolution{}, fmt.Errorf("linker: secmaster search: %w", err)
	}
	if len(results) == 0 {
		return Resolution{}, nil
	}

	best, bestScore := argmaxScore(normalized, results)
	if bestScore < l.cfg.AutoLearnThreshold {
		return Resolution{}, nil
	}

	issuerID, err := issuerIDOf(best)
	if err != nil {
		return Resolution{}, fmt.Errorf("linker: %w", err)
	}

	if err := l.cache.Learn(ctx, domain.Alias{
		NormalizedString: normalized,
		IssuerID:         issuerID,
		Origin:           domain.AliasLearned,
		Confidence:       bestScore / 120, // normalise against the max attainable score
	}); err != nil {
		return Resolution{}, fmt.Errorf("linker: learn alias: %w", err)
	}

	return Resolution{
		Resolved: true,
		Linked: domain.LinkedCompany{
			NewsID:    newsID,
			IssuerID:  issuerID,
			Method:    domain.LinkMethodAutoLearned,
			Score:     bestScore,
			IsPrimary: isInTitle,
		},
	}, nil
}

// argmaxScore implements spec.md §4.5 step 3's weighted scoring and
// tie-break (shorter name wins ties).
func argmaxScore(normalized string, results []secmaster.Result) (secmaster.Result, float64) {
	var best secmaster.Result
	bestScore := -1.0

	for _, r := range results {
		score := scoreResult(normalized, r)
		switch {
		case score > bestScore:
			best, bestScore = r, score
		case score == bestScore && len(candidateName(r)) < len(candidateName(best)):
			best = r
		}
	}
	return best, bestScore
}

func scoreResult(normalized string, r secmaster.Result) float64 {
	var score float64
	if nameSimilarity(normalized, candidateName(r)) >= 0.8 {
		score += 50
	}
	if r.IsTraded {
		score += 20
	}
	if r.Market == "equity" {
		score += 15
	}
	if isPrimaryBoard(r.Board) {
		score += 10
	}
	if r.ISIN != "" {
		score += 25
	}
	return score
}

func candidateName(r secmaster.Result) string {
	if r.ShortName != "" {
		return r.ShortName
	}
	return r.Name
}

func isPrimaryBoard(board string) bool {
	switch board {
	case "TQBR", "主板", "primary":
		return true
	default:
		return false
	}
}

// nameSimilarity returns a 0..1 similarity ratio derived from normalised
// Levenshtein distance (agnivade/levenshtein, already present in the
// example pack's dependency surface for fuzzy string comparison).
func nameSimilarity(a, b string) float64 {
	a, b = Normalize(a), Normalize(b)
	if a == "" && b == "" {
		return 1
	}
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	dist := agnivade.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func issuerIDOf(r secmaster.Result) (uuid.UUID, error) {
	id, err := uuid.Parse(r.SecID)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("parse secid %q: %w", r.SecID, err)
	}
	return id, nil
}

// Package antispam implements the rule-weighted ad/promo scorer of
// spec.md §4.2: a stateless function from a RawNews + rule set to a score,
// a pass/fail decision, and the ordered list of rules that fired.
package antispam

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/ceglabs/ceg/internal/config"
	"github.com/ceglabs/ceg/internal/domain"
)

const (
	kindHashtag    = "hashtag"
	kindKeyword    = "keyword"
	kindURLShape   = "url_shape"
	kindStructural = "structural"
)

// Decision is the outcome of scoring one RawNews item.
type Decision struct {
	Score     float64
	IsAd      bool
	AdReasons []string // fired rule ids, deterministic order
}

// Scorer evaluates RawNews against a configured rule set.
type Scorer struct {
	cfg          config.AntispamConfig
	whitelist    map[string]struct{}
	compiled     map[string]*regexp.Regexp
	urlPattern   *regexp.Regexp
}

// New builds a Scorer, pre-compiling every regex-kind rule once.
func New(cfg config.AntispamConfig) *Scorer {
	whitelist := make(map[string]struct{}, len(cfg.WhitelistDomains))
	for _, d := range cfg.WhitelistDomains {
		whitelist[strings.ToLower(d)] = struct{}{}
	}

	compiled := make(map[string]*regexp.Regexp)
	for _, r := range cfg.Rules {
		if r.Kind == kindKeyword || r.Kind == kindHashtag {
			if re, err := regexp.Compile("(?i)" + r.Pattern); err == nil {
				compiled[r.ID] = re
			}
		}
	}

	return &Scorer{
		cfg:        cfg,
		whitelist:  whitelist,
		compiled:   compiled,
		urlPattern: regexp.MustCompile(`https?://[^\s]+`),
	}
}

// Score evaluates raw against every configured rule and returns the
// combined decision for a source of the given trust level.
func (s *Scorer) Score(raw domain.RawNews, trustLevel int) Decision {
	text := raw.Title + "\n" + raw.Text
	urls := s.urlPattern.FindAllString(text, -1)
	whitelisted := s.anyWhitelisted(urls)

	type fired struct {
		id     string
		weight float64
	}
	var hits []fired

	for _, r := range s.cfg.Rules {
		switch r.Kind {
		case kindHashtag, kindKeyword:
			re, ok := s.compiled[r.ID]
			if ok && re.MatchString(text) {
				hits = append(hits, fired{r.ID, r.Weight})
			}
		case kindURLShape:
			if whitelisted {
				continue
			}
			if s.urlShapeMatches(r.Pattern, urls, raw) {
				hits = append(hits, fired{r.ID, r.Weight})
			}
		case kindStructural:
			if s.structuralMatches(r.Pattern, raw, urls) {
				hits = append(hits, fired{r.ID, r.Weight})
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].id < hits[j].id })

	var score float64
	reasons := make([]string, 0, len(hits))
	for _, h := range hits {
		score += h.weight
		reasons = append(reasons, h.id)
	}

	threshold := s.cfg.Threshold(trustLevel)
	return Decision{Score: score, IsAd: score >= threshold, AdReasons: reasons}
}

func (s *Scorer) anyWhitelisted(urls []string) bool {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if _, ok := s.whitelist[strings.ToLower(u.Hostname())]; ok {
			return true
		}
	}
	return false
}

// urlShapeMatches interprets Pattern as a comma-separated list of tracker
// query params, known shortener hosts, or denied TLDs, per spec.md §4.2.
func (s *Scorer) urlShapeMatches(pattern string, urls []string, raw domain.RawNews) bool {
	needles := strings.Split(pattern, ",")
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		for _, n := range needles {
			n = strings.TrimSpace(strings.ToLower(n))
			if n == "" {
				continue
			}
			if strings.Contains(u.RawQuery, n) ||
				strings.Contains(strings.ToLower(u.Hostname()), n) ||
				strings.HasSuffix(strings.ToLower(u.Hostname()), n) {
				return true
			}
		}
	}
	return false
}

// structuralMatches checks heuristics like link count, forward indicators,
// and title-to-link ratio. Pattern selects which heuristic: "link_count>N",
// "forward_indicator", or "title_link_ratio<N".
func (s *Scorer) structuralMatches(pattern string, raw domain.RawNews, urls []string) bool {
	switch {
	case strings.HasPrefix(pattern, "link_count>"):
		n := parseIntSuffix(pattern, "link_count>")
		return len(urls) > n
	case pattern == "forward_indicator":
		lower := strings.ToLower(raw.Text)
		return strings.Contains(lower, "forwarded from") || strings.Contains(raw.RawMeta["forward"], "true")
	case strings.HasPrefix(pattern, "title_link_ratio<"):
		n := parseFloatSuffix(pattern, "title_link_ratio<")
		if len(urls) == 0 {
			return false
		}
		ratio := float64(len(raw.Title)) / float64(len(urls))
		return ratio < n
	default:
		return false
	}
}

func parseIntSuffix(s, prefix string) int {
	var n int
	rest := strings.TrimPrefix(s, prefix)
	for _, c := range rest {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func parseFloatSuffix(s, prefix string) float64 {
	rest := strings.TrimPrefix(s, prefix)
	var whole, frac float64
	var fracDiv float64 = 1
	seenDot := false
	for _, c := range rest {
		if c == '.' {
			seenDot = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		if seenDot {
			fracDiv *= 10
			frac = frac*10 + float64(c-'0')
		} else {
			whole = whole*10 + float64(c-'0')
		}
	}
	return whole + frac/fracDiv
}

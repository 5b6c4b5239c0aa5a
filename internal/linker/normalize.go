package linker

import (
	"regexp"
	"strings"
)

// legalFormSuffixes are stripped before comparison; covers the common
// Russian and Latin legal-form markers that precede or follow a company's
// distinctive name.
var legalFormSuffixes = []string{
	"пао", "оао", "зао", "ооо", "нпф", "ао",
	"plc", "ltd", "inc", "llc", "corp", "co",
}

var punctuation = regexp.MustCompile(`['"«»“”.,()]+`)
var whitespace = regexp.MustCompile(`\s+`)

// Normalize lower-cases, folds quotes, strips punctuation and legal-form
// tokens, and collapses whitespace, per spec.md §4.5 step 1.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = punctuation.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	tokens := strings.Split(s, " ")
	out := tokens[:0]
	for _, t := range tokens {
		if isLegalForm(t) {
			continue
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

func isLegalForm(token string) bool {
	for _, suffix := range legalFormSuffixes {
		if token == suffix {
			return true
		}
	}
	return false
}

package ceg

import "strings"

// connectorWeight pairs a causal-connector phrase with its evidentiary
// weight; conf_text is the max weight of any marker present in either
// event's source text, per spec.md §4.8.
var connectorWeight = []struct {
	marker string
	weight float64
}{
	{"привело к", 0.9},
	{"в результате", 0.85},
	{"из-за", 0.8},
	{"вследствие", 0.8},
	{"на фоне", 0.6},
	{"после", 0.5},
	{"resulted in", 0.9},
	{"as a result of", 0.85},
	{"due to", 0.8},
	{"following", 0.6},
	{"after", 0.5},
	{"because of", 0.8},
}

// confText returns the strongest connector weight found in either text,
// plus the matched marker for the edge's evidence_set.
func confText(causeText, effectText string) (float64, string) {
	combined := strings.ToLower(causeText + "\n" + effectText)

	var best float64
	var bestMarker string
	for _, c := range connectorWeight {
		if strings.Contains(combined, c.marker) && c.weight > best {
			best = c.weight
			bestMarker = c.marker
		}
	}
	return best, bestMarker
}

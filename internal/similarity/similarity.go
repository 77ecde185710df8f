// Package similarity scores near-duplicate text. The gateway, extraction
// pipeline and consolidation engine all use the same score so "duplicate"
// means one thing across the system.
package similarity

import "strings"

// DefaultThreshold is the score at or above which two memory contents are
// treated as the same memory.
const DefaultThreshold = 0.85

// Score returns the overlap coefficient over lowercase token sets, in
// [0,1]: shared tokens divided by the smaller set. Containment counts as a
// full match, so "likes coffee" scores 1 against "likes coffee in the
// morning". Word order is ignored.
func Score(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		if len(ta) == 0 && len(tb) == 0 {
			return 1
		}
		return 0
	}

	common := 0
	for t := range ta {
		if tb[t] {
			common++
		}
	}
	return float64(common) / float64(min(len(ta), len(tb)))
}

// Similar reports whether the score meets the threshold. A non-positive
// threshold falls back to DefaultThreshold.
func Similar(a, b string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Score(a, b) >= threshold
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		// Single characters ("a", "I") carry no signal for dedupe.
		if len(f) >= 2 {
			out[f] = true
		}
	}
	return out
}

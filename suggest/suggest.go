// Package suggest finds close matches for misspelled names, such as resource
// kinds in a seed spec.
package suggest

import "github.com/agext/levenshtein"

// String returns the candidate closest to want. Up to one in five characters
// may differ, and at least one. Ties go to the candidate listed first.
//
// If want is a candidate, it is returned as is. If no candidate is close
// enough, an empty string is returned.
func String(want string, candidates []string) string {
	maxDist := len(want) / 5
	if maxDist == 0 {
		maxDist = 1
	}

	best, bestDist := "", maxDist+1
	for _, cand := range candidates {
		if cand == want {
			return want
		}
		if d := levenshtein.Distance(want, cand, nil); d < bestDist {
			best, bestDist = cand, d
		}
	}
	return best
}

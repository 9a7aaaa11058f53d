// Package suggest surfaces previously answered response-bank entries that
// resemble a newly drafted follow-up question, to cut duplicate authoring.
package suggest

import (
	"sort"
	"strings"

	"vestira/api/internal/store"
)

const (
	// threshold is the minimum Jaccard similarity for a candidate to
	// surface. Strictly greater-than: a 0.3 score is excluded.
	threshold = 0.3
	// maxSuggestions caps how many candidates are returned.
	maxSuggestions = 3
)

// Suggestion pairs a response-bank entry with its similarity to the query.
type Suggestion struct {
	Entry      store.ResponseBankEntry `json:"entry"`
	Similarity float64                 `json:"similarity"`
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, token := range strings.Fields(strings.ToLower(text)) {
		set[token] = struct{}{}
	}
	return set
}

// Jaccard computes token-set overlap between two strings: tokens are
// whitespace-split and lower-cased; the score is intersection size over
// union size. An empty union scores 0, never NaN.
func Jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	intersection := 0
	for token := range setA {
		if _, ok := setB[token]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// Rank scores entries against the query question text, keeps those above the
// threshold, and returns at most maxSuggestions ordered by descending
// similarity. Ties keep the original bank order (stable sort).
func Rank(query string, entries []store.ResponseBankEntry) []Suggestion {
	suggestions := make([]Suggestion, 0)
	for _, entry := range entries {
		similarity := Jaccard(query, entry.Question)
		if similarity > threshold {
			suggestions = append(suggestions, Suggestion{Entry: entry, Similarity: similarity})
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Similarity > suggestions[j].Similarity
	})

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

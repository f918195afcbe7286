package contextbuilder

import "strings"

// hasTopicDrifted reports whether query has drifted from the
// previously cached narrative, using Jaccard overlap over lowercased
// word tokens: below threshold counts as drift, and an empty cached
// narrative always counts as drift (there is nothing to reuse).
func hasTopicDrifted(query, cachedNarrative string, threshold float64) bool {
	if strings.TrimSpace(cachedNarrative) == "" {
		return true
	}
	a := tokenSet(query)
	b := tokenSet(cachedNarrative)
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	return jaccard(a, b) < threshold
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f == "" {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

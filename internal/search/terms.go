package search

import (
	"regexp"
	"strings"
)

// DefaultMaxResults is the number of results kept per group and provider.
const DefaultMaxResults = 5

// SpecialPrefix marks provider results that are pinned or secondary. They
// are limited separately from normal results.
const SpecialPrefix = "special:"

var whitespace = regexp.MustCompile(`\s+`)

// SplitTerms trims text and splits it on runs of whitespace. Blank text
// yields no terms.
func SplitTerms(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return whitespace.Split(text, -1)
}

// TermsEqual reports whether a and b hold the same terms in the same order.
// A nil and an empty slice are equal.
func TermsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LimitResults keeps at most limit normal ids followed by at most limit
// special ids, preserving the order within each group.
func LimitResults(ids []string, limit int) []string {
	if limit < 0 {
		limit = 0
	}
	normal := make([]string, 0, limit)
	special := make([]string, 0, limit)
	for _, id := range ids {
		if strings.HasPrefix(id, SpecialPrefix) {
			if len(special) < limit {
				special = append(special, id)
			}
			continue
		}
		if len(normal) < limit {
			normal = append(normal, id)
		}
	}
	return append(normal, special...)
}

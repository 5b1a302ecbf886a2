package search

import "strings"

// Terms splits query into lower-cased whitespace-delimited terms.
func Terms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// LexicalScore counts how many query terms occur as substrings of
// haystack. haystack is expected to be lower-cased already (see
// domain.CatalogItem.SearchText).
func LexicalScore(terms []string, haystack string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			n++
		}
	}
	return n
}

// ContainsQuery reports whether the whole trimmed, lower-cased query is a
// substring of haystack. An empty query never matches.
func ContainsQuery(query, haystack string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false
	}
	return strings.Contains(haystack, q)
}

// Package match resolves a free-text reference to one stored entity.
package match

import "strings"

// CandidateLimit is the number of stored entities fetched for a lookup.
const CandidateLimit = 50

// Titled is anything that can be matched by title.
type Titled interface {
	MatchTitle() string
}

// Find returns the first candidate, in fetch order, whose title contains the
// query or is contained by it, ignoring case. There is no ranking: "Fix bug"
// and "Fix bug in login" both match "fix bug", and whichever was fetched
// first wins.
func Find[T Titled](candidates []T, query string) (T, bool) {
	var zero T
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return zero, false
	}
	for _, c := range candidates {
		title := strings.ToLower(strings.TrimSpace(c.MatchTitle()))
		if title == "" {
			continue
		}
		if strings.Contains(title, q) || strings.Contains(q, title) {
			return c, true
		}
	}
	return zero, false
}

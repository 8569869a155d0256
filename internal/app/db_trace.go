package app

import (
	"regexp"
	"strings"
)

const maxTracedQueryLength = 512

var (
	queryWhitespaceRegex = regexp.MustCompile(`\s+`)
	// Matches four or more consecutive bind placeholders, as produced by
	// multi-row award inserts and IN lists.
	placeholderRunRegex = regexp.MustCompile(`\$(\d+)(?:\s*,\s*\$\d+){2,}\s*,\s*\$(\d+)`)
)

// formatDBQueryForTrace keeps db.statement attributes short and stable:
// whitespace is collapsed, long placeholder runs are folded to "$first...$last"
// and the result is capped at maxTracedQueryLength.
func formatDBQueryForTrace(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return query
	}

	normalized := queryWhitespaceRegex.ReplaceAllString(query, " ")
	normalized = placeholderRunRegex.ReplaceAllString(normalized, "$$$1...$$$2")
	if len(normalized) <= maxTracedQueryLength {
		return normalized
	}

	return normalized[:maxTracedQueryLength] + "..."
}

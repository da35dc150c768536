// Package utils holds small helpers shared across layers: query-parameter
// parsing for the session-listing endpoint and coarse User-Agent bucketing
// for analytics enrichment.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def for empty or unparseable
// input. Query parameters like ?page=garbage degrade to the default instead
// of erroring.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

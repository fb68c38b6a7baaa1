package sql

import (
	"regexp"
	"strconv"
)

// DefaultRowLimit bounds result sets when the caller does not choose a limit.
const DefaultRowLimit = 100

var (
	rowLimitClause = regexp.MustCompile(`(?i)(?:^|\s)(?:TOP|OFFSET|FETCH)(?:\s|$)`)
	selectKeyword  = regexp.MustCompile(`(?i)^\s*SELECT`)
)

// HasRowLimit reports whether the statement already contains a
// whitespace-bounded TOP, OFFSET or FETCH.
func HasRowLimit(query string) bool {
	return rowLimitClause.MatchString(query)
}

// EnforceLimit inserts "TOP n" right after the leading SELECT of a statement
// that has no row limit yet. Every other byte is preserved, and non-SELECT
// text is returned unchanged. The transform is idempotent: its own insertion
// is a whitespace-bounded TOP.
func EnforceLimit(query string, n int) string {
	if n <= 0 {
		n = DefaultRowLimit
	}
	loc := selectKeyword.FindStringIndex(query)
	if loc == nil || HasRowLimit(query) {
		return query
	}
	end := loc[1]
	if end < len(query) && isIdentByte(query[end]) {
		// SELECTED, SELECT_x and friends are not the SELECT keyword.
		return query
	}

	clause := " TOP " + strconv.Itoa(n)
	if end == len(query) || !isSpace(query[end]) {
		clause += " "
	}
	return query[:end] + clause + query[end:]
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

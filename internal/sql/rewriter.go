package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Dialect identifies how a store spells row limits and quoted identifiers.
type Dialect string

const (
	// DialectTSQL is SQL Server: TOP n and [bracket] identifiers. Statements
	// pass through unchanged.
	DialectTSQL Dialect = "tsql"
	// DialectANSI covers DuckDB, PostgreSQL, Trino and Snowflake: LIMIT n
	// and "double quoted" identifiers.
	DialectANSI Dialect = "ansi"
)

// DialectRewriter translates the T-SQL statements the pipeline produces into
// the dialect of the configured store.
type DialectRewriter struct {
	dialect Dialect
}

// NewDialectRewriter creates a rewriter for the given dialect.
func NewDialectRewriter(d Dialect) *DialectRewriter {
	return &DialectRewriter{dialect: d}
}

// Dialect returns the target dialect.
func (r *DialectRewriter) Dialect() Dialect {
	return r.dialect
}

var leadingTop = regexp.MustCompile(`(?i)^(\s*SELECT\s+)(DISTINCT\s+)?TOP\s*(?:\(\s*(\d+)\s*\)|(\d+))(\s+PERCENT|\s+WITH\s+TIES)?\s+`)

// Rewrite returns the statement in the target dialect. A leading TOP n
// becomes an outer LIMIT over the original statement, so ORDER BY and
// DISTINCT keep their meaning.
func (r *DialectRewriter) Rewrite(query string) (string, error) {
	if r.dialect == DialectTSQL || r.dialect == "" {
		return query, nil
	}

	s := strings.TrimSpace(query)
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	s = quoteBracketIdents(s)

	m := leadingTop.FindStringSubmatch(s)
	if m == nil {
		return s, nil
	}
	if m[5] != "" {
		return "", errors.NewMalformedSQL(query,
			fmt.Sprintf("TOP ...%s has no %s equivalent", strings.ToUpper(strings.TrimSpace(m[5])), r.dialect))
	}
	n := m[3]
	if n == "" {
		n = m[4]
	}
	inner := m[1] + m[2] + s[len(m[0]):]
	return fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %s", inner, n), nil
}

// quoteBracketIdents turns [name] into "name". Quoted text is copied as is,
// so LIKE '[A-C]%' keeps its character class.
func quoteBracketIdents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		switch s[i] {
		case '\'', '"':
			end := closingQuote(s, i)
			b.WriteString(s[i:end])
			i = end
		case '[':
			n := strings.IndexByte(s[i+1:], ']')
			if n <= 0 {
				b.WriteByte('[')
				i++
				continue
			}
			b.WriteString(`"` + strings.ReplaceAll(s[i+1:i+1+n], `"`, `""`) + `"`)
			i += n + 2
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

// closingQuote returns the index just past the quote that closes the one at
// start. A doubled quote is an escape. Unterminated text runs to the end.
func closingQuote(s string, start int) int {
	q := s[start]
	for j := start + 1; j < len(s); j++ {
		if s[j] != q {
			continue
		}
		if j+1 < len(s) && s[j+1] == q {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

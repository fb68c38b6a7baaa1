package sql

import (
	"regexp"
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Statement is the static analysis of a candidate statement.
type Statement struct {
	// RawSQL is the statement as given.
	RawSQL string

	// IsSelect reports whether the statement begins with SELECT.
	IsSelect bool

	// Tables are the table references after FROM and JOIN, brackets
	// stripped, in first-seen order without duplicates.
	Tables []string

	// HasRowLimit reports a whitespace-bounded TOP, OFFSET or FETCH.
	HasRowLimit bool

	// FromAST is true when Tables came from a full parse rather than the
	// FROM/JOIN scan.
	FromAST bool
}

// Analyze inspects a statement without executing or rewriting it.
func Analyze(query string) *Statement {
	tables, fromAST := extractTables(query)
	return &Statement{
		RawSQL:      query,
		IsSelect:    leadingSelect.MatchString(query),
		Tables:      tables,
		HasRowLimit: HasRowLimit(query),
		FromAST:     fromAST,
	}
}

// ExtractTables returns the tables referenced after FROM and JOIN.
func ExtractTables(query string) []string {
	tables, _ := extractTables(query)
	return tables
}

func extractTables(query string) ([]string, bool) {
	if tables, ok := extractTablesAST(query); ok {
		return tables, true
	}
	return extractTablesScan(query), false
}

var (
	// T-SQL constructs the MySQL-flavoured parser does not accept.
	topClause       = regexp.MustCompile(`(?i)^(\s*SELECT\s+(?:DISTINCT\s+)?)TOP\s*(?:\(\s*\d+\s*\)|\d+)(?:\s+PERCENT)?(?:\s+WITH\s+TIES)?\s+`)
	bracketIdent    = regexp.MustCompile(`\[([^\]]+)\]`)
	trailingSemi    = regexp.MustCompile(`;\s*$`)
	unicodeLiteral  = regexp.MustCompile(`(?i)\bN'`)
	fromJoinPattern = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+((?:\[[^\]]+\]|[A-Za-z0-9_#@$]+)(?:\s*\.\s*(?:\[[^\]]+\]|[A-Za-z0-9_#@$]+))*)`)
)

// normalizeForParser rewrites T-SQL spellings into forms sqlparser accepts.
// The result is only used for analysis, never executed.
func normalizeForParser(query string) string {
	s := topClause.ReplaceAllString(query, "$1")
	s = bracketIdent.ReplaceAllString(s, "`$1`")
	s = unicodeLiteral.ReplaceAllString(s, "'")
	return trailingSemi.ReplaceAllString(s, "")
}

func extractTablesAST(query string) ([]string, bool) {
	stmt, err := sqlparser.Parse(normalizeForParser(query))
	if err != nil {
		return nil, false
	}
	var tables []string
	seen := map[string]bool{}
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		aliased, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		name, ok := aliased.Expr.(sqlparser.TableName)
		if !ok || name.Name.IsEmpty() {
			return true, nil
		}
		full := name.Name.String()
		if !name.Qualifier.IsEmpty() {
			full = name.Qualifier.String() + "." + full
		}
		if !seen[full] {
			seen[full] = true
			tables = append(tables, full)
		}
		return true, nil
	}, stmt)
	return tables, true
}

func extractTablesScan(query string) []string {
	var tables []string
	seen := map[string]bool{}
	for _, m := range fromJoinPattern.FindAllStringSubmatch(query, -1) {
		name := stripBrackets(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		tables = append(tables, name)
	}
	return tables
}

// stripBrackets removes T-SQL brackets and whitespace around dots:
// "[dbo] . [client]" becomes "dbo.client".
func stripBrackets(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), "[]")
	}
	return strings.Join(parts, ".")
}

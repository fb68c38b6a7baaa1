package grounding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/canonica-labs/groundsql/internal/schema"
)

// MaxTables caps how many tables a grounding result may carry.
const MaxTables = 5

// NoMatchedColumnsMarker replaces the column list of a selected table whose
// name matched but none of whose columns did.
const NoMatchedColumnsMarker = "(no confidently matched columns)"

// AbstentionMessage is shown to the user when nothing in the schema matches.
const AbstentionMessage = "No confident schema match was found for this question. " +
	"Rephrase it using table or column names from the schema."

// Result is the grounded subset of a snapshot.
type Result struct {
	MatchedTables  []string                   `json:"matched_tables"`
	MatchedColumns map[string][]schema.Column `json:"matched_columns"`
	Scores         map[string]int             `json:"scores,omitempty"`
	// Abstained is true exactly when MatchedTables is empty.
	Abstained bool `json:"abstained"`
}

// Matcher scores snapshot tables against a question.
type Matcher struct {
	maxTables int
}

// NewMatcher creates a matcher keeping at most maxTables tables. Values
// outside 1..MaxTables select MaxTables.
func NewMatcher(maxTables int) *Matcher {
	if maxTables <= 0 || maxTables > MaxTables {
		maxTables = MaxTables
	}
	return &Matcher{maxTables: maxTables}
}

type candidate struct {
	table   string
	order   int
	score   int
	columns []schema.Column
}

// Match grounds question against snap. A nil snapshot abstains.
func (m *Matcher) Match(question string, snap *schema.Snapshot) Result {
	res := Result{
		MatchedTables:  []string{},
		MatchedColumns: map[string][]schema.Column{},
		Scores:         map[string]int{},
	}
	q := Tokenize(question)
	if snap == nil || len(q) == 0 {
		res.Abstained = true
		return res
	}

	var cands []candidate
	for i, t := range snap.Tables() {
		score := q.Overlap(Tokenize(t.Name))
		var matched []schema.Column
		for _, c := range t.Columns {
			if q.Intersects(Tokenize(c.Name)) {
				matched = append(matched, c)
			}
		}
		score += len(matched)
		if score == 0 {
			continue
		}
		cands = append(cands, candidate{table: t.Name, order: i, score: score, columns: matched})
	}

	// SliceStable keeps snapshot order among equal scores.
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
	if len(cands) > m.maxTables {
		cands = cands[:m.maxTables]
	}

	for _, c := range cands {
		res.MatchedTables = append(res.MatchedTables, c.table)
		cols := c.columns
		if cols == nil {
			cols = []schema.Column{}
		}
		res.MatchedColumns[c.table] = cols
		res.Scores[c.table] = c.score
	}
	res.Abstained = len(res.MatchedTables) == 0
	return res
}

// Context renders the grounded schema handed to synthesis. Only matched
// columns appear; a table without any carries NoMatchedColumnsMarker.
func (r Result) Context() string {
	if r.Abstained {
		return ""
	}
	var b strings.Builder
	for i, table := range r.MatchedTables {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "### Table: %s\nColumns:\n", table)
		cols := r.MatchedColumns[table]
		if len(cols) == 0 {
			fmt.Fprintf(&b, "  %s\n", NoMatchedColumnsMarker)
			continue
		}
		for _, c := range cols {
			b.WriteString("  - ")
			b.WriteString(c.Name)
			if c.DataType != "" {
				fmt.Fprintf(&b, " (%s)", c.DataType)
			}
			if c.Nullable {
				b.WriteString(" NULL\n")
			} else {
				b.WriteString(" NOT NULL\n")
			}
		}
	}
	return b.String()
}

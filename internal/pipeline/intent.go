package pipeline

import (
	"bufio"
	"strings"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// DefaultIntent is used when the oracle reply carries no usable intent.
const DefaultIntent = "unknown"

// Reply line prefixes of the intent grammar.
const (
	prefixIntent   = "Intent:"
	prefixEntities = "Entities:"
	prefixTables   = "Tables Likely Needed:"
)

// Intent is the parsed intent-stage reply.
type Intent struct {
	Intent   string
	Entities []string
	Tables   []string
}

// ParseIntent reads an intent reply:
//
//	Intent: <intent>
//	Entities: <comma separated>
//	Tables Likely Needed: <comma separated>
//
// Lines are trimmed; prefixes are case-sensitive; other lines are ignored
// and a repeated prefix overrides the earlier line. The returned Intent
// always holds usable defaults. The error is non-nil when the Intent line is
// missing or empty, and callers record it instead of dropping it.
func ParseIntent(text string) (Intent, error) {
	out := Intent{Intent: DefaultIntent, Entities: []string{}, Tables: []string{}}
	sawIntent := false

	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, prefixIntent):
			if v := strings.TrimSpace(strings.TrimPrefix(line, prefixIntent)); v != "" {
				out.Intent = v
				sawIntent = true
			}
		case strings.HasPrefix(line, prefixEntities):
			out.Entities = splitList(strings.TrimPrefix(line, prefixEntities))
		case strings.HasPrefix(line, prefixTables):
			out.Tables = splitList(strings.TrimPrefix(line, prefixTables))
		}
	}
	if err := sc.Err(); err != nil {
		return out, errors.Wrap(err, "intent: read reply")
	}
	if !sawIntent {
		return out, errors.Newf("intent: reply has no %q line", prefixIntent)
	}
	return out, nil
}

func splitList(s string) []string {
	items := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			items = append(items, p)
		}
	}
	return items
}

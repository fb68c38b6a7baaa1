// Package grounding restricts the schema shown to SQL synthesis to the tables
// and columns a question plausibly references.
//
// Scoring is deliberately plain token overlap. An empty match is an
// abstention, never an invitation to send the whole schema.
package grounding

import (
	"regexp"
	"strings"
)

// Stopwords never count towards a match.
var Stopwords = map[string]struct{}{
	"show": {}, "list": {}, "get": {}, "find": {}, "all": {}, "the": {}, "me": {},
	"for": {}, "with": {}, "in": {}, "of": {}, "and": {}, "top": {},
}

var wordRun = regexp.MustCompile(`[a-z0-9_]+`)

// TokenSet is a set of lower-case tokens.
type TokenSet map[string]struct{}

// Tokenize lower-cases text, extracts runs of [a-z0-9_] and drops stopwords.
func Tokenize(text string) TokenSet {
	set := TokenSet{}
	for _, tok := range wordRun.FindAllString(strings.ToLower(text), -1) {
		if _, stop := Stopwords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// Overlap counts the tokens present in both sets.
func (s TokenSet) Overlap(other TokenSet) int {
	small, large := s, other
	if len(small) > len(large) {
		small, large = large, small
	}
	n := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			n++
		}
	}
	return n
}

// Intersects reports whether the sets share at least one token.
func (s TokenSet) Intersects(other TokenSet) bool {
	return s.Overlap(other) > 0
}

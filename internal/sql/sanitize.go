package sql

import (
	"regexp"
	"strings"
)

const fence = "```"

// ExtractFenced returns the contents of the first fenced code block in text,
// with any language tag on the opening line dropped. Text without a fence is
// returned trimmed. An unterminated fence yields everything after it.
func ExtractFenced(text string) string {
	start := strings.Index(text, fence)
	if start < 0 {
		return strings.TrimSpace(text)
	}
	body := text[start+len(fence):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isLanguageTag(body[:nl]) {
		body = body[nl+1:]
	}
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// isLanguageTag reports whether the rest of an opening fence line is a
// language hint such as "sql" or "tsql" rather than SQL text.
func isLanguageTag(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	for _, r := range line {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return !strings.EqualFold(line, "select") && !strings.EqualFold(line, "with")
}

var (
	lineComment  = regexp.MustCompile(`(?m)--.*$`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// StripComments removes -- line comments and /* */ block comments and trims
// the result. Comment markers inside string literals are not special-cased.
func StripComments(query string) string {
	query = blockComment.ReplaceAllString(query, "")
	query = lineComment.ReplaceAllString(query, "")
	return strings.TrimSpace(query)
}

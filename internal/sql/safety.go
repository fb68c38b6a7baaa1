// Package sql holds the deterministic SQL gate between the text oracle and the
// relational store: safety validation, table extraction, row-limit
// enforcement, comment stripping and dialect rewriting.
//
// Nothing here talks to a database or an oracle. Every function is a pure
// text transform or a pure check, so the gate cannot be talked out of a
// decision.
package sql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// ForbiddenKeywords are rejected anywhere in a statement, matched on word
// boundaries, case-insensitively. Order matters: the first listed keyword
// present is the one reported.
var ForbiddenKeywords = []string{
	"DROP", "DELETE", "TRUNCATE", "ALTER", "CREATE", "INSERT",
	"UPDATE", "EXEC", "EXECUTE", "GRANT", "REVOKE",
}

// MinStatementLength is the shortest statement the validator accepts.
const MinStatementLength = 10

// Validation messages.
const (
	MsgMultipleStatements = "Multiple SQL statements not allowed"
	MsgOnlySelect         = "Only SELECT queries are allowed"
	MsgTooShort           = "Query is too short or empty"
	msgKeywordFmt         = "Query contains dangerous keyword: %s"
	msgValidFmt           = "Query is valid. Tables used: %s"
)

// ValidationResult is the outcome of Validator.Validate.
type ValidationResult struct {
	IsValid bool
	Message string
	// TablesUsed is populated only for accepted statements.
	TablesUsed []string
	// RequiresHumanApproval is true exactly when the statement is accepted.
	RequiresHumanApproval bool
	// Violation is set for rejected statements.
	Violation *errors.ErrSafetyViolation
}

// Validator applies the safety rules in a fixed order; the first violation wins.
type Validator struct {
	keywords []keywordRule
	minLen   int
}

type keywordRule struct {
	word    string
	pattern *regexp.Regexp
}

// NewValidator creates a validator with the standard keyword list.
func NewValidator() *Validator {
	v := &Validator{minLen: MinStatementLength}
	for _, kw := range ForbiddenKeywords {
		v.keywords = append(v.keywords, keywordRule{
			word:    kw,
			pattern: regexp.MustCompile(`(?i)\b` + kw + `\b`),
		})
	}
	return v
}

var leadingSelect = regexp.MustCompile(`(?i)^\s*SELECT\b`)

// Validate checks a candidate statement. It never returns an error: a
// rejection is a normal outcome carried in the result.
func (v *Validator) Validate(query string) ValidationResult {
	for _, kw := range v.keywords {
		if kw.pattern.MatchString(query) {
			return reject(errors.RuleForbiddenKeyword, kw.word, query, fmt.Sprintf(msgKeywordFmt, kw.word))
		}
	}

	trimmed := strings.TrimSpace(query)
	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return reject(errors.RuleMultiStatement, "", query, MsgMultipleStatements)
	}

	if !leadingSelect.MatchString(query) {
		return reject(errors.RuleNotSelect, "", query, MsgOnlySelect)
	}

	if len(trimmed) < v.minLen {
		return reject(errors.RuleTooShort, "", query, MsgTooShort)
	}

	tables := ExtractTables(query)
	return ValidationResult{
		IsValid:               true,
		Message:               fmt.Sprintf(msgValidFmt, strings.Join(tables, ", ")),
		TablesUsed:            tables,
		RequiresHumanApproval: true,
	}
}

func reject(rule errors.SafetyRule, keyword, query, message string) ValidationResult {
	return ValidationResult{
		IsValid:   false,
		Message:   message,
		Violation: errors.NewSafetyViolation(rule, keyword, query, message),
	}
}

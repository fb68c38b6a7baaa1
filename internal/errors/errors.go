// Package errors provides explicit, human-readable error types for groundsql.
// Every error carries a Reason and a Suggestion so the operator can act on it.
//
// The taxonomy mirrors the pipeline: grounding and sentinel abstentions,
// safety violations, execution and formatting failures, oracle failures and
// schema source failures. Missing configuration is the only fatal error.
package errors

import (
	"fmt"
	"strings"
)

// GroundError is the base error type for all groundsql errors.
type GroundError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode represents the category of error for exit code mapping.
type ErrorCode int

const (
	CodeValidation ErrorCode = 1
	CodeAuth       ErrorCode = 2
	CodeUpstream   ErrorCode = 3
	CodeInternal   ErrorCode = 4
)

func (e *GroundError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *GroundError) Unwrap() error {
	return e.Cause
}

// CodeOf returns the error code carried by err, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var ge interface{ code() ErrorCode }
	if As(err, &ge) {
		return ge.code()
	}
	return CodeInternal
}

func (e *GroundError) code() ErrorCode { return e.Code }

// Details returns the base error carried by err, for rendering Message,
// Reason and Suggestion separately.
func Details(err error) (*GroundError, bool) {
	var ge interface{ base() *GroundError }
	if As(err, &ge) {
		return ge.base(), true
	}
	return nil, false
}

func (e *GroundError) base() *GroundError { return e }

// ErrGroundingAbstention is returned when no table in the snapshot scores
// above zero for the question.
type ErrGroundingAbstention struct {
	GroundError
	Question string
}

// NewGroundingAbstention creates a new ErrGroundingAbstention.
func NewGroundingAbstention(question string) *ErrGroundingAbstention {
	return &ErrGroundingAbstention{
		GroundError: GroundError{
			Code:       CodeValidation,
			Message:    "no matching tables found for the question",
			Reason:     "no table or column name overlaps with the question terms",
			Suggestion: "rephrase using table or column names, or refresh the schema with 'groundsql schema refresh'",
		},
		Question: question,
	}
}

// ErrSentinelAbstention is returned when the oracle declared the grounded
// context insufficient.
type ErrSentinelAbstention struct {
	GroundError
}

// NewSentinelAbstention creates a new ErrSentinelAbstention.
func NewSentinelAbstention() *ErrSentinelAbstention {
	return &ErrSentinelAbstention{
		GroundError: GroundError{
			Code:       CodeValidation,
			Message:    "no correct schema identified to answer the question",
			Reason:     "the grounded tables and columns do not cover the question",
			Suggestion: "rephrase the question or check 'groundsql schema show'",
		},
	}
}

// SafetyRule names the validator rule that rejected a statement.
type SafetyRule string

const (
	RuleForbiddenKeyword SafetyRule = "forbidden_keyword"
	RuleMultiStatement   SafetyRule = "multi_statement"
	RuleNotSelect        SafetyRule = "not_select"
	RuleTooShort         SafetyRule = "too_short"
)

// ErrSafetyViolation is returned when a candidate statement fails the
// deterministic safety gate.
type ErrSafetyViolation struct {
	GroundError
	Rule    SafetyRule
	Keyword string
	Query   string
}

// NewSafetyViolation creates a new ErrSafetyViolation. message is the
// user-visible validation message.
func NewSafetyViolation(rule SafetyRule, keyword, query, message string) *ErrSafetyViolation {
	return &ErrSafetyViolation{
		GroundError: GroundError{
			Code:       CodeValidation,
			Message:    message,
			Reason:     fmt.Sprintf("rule %s rejected the statement", rule),
			Suggestion: "only single read-only SELECT statements are executed",
		},
		Rule:    rule,
		Keyword: keyword,
		Query:   query,
	}
}

// ErrMalformedSQL is returned when a statement cannot be analysed.
type ErrMalformedSQL struct {
	GroundError
	Query string
}

// NewMalformedSQL creates a new ErrMalformedSQL.
func NewMalformedSQL(query, reason string) *ErrMalformedSQL {
	return &ErrMalformedSQL{
		GroundError: GroundError{
			Code:       CodeValidation,
			Message:    "malformed SQL",
			Reason:     reason,
			Suggestion: "check the statement with 'groundsql sql check'",
		},
		Query: query,
	}
}

// StoreFailureKind classifies relational store failures.
type StoreFailureKind string

const (
	StoreConnection StoreFailureKind = "connection_error"
	StoreSyntax     StoreFailureKind = "syntax_error"
	StoreTimeout    StoreFailureKind = "timeout"
)

// ErrExecutionFailure is returned when the relational store fails a query.
type ErrExecutionFailure struct {
	GroundError
	Kind StoreFailureKind
}

// NewExecutionFailure creates a new ErrExecutionFailure.
func NewExecutionFailure(kind StoreFailureKind, cause error) *ErrExecutionFailure {
	suggestion := "check the generated SQL against the schema"
	switch kind {
	case StoreConnection:
		suggestion = "check connectivity with 'groundsql doctor'"
	case StoreTimeout:
		suggestion = "increase store.query_timeout or narrow the question"
	}
	return &ErrExecutionFailure{
		GroundError: GroundError{
			Code:       CodeUpstream,
			Message:    "query execution failed",
			Reason:     string(kind),
			Suggestion: suggestion,
			Cause:      cause,
		},
		Kind: kind,
	}
}

// ClassifyStoreError maps a driver error onto a StoreFailureKind.
func ClassifyStoreError(err error) StoreFailureKind {
	if err == nil {
		return ""
	}
	if Is(err, ErrTimeout) {
		return StoreTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"):
		return StoreTimeout
	case strings.Contains(msg, "syntax"), strings.Contains(msg, "invalid column"),
		strings.Contains(msg, "invalid object name"), strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "not found"):
		return StoreSyntax
	default:
		return StoreConnection
	}
}

// ErrFormattingFailure is returned when results were retrieved but could not
// be summarised.
type ErrFormattingFailure struct {
	GroundError
}

// NewFormattingFailure creates a new ErrFormattingFailure.
func NewFormattingFailure(cause error) *ErrFormattingFailure {
	return &ErrFormattingFailure{
		GroundError: GroundError{
			Code:       CodeUpstream,
			Message:    "results retrieved but formatting failed",
			Reason:     "the summary could not be produced",
			Suggestion: "inspect the raw rows with 'groundsql show'",
			Cause:      cause,
		},
	}
}

// OracleFailureKind classifies text oracle failures.
type OracleFailureKind string

const (
	OracleRateLimited       OracleFailureKind = "rate_limited"
	OracleUnavailable       OracleFailureKind = "unavailable"
	OracleMalformedResponse OracleFailureKind = "malformed_response"
	OracleTimeout           OracleFailureKind = "timeout"
)

// ErrOracleFailure is returned when the text oracle cannot produce output.
type ErrOracleFailure struct {
	GroundError
	Kind OracleFailureKind
}

// NewOracleFailure creates a new ErrOracleFailure.
func NewOracleFailure(kind OracleFailureKind, cause error) *ErrOracleFailure {
	return &ErrOracleFailure{
		GroundError: GroundError{
			Code:       CodeUpstream,
			Message:    "text oracle call failed",
			Reason:     string(kind),
			Suggestion: "retry later or check oracle settings with 'groundsql doctor'",
			Cause:      cause,
		},
		Kind: kind,
	}
}

// Retryable reports whether the failure is worth another attempt.
func (e *ErrOracleFailure) Retryable() bool {
	return e.Kind != OracleMalformedResponse
}

// ErrSchemaSourceFailure is returned when a schema source cannot produce a
// snapshot and no previous snapshot is available.
type ErrSchemaSourceFailure struct {
	GroundError
	Source string
}

// NewSchemaSourceFailure creates a new ErrSchemaSourceFailure. The cause is
// always marked with ErrSourceUnavailable.
func NewSchemaSourceFailure(source string, cause error) *ErrSchemaSourceFailure {
	if cause == nil {
		cause = ErrSourceUnavailable
	} else if !Is(cause, ErrSourceUnavailable) {
		cause = Mark(cause, ErrSourceUnavailable)
	}
	return &ErrSchemaSourceFailure{
		GroundError: GroundError{
			Code:       CodeUpstream,
			Message:    fmt.Sprintf("schema source %s unavailable", source),
			Reason:     "the schema could not be read and no previous snapshot exists",
			Suggestion: "check the source with 'groundsql doctor' or load a manual schema",
			Cause:      cause,
		},
		Source: source,
	}
}

// ErrMissingConfiguration is returned at startup when required settings are
// absent. It halts the process.
type ErrMissingConfiguration struct {
	GroundError
	Keys []string
}

// NewMissingConfiguration creates a new ErrMissingConfiguration.
func NewMissingConfiguration(keys []string) *ErrMissingConfiguration {
	return &ErrMissingConfiguration{
		GroundError: GroundError{
			Code:       CodeInternal,
			Message:    "missing required configuration",
			Reason:     fmt.Sprintf("unset: %s", strings.Join(keys, ", ")),
			Suggestion: "set them in groundsql.yaml, the environment (GROUNDSQL_*) or .env",
		},
		Keys: keys,
	}
}

// ErrStateNotFound is returned when a persisted pipeline state is missing.
type ErrStateNotFound struct {
	GroundError
	ID string
}

// NewStateNotFound creates a new ErrStateNotFound.
func NewStateNotFound(id string) *ErrStateNotFound {
	return &ErrStateNotFound{
		GroundError: GroundError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("question not found: %s", id),
			Reason:     "no persisted pipeline state with this id",
			Suggestion: "list recent questions with 'groundsql history'",
			Cause:      ErrNotFound,
		},
		ID: id,
	}
}

// ErrInvalidTransition is returned when an event is not defined for a step.
type ErrInvalidTransition struct {
	GroundError
	From  string
	Event string
}

// NewInvalidTransition creates a new ErrInvalidTransition.
func NewInvalidTransition(from, event string) *ErrInvalidTransition {
	return &ErrInvalidTransition{
		GroundError: GroundError{
			Code:       CodeInternal,
			Message:    fmt.Sprintf("invalid transition: %s on %s", event, from),
			Reason:     "the transition table has no entry for this pair",
			Suggestion: "this is a bug; report it with the question id",
		},
		From:  from,
		Event: event,
	}
}

// ErrNotAwaitingApproval is returned when an approval decision targets a
// question that is not paused at the approval gate.
type ErrNotAwaitingApproval struct {
	GroundError
	ID   string
	Step string
}

// NewNotAwaitingApproval creates a new ErrNotAwaitingApproval.
func NewNotAwaitingApproval(id, step string) *ErrNotAwaitingApproval {
	return &ErrNotAwaitingApproval{
		GroundError: GroundError{
			Code:       CodeValidation,
			Message:    fmt.Sprintf("question %s is not awaiting approval", id),
			Reason:     fmt.Sprintf("current step is %s", step),
			Suggestion: fmt.Sprintf("inspect it with 'groundsql show %s'", id),
		},
		ID:   id,
		Step: step,
	}
}

// ErrAuthFailed is returned when authentication fails.
type ErrAuthFailed struct {
	GroundError
	Expired bool
}

// NewAuthFailed creates a new ErrAuthFailed.
func NewAuthFailed(reason string) *ErrAuthFailed {
	return &ErrAuthFailed{
		GroundError: GroundError{
			Code:       CodeAuth,
			Message:    "authentication failed",
			Reason:     reason,
			Suggestion: "pass a token configured under server.tokens or one issued by 'groundsql auth token'",
		},
	}
}

// NewAuthExpired is returned when the bearer token has expired.
func NewAuthExpired() *ErrAuthFailed {
	return &ErrAuthFailed{
		GroundError: GroundError{
			Code:       CodeAuth,
			Message:    "authentication expired",
			Reason:     "token has expired",
			Suggestion: "issue a new token",
		},
		Expired: true,
	}
}

// ErrForbidden is returned when an authenticated user lacks a role.
type ErrForbidden struct {
	GroundError
	User string
	Role string
}

// NewForbidden creates a new ErrForbidden.
func NewForbidden(user, role string) *ErrForbidden {
	return &ErrForbidden{
		GroundError: GroundError{
			Code:       CodeAuth,
			Message:    fmt.Sprintf("user %s is not allowed to do this", user),
			Reason:     fmt.Sprintf("missing role %s", role),
			Suggestion: "ask an administrator to grant the role",
		},
		User: user,
		Role: role,
	}
}

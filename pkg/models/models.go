// Package models provides shared data models for the groundsql public API.
package models

import (
	"time"
)

// AskRequest submits a natural-language question.
type AskRequest struct {
	Question string `json:"question"`
}

// ApprovalRequest approves or rejects a question waiting at the approval gate.
// Approved must be present: a body without it is not a decision.
type ApprovalRequest struct {
	Approved *bool  `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// NewApprovalRequest builds a decision body.
func NewApprovalRequest(approved bool, reason string) ApprovalRequest {
	return ApprovalRequest{Approved: &approved, Reason: reason}
}

// Message is one entry of a question's log.
type Message struct {
	Stage string    `json:"stage"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Question is the API view of a question and everything the pipeline
// learned about it.
type Question struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	AskedBy  string `json:"asked_by,omitempty"`
	Step     string `json:"step"`
	Done     bool   `json:"done"`

	Intent          string   `json:"intent"`
	Entities        []string `json:"entities"`
	CandidateTables []string `json:"candidate_tables,omitempty"`

	GroundedTables []string       `json:"grounded_tables,omitempty"`
	Scores         map[string]int `json:"scores,omitempty"`
	SchemaContext  string         `json:"schema_context,omitempty"`

	SQL               string   `json:"sql,omitempty"`
	IsValid           bool     `json:"is_valid"`
	ValidationMessage string   `json:"validation_message,omitempty"`
	TablesUsed        []string `json:"tables_used,omitempty"`
	RequiresApproval  bool     `json:"requires_approval"`

	Approved        bool   `json:"approved"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	Columns        []string                 `json:"columns,omitempty"`
	Rows           []map[string]interface{} `json:"rows,omitempty"`
	RowCount       int                      `json:"row_count"`
	ExecutionError string                   `json:"execution_error,omitempty"`
	Summary        string                   `json:"summary,omitempty"`
	FatalError     string                   `json:"fatal_error,omitempty"`

	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuestionList is the API response for question history.
type QuestionList struct {
	Questions []Question `json:"questions"`
	Count     int        `json:"count"`
}

// Column is the API representation of a schema column.
type Column struct {
	Name     string `json:"name"`
	DataType string `json:"data_type,omitempty"`
	Nullable bool   `json:"nullable"`
}

// Table is the API representation of a schema table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Schema is the API response for the current schema snapshot.
type Schema struct {
	CapturedAt time.Time `json:"captured_at"`
	Tables     []Table   `json:"tables"`
}

// RefreshRequest asks for a schema refresh. An empty source uses the
// configured one.
type RefreshRequest struct {
	Source string `json:"source,omitempty"`
}

// SQLCheckRequest runs a statement through the safety gate and limit
// enforcer without executing it.
type SQLCheckRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit,omitempty"`
}

// SQLCheckResult is the API response for a SQL check.
type SQLCheckResult struct {
	Valid            bool     `json:"valid"`
	Message          string   `json:"message"`
	Rule             string   `json:"rule,omitempty"`
	Tables           []string `json:"tables,omitempty"`
	RequiresApproval bool     `json:"requires_approval"`
	LimitedSQL       string   `json:"limited_sql,omitempty"`
}

// AuditSummary is the API response for aggregated audit statistics.
type AuditSummary struct {
	Outcomes   map[string]int `json:"outcomes"`
	TopReasons []ReasonStat   `json:"top_reasons"`
	TopTables  []TableStat    `json:"top_tables"`
}

// ReasonStat counts an abstention, rejection or failure reason.
type ReasonStat struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// TableStat counts how often a table was grounded or used.
type TableStat struct {
	Table string `json:"table"`
	Count int    `json:"count"`
}

// Component is the readiness of one collaborator.
type Component struct {
	Name    string `json:"name"`
	Ready   bool   `json:"ready"`
	Message string `json:"message"`
}

// HealthResponse is the API response for the health check.
type HealthResponse struct {
	Status     string      `json:"status"`
	Version    string      `json:"version"`
	Components []Component `json:"components,omitempty"`
}

// AuthStatus is the API response for authentication status.
type AuthStatus struct {
	Authenticated bool      `json:"authenticated"`
	UserID        string    `json:"user_id,omitempty"`
	UserName      string    `json:"user_name,omitempty"`
	Roles         []string  `json:"roles,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
}

// ErrorResponse is the API response for errors.
type ErrorResponse struct {
	Error      string `json:"error"`
	Reason     string `json:"reason,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Code       int    `json:"code"`
}

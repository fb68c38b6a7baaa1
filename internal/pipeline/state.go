// Package pipeline sequences one question through grounding, synthesis,
// validation, the approval gate, execution and presentation.
//
// A State is a value. Each stage takes the previous State and returns a new
// one together with an Event; the runner looks the event up in the
// transition table to find the next step. Nothing holds a State across the
// approval gate except the state store, so a paused question survives
// restarts and can be approved from another process.
package pipeline

import (
	"maps"
	"slices"
	"time"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/grounding"
)

// Record is one result row keyed by column name.
type Record = adapters.Record

// Message levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Message is one entry of a question's user-visible log.
type Message struct {
	Stage string    `json:"stage"`
	Level string    `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// State is everything known about one question.
type State struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	AskedBy  string `json:"asked_by,omitempty"`

	Intent          string   `json:"intent"`
	Entities        []string `json:"entities"`
	CandidateTables []string `json:"candidate_tables"`

	Grounding     *grounding.Result `json:"grounding,omitempty"`
	SchemaContext string            `json:"schema_context,omitempty"`

	// SQLCandidate is nil until synthesis produced a statement, and is
	// cleared on sentinel abstention.
	SQLCandidate *string `json:"sql_candidate"`

	IsValid               bool     `json:"is_valid"`
	ValidationMessage     string   `json:"validation_message,omitempty"`
	TablesUsed            []string `json:"tables_used,omitempty"`
	RequiresHumanApproval bool     `json:"requires_human_approval"`

	Approved        bool   `json:"approved"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	RejectedBy      string `json:"rejected_by,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	// Rows is nil until the store answered; an empty result is a non-nil
	// pointer to an empty slice.
	Rows           *[]Record `json:"rows"`
	Columns        []string  `json:"columns,omitempty"`
	ExecutionError *string   `json:"execution_error"`

	Summary    *string `json:"summary"`
	Step       StepTag `json:"step"`
	FatalError *string `json:"fatal_error"`

	Messages []Message `json:"messages"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState returns a question at the start step.
func NewState(id, question string, now time.Time) State {
	return State{
		ID:        id,
		Question:  question,
		Intent:    DefaultIntent,
		Entities:  []string{},
		Step:      StepStart,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of s, so the copy can be changed without
// touching s.
func (s State) Clone() State {
	c := s
	c.Entities = cloneStrings(s.Entities)
	c.CandidateTables = cloneStrings(s.CandidateTables)
	c.TablesUsed = cloneStrings(s.TablesUsed)
	c.Columns = cloneStrings(s.Columns)
	c.Messages = append(make([]Message, 0, len(s.Messages)+1), s.Messages...)
	if s.Grounding != nil {
		g := *s.Grounding
		g.MatchedTables = cloneStrings(g.MatchedTables)
		g.MatchedColumns = maps.Clone(g.MatchedColumns)
		for t, cols := range g.MatchedColumns {
			g.MatchedColumns[t] = slices.Clone(cols)
		}
		g.Scores = maps.Clone(g.Scores)
		c.Grounding = &g
	}
	c.SQLCandidate = clonePtr(s.SQLCandidate)
	c.ExecutionError = clonePtr(s.ExecutionError)
	c.Summary = clonePtr(s.Summary)
	c.FatalError = clonePtr(s.FatalError)
	if s.Rows != nil {
		rows := make([]Record, len(*s.Rows))
		for i, r := range *s.Rows {
			rec := make(Record, len(r))
			for k, v := range r {
				rec[k] = v
			}
			rows[i] = rec
		}
		c.Rows = &rows
	}
	return c
}

// SQL returns the candidate statement, or "".
func (s State) SQL() string {
	if s.SQLCandidate == nil {
		return ""
	}
	return *s.SQLCandidate
}

// RowCount returns the number of result rows, or 0 before execution.
func (s State) RowCount() int {
	if s.Rows == nil {
		return 0
	}
	return len(*s.Rows)
}

// Done reports whether the question reached a terminal step.
func (s State) Done() bool {
	return s.Step.IsTerminal()
}

// note appends a message. s must already be a clone owned by the caller.
func (s *State) note(stage, level, text string, at time.Time) {
	s.Messages = append(s.Messages, Message{Stage: stage, Level: level, Text: text, At: at})
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func strPtr(s string) *string {
	return &s
}

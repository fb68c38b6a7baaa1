// Package observability provides structured logging, the pipeline audit
// trail and Prometheus metrics for groundsql.
//
// Every pipeline step a question reaches emits one audit entry: question
// id, user, step, tables, outcome, duration and error if any. The audit
// trail never stores result rows.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/pkg/models"
)

// Audit outcomes.
const (
	OutcomeProgress  = "progress"
	OutcomeAbstained = "abstained"
	OutcomeRejected  = "rejected"
	OutcomePending   = "pending"
	OutcomeFailed    = "failed"
	OutcomeCompleted = "completed"
)

// AuditEntry records one pipeline step for one question.
type AuditEntry struct {
	// QuestionID identifies the pipeline run. Required.
	QuestionID string

	// User who asked or approved. Empty for local CLI runs.
	User string

	// Step is the step tag the pipeline reached. Required.
	Step string

	// Tables are the grounded or validated tables, if any.
	Tables []string

	// Outcome is one of the Outcome* constants.
	Outcome string

	// Duration is how long the stage took. Must be non-negative.
	Duration time.Duration

	// Error is the user-visible reason for abstentions, rejections and failures.
	Error string
}

// Validate checks that all required fields are present.
func (e *AuditEntry) Validate() error {
	if e.QuestionID == "" {
		return errors.New("observability: question_id is required")
	}
	if e.Step == "" {
		return errors.New("observability: step is required")
	}
	if e.Duration < 0 {
		return errors.New("observability: duration cannot be negative")
	}
	return nil
}

// AuditLogger records pipeline steps.
type AuditLogger interface {
	// LogStep records one step. Returns an error if the entry is invalid or
	// cannot be written.
	LogStep(ctx context.Context, entry AuditEntry) error

	// Summary returns aggregated statistics, never raw rows.
	Summary(ctx context.Context) (*AuditSummary, error)
}

// AuditSummary aggregates the audit trail.
type AuditSummary struct {
	Outcomes   map[string]int `json:"outcomes"`
	TopReasons []ReasonStat   `json:"top_reasons"`
	TopTables  []TableStat    `json:"top_tables"`
}

// ReasonStat counts a rejection, abstention or failure reason.
type ReasonStat struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// TableStat counts how often a table was grounded or used.
type TableStat struct {
	Table string `json:"table"`
	Count int    `json:"count"`
}

func emptySummary() *AuditSummary {
	return &AuditSummary{
		Outcomes:   map[string]int{},
		TopReasons: []ReasonStat{},
		TopTables:  []TableStat{},
	}
}

type auditLine struct {
	Timestamp  string   `json:"timestamp"`
	Level      string   `json:"level"`
	QuestionID string   `json:"question_id"`
	User       string   `json:"user,omitempty"`
	Step       string   `json:"step"`
	Tables     []string `json:"tables"`
	Outcome    string   `json:"outcome"`
	DurationMS int64    `json:"duration_ms"`
	Error      string   `json:"error,omitempty"`
}

func newAuditLine(entry AuditEntry) auditLine {
	level := "info"
	if entry.Outcome == OutcomeFailed {
		level = "error"
	}
	tables := entry.Tables
	if tables == nil {
		tables = []string{}
	}
	return auditLine{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Level:      level,
		QuestionID: entry.QuestionID,
		User:       entry.User,
		Step:       entry.Step,
		Tables:     tables,
		Outcome:    entry.Outcome,
		DurationMS: entry.Duration.Milliseconds(),
		Error:      entry.Error,
	}
}

// JSONAuditLogger writes JSON lines and keeps entries in memory for Summary.
type JSONAuditLogger struct {
	writer  io.Writer
	entries []AuditEntry
	mu      sync.RWMutex
}

// NewJSONAuditLogger creates a logger writing to w.
func NewJSONAuditLogger(w io.Writer) *JSONAuditLogger {
	return &JSONAuditLogger{writer: w}
}

// LogStep implements AuditLogger.
func (l *JSONAuditLogger) LogStep(ctx context.Context, entry AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "observability: context error")
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(newAuditLine(entry))
	if err != nil {
		return errors.Wrap(err, "observability: failed to marshal audit entry")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "observability: failed to write audit entry")
	}
	l.entries = append(l.entries, entry)
	return nil
}

// Summary implements AuditLogger.
func (l *JSONAuditLogger) Summary(ctx context.Context) (*AuditSummary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	summary := emptySummary()
	reasons := map[string]int{}
	tables := map[string]int{}
	for _, e := range l.entries {
		summary.Outcomes[e.Outcome]++
		if e.Error != "" {
			reasons[e.Error]++
		}
		for _, t := range e.Tables {
			tables[t]++
		}
	}

	for reason, count := range reasons {
		summary.TopReasons = append(summary.TopReasons, ReasonStat{Reason: reason, Count: count})
	}
	sort.Slice(summary.TopReasons, func(i, j int) bool {
		a, b := summary.TopReasons[i], summary.TopReasons[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})
	if len(summary.TopReasons) > 5 {
		summary.TopReasons = summary.TopReasons[:5]
	}

	for table, count := range tables {
		summary.TopTables = append(summary.TopTables, TableStat{Table: table, Count: count})
	}
	sort.Slice(summary.TopTables, func(i, j int) bool {
		a, b := summary.TopTables[i], summary.TopTables[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Table < b.Table
	})
	if len(summary.TopTables) > 5 {
		summary.TopTables = summary.TopTables[:5]
	}
	return summary, nil
}

// NoopAuditLogger discards entries.
type NoopAuditLogger struct{}

// NewNoopAuditLogger creates a no-op audit logger.
func NewNoopAuditLogger() *NoopAuditLogger {
	return &NoopAuditLogger{}
}

// LogStep does nothing and always succeeds.
func (l *NoopAuditLogger) LogStep(ctx context.Context, entry AuditEntry) error {
	return nil
}

// Summary returns an empty summary.
func (l *NoopAuditLogger) Summary(ctx context.Context) (*AuditSummary, error) {
	return emptySummary(), nil
}

// PersistentAuditLogger writes entries to the audit_log table of the state
// database so the trail survives restarts.
type PersistentAuditLogger struct {
	db     *sql.DB
	writer io.Writer
}

// NewPersistentAuditLogger creates a logger over db. w, if non-nil, also
// receives each entry as a JSON line.
func NewPersistentAuditLogger(db *sql.DB, w io.Writer) (*PersistentAuditLogger, error) {
	if db == nil {
		return nil, errors.New("observability: database connection is required for persistent audit logging")
	}
	return &PersistentAuditLogger{db: db, writer: w}, nil
}

// LogStep implements AuditLogger.
func (l *PersistentAuditLogger) LogStep(ctx context.Context, entry AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "observability: context error")
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	tablesJSON, err := json.Marshal(entry.Tables)
	if err != nil || entry.Tables == nil {
		tablesJSON = []byte("[]")
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO audit_log (question_id, user_id, step, tables_json, outcome, duration_ms, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.QuestionID,
		nullableString(entry.User),
		entry.Step,
		string(tablesJSON),
		entry.Outcome,
		entry.Duration.Milliseconds(),
		nullableString(entry.Error),
		time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "observability: failed to persist audit entry")
	}

	if l.writer != nil {
		if data, err := json.Marshal(newAuditLine(entry)); err == nil {
			_, _ = l.writer.Write(append(data, '\n'))
		}
	}
	return nil
}

// Summary implements AuditLogger.
func (l *PersistentAuditLogger) Summary(ctx context.Context) (*AuditSummary, error) {
	summary := emptySummary()

	rows, err := l.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM audit_log GROUP BY outcome`)
	if err != nil {
		return nil, errors.Wrap(err, "observability: summarize outcomes")
	}
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "observability: summarize outcomes")
		}
		summary.Outcomes[outcome] = count
	}
	_ = rows.Close()

	rows, err = l.db.QueryContext(ctx, `
		SELECT error_message, COUNT(*) AS cnt
		FROM audit_log
		WHERE error_message IS NOT NULL AND error_message != ''
		GROUP BY error_message
		ORDER BY cnt DESC, error_message
		LIMIT 5`)
	if err != nil {
		return nil, errors.Wrap(err, "observability: summarize reasons")
	}
	for rows.Next() {
		var stat ReasonStat
		if err := rows.Scan(&stat.Reason, &stat.Count); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "observability: summarize reasons")
		}
		summary.TopReasons = append(summary.TopReasons, stat)
	}
	_ = rows.Close()

	rows, err = l.db.QueryContext(ctx, `
		SELECT t.value AS table_name, COUNT(*) AS cnt
		FROM audit_log, json_each(audit_log.tables_json) AS t
		GROUP BY t.value
		ORDER BY cnt DESC, table_name
		LIMIT 5`)
	if err != nil {
		return nil, errors.Wrap(err, "observability: summarize tables")
	}
	defer rows.Close()
	for rows.Next() {
		var stat TableStat
		if err := rows.Scan(&stat.Table, &stat.Count); err != nil {
			return nil, errors.Wrap(err, "observability: summarize tables")
		}
		summary.TopTables = append(summary.TopTables, stat)
	}
	return summary, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Model returns the API view of the summary.
func (s *AuditSummary) Model() models.AuditSummary {
	out := models.AuditSummary{
		Outcomes:   map[string]int{},
		TopReasons: []models.ReasonStat{},
		TopTables:  []models.TableStat{},
	}
	if s == nil {
		return out
	}
	for k, v := range s.Outcomes {
		out.Outcomes[k] = v
	}
	for _, r := range s.TopReasons {
		out.TopReasons = append(out.TopReasons, models.ReasonStat{Reason: r.Reason, Count: r.Count})
	}
	for _, t := range s.TopTables {
		out.TopTables = append(out.TopTables, models.TableStat{Table: t.Table, Count: t.Count})
	}
	return out
}

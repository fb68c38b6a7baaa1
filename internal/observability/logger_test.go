package observability

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/canonica-labs/groundsql/internal/config"
)

func TestAuditEntry_Validate(t *testing.T) {
	assert.Error(t, (&AuditEntry{Step: "grounded"}).Validate())
	assert.Error(t, (&AuditEntry{QuestionID: "q1"}).Validate())
	assert.Error(t, (&AuditEntry{QuestionID: "q1", Step: "grounded", Duration: -time.Second}).Validate())
	assert.NoError(t, (&AuditEntry{QuestionID: "q1", Step: "grounded"}).Validate())
}

func TestJSONAuditLogger_WritesLinesAndSummarizes(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONAuditLogger(&buf)
	ctx := context.Background()

	require.NoError(t, l.LogStep(ctx, AuditEntry{QuestionID: "q1", Step: "grounded", Tables: []string{"client"}, Outcome: OutcomeProgress}))
	require.NoError(t, l.LogStep(ctx, AuditEntry{QuestionID: "q1", Step: "validation_failed", Outcome: OutcomeRejected, Error: "Query contains dangerous keyword: DELETE"}))
	require.NoError(t, l.LogStep(ctx, AuditEntry{QuestionID: "q2", Step: "abstained_no_schema", Outcome: OutcomeAbstained, Error: "no matching tables"}))
	require.NoError(t, l.LogStep(ctx, AuditEntry{QuestionID: "q3", Step: "grounded", Tables: []string{"client", "project"}, Outcome: OutcomeProgress}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "q1", first["question_id"])
	assert.Equal(t, "grounded", first["step"])

	summary, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Outcomes[OutcomeProgress])
	assert.Equal(t, 1, summary.Outcomes[OutcomeRejected])
	require.NotEmpty(t, summary.TopTables)
	assert.Equal(t, TableStat{Table: "client", Count: 2}, summary.TopTables[0])
	assert.Len(t, summary.TopReasons, 2)
}

// Red-Flag: invalid entries are refused, never silently dropped.
func TestJSONAuditLogger_RejectsInvalidEntry(t *testing.T) {
	l := NewJSONAuditLogger(&bytes.Buffer{})
	assert.Error(t, l.LogStep(context.Background(), AuditEntry{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.LogStep(ctx, AuditEntry{QuestionID: "q", Step: "start"}))
}

func TestPersistentAuditLogger_RoundTrip(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id TEXT NOT NULL, user_id TEXT, step TEXT NOT NULL,
		tables_json TEXT NOT NULL DEFAULT '[]', outcome TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0, error_message TEXT, created_at TIMESTAMP NOT NULL)`)
	require.NoError(t, err)

	l, err := NewPersistentAuditLogger(db, nil)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, l.LogStep(ctx, AuditEntry{QuestionID: "q1", Step: "grounded", Tables: []string{"client"}, Outcome: OutcomeProgress}))
	require.NoError(t, l.LogStep(ctx, AuditEntry{QuestionID: "q2", Step: "grounded", Tables: []string{"client", "contacts"}, Outcome: OutcomeProgress}))
	require.NoError(t, l.LogStep(ctx, AuditEntry{QuestionID: "q2", Step: "execution_failed", Outcome: OutcomeFailed, Error: "timeout"}))

	summary, err := l.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Outcomes[OutcomeProgress])
	assert.Equal(t, 1, summary.Outcomes[OutcomeFailed])
	assert.Equal(t, []ReasonStat{{Reason: "timeout", Count: 1}}, summary.TopReasons)
	require.Len(t, summary.TopTables, 2)
	assert.Equal(t, TableStat{Table: "client", Count: 2}, summary.TopTables[0])
}

func TestNewPersistentAuditLogger_RequiresDB(t *testing.T) {
	_, err := NewPersistentAuditLogger(nil, nil)
	assert.Error(t, err)
}

func TestNewLogger_Formats(t *testing.T) {
	l, err := NewLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	l, err = NewLogger(config.LoggingConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(0))

	_, err = NewLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

package pipeline_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/grounding"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/oracle"
	"github.com/canonica-labs/groundsql/internal/pipeline"
	"github.com/canonica-labs/groundsql/internal/retry"
	"github.com/canonica-labs/groundsql/internal/schema"
	"github.com/canonica-labs/groundsql/internal/storage"
)

const intentReply = "Intent: get data\nEntities: client, city, new york\nTables Likely Needed: clients, invoices"

func testTime() time.Time {
	return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
}

func col(name, typ string, nullable bool) schema.Column {
	return schema.Column{Name: name, DataType: typ, Nullable: nullable}
}

func testSnapshot() *schema.Snapshot {
	return schema.NewSnapshot(
		testTime(),
		[]schema.Table{
			{Name: "client", Columns: []schema.Column{col("client_id", "int", false), col("name", "nvarchar", false), col("city", "nvarchar", true)}},
			{Name: "contacts", Columns: []schema.Column{col("contact_id", "int", false), col("client_id", "int", false), col("email", "nvarchar", true)}},
			{Name: "project", Columns: []schema.Column{col("project_id", "int", false), col("client_id", "int", false), col("title", "nvarchar", false)}},
		},
	)
}

type staticSchema struct {
	snap *schema.Snapshot
	err  error
}

func (s staticSchema) Get(ctx context.Context, force bool) (*schema.Snapshot, error) {
	return s.snap, s.err
}

// stagedOracle answers by pipeline stage and counts calls per stage.
type stagedOracle struct {
	mu      sync.Mutex
	replies map[string]oracle.Reply
	calls   map[string]int
}

func newOracle(replies map[string]oracle.Reply) *stagedOracle {
	return &stagedOracle{replies: replies, calls: map[string]int{}}
}

func (o *stagedOracle) Complete(ctx context.Context, prompt string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	stage := oracle.StageFrom(ctx)
	o.calls[stage]++
	r, ok := o.replies[stage]
	if !ok {
		return "", errors.NewOracleFailure(errors.OracleUnavailable, errors.Newf("no reply for stage %s", stage))
	}
	return r.Text, r.Err
}

func (o *stagedOracle) Calls(stage string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[stage]
}

type fakeStore struct {
	mu      sync.Mutex
	result  *adapters.QueryResult
	err     error
	queries []string
}

func (f *fakeStore) Execute(ctx context.Context, query string) (*adapters.QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.result, f.err
}

func clientRows() *adapters.QueryResult {
	return &adapters.QueryResult{
		Columns:  []string{"name"},
		Rows:     []adapters.Record{{"name": "Acme"}, {"name": "Globex"}},
		RowCount: 2,
	}
}

type harness struct {
	runner *pipeline.Runner
	oracle *stagedOracle
	store  *fakeStore
	states *storage.MemoryRepository
	audit  *observability.JSONAuditLogger
}

func newHarness(t *testing.T, replies map[string]oracle.Reply) *harness {
	t.Helper()
	h := &harness{
		oracle: newOracle(replies),
		store:  &fakeStore{result: clientRows()},
		states: storage.NewMemoryRepository(),
		audit:  observability.NewJSONAuditLogger(&bytes.Buffer{}),
	}
	r, err := pipeline.NewRunner(pipeline.Options{
		Schema: staticSchema{snap: testSnapshot()},
		Oracle: h.oracle,
		Store:  h.store,
		States: h.states,
		Audit:  h.audit,
	})
	require.NoError(t, err)
	h.runner = r
	return h
}

func replies(sqlReply string) map[string]oracle.Reply {
	return map[string]oracle.Reply{
		pipeline.StageIntent:       {Text: intentReply},
		pipeline.StageSynthesis:    {Text: sqlReply},
		pipeline.StagePresentation: {Text: "  Two clients were found: Acme and Globex.  "},
	}
}

func hasMessage(s pipeline.State, stage, substr string) bool {
	for _, m := range s.Messages {
		if m.Stage == stage && strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

// Green-Flag: name and column overlap ground the client table.
func TestScenarioA_GroundsClientTable(t *testing.T) {
	h := newHarness(t, replies("SELECT city FROM client WHERE city = 'New York'"))
	s, err := h.runner.Start(context.Background(), "show client city in new york", "alice")
	require.NoError(t, err)

	require.NotNil(t, s.Grounding)
	assert.False(t, s.Grounding.Abstained)
	assert.Equal(t, []string{"client"}, s.Grounding.MatchedTables)
	assert.GreaterOrEqual(t, s.Grounding.Scores["client"], 2)
	assert.Contains(t, s.SchemaContext, "### Table: client")
	assert.Contains(t, s.SchemaContext, "city")
	assert.NotContains(t, s.SchemaContext, "client_id")

	assert.Equal(t, "get data", s.Intent)
	assert.Equal(t, []string{"client"}, s.CandidateTables)
	assert.True(t, hasMessage(s, pipeline.StageIntent, `"invoices"`))

	assert.Equal(t, pipeline.StepAwaitingApproval, s.Step)
	assert.Equal(t, "SELECT TOP 100 city FROM client WHERE city = 'New York'", s.SQL())
	assert.Equal(t, "alice", s.AskedBy)
}

// Red-Flag: scoring matches whole tokens, so "clients" does not hit the
// client table and the question abstains before synthesis.
func TestScenarioA_PluralQuestionAbstains(t *testing.T) {
	h := newHarness(t, replies("SELECT city FROM client WHERE city = 'New York'"))
	s, err := h.runner.Start(context.Background(), "show clients in new york", "alice")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepAbstainedNoSchema, s.Step)
	assert.True(t, s.Grounding.Abstained)
	assert.Empty(t, s.Grounding.MatchedTables)
	assert.Equal(t, 0, h.oracle.Calls(pipeline.StageSynthesis))
	assert.Empty(t, h.store.queries)
}

// Red-Flag: no overlap means no synthesis call at all.
func TestScenarioB_AbstainsWithoutSynthesis(t *testing.T) {
	h := newHarness(t, replies("SELECT name FROM client"))
	s, err := h.runner.Start(context.Background(), "what is the weather tomorrow", "")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepAbstainedNoSchema, s.Step)
	assert.True(t, s.Grounding.Abstained)
	assert.Nil(t, s.SQLCandidate)
	assert.False(t, s.IsValid)
	assert.Equal(t, 0, h.oracle.Calls(pipeline.StageSynthesis))
	assert.True(t, hasMessage(s, pipeline.StageGrounding, grounding.AbstentionMessage))
	assert.Empty(t, h.store.queries)
}

// Red-Flag: a destructive statement stops at validation.
func TestScenarioC_RejectsDelete(t *testing.T) {
	h := newHarness(t, replies("DELETE FROM client"))
	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepValidationFailed, s.Step)
	assert.False(t, s.IsValid)
	assert.False(t, s.RequiresHumanApproval)
	assert.Contains(t, s.ValidationMessage, "DELETE")
	assert.Empty(t, h.store.queries)

	_, err = h.runner.Approve(context.Background(), s.ID, "bob")
	var na *errors.ErrNotAwaitingApproval
	require.True(t, errors.As(err, &na))
	assert.Empty(t, h.store.queries)
}

// Green-Flag: fenced SQL is extracted, limited, approved, executed and summarised.
func TestScenarioD_FencedSQLRunsAfterApproval(t *testing.T) {
	h := newHarness(t, replies("Here you go:\n```sql\nSELECT name FROM client\n```"))
	ctx := context.Background()

	s, err := h.runner.Start(ctx, "show client name", "alice")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepAwaitingApproval, s.Step)
	assert.Equal(t, "SELECT TOP 100 name FROM client", s.SQL())
	assert.True(t, s.IsValid)
	assert.True(t, s.RequiresHumanApproval)
	assert.Equal(t, []string{"client"}, s.TablesUsed)
	assert.Equal(t, "Query is valid. Tables used: client", s.ValidationMessage)
	assert.Empty(t, h.store.queries, "nothing runs before approval")

	done, err := h.runner.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepFormatted, done.Step)
	assert.True(t, done.Approved)
	assert.Equal(t, "bob", done.ApprovedBy)
	assert.Equal(t, []string{"SELECT TOP 100 name FROM client"}, h.store.queries)
	assert.Equal(t, 2, done.RowCount())
	require.NotNil(t, done.Summary)
	assert.Equal(t, "Found 2 results.\n\nTwo clients were found: Acme and Globex.", *done.Summary)

	stored, err := h.runner.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepFormatted, stored.Step)
}

// The exact sentinel is an abstention and is logged.
func TestScenarioE_SentinelAbstains(t *testing.T) {
	h := newHarness(t, replies("  "+pipeline.Sentinel+"\n"))
	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepAbstainedSentinel, s.Step)
	assert.Nil(t, s.SQLCandidate)
	assert.True(t, hasMessage(s, pipeline.StageSynthesis, "NO_SCHEMA_MATCH"))
	assert.Equal(t, 1, h.oracle.Calls(pipeline.StageSynthesis))
}

// Red-Flag: a reworded sentinel is not an abstention; it fails validation as SQL.
func TestSentinel_ExactMatchOnly(t *testing.T) {
	h := newHarness(t, replies("NO_SCHEMA_MATCH: no correct schema identified."))
	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepValidationFailed, s.Step)
	assert.Equal(t, "Only SELECT queries are allowed", s.ValidationMessage)
}

func TestSentinel_InsideFence(t *testing.T) {
	h := newHarness(t, replies("```\n"+pipeline.Sentinel+"\n```"))
	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepAbstainedSentinel, s.Step)
}

func TestSynthesis_StripsComments(t *testing.T) {
	h := newHarness(t, replies("-- all names\nSELECT name /* only */ FROM client"))
	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)
	assert.Equal(t, "SELECT TOP 100 name  FROM client", s.SQL())
}

func TestApprove_EmptyResultSkipsSummaryCall(t *testing.T) {
	h := newHarness(t, replies("SELECT name FROM client WHERE 1 = 0"))
	h.store.result = &adapters.QueryResult{Columns: []string{"name"}, Rows: []adapters.Record{}}
	ctx := context.Background()

	s, err := h.runner.Start(ctx, "show client name", "")
	require.NoError(t, err)
	done, err := h.runner.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepFormatted, done.Step)
	require.NotNil(t, done.Rows)
	assert.Empty(t, *done.Rows)
	assert.Equal(t, pipeline.NoResultsText, *done.Summary)
	assert.Equal(t, 0, h.oracle.Calls(pipeline.StagePresentation))
}

// Red-Flag: a store failure ends in execution_failed without formatting.
func TestApprove_ExecutionFailure(t *testing.T) {
	h := newHarness(t, replies("SELECT name FROM client"))
	h.store.result = nil
	h.store.err = errors.NewExecutionFailure(errors.StoreConnection, errors.New("connection refused"))
	ctx := context.Background()

	s, err := h.runner.Start(ctx, "show client name", "")
	require.NoError(t, err)
	done, err := h.runner.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepExecutionFailed, done.Step)
	require.NotNil(t, done.ExecutionError)
	assert.Contains(t, *done.ExecutionError, "connection_error")
	assert.Nil(t, done.Rows)
	assert.Nil(t, done.Summary)
	assert.Equal(t, 0, h.oracle.Calls(pipeline.StagePresentation))
}

type flakyStore struct {
	fakeStore
	failures []error
}

func (f *flakyStore) Execute(ctx context.Context, query string) (*adapters.QueryResult, error) {
	res, err := f.fakeStore.Execute(ctx, query)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err, f.failures = f.failures[0], f.failures[1:]
		return nil, err
	}
	return res, err
}

func TestApprove_StoreRetry(t *testing.T) {
	newRetrying := func(store pipeline.Executor) *pipeline.Runner {
		r, err := pipeline.NewRunner(pipeline.Options{
			Schema:     staticSchema{snap: testSnapshot()},
			Oracle:     newOracle(replies("SELECT name FROM client")),
			Store:      store,
			States:     storage.NewMemoryRepository(),
			StoreRetry: retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond},
		})
		require.NoError(t, err)
		return r
	}
	ctx := context.Background()

	// Green-Flag: a dropped connection is retried and the question completes.
	store := &flakyStore{
		fakeStore: fakeStore{result: clientRows()},
		failures:  []error{errors.NewExecutionFailure(errors.StoreConnection, errors.New("connection reset"))},
	}
	r := newRetrying(store)
	s, err := r.Start(ctx, "show client name", "")
	require.NoError(t, err)
	done, err := r.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepFormatted, done.Step)
	assert.Len(t, store.queries, 2)

	// Red-Flag: a syntax error is never retried.
	store = &flakyStore{
		fakeStore: fakeStore{result: clientRows()},
		failures:  []error{errors.NewExecutionFailure(errors.StoreSyntax, errors.New("incorrect syntax"))},
	}
	r = newRetrying(store)
	s, err = r.Start(ctx, "show client name", "")
	require.NoError(t, err)
	done, err = r.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepExecutionFailed, done.Step)
	assert.Len(t, store.queries, 1)
}

func TestApprove_FormattingFailureDegrades(t *testing.T) {
	r := replies("SELECT name FROM client")
	r[pipeline.StagePresentation] = oracle.Reply{Err: errors.NewOracleFailure(errors.OracleRateLimited, errors.New("429"))}
	h := newHarness(t, r)
	ctx := context.Background()

	s, err := h.runner.Start(ctx, "show client name", "")
	require.NoError(t, err)
	done, err := h.runner.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepFormatted, done.Step)
	require.NotNil(t, done.Summary)
	assert.True(t, strings.HasPrefix(*done.Summary, "Results retrieved but formatting failed: text oracle call failed (rate_limited)"))
	assert.Contains(t, *done.Summary, "Globex")
}

func TestReject(t *testing.T) {
	h := newHarness(t, replies("SELECT name FROM client"))
	ctx := context.Background()

	s, err := h.runner.Start(ctx, "show client name", "")
	require.NoError(t, err)
	done, err := h.runner.Reject(ctx, s.ID, "bob", " too broad ")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StepRejected, done.Step)
	assert.False(t, done.Approved)
	assert.Equal(t, "bob", done.RejectedBy)
	assert.Equal(t, "too broad", done.RejectionReason)
	assert.True(t, hasMessage(done, pipeline.StageApproval, "Rejected by bob: too broad"))

	// Red-Flag: a rejected question cannot be approved afterwards.
	_, err = h.runner.Approve(ctx, s.ID, "carol")
	var na *errors.ErrNotAwaitingApproval
	require.True(t, errors.As(err, &na))
	assert.Equal(t, string(pipeline.StepRejected), na.Step)
	assert.Empty(t, h.store.queries)
}

func TestApprove_UnknownQuestion(t *testing.T) {
	h := newHarness(t, replies("SELECT name FROM client"))
	_, err := h.runner.Approve(context.Background(), "missing", "bob")
	var nf *errors.ErrStateNotFound
	require.True(t, errors.As(err, &nf))
}

// A question parked by one runner is approved by another over the same
// SQLite database, as after a restart.
func TestApproval_ResumesFromPersistedState(t *testing.T) {
	ctx := context.Background()
	repo, err := storage.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	newRunner := func(o *stagedOracle, st *fakeStore) *pipeline.Runner {
		r, err := pipeline.NewRunner(pipeline.Options{
			Schema: staticSchema{snap: testSnapshot()},
			Oracle: o,
			Store:  st,
			States: repo,
		})
		require.NoError(t, err)
		return r
	}

	first := newRunner(newOracle(replies("SELECT name FROM client")), &fakeStore{})
	s, err := first.Start(ctx, "show client name", "alice")
	require.NoError(t, err)
	require.Equal(t, pipeline.StepAwaitingApproval, s.Step)

	store := &fakeStore{result: clientRows()}
	second := newRunner(newOracle(replies("unused")), store)
	done, err := second.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepFormatted, done.Step)
	assert.Equal(t, []string{"SELECT TOP 100 name FROM client"}, store.queries)

	history, err := second.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, pipeline.StepFormatted, history[0].Step)
}

// Red-Flag: an oracle failure while reading intent halts in error before synthesis.
func TestIntentOracleFailure(t *testing.T) {
	r := replies("SELECT name FROM client")
	r[pipeline.StageIntent] = oracle.Reply{Err: errors.NewOracleFailure(errors.OracleUnavailable, errors.New("503"))}
	h := newHarness(t, r)

	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepError, s.Step)
	require.NotNil(t, s.FatalError)
	assert.Contains(t, *s.FatalError, "Intent analysis failed")
	assert.Equal(t, 0, h.oracle.Calls(pipeline.StageSynthesis))
}

func TestSynthesisOracleFailure(t *testing.T) {
	r := replies("")
	r[pipeline.StageSynthesis] = oracle.Reply{Err: errors.NewOracleFailure(errors.OracleTimeout, errors.ErrTimeout)}
	h := newHarness(t, r)

	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepError, s.Step)
	assert.Contains(t, *s.FatalError, "SQL generation failed")
	assert.Nil(t, s.SQLCandidate)
}

func TestIntentParseFailureUsesDefaults(t *testing.T) {
	r := replies("SELECT name FROM client")
	r[pipeline.StageIntent] = oracle.Reply{Text: "they want client names"}
	h := newHarness(t, r)

	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.DefaultIntent, s.Intent)
	assert.Empty(t, s.Entities)
	assert.True(t, hasMessage(s, pipeline.StageIntent, "using defaults"))
	assert.Equal(t, pipeline.StepAwaitingApproval, s.Step)
}

func TestSchemaUnavailable(t *testing.T) {
	o := newOracle(replies("SELECT name FROM client"))
	states := storage.NewMemoryRepository()
	r, err := pipeline.NewRunner(pipeline.Options{
		Schema: staticSchema{err: errors.NewSchemaSourceFailure("live", errors.New("login failed"))},
		Oracle: o,
		States: states,
	})
	require.NoError(t, err)

	s, err := r.Start(context.Background(), "show client name", "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StepError, s.Step)
	assert.Contains(t, *s.FatalError, "Schema unavailable")
	assert.Equal(t, 0, o.Calls(pipeline.StageIntent))
}

// A state that cannot be persisted is still returned with the error.
func TestStart_PersistFailureStillReturnsState(t *testing.T) {
	h := newHarness(t, replies("SELECT name FROM client"))
	h.states.FailSaves(errors.New("disk full"))

	s, err := h.runner.Start(context.Background(), "show client name", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, pipeline.StepAwaitingApproval, s.Step)
	assert.NotEmpty(t, s.ID)
}

func TestStart_EmptyQuestion(t *testing.T) {
	h := newHarness(t, replies(""))
	_, err := h.runner.Start(context.Background(), "   ", "")
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Equal(t, 0, h.states.Saves())
}

func TestAudit_RecordsEveryStep(t *testing.T) {
	h := newHarness(t, replies("SELECT name FROM client"))
	ctx := context.Background()
	s, err := h.runner.Start(ctx, "show client name", "alice")
	require.NoError(t, err)
	_, err = h.runner.Approve(ctx, s.ID, "bob")
	require.NoError(t, err)

	summary, err := h.audit.Summary(ctx)
	require.NoError(t, err)
	// intent_done, grounded, sql_generated, validated, approval granted, executed
	assert.Equal(t, 6, summary.Outcomes[observability.OutcomeProgress])
	assert.Equal(t, 1, summary.Outcomes[observability.OutcomePending])
	assert.Equal(t, 1, summary.Outcomes[observability.OutcomeCompleted])
}

func TestNewRunner_RequiresCollaborators(t *testing.T) {
	_, err := pipeline.NewRunner(pipeline.Options{})
	assert.Error(t, err)
	_, err = pipeline.NewRunner(pipeline.Options{Schema: staticSchema{}})
	assert.Error(t, err)
	_, err = pipeline.NewRunner(pipeline.Options{Schema: staticSchema{}, Oracle: newOracle(nil)})
	assert.Error(t, err)
}

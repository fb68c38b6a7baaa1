package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/groundsql/internal/adapters/mssql"
	"github.com/canonica-labs/groundsql/internal/auth"
	"github.com/canonica-labs/groundsql/internal/bootstrap"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/oracle"
	"github.com/canonica-labs/groundsql/internal/storage"
	"github.com/canonica-labs/groundsql/pkg/api"
	"github.com/canonica-labs/groundsql/pkg/models"
)

const (
	analystToken  = "analyst-token"
	approverToken = "approver-token"
	adminToken    = "admin-token"

	askedQuestion = "show client city in new york"
	intentReply   = "Intent: get data\nEntities: client, city\nTables Likely Needed: client"
	sqlReply      = "SELECT client_name, city FROM client WHERE city = 'New York'"
	limitedSQL    = "SELECT TOP 100 client_name, city FROM client WHERE city = 'New York'"
)

type testServer struct {
	gw     *Gateway
	mock   sqlmock.Sqlmock
	script *oracle.Scripted
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	cfg := &config.Config{
		Oracle: config.OracleConfig{BaseURL: "http://oracle.invalid/v1", APIKey: "sk-test", Model: "test-model"},
		Store:  config.StoreConfig{Driver: "mssql", DSN: "sqlserver://sa@localhost?database=crm"},
		Schema: config.SchemaConfig{TTL: time.Hour, Source: bootstrap.SourceManual},
		Pipeline: config.PipelineConfig{
			RowLimit:     100,
			MaxTables:    5,
			StateBackend: storage.BackendMemory,
		},
	}
	script := oracle.NewScripted()
	app, err := bootstrap.New(context.Background(), bootstrap.Options{
		Config: cfg,
		Store:  mssql.New(db, cfg.Store),
		Oracle: script,
		States: storage.NewMemoryRepository(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = app.Close()
		_ = db.Close()
	})

	authn := auth.FromConfig([]config.TokenConfig{
		{Token: analystToken, User: "ana", Roles: []string{auth.RoleAnalyst}},
		{Token: approverToken, User: "bob", Roles: []string{auth.RoleApprover}},
		{Token: adminToken, User: "root", Roles: []string{auth.RoleAdmin}},
	})
	gw, err := NewFromApp(app, Config{Version: "test", Authenticator: authn})
	require.NoError(t, err)
	return &testServer{gw: gw, mock: mock, script: script}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(data))
		req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(api.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.gw.ServeHTTP(rec, req)
	return rec
}

// ask scripts the intent and synthesis replies and posts the question.
func (ts *testServer) ask(t *testing.T) models.Question {
	t.Helper()
	ts.script.Push(oracle.Reply{Text: intentReply}).Push(oracle.Reply{Text: sqlReply})
	rec := ts.do(t, http.MethodPost, api.EndpointQuestions, analystToken, models.AskRequest{Question: askedQuestion})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	q := decode[models.Question](t, rec)
	assert.Equal(t, q.ID, rec.Header().Get(api.HeaderQuestionID))
	return q
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// Green-Flag: a question is asked, parked, approved by an approver and
// answered with a summary.
func TestAskApproveFlow(t *testing.T) {
	ts := newTestServer(t)

	q := ts.ask(t)
	assert.Equal(t, "awaiting_approval", q.Step)
	assert.Equal(t, limitedSQL, q.SQL)
	assert.Equal(t, "ana", q.AskedBy)
	assert.Contains(t, q.GroundedTables, "client")
	assert.False(t, q.Done)

	ts.mock.ExpectQuery(regexp.QuoteMeta(limitedSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"client_name", "city"}).AddRow("Acme", "New York"))
	ts.script.Push(oracle.Reply{Text: "Acme is the only client in New York."})

	rec := ts.do(t, http.MethodPost, api.ApprovalPath(q.ID), approverToken, models.NewApprovalRequest(true, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	done := decode[models.Question](t, rec)
	assert.Equal(t, "formatted", done.Step)
	assert.Equal(t, "bob", done.ApprovedBy)
	assert.Equal(t, 1, done.RowCount)
	assert.Equal(t, "Found 1 results.\n\nAcme is the only client in New York.", done.Summary)
	require.NoError(t, ts.mock.ExpectationsWereMet())

	rec = ts.do(t, http.MethodGet, api.QuestionPath(q.ID), analystToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "formatted", decode[models.Question](t, rec).Step)

	rec = ts.do(t, http.MethodGet, api.EndpointQuestions+"?limit=5", analystToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[models.QuestionList](t, rec)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, q.ID, list.Questions[0].ID)

	rec = ts.do(t, http.MethodGet, api.EndpointAuditSummary, analystToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[models.AuditSummary](t, rec).Outcomes["completed"])
}

// Red-Flag: an analyst cannot approve, and a decided question cannot be
// decided again.
func TestApproval_RolesAndConflicts(t *testing.T) {
	ts := newTestServer(t)
	q := ts.ask(t)

	rec := ts.do(t, http.MethodPost, api.ApprovalPath(q.ID), analystToken, models.NewApprovalRequest(true, ""))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "missing role approver", decode[models.ErrorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, api.ApprovalPath(q.ID), approverToken,
		models.NewApprovalRequest(false, "too broad"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rejected := decode[models.Question](t, rec)
	assert.Equal(t, "rejected", rejected.Step)
	assert.Equal(t, "too broad", rejected.RejectionReason)
	assert.True(t, rejected.Done)

	rec = ts.do(t, http.MethodPost, api.ApprovalPath(q.ID), approverToken, models.NewApprovalRequest(true, ""))
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "current step is rejected", resp.Reason)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

// Red-Flag: a body without a decision leaves the question parked.
func TestApproval_MissingDecision(t *testing.T) {
	ts := newTestServer(t)
	q := ts.ask(t)

	for _, body := range []any{map[string]any{}, map[string]any{"approve": true, "reason": "typo"}} {
		rec := ts.do(t, http.MethodPost, api.ApprovalPath(q.ID), approverToken, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Equal(t, "approved is required", decode[models.ErrorResponse](t, rec).Error)
	}

	rec := ts.do(t, http.MethodGet, api.QuestionPath(q.ID), analystToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parked := decode[models.Question](t, rec)
	assert.Equal(t, "awaiting_approval", parked.Step)
	assert.False(t, parked.Done)
	assert.Empty(t, parked.RejectedBy)
}

// Red-Flag: unknown questions are 404 with a suggestion.
func TestQuestion_NotFound(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, api.QuestionPath("missing"), analystToken, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "question not found: missing", resp.Error)
	assert.Contains(t, resp.Suggestion, "history")

	rec = ts.do(t, http.MethodPost, api.ApprovalPath("missing"), approverToken, models.NewApprovalRequest(true, ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Red-Flag: protected routes refuse missing and unknown tokens.
func TestAuthentication_Required(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, api.EndpointQuestions, "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token required", decode[models.ErrorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, api.EndpointQuestions, "nope", models.AskRequest{Question: askedQuestion})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid token", decode[models.ErrorResponse](t, rec).Reason)
	assert.Zero(t, ts.script.Calls())
}

func TestWhoAmI(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, api.EndpointAuth, approverToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[models.AuthStatus](t, rec)
	assert.True(t, st.Authenticated)
	assert.Equal(t, "bob", st.UserName)
	assert.Equal(t, []string{auth.RoleApprover}, st.Roles)
}

// Red-Flag: malformed requests are 400 and never reach the oracle.
func TestBadRequests(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, api.EndpointQuestions, analystToken, models.AskRequest{Question: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "question is empty", decode[models.ErrorResponse](t, rec).Error)

	rec = ts.do(t, http.MethodGet, api.EndpointQuestions+"?limit=abc", analystToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, api.EndpointSQLCheck, analystToken, models.SQLCheckRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, api.EndpointQuestions, strings.NewReader("{not json"))
	req.Header.Set(api.HeaderContentType, api.ContentTypeJSON)
	req.Header.Set(api.HeaderAuthorization, "Bearer "+analystToken)
	raw := httptest.NewRecorder()
	ts.gw.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	assert.Zero(t, ts.script.Calls())
}

func TestSQLCheck(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, api.EndpointSQLCheck, analystToken, models.SQLCheckRequest{SQL: "DELETE FROM client"})
	require.Equal(t, http.StatusOK, rec.Code)
	bad := decode[models.SQLCheckResult](t, rec)
	assert.False(t, bad.Valid)
	assert.Equal(t, "forbidden_keyword", bad.Rule)
	assert.Empty(t, bad.LimitedSQL)

	rec = ts.do(t, http.MethodPost, api.EndpointSQLCheck, analystToken,
		models.SQLCheckRequest{SQL: "SELECT name FROM client", RowLimit: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	good := decode[models.SQLCheckResult](t, rec)
	assert.True(t, good.Valid)
	assert.True(t, good.RequiresApproval)
	assert.Equal(t, "SELECT TOP 5 name FROM client", good.LimitedSQL)
}

// Green-Flag: any role reads the schema; only admins refresh it.
func TestSchemaRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, api.EndpointSchema, analystToken, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[models.Schema](t, rec)
	names := make([]string, 0, len(snap.Tables))
	for _, tbl := range snap.Tables {
		names = append(names, tbl.Name)
	}
	assert.ElementsMatch(t, []string{"client", "contacts", "project"}, names)

	rec = ts.do(t, http.MethodPost, api.EndpointSchemaRefresh, approverToken, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "missing role admin", decode[models.ErrorResponse](t, rec).Reason)

	rec = ts.do(t, http.MethodPost, api.EndpointSchemaRefresh, adminToken, models.RefreshRequest{Source: bootstrap.SourceManual})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[models.Schema](t, rec).Tables, 3)

	rec = ts.do(t, http.MethodPost, api.EndpointSchemaRefresh, adminToken, models.RefreshRequest{Source: bootstrap.SourceSpreadsheet})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// Green-Flag: health and metrics need no token.
func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, api.EndpointHealth, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	health := decode[models.HealthResponse](t, rec)
	assert.Equal(t, "ready", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Len(t, health.Components, 4)

	rec = ts.do(t, http.MethodGet, api.EndpointMetrics, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "groundsql_http_requests_total")
}

func TestErrorResponse_Mapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", errors.NewStateNotFound("q1"), http.StatusNotFound},
		{"not awaiting", errors.NewNotAwaitingApproval("q1", "formatted"), http.StatusConflict},
		{"forbidden", errors.NewForbidden("ana", auth.RoleAdmin), http.StatusForbidden},
		{"auth", errors.NewAuthFailed("invalid token"), http.StatusUnauthorized},
		{"missing config", errors.NewMissingConfiguration([]string{"schema.spreadsheet_path"}), http.StatusServiceUnavailable},
		{"oracle", errors.NewOracleFailure(errors.OracleRateLimited, nil), http.StatusBadGateway},
		{"wrapped", errors.Wrap(errors.NewStateNotFound("q2"), "load"), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := errorResponse(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

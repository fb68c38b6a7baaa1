// Package gateway serves the question pipeline over HTTP.
//
// Every /api/v1 route requires a bearer token and an action grant; /health
// and /metrics are open. Errors are rendered as models.ErrorResponse with
// the reason and suggestion carried by groundsql errors.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/canonica-labs/groundsql/internal/auth"
	"github.com/canonica-labs/groundsql/internal/bootstrap"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/pipeline"
	"github.com/canonica-labs/groundsql/internal/schema"
	"github.com/canonica-labs/groundsql/internal/status"
	"github.com/canonica-labs/groundsql/pkg/api"
	"github.com/canonica-labs/groundsql/pkg/models"
)

const apiPrefix = "/api/v1"

// DefaultHistoryLimit is how many questions GET /questions returns when no
// limit is given.
const DefaultHistoryLimit = 20

// Questions drives questions through the pipeline.
type Questions interface {
	Start(ctx context.Context, question, askedBy string) (pipeline.State, error)
	Approve(ctx context.Context, id, approver string) (pipeline.State, error)
	Reject(ctx context.Context, id, approver, reason string) (pipeline.State, error)
	Get(ctx context.Context, id string) (pipeline.State, error)
	List(ctx context.Context, limit int) ([]pipeline.State, error)
}

// SchemaService serves and refreshes the schema snapshot.
type SchemaService interface {
	Get(ctx context.Context, forceRefresh bool) (*schema.Snapshot, error)
	RefreshSchema(ctx context.Context, source string) (*schema.Snapshot, error)
}

// SQLChecker runs a statement through the safety gate without executing it.
type SQLChecker interface {
	CheckSQL(query string, rowLimit int) models.SQLCheckResult
}

// Deps are the collaborators the routes call.
type Deps struct {
	Questions Questions
	Schema    SchemaService
	SQL       SQLChecker
	Audit     observability.AuditLogger
	Status    status.StatusChecker
}

// Config configures a Gateway. Authenticator is required.
type Config struct {
	Version       string
	Authenticator auth.Authenticator
	Authorizer    *auth.AuthorizationService
	Logger        *zap.SugaredLogger
	HistoryLimit  int
}

// Gateway is the HTTP front of a groundsql process.
type Gateway struct {
	echo  *echo.Echo
	deps  Deps
	cfg   Config
	authz *auth.AuthorizationService
	log   *zap.SugaredLogger
}

// New builds a Gateway and registers its routes.
func New(deps Deps, cfg Config) (*Gateway, error) {
	switch {
	case deps.Questions == nil:
		return nil, errors.New("gateway: questions service is required")
	case deps.Schema == nil:
		return nil, errors.New("gateway: schema service is required")
	case deps.SQL == nil:
		return nil, errors.New("gateway: sql checker is required")
	case deps.Status == nil:
		return nil, errors.New("gateway: status checker is required")
	case cfg.Authenticator == nil:
		return nil, errors.New("gateway: authenticator is required")
	}
	if deps.Audit == nil {
		deps.Audit = observability.NewNoopAuditLogger()
	}
	if cfg.Version == "" {
		cfg.Version = api.Version
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	g := &Gateway{
		echo:  echo.New(),
		deps:  deps,
		cfg:   cfg,
		authz: cfg.Authorizer,
		log:   observability.OrNop(cfg.Logger),
	}
	if g.authz == nil {
		g.authz = auth.DefaultAuthorization()
	}
	g.routes()
	return g, nil
}

// NewFromApp builds a Gateway over a bootstrapped App.
func NewFromApp(app *bootstrap.App, cfg Config) (*Gateway, error) {
	if cfg.Logger == nil {
		cfg.Logger = app.Logger.Named("gateway")
	}
	return New(Deps{
		Questions: app.Runner,
		Schema:    appSchema{app},
		SQL:       app,
		Audit:     app.Audit,
		Status:    app.Status(cfg.Version),
	}, cfg)
}

type appSchema struct{ app *bootstrap.App }

func (s appSchema) Get(ctx context.Context, force bool) (*schema.Snapshot, error) {
	return s.app.Schema.Get(ctx, force)
}

func (s appSchema) RefreshSchema(ctx context.Context, source string) (*schema.Snapshot, error) {
	return s.app.RefreshSchema(ctx, source)
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.echo.ServeHTTP(w, r)
}

func (g *Gateway) routes() {
	e := g.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = g.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(g.observe)

	e.GET(api.EndpointHealth, g.health)
	e.GET(api.EndpointMetrics, echo.WrapHandler(promhttp.Handler()))

	v1 := e.Group(apiPrefix, g.authenticate)
	v1.GET(route(api.EndpointAuth), g.whoami)
	v1.POST(route(api.EndpointQuestions), g.ask, g.require(auth.ActionAsk))
	v1.GET(route(api.EndpointQuestions), g.history, g.require(auth.ActionView))
	v1.GET(route(api.EndpointQuestion), g.question, g.require(auth.ActionView))
	v1.POST(route(api.EndpointApproval), g.decide, g.require(auth.ActionApprove))
	v1.GET(route(api.EndpointSchema), g.schema, g.require(auth.ActionViewSchema))
	v1.POST(route(api.EndpointSchemaRefresh), g.refreshSchema, g.require(auth.ActionRefreshSchema))
	v1.POST(route(api.EndpointSQLCheck), g.checkSQL, g.require(auth.ActionCheckSQL))
	v1.GET(route(api.EndpointAuditSummary), g.auditSummary, g.require(auth.ActionView))
}

func route(endpoint string) string {
	return strings.TrimPrefix(endpoint, apiPrefix)
}

// observe records request metrics against the route template, so ids do
// not explode the label space.
func (g *Gateway) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		path := c.Path()
		if path == "" {
			path = "unmatched"
		}
		observability.ObserveHTTPRequest(c.Request().Method, path, c.Response().Status, time.Since(start))
		return nil
	}
}

func (g *Gateway) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		token := auth.BearerToken(req.Header.Get(api.HeaderAuthorization))
		user, err := g.cfg.Authenticator.ValidateToken(req.Context(), token)
		if err != nil {
			return err
		}
		c.SetRequest(req.WithContext(auth.ContextWithUser(req.Context(), user)))
		return next(c)
	}
}

func (g *Gateway) require(action auth.Action) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := g.authz.Authorize(auth.UserFromContext(c.Request().Context()), action); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func (g *Gateway) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, body := errorResponse(err)
	req := c.Request()
	if code >= http.StatusInternalServerError {
		g.log.Errorw("request failed", "method", req.Method, "path", req.URL.Path, "status", code, "error", err)
	} else {
		g.log.Debugw("request refused", "method", req.Method, "path", req.URL.Path, "status", code, "error", err)
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, body)
}

func errorResponse(err error) (int, models.ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
		return he.Code, models.ErrorResponse{Error: msg, Code: he.Code}
	}

	code := statusOf(err)
	resp := models.ErrorResponse{Error: err.Error(), Code: code}
	if ge, ok := errors.Details(err); ok {
		resp.Error = ge.Message
		resp.Reason = ge.Reason
		resp.Suggestion = ge.Suggestion
	}
	return code, resp
}

func statusOf(err error) int {
	var (
		notFound    *errors.ErrStateNotFound
		notAwaiting *errors.ErrNotAwaitingApproval
		forbidden   *errors.ErrForbidden
		missingConf *errors.ErrMissingConfiguration
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &notAwaiting):
		return http.StatusConflict
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &missingConf):
		return http.StatusServiceUnavailable
	}
	switch errors.CodeOf(err) {
	case errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodeAuth:
		return http.StatusUnauthorized
	case errors.CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

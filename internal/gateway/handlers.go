package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/canonica-labs/groundsql/internal/auth"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/pipeline"
	"github.com/canonica-labs/groundsql/pkg/api"
	"github.com/canonica-labs/groundsql/pkg/models"
)

func (g *Gateway) health(c echo.Context) error {
	res, err := g.deps.Status.GetStatus(c.Request().Context())
	if err != nil {
		return err
	}
	if res.Version == "" {
		res.Version = g.cfg.Version
	}
	code := http.StatusOK
	if !res.Ready {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, res.Model())
}

func (g *Gateway) whoami(c echo.Context) error {
	user := auth.UserFromContext(c.Request().Context())
	if user == nil {
		return c.JSON(http.StatusOK, models.AuthStatus{})
	}
	return c.JSON(http.StatusOK, models.AuthStatus{
		Authenticated: true,
		UserID:        user.ID,
		UserName:      user.Name,
		Roles:         user.Roles,
		ExpiresAt:     user.ExpiresAt,
	})
}

func (g *Gateway) ask(c echo.Context) error {
	var req models.AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	ctx := c.Request().Context()
	s, err := g.deps.Questions.Start(ctx, req.Question, userName(c))
	if err != nil {
		return err
	}
	g.log.Infow("question asked",
		observability.FieldQuestionID, s.ID,
		observability.FieldUser, s.AskedBy,
		observability.FieldStep, s.Step)
	return g.respond(c, http.StatusCreated, s)
}

func (g *Gateway) question(c echo.Context) error {
	s, err := g.deps.Questions.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return g.respond(c, http.StatusOK, s)
}

func (g *Gateway) history(c echo.Context) error {
	limit := g.cfg.HistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	states, err := g.deps.Questions.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.QuestionList{Questions: pipeline.Models(states), Count: len(states)})
}

func (g *Gateway) decide(c echo.Context) error {
	var req models.ApprovalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Approved == nil {
		// The question stays parked until a real decision arrives.
		return echo.NewHTTPError(http.StatusBadRequest, "approved is required")
	}
	var (
		ctx = c.Request().Context()
		id  = c.Param("id")
		who = userName(c)
		s   pipeline.State
		err error
	)
	if *req.Approved {
		s, err = g.deps.Questions.Approve(ctx, id, who)
	} else {
		s, err = g.deps.Questions.Reject(ctx, id, who, req.Reason)
	}
	if err != nil {
		return err
	}
	g.log.Infow("approval decided",
		observability.FieldQuestionID, id,
		observability.FieldUser, who,
		"approved", *req.Approved,
		observability.FieldStep, s.Step)
	return g.respond(c, http.StatusOK, s)
}

func (g *Gateway) schema(c echo.Context) error {
	snap, err := g.deps.Schema.Get(c.Request().Context(), false)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap.Model())
}

func (g *Gateway) refreshSchema(c echo.Context) error {
	var req models.RefreshRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	snap, err := g.deps.Schema.RefreshSchema(c.Request().Context(), req.Source)
	if err != nil {
		return err
	}
	g.log.Infow("schema refreshed", observability.FieldSource, req.Source, "tables", snap.Len(), observability.FieldUser, userName(c))
	return c.JSON(http.StatusOK, snap.Model())
}

func (g *Gateway) checkSQL(c echo.Context) error {
	var req models.SQLCheckRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.SQL) == "" {
		return &errors.GroundError{
			Code:       errors.CodeValidation,
			Message:    "sql is empty",
			Suggestion: "send {\"sql\": \"SELECT ...\"}",
		}
	}
	return c.JSON(http.StatusOK, g.deps.SQL.CheckSQL(req.SQL, req.RowLimit))
}

func (g *Gateway) auditSummary(c echo.Context) error {
	summary, err := g.deps.Audit.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary.Model())
}

func (g *Gateway) respond(c echo.Context, code int, s pipeline.State) error {
	c.Response().Header().Set(api.HeaderQuestionID, s.ID)
	return c.JSON(code, s.Model())
}

func userName(c echo.Context) string {
	if u := auth.UserFromContext(c.Request().Context()); u != nil {
		return u.Name
	}
	return ""
}

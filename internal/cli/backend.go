package cli

import (
	"context"
	"os/user"
	"strings"

	"go.uber.org/zap"

	"github.com/canonica-labs/groundsql/internal/auth"
	"github.com/canonica-labs/groundsql/internal/bootstrap"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/pkg/models"
)

// Backend is what the commands talk to: the in-process pipeline or a
// gateway. Both return the public API models.
type Backend interface {
	Ask(ctx context.Context, question string) (models.Question, error)
	Approve(ctx context.Context, id string) (models.Question, error)
	Reject(ctx context.Context, id, reason string) (models.Question, error)
	Question(ctx context.Context, id string) (models.Question, error)
	History(ctx context.Context, limit int) (models.QuestionList, error)
	Schema(ctx context.Context) (models.Schema, error)
	RefreshSchema(ctx context.Context, source string) (models.Schema, error)
	CheckSQL(ctx context.Context, query string, rowLimit int) (models.SQLCheckResult, error)
	AuditSummary(ctx context.Context) (models.AuditSummary, error)
	Status(ctx context.Context) (models.HealthResponse, error)
	WhoAmI(ctx context.Context) (models.AuthStatus, error)
	Close() error
}

// LocalBackend runs the pipeline in this process. The operating system user
// asks and approves.
type LocalBackend struct {
	app  *bootstrap.App
	user string
}

// OpenLocal bootstraps the pipeline from cfg.
func OpenLocal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LocalBackend, error) {
	app, err := bootstrap.New(ctx, bootstrap.Options{Config: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}
	return NewLocalBackend(app, localUser()), nil
}

// NewLocalBackend wraps an already built App.
func NewLocalBackend(app *bootstrap.App, userName string) *LocalBackend {
	return &LocalBackend{app: app, user: userName}
}

func localUser() string {
	if u, err := user.Current(); err == nil && strings.TrimSpace(u.Username) != "" {
		return u.Username
	}
	return "local"
}

// Ask implements Backend. A state that could not be persisted is still
// returned with the error.
func (b *LocalBackend) Ask(ctx context.Context, question string) (models.Question, error) {
	s, err := b.app.Runner.Start(ctx, question, b.user)
	if err != nil && s.ID == "" {
		return models.Question{}, err
	}
	return s.Model(), err
}

// Approve implements Backend.
func (b *LocalBackend) Approve(ctx context.Context, id string) (models.Question, error) {
	s, err := b.app.Runner.Approve(ctx, id, b.user)
	if err != nil && s.ID == "" {
		return models.Question{}, err
	}
	return s.Model(), err
}

// Reject implements Backend.
func (b *LocalBackend) Reject(ctx context.Context, id, reason string) (models.Question, error) {
	s, err := b.app.Runner.Reject(ctx, id, b.user, reason)
	if err != nil && s.ID == "" {
		return models.Question{}, err
	}
	return s.Model(), err
}

// Question implements Backend.
func (b *LocalBackend) Question(ctx context.Context, id string) (models.Question, error) {
	s, err := b.app.Runner.Get(ctx, id)
	if err != nil {
		return models.Question{}, err
	}
	return s.Model(), nil
}

// History implements Backend.
func (b *LocalBackend) History(ctx context.Context, limit int) (models.QuestionList, error) {
	states, err := b.app.Runner.List(ctx, limit)
	if err != nil {
		return models.QuestionList{}, err
	}
	list := models.QuestionList{Count: len(states)}
	for _, s := range states {
		list.Questions = append(list.Questions, s.Model())
	}
	return list, nil
}

// Schema implements Backend. The first call loads the snapshot.
func (b *LocalBackend) Schema(ctx context.Context) (models.Schema, error) {
	snap, err := b.app.Schema.Get(ctx, false)
	if err != nil {
		return models.Schema{}, err
	}
	return snap.Model(), nil
}

// RefreshSchema implements Backend.
func (b *LocalBackend) RefreshSchema(ctx context.Context, source string) (models.Schema, error) {
	snap, err := b.app.RefreshSchema(ctx, source)
	if err != nil {
		return models.Schema{}, err
	}
	return snap.Model(), nil
}

// CheckSQL implements Backend.
func (b *LocalBackend) CheckSQL(ctx context.Context, query string, rowLimit int) (models.SQLCheckResult, error) {
	return b.app.CheckSQL(query, rowLimit), nil
}

// AuditSummary implements Backend.
func (b *LocalBackend) AuditSummary(ctx context.Context) (models.AuditSummary, error) {
	summary, err := b.app.Audit.Summary(ctx)
	if err != nil {
		return models.AuditSummary{}, err
	}
	return summary.Model(), nil
}

// Status implements Backend.
func (b *LocalBackend) Status(ctx context.Context) (models.HealthResponse, error) {
	res, err := b.app.Status(Version).GetStatus(ctx)
	if err != nil {
		return models.HealthResponse{}, err
	}
	return res.Model(), nil
}

// WhoAmI implements Backend. The local user holds every role.
func (b *LocalBackend) WhoAmI(ctx context.Context) (models.AuthStatus, error) {
	return models.AuthStatus{
		Authenticated: true,
		UserID:        b.user,
		UserName:      b.user,
		Roles:         []string{auth.RoleAdmin},
	}, nil
}

// Close implements Backend.
func (b *LocalBackend) Close() error {
	return b.app.Close()
}

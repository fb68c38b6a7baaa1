// Package bootstrap builds the collaborators of a groundsql process from
// configuration, once, and hands them to the CLI and the gateway.
//
// Nothing here is a process-wide singleton: every App owns its store pool,
// state repository and schema cache, and Close releases them.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/adapters/drivers"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/grounding"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/oracle"
	"github.com/canonica-labs/groundsql/internal/pipeline"
	"github.com/canonica-labs/groundsql/internal/retry"
	"github.com/canonica-labs/groundsql/internal/schema"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
	"github.com/canonica-labs/groundsql/internal/status"
	"github.com/canonica-labs/groundsql/internal/storage"
	"github.com/canonica-labs/groundsql/pkg/models"
)

// Schema sources accepted by schema.source and RefreshSchema.
const (
	SourceLive        = "live"
	SourceSpreadsheet = "spreadsheet"
	SourceManual      = "manual"
)

// Options configures New. Only Config is required; the other fields replace
// what Config would build.
type Options struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *adapters.Registry
	Store    adapters.Store
	Oracle   oracle.Oracle
	States   storage.StateRepository
	// AuditWriter receives audit entries as JSON lines in addition to the
	// audit_log table. Defaults to pipeline.audit_log_path, if set.
	AuditWriter io.Writer
}

// App is a fully wired groundsql process.
type App struct {
	Config    *config.Config
	Logger    *zap.SugaredLogger
	Store     adapters.Store
	Schema    *schema.Store
	Oracle    oracle.Oracle
	States    storage.StateRepository
	Audit     observability.AuditLogger
	Validator *gsql.Validator
	Runner    *pipeline.Runner

	closers []func() error
}

// New validates the configuration and builds every collaborator. A missing
// credential stops here, before any pipeline exists.
func New(ctx context.Context, opts Options) (app *App, err error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{Config: cfg, Logger: logger.Sugar(), Validator: gsql.NewValidator()}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	if app.Store, err = app.openStore(opts); err != nil {
		return nil, err
	}
	if app.Oracle, err = app.openOracle(opts); err != nil {
		return nil, err
	}
	if app.States, err = app.openStates(ctx, opts); err != nil {
		return nil, err
	}
	if app.Audit, err = app.openAudit(opts); err != nil {
		return nil, err
	}

	src, err := app.Source(cfg.Schema.Source)
	if err != nil {
		return nil, err
	}
	schemaOpts := schema.Options{
		TTL:    cfg.Schema.TTL,
		Source: src,
		Logger: app.Logger.Named("schema"),
	}
	if cfg.Schema.CachePath != "" {
		schemaOpts.Persister = schema.NewFilePersister(cfg.Schema.CachePath)
	}
	app.Schema = schema.NewStore(schemaOpts)
	if cfg.Schema.Watch {
		if err = app.watchSchema(src); err != nil {
			return nil, err
		}
	}

	app.Runner, err = pipeline.NewRunner(pipeline.Options{
		Schema:    app.Schema,
		Oracle:    app.Oracle,
		Store:     app.Store,
		States:    app.States,
		Validator: app.Validator,
		Matcher:   grounding.NewMatcher(maxTables(cfg.Pipeline.MaxTables)),
		RowLimit:  cfg.Pipeline.RowLimit,
		StoreRetry: retry.Config{
			MaxAttempts:  cfg.Store.MaxAttempts,
			InitialDelay: cfg.Oracle.InitialBackoff,
			MaxDelay:     cfg.Oracle.MaxBackoff,
		},
		Logger:    app.Logger.Named("pipeline"),
		Audit:     app.Audit,
	})
	if err != nil {
		return nil, err
	}

	app.Logger.Infow("groundsql ready",
		"store", app.Store.Name(),
		"state_backend", cfg.Pipeline.StateBackend,
		observability.FieldSource, cfg.Schema.Source,
		"row_limit", cfg.Pipeline.RowLimit)
	return app, nil
}

func maxTables(n int) int {
	if n <= 0 || n > grounding.MaxTables {
		return grounding.MaxTables
	}
	return n
}

func (a *App) openStore(opts Options) (adapters.Store, error) {
	if opts.Store != nil {
		return opts.Store, nil
	}
	registry := opts.Registry
	if registry == nil {
		registry = drivers.Registry()
	}
	store, err := registry.Open(a.Config.Store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func (a *App) openOracle(opts Options) (oracle.Oracle, error) {
	if opts.Oracle != nil {
		return opts.Oracle, nil
	}
	oc := a.Config.Oracle
	client, err := oracle.NewOpenAIClient(oracle.OpenAIConfig{
		BaseURL:     oc.BaseURL,
		APIKey:      oc.APIKey,
		Model:       oc.Model,
		Temperature: oc.Temperature,
		Timeout:     oc.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return oracle.NewResilient(client, oracle.ResilientConfig{
		CallTimeout: oc.Timeout,
		Retry: retry.Config{
			MaxAttempts:  oc.MaxAttempts,
			InitialDelay: oc.InitialBackoff,
			MaxDelay:     oc.MaxBackoff,
		},
		RequestsPerSecond: oc.RequestsPerSecond,
		Logger:            a.Logger.Named("oracle"),
	}), nil
}

func (a *App) openStates(ctx context.Context, opts Options) (storage.StateRepository, error) {
	if opts.States != nil {
		return opts.States, nil
	}
	repo, err := storage.Open(ctx, a.Config.Pipeline)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, repo.Close)
	return repo, nil
}

// openAudit keeps the audit trail next to the states when they live in
// SQLite, and as JSON lines otherwise.
func (a *App) openAudit(opts Options) (observability.AuditLogger, error) {
	w := opts.AuditWriter
	if w == nil && a.Config.Pipeline.AuditLogPath != "" {
		f, err := os.OpenFile(a.Config.Pipeline.AuditLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "bootstrap: open audit log %s", a.Config.Pipeline.AuditLogPath)
		}
		a.closers = append(a.closers, f.Close)
		w = f
	}

	if repo, ok := a.States.(*storage.SQLiteRepository); ok {
		return observability.NewPersistentAuditLogger(repo.DB(), w)
	}
	if w == nil {
		w = io.Discard
	}
	return observability.NewJSONAuditLogger(w), nil
}

// Source returns the schema source called name; "" selects the configured
// one.
func (a *App) Source(name string) (schema.Source, error) {
	if strings.TrimSpace(name) == "" {
		name = a.Config.Schema.Source
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SourceLive:
		return schema.NewIntrospectionSource(a.Store), nil
	case SourceSpreadsheet:
		if a.Config.Schema.SpreadsheetPath == "" {
			return nil, errors.NewMissingConfiguration([]string{"schema.spreadsheet_path"})
		}
		return schema.NewSpreadsheetSource(a.Config.Schema.SpreadsheetPath, a.Config.Schema.SpreadsheetTab), nil
	case SourceManual:
		return schema.NewManualSource(a.Config.Schema.ManualPath), nil
	default:
		return nil, errors.Newf("unknown schema source %q (want live, spreadsheet or manual)", name)
	}
}

// watchSchema reloads the snapshot when the file behind src changes. The
// live source and the built-in manual definition have no file to watch.
func (a *App) watchSchema(src schema.Source) error {
	var path string
	switch src.Name() {
	case SourceSpreadsheet:
		path = a.Config.Schema.SpreadsheetPath
	case SourceManual:
		path = a.Config.Schema.ManualPath
	}
	if path == "" {
		a.Logger.Warnw("schema.watch ignored: source has no file", observability.FieldSource, src.Name())
		return nil
	}
	w, err := schema.Watch(a.Schema, src, path, schema.WatchOptions{Logger: a.Logger.Named("schema")})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, w.Close)
	return nil
}

// RefreshSchema pulls a new snapshot from the named source. On failure the
// previous snapshot stays published.
func (a *App) RefreshSchema(ctx context.Context, source string) (*schema.Snapshot, error) {
	src, err := a.Source(source)
	if err != nil {
		return nil, err
	}
	return a.Schema.RefreshFrom(ctx, src)
}

// CheckSQL runs a statement through the safety gate and limit enforcer.
func (a *App) CheckSQL(query string, rowLimit int) models.SQLCheckResult {
	if rowLimit <= 0 {
		rowLimit = a.Config.Pipeline.RowLimit
	}
	return gsql.Check(a.Validator, query, rowLimit)
}

// Status returns a checker over the app's collaborators.
func (a *App) Status(version string) *status.Checker {
	return status.NewChecker(version,
		status.Probe{Name: status.ComponentStore, Check: func(ctx context.Context) (string, error) {
			return a.Store.Name(), a.Store.Ping(ctx)
		}},
		status.Probe{Name: status.ComponentStates, Check: func(ctx context.Context) (string, error) {
			return a.Config.Pipeline.StateBackend, a.States.CheckConnectivity(ctx)
		}},
		status.Probe{Name: status.ComponentSchema, Check: func(ctx context.Context) (string, error) {
			snap := a.Schema.Current()
			if snap == nil {
				return "no snapshot yet, loaded on first question", nil
			}
			age := snap.Age(time.Now()).Round(time.Second)
			msg := fmt.Sprintf("%d tables, captured %s ago", snap.Len(), age)
			if snap.Expired(time.Now(), a.Schema.TTL()) {
				msg += " (expired, refreshed on next question)"
			}
			return msg, nil
		}},
		status.Probe{Name: status.ComponentOracle, Check: func(ctx context.Context) (string, error) {
			oc := a.Config.Oracle
			if strings.TrimSpace(oc.APIKey) == "" {
				return "", errors.NewMissingConfiguration([]string{"oracle.api_key"})
			}
			return fmt.Sprintf("model %s at %s", oc.Model, oc.BaseURL), nil
		}},
	)
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	a.closers = nil
	return errs
}

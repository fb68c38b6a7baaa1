// Package main is the entrypoint for the groundsql gateway server.
// The gateway serves the question pipeline over HTTP: ask, approve or
// reject, inspect history, schema and audit, and check statements.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/canonica-labs/groundsql/internal/auth"
	"github.com/canonica-labs/groundsql/internal/bootstrap"
	"github.com/canonica-labs/groundsql/internal/config"
	"github.com/canonica-labs/groundsql/internal/gateway"
	"github.com/canonica-labs/groundsql/internal/observability"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file (default: ./groundsql.yaml or ~/.groundsql/config.yaml)")
		addr       = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
		showVer    = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("groundsql-gateway %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	authn, err := authenticator(cfg.Server)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, bootstrap.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warnw("close failed", zap.Error(err))
		}
	}()

	gw, err := gateway.NewFromApp(app, gateway.Config{
		Version:       version,
		Authenticator: authn,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		log.Info("shutting down gateway")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			log.Warnw("shutdown error", zap.Error(err))
		}
		close(done)
	}()

	log.Infow("gateway starting",
		"addr", cfg.Server.Addr,
		"version", version,
		"commit", commit,
		"store", cfg.Store.Driver,
		"state_backend", cfg.Pipeline.StateBackend,
	)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	log.Info("gateway stopped")
	return nil
}

// authenticator accepts the static server.tokens and, with a jwt_secret,
// tokens minted by "groundsql auth token".
func authenticator(sc config.ServerConfig) (auth.Authenticator, error) {
	static := auth.FromConfig(sc.Tokens)
	if sc.JWTSecret == "" {
		if static.Len() == 0 {
			return nil, fmt.Errorf("no gateway credentials configured: set server.tokens or server.jwt_secret")
		}
		return static, nil
	}
	signed, err := auth.NewJWTAuthenticator(sc.JWTSecret)
	if err != nil {
		return nil, err
	}
	return auth.Chain(static, signed), nil
}

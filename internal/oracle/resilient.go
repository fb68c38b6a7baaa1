package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/retry"
)

// ResilientConfig configures Resilient.
type ResilientConfig struct {
	// CallTimeout bounds each attempt. Zero means no per-attempt deadline.
	CallTimeout time.Duration
	Retry       retry.Config
	// RequestsPerSecond throttles calls. Zero disables throttling.
	RequestsPerSecond float64
	Logger            *zap.SugaredLogger
}

// Resilient adds per-call timeouts, retry with backoff, rate limiting and
// metrics around another Oracle.
type Resilient struct {
	next    Oracle
	cfg     ResilientConfig
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

// NewResilient wraps next.
func NewResilient(next Oracle, cfg ResilientConfig) *Resilient {
	r := &Resilient{next: next, cfg: cfg, logger: cfg.Logger}
	if r.logger == nil {
		r.logger = zap.NewNop().Sugar()
	}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return r
}

// Complete implements Oracle.
func (r *Resilient) Complete(ctx context.Context, prompt string) (string, error) {
	stage := StageFrom(ctx)
	rc := r.cfg.Retry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warnw("oracle call failed, retrying",
			observability.FieldStage, stage,
			observability.FieldAttempt, attempt,
			"delay", delay.String(),
			"error", err)
	}

	var out string
	res := retry.Do(ctx, rc, func(attempt int) error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return errors.NewOracleFailure(errors.OracleRateLimited, err)
			}
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		}
		defer cancel()

		start := time.Now()
		text, err := r.next.Complete(callCtx, prompt)
		if err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = errors.NewOracleFailure(errors.OracleTimeout, errors.Mark(err, errors.ErrTimeout))
		}
		observability.ObserveOracleCall(stage, outcomeOf(err), time.Since(start))
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err := res.Err(); err != nil {
		var of *errors.ErrOracleFailure
		if !errors.As(err, &of) {
			err = errors.NewOracleFailure(errors.OracleUnavailable, err)
		}
		return "", err
	}
	return out, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var of *errors.ErrOracleFailure
	if errors.As(err, &of) {
		return string(of.Kind)
	}
	return "error"
}

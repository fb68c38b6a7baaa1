// Package retry runs calls to the text oracle and the relational store with
// explicit, bounded exponential backoff.
//
// Retrying is never hidden: Do returns a Result describing every attempt,
// and only errors a classifier marks as transient are retried.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/canonica-labs/groundsql/internal/errors"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the delay before the second attempt.
	// Default: 200ms
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	// Default: 5s
	MaxDelay time.Duration

	// BackoffMultiplier grows the delay after each attempt.
	// Default: 2.0
	BackoffMultiplier float64

	// Retryable decides which errors are worth another attempt.
	// Default: IsRetryable
	Retryable func(error) bool

	// OnRetry, if set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.Retryable == nil {
		c.Retryable = IsRetryable
	}
	return c
}

// Result describes what happened across all attempts.
type Result struct {
	Attempts  int
	LastError error
	Errors    []error
	Success   bool
}

func (r Result) String() string {
	if r.Success {
		if r.Attempts == 1 {
			return "succeeded on first attempt"
		}
		return fmt.Sprintf("succeeded after %d attempts", r.Attempts)
	}
	return fmt.Sprintf("failed after %d attempts: %v", r.Attempts, r.LastError)
}

// Err returns nil on success and the last error otherwise. The error keeps
// its type so callers can still match on it.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return r.LastError
}

// IsRetryable reports whether err is transient: a retryable oracle failure,
// a store connection or timeout failure, or anything marked ErrTimeout.
// Cancellation, deadlines of the caller's context, safety rejections and
// syntax errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsAny(err, context.Canceled) {
		return false
	}

	var of *errors.ErrOracleFailure
	if errors.As(err, &of) {
		return of.Retryable()
	}
	var ef *errors.ErrExecutionFailure
	if errors.As(err, &ef) {
		return ef.Kind == errors.StoreConnection || ef.Kind == errors.StoreTimeout
	}
	return errors.Is(err, errors.ErrTimeout)
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. fn receives the 1-based attempt number.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error) Result {
	cfg = cfg.withDefaults()
	result := Result{Errors: make([]error, 0, cfg.MaxAttempts)}
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.Errors = append(result.Errors, err)
			return result
		}

		err := fn(attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			return result
		}
		result.LastError = err
		result.Errors = append(result.Errors, err)

		if !cfg.Retryable(err) || attempt == cfg.MaxAttempts {
			return result
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return result
}

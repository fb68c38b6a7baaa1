package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonica-labs/groundsql/internal/errors"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	res := Do(context.Background(), fastConfig(), func(int) error { return nil })
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.NoError(t, res.Err())
	assert.Equal(t, "succeeded on first attempt", res.String())
}

func TestDo_RetriesTransientFailures(t *testing.T) {
	var delays []time.Duration
	cfg := fastConfig()
	cfg.OnRetry = func(_ int, _ error, d time.Duration) { delays = append(delays, d) }

	res := Do(context.Background(), cfg, func(attempt int) error {
		if attempt < 3 {
			return errors.NewOracleFailure(errors.OracleRateLimited, errors.New("429"))
		}
		return nil
	})
	require.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

// Red-Flag: semantic failures are never retried.
func TestDo_DoesNotRetryPermanentFailures(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(), func(int) error {
		calls++
		return errors.NewOracleFailure(errors.OracleMalformedResponse, errors.New("bad json"))
	})
	assert.False(t, res.Success)
	assert.Equal(t, 1, calls)

	var of *errors.ErrOracleFailure
	require.True(t, errors.As(res.Err(), &of))
	assert.Equal(t, errors.OracleMalformedResponse, of.Kind)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	res := Do(context.Background(), fastConfig(), func(int) error {
		calls++
		return errors.NewExecutionFailure(errors.StoreConnection, errors.New("refused"))
	})
	assert.False(t, res.Success)
	assert.Equal(t, 3, calls)
	assert.Contains(t, res.String(), "failed after 3 attempts")
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	res := Do(ctx, fastConfig(), func(int) error { calls++; return nil })
	assert.Zero(t, calls)
	assert.ErrorIs(t, res.Err(), context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(errors.NewOracleFailure(errors.OracleUnavailable, nil)))
	assert.True(t, IsRetryable(errors.NewOracleFailure(errors.OracleTimeout, nil)))
	assert.False(t, IsRetryable(errors.NewOracleFailure(errors.OracleMalformedResponse, nil)))
	assert.True(t, IsRetryable(errors.NewExecutionFailure(errors.StoreTimeout, nil)))
	assert.False(t, IsRetryable(errors.NewExecutionFailure(errors.StoreSyntax, nil)))
	assert.True(t, IsRetryable(errors.Wrap(errors.ErrTimeout, "query")))
	assert.False(t, IsRetryable(errors.New("boom")))
}

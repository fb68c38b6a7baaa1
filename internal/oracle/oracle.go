// Package oracle wraps the opaque text-completion service the pipeline
// uses for intent analysis, SQL synthesis and result summaries.
//
// The service is a black box: prompt in, text out. Everything that decides
// whether that text is acceptable lives elsewhere.
package oracle

import (
	"context"
)

// Oracle completes a prompt. Failures are *errors.ErrOracleFailure.
type Oracle interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, prompt string) (string, error)

// Complete implements Oracle.
func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type stageKey struct{}

// WithStage tags ctx with the pipeline stage making the call, for metrics
// and logs.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey{}, stage)
}

// StageFrom returns the stage tag of ctx, or "unknown".
func StageFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stageKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}

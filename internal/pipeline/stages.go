package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/grounding"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/oracle"
	"github.com/canonica-labs/groundsql/internal/present"
	"github.com/canonica-labs/groundsql/internal/retry"
	"github.com/canonica-labs/groundsql/internal/schema"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// Stage names, used in messages, audit entries and oracle metrics.
const (
	StageSchema       = "schema"
	StageIntent       = "intent"
	StageGrounding    = "grounding"
	StageSynthesis    = "synthesis"
	StageValidation   = "validation"
	StageApproval     = "approval"
	StageExecution    = "execution"
	StagePresentation = "presentation"
)

// User-visible texts.
const (
	NoResultsText        = "No results found for your query."
	foundResultsFmt      = "Found %d results.\n\n"
	formattingFailedFmt  = "Results retrieved but formatting failed: %s"
	awaitingApprovalText = "Query is valid and awaiting approval before execution."
)

// stageFunc is one pipeline stage: it returns a new State and the event
// describing how the stage ended. It never changes its input.
type stageFunc func(ctx context.Context, s State) (State, Event)

// fail records err as the fatal error of the stage.
func (r *Runner) fail(s State, stage, what string, err error) (State, Event) {
	msg := fmt.Sprintf("%s: %s", what, describe(err))
	s.FatalError = strPtr(msg)
	s.note(stage, LevelError, msg, r.now())
	r.log.Warnw("stage failed", observability.FieldStage, stage, observability.FieldQuestionID, s.ID, "error", err)
	return s, EventStageFailed
}

func (r *Runner) parseIntent(snap *schema.Snapshot) stageFunc {
	return func(ctx context.Context, s State) (State, Event) {
		next := s.Clone()
		reply, err := r.oracle.Complete(oracle.WithStage(ctx, StageIntent), intentPrompt(s.Question, snap.Names()))
		if err != nil {
			return r.fail(next, StageIntent, "Intent analysis failed", err)
		}

		in, perr := ParseIntent(reply)
		if perr != nil {
			next.note(StageIntent, LevelWarn, "Intent reply not understood, using defaults: "+perr.Error(), r.now())
		}
		next.Intent = in.Intent
		next.Entities = in.Entities

		resolved, unresolved := grounding.NewResolver(snap).ResolveAll(in.Tables)
		next.CandidateTables = resolved
		for _, name := range unresolved {
			next.note(StageIntent, LevelWarn, fmt.Sprintf("Table hint %q is not in the schema and was ignored", name), r.now())
		}
		next.note(StageIntent, LevelInfo, "Intent: "+in.Intent, r.now())
		return next, EventIntentParsed
	}
}

func (r *Runner) ground(snap *schema.Snapshot) stageFunc {
	return func(ctx context.Context, s State) (State, Event) {
		next := s.Clone()
		res := r.matcher.Match(s.Question, snap)
		next.Grounding = &res
		if res.Abstained {
			next.IsValid = false
			next.note(StageGrounding, LevelWarn, grounding.AbstentionMessage, r.now())
			return next, EventSchemaAbstained
		}
		next.SchemaContext = res.Context()
		next.note(StageGrounding, LevelInfo, "Grounded on tables: "+strings.Join(res.MatchedTables, ", "), r.now())
		return next, EventSchemaMatched
	}
}

func (r *Runner) synthesize(ctx context.Context, s State) (State, Event) {
	next := s.Clone()
	reply, err := r.oracle.Complete(oracle.WithStage(ctx, StageSynthesis), synthesisPrompt(s.Question, s.SchemaContext))
	if err != nil {
		return r.fail(next, StageSynthesis, "SQL generation failed", err)
	}

	text := gsql.ExtractFenced(reply)
	if strings.TrimSpace(text) == Sentinel {
		next.SQLCandidate = nil
		next.IsValid = false
		next.note(StageSynthesis, LevelWarn, "Synthesis declined: "+Sentinel, r.now())
		return next, EventSentinelReturned
	}

	query := gsql.StripComments(text)
	next.SQLCandidate = &query
	next.note(StageSynthesis, LevelInfo, "Generated SQL: "+query, r.now())
	return next, EventSQLProduced
}

func (r *Runner) validate(snap *schema.Snapshot) stageFunc {
	return func(ctx context.Context, s State) (State, Event) {
		next := s.Clone()
		v := r.validator.Validate(s.SQL())
		next.IsValid = v.IsValid
		next.ValidationMessage = v.Message
		next.RequiresHumanApproval = v.RequiresHumanApproval
		if !v.IsValid {
			next.note(StageValidation, LevelWarn, v.Message, r.now())
			return next, EventValidationRejected
		}

		limited := gsql.EnforceLimit(s.SQL(), r.rowLimit)
		next.SQLCandidate = &limited
		next.TablesUsed = v.TablesUsed
		_, unknown := grounding.NewResolver(snap).ResolveAll(v.TablesUsed)
		for _, name := range unknown {
			next.note(StageValidation, LevelWarn, fmt.Sprintf("Table %s is not in the schema snapshot", name), r.now())
		}
		next.note(StageValidation, LevelInfo, v.Message, r.now())
		return next, EventValidationPassed
	}
}

func (r *Runner) requestApproval(ctx context.Context, s State) (State, Event) {
	next := s.Clone()
	if !s.IsValid || !s.RequiresHumanApproval {
		return r.fail(next, StageApproval, "Approval gate refused", errors.New("statement is not valid for approval"))
	}
	next.note(StageApproval, LevelInfo, awaitingApprovalText, r.now())
	return next, EventApprovalRequested
}

func (r *Runner) execute(ctx context.Context, s State) (State, Event) {
	next := s.Clone()
	if r.store == nil {
		msg := "no relational store is configured"
		next.ExecutionError = &msg
		next.note(StageExecution, LevelError, "Query execution failed: "+msg, r.now())
		return next, EventExecutionFailed
	}

	var res *adapters.QueryResult
	rc := r.retry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.log.Warnw("store execution failed, retrying",
			observability.FieldQuestionID, s.ID, "attempt", attempt, "delay", delay, "error", err)
	}
	outcome := retry.Do(ctx, rc, func(int) error {
		var err error
		res, err = r.store.Execute(ctx, s.SQL())
		return err
	})
	if err := outcome.Err(); err != nil {
		msg := describe(err)
		next.ExecutionError = &msg
		next.note(StageExecution, LevelError, "Query execution failed: "+msg, r.now())
		return next, EventExecutionFailed
	}

	rows := res.Rows
	if rows == nil {
		rows = []Record{}
	}
	next.Rows = &rows
	next.Columns = res.Columns
	next.note(StageExecution, LevelInfo, fmt.Sprintf("Query returned %d rows", len(rows)), r.now())
	return next, EventExecutionSucceeded
}

// format never fails: an oracle failure degrades to a plain table.
func (r *Runner) format(ctx context.Context, s State) (State, Event) {
	next := s.Clone()
	if s.Rows == nil {
		return r.fail(next, StagePresentation, "Formatting skipped", errors.New("no result rows"))
	}
	rows := *s.Rows
	if len(rows) == 0 {
		next.Summary = strPtr(NoResultsText)
		next.note(StagePresentation, LevelInfo, NoResultsText, r.now())
		return next, EventFormatted
	}

	reply, err := r.oracle.Complete(oracle.WithStage(ctx, StagePresentation), summaryPrompt(s.Question, s.Columns, rows))
	if err != nil {
		failed := fmt.Sprintf(formattingFailedFmt, describe(err))
		next.Summary = strPtr(failed + "\n\n" + present.Plain(s.Columns, rows))
		next.note(StagePresentation, LevelWarn, failed, r.now())
		return next, EventFormatted
	}

	next.Summary = strPtr(fmt.Sprintf(foundResultsFmt, len(rows)) + strings.TrimSpace(reply))
	next.note(StagePresentation, LevelInfo, fmt.Sprintf("Summarized %d results", len(rows)), r.now())
	return next, EventFormatted
}

// describe renders an error on one line: its message and, for groundsql
// errors, the reason.
func describe(err error) string {
	lines := strings.Split(err.Error(), "\n")
	out := lines[0]
	if len(lines) > 1 && strings.HasPrefix(lines[1], "Reason: ") {
		out += " (" + strings.TrimPrefix(lines[1], "Reason: ") + ")"
	}
	return out
}

package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canonica-labs/groundsql/internal/adapters"
	"github.com/canonica-labs/groundsql/internal/errors"
	"github.com/canonica-labs/groundsql/internal/grounding"
	"github.com/canonica-labs/groundsql/internal/observability"
	"github.com/canonica-labs/groundsql/internal/oracle"
	"github.com/canonica-labs/groundsql/internal/retry"
	"github.com/canonica-labs/groundsql/internal/schema"
	gsql "github.com/canonica-labs/groundsql/internal/sql"
)

// SchemaProvider serves the current schema snapshot.
type SchemaProvider interface {
	Get(ctx context.Context, forceRefresh bool) (*schema.Snapshot, error)
}

// Executor runs approved statements.
type Executor interface {
	Execute(ctx context.Context, query string) (*adapters.QueryResult, error)
}

// StateStore persists states so a question can wait at the approval gate
// across processes. Get returns *errors.ErrStateNotFound for unknown ids;
// List returns the newest first.
type StateStore interface {
	Save(ctx context.Context, s State) error
	Get(ctx context.Context, id string) (State, error)
	List(ctx context.Context, limit int) ([]State, error)
}

// Options configures a Runner. Schema, Oracle and States are required.
type Options struct {
	Schema SchemaProvider
	Oracle oracle.Oracle
	Store  Executor
	States StateStore

	Validator *gsql.Validator
	Matcher   *grounding.Matcher
	RowLimit  int
	// StoreRetry applies to execution of approved statements. A MaxAttempts
	// of 0 or 1 executes once.
	StoreRetry retry.Config

	Logger *zap.SugaredLogger
	Audit  observability.AuditLogger

	Now   func() time.Time
	NewID func() string
}

// Runner drives questions through the stages. Collaborators are injected
// once; the Runner holds no per-question state between calls.
type Runner struct {
	schema    SchemaProvider
	oracle    oracle.Oracle
	store     Executor
	states    StateStore
	validator *gsql.Validator
	matcher   *grounding.Matcher
	rowLimit  int
	retry     retry.Config
	log       *zap.SugaredLogger
	audit     observability.AuditLogger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	deciding map[string]bool
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.Schema == nil:
		return nil, errors.New("pipeline: schema provider is required")
	case opts.Oracle == nil:
		return nil, errors.New("pipeline: oracle is required")
	case opts.States == nil:
		return nil, errors.New("pipeline: state store is required")
	}
	r := &Runner{
		schema:    opts.Schema,
		oracle:    opts.Oracle,
		store:     opts.Store,
		states:    opts.States,
		validator: opts.Validator,
		matcher:   opts.Matcher,
		rowLimit:  opts.RowLimit,
		retry:     opts.StoreRetry,
		log:       observability.OrNop(opts.Logger),
		audit:     opts.Audit,
		now:       opts.Now,
		newID:     opts.NewID,
		deciding:  map[string]bool{},
	}
	if r.validator == nil {
		r.validator = gsql.NewValidator()
	}
	if r.matcher == nil {
		r.matcher = grounding.NewMatcher(grounding.MaxTables)
	}
	if r.rowLimit <= 0 {
		r.rowLimit = gsql.DefaultRowLimit
	}
	if r.retry.MaxAttempts <= 0 {
		r.retry.MaxAttempts = 1
	}
	if r.audit == nil {
		r.audit = observability.NewNoopAuditLogger()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r, nil
}

// Start runs a new question up to the approval gate or a terminal step and
// persists the result. Abstentions, rejections and stage failures are
// outcomes recorded on the returned State, not errors. The error is non-nil
// only for an empty question or when the state could not be persisted; in
// the latter case the State is still returned.
func (r *Runner) Start(ctx context.Context, question, askedBy string) (State, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return State{}, &errors.GroundError{
			Code:       errors.CodeValidation,
			Message:    "question is empty",
			Suggestion: "ask a question about the data, e.g. 'show client city in new york'",
		}
	}

	s := NewState(r.newID(), question, r.now())
	s.AskedBy = askedBy
	r.log.Infow("question received", observability.FieldQuestionID, s.ID, observability.FieldUser, askedBy)

	started := r.now()
	snap, err := r.schema.Get(ctx, false)
	if err != nil {
		next, ev := r.fail(s.Clone(), StageSchema, "Schema unavailable", err)
		s = r.apply(ctx, s, next, ev, StageSchema, started)
		return s, r.save(ctx, s)
	}

	s = r.run(ctx, s, []namedStage{
		{StageIntent, r.parseIntent(snap)},
		{StageGrounding, r.ground(snap)},
		{StageSynthesis, r.synthesize},
		{StageValidation, r.validate(snap)},
		{StageApproval, r.requestApproval},
	})
	return s, r.save(ctx, s)
}

// Approve records an approval for a question waiting at the gate, then
// executes and formats it.
func (r *Runner) Approve(ctx context.Context, id, approver string) (State, error) {
	release, err := r.claim(id)
	if err != nil {
		return State{}, err
	}
	defer release()

	s, err := r.awaiting(ctx, id)
	if err != nil {
		return s, err
	}

	started := r.now()
	next := s.Clone()
	next.Approved = true
	next.ApprovedBy = approver
	next.note(StageApproval, LevelInfo, "Approved by "+displayUser(approver), r.now())
	s = r.apply(ctx, s, next, EventApprovalGranted, StageApproval, started)

	s = r.run(ctx, s, []namedStage{
		{StageExecution, r.execute},
		{StagePresentation, r.format},
	})
	return s, r.save(ctx, s)
}

// Reject ends a question waiting at the gate in the rejected step.
func (r *Runner) Reject(ctx context.Context, id, approver, reason string) (State, error) {
	release, err := r.claim(id)
	if err != nil {
		return State{}, err
	}
	defer release()

	s, err := r.awaiting(ctx, id)
	if err != nil {
		return s, err
	}

	started := r.now()
	next := s.Clone()
	next.Approved = false
	next.RejectedBy = approver
	next.RejectionReason = strings.TrimSpace(reason)
	text := "Rejected by " + displayUser(approver)
	if next.RejectionReason != "" {
		text += ": " + next.RejectionReason
	}
	next.note(StageApproval, LevelWarn, text, r.now())
	s = r.apply(ctx, s, next, EventApprovalDenied, StageApproval, started)
	return s, r.save(ctx, s)
}

// Get returns a persisted question.
func (r *Runner) Get(ctx context.Context, id string) (State, error) {
	return r.states.Get(ctx, id)
}

// List returns up to limit persisted questions, newest first.
func (r *Runner) List(ctx context.Context, limit int) ([]State, error) {
	return r.states.List(ctx, limit)
}

type namedStage struct {
	name string
	run  stageFunc
}

// run applies stages in order until one leaves the state terminal or
// parked at the approval gate.
func (r *Runner) run(ctx context.Context, s State, stages []namedStage) State {
	for _, st := range stages {
		if s.Done() {
			break
		}
		if err := ctx.Err(); err != nil {
			next, ev := r.fail(s.Clone(), st.name, "Cancelled", err)
			return r.apply(ctx, s, next, ev, st.name, r.now())
		}
		started := r.now()
		next, ev := st.run(ctx, s)
		s = r.apply(ctx, s, next, ev, st.name, started)
		if s.Step == StepAwaitingApproval {
			break
		}
	}
	return s
}

// apply moves next to the step the transition table gives for prev.Step and
// ev, then records the step.
func (r *Runner) apply(ctx context.Context, prev, next State, ev Event, stage string, started time.Time) State {
	to, err := Transition(prev.Step, ev)
	if err != nil {
		r.log.Errorw("invalid transition", observability.FieldQuestionID, prev.ID, "from", prev.Step, "event", ev)
		next.FatalError = strPtr(describe(err))
		next.note(stage, LevelError, describe(err), r.now())
		to = StepError
	}
	next.Step = to
	next.UpdatedAt = r.now()
	elapsed := next.UpdatedAt.Sub(started)

	observability.RecordStep(string(to))
	user := next.AskedBy
	outcome := outcomeOf(to)
	if stage == StageApproval {
		user = firstNonEmpty(next.ApprovedBy, next.RejectedBy)
	}
	if ev == EventApprovalGranted {
		// the step does not move until execution reports back
		outcome = observability.OutcomeProgress
	}
	entry := observability.AuditEntry{
		QuestionID: next.ID,
		User:       user,
		Step:       string(to),
		Tables:     tablesOf(next),
		Outcome:    outcome,
		Duration:   max(elapsed, 0),
		Error:      reasonOf(next),
	}
	if aerr := r.audit.LogStep(ctx, entry); aerr != nil {
		r.log.Warnw("audit log failed", observability.FieldQuestionID, next.ID, "error", aerr)
	}
	r.log.Infow("pipeline step",
		observability.FieldQuestionID, next.ID,
		observability.FieldStage, stage,
		observability.FieldStep, to,
		observability.FieldDurationMS, elapsed.Milliseconds(),
	)
	return next
}

func (r *Runner) save(ctx context.Context, s State) error {
	if err := r.states.Save(ctx, s); err != nil {
		r.log.Errorw("persist state failed", observability.FieldQuestionID, s.ID, "error", err)
		return errors.Wrapf(err, "pipeline: persist question %s", s.ID)
	}
	return nil
}

// awaiting loads id and checks it is parked at the approval gate.
func (r *Runner) awaiting(ctx context.Context, id string) (State, error) {
	s, err := r.states.Get(ctx, id)
	if err != nil {
		return State{}, err
	}
	if s.Step != StepAwaitingApproval {
		return s, errors.NewNotAwaitingApproval(id, string(s.Step))
	}
	return s, nil
}

// claim stops two decisions on the same question from running at once in
// this process.
func (r *Runner) claim(id string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deciding[id] {
		return nil, errors.NewNotAwaitingApproval(id, "decision in progress")
	}
	r.deciding[id] = true
	return func() {
		r.mu.Lock()
		delete(r.deciding, id)
		r.mu.Unlock()
	}, nil
}

func tablesOf(s State) []string {
	if len(s.TablesUsed) > 0 {
		return s.TablesUsed
	}
	if s.Grounding != nil {
		return s.Grounding.MatchedTables
	}
	return nil
}

func outcomeOf(step StepTag) string {
	switch step {
	case StepAbstainedNoSchema, StepAbstainedSentinel:
		return observability.OutcomeAbstained
	case StepValidationFailed, StepRejected:
		return observability.OutcomeRejected
	case StepAwaitingApproval:
		return observability.OutcomePending
	case StepExecutionFailed, StepError:
		return observability.OutcomeFailed
	case StepFormatted:
		return observability.OutcomeCompleted
	default:
		return observability.OutcomeProgress
	}
}

func reasonOf(s State) string {
	switch s.Step {
	case StepAbstainedNoSchema:
		return grounding.AbstentionMessage
	case StepAbstainedSentinel:
		return Sentinel
	case StepValidationFailed:
		return s.ValidationMessage
	case StepExecutionFailed:
		if s.ExecutionError != nil {
			return *s.ExecutionError
		}
	case StepError:
		if s.FatalError != nil {
			return *s.FatalError
		}
	case StepRejected:
		return firstNonEmpty(s.RejectionReason, "rejected")
	}
	return ""
}

func displayUser(u string) string {
	return firstNonEmpty(u, "anonymous")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

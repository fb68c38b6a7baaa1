package pipeline

import (
	"github.com/canonica-labs/groundsql/internal/errors"
)

// StepTag marks where a question is in the pipeline.
type StepTag string

const (
	StepStart             StepTag = "start"
	StepIntentDone        StepTag = "intent_done"
	StepGrounded          StepTag = "grounded"
	StepAbstainedNoSchema StepTag = "abstained_no_schema"
	StepSQLGenerated      StepTag = "sql_generated"
	StepAbstainedSentinel StepTag = "abstained_sentinel"
	StepValidated         StepTag = "validated"
	StepValidationFailed  StepTag = "validation_failed"
	StepAwaitingApproval  StepTag = "awaiting_approval"
	StepExecuted          StepTag = "executed"
	StepExecutionFailed   StepTag = "execution_failed"
	StepFormatted         StepTag = "formatted"
	StepError             StepTag = "error"
	StepRejected          StepTag = "rejected"
)

// Steps lists every step tag.
var Steps = []StepTag{
	StepStart, StepIntentDone, StepGrounded, StepAbstainedNoSchema,
	StepSQLGenerated, StepAbstainedSentinel, StepValidated, StepValidationFailed,
	StepAwaitingApproval, StepExecuted, StepExecutionFailed, StepFormatted,
	StepError, StepRejected,
}

// Event is what a stage reports when it finishes.
type Event string

const (
	EventIntentParsed       Event = "intent_parsed"
	EventSchemaMatched      Event = "schema_matched"
	EventSchemaAbstained    Event = "schema_abstained"
	EventSQLProduced        Event = "sql_produced"
	EventSentinelReturned   Event = "sentinel_returned"
	EventValidationPassed   Event = "validation_passed"
	EventValidationRejected Event = "validation_rejected"
	EventApprovalRequested  Event = "approval_requested"
	EventApprovalGranted    Event = "approval_granted"
	EventApprovalDenied     Event = "approval_denied"
	EventExecutionSucceeded Event = "execution_succeeded"
	EventExecutionFailed    Event = "execution_failed"
	EventFormatted          Event = "formatted"
	EventStageFailed        Event = "stage_failed"
)

// Events lists every event.
var Events = []Event{
	EventIntentParsed, EventSchemaMatched, EventSchemaAbstained,
	EventSQLProduced, EventSentinelReturned, EventValidationPassed,
	EventValidationRejected, EventApprovalRequested, EventApprovalGranted,
	EventApprovalDenied, EventExecutionSucceeded, EventExecutionFailed,
	EventFormatted, EventStageFailed,
}

type edge struct {
	from  StepTag
	event Event
}

// transitions is the whole state machine. stage_failed edges are added for
// every non-terminal step in init.
//
// approval_granted is a self-loop: the decision is recorded on the state
// while it stays at the gate, and only the executor's outcome moves it on.
var transitions = map[edge]StepTag{
	{StepStart, EventIntentParsed}:                   StepIntentDone,
	{StepIntentDone, EventSchemaMatched}:             StepGrounded,
	{StepIntentDone, EventSchemaAbstained}:           StepAbstainedNoSchema,
	{StepGrounded, EventSQLProduced}:                 StepSQLGenerated,
	{StepGrounded, EventSentinelReturned}:            StepAbstainedSentinel,
	{StepSQLGenerated, EventValidationPassed}:        StepValidated,
	{StepSQLGenerated, EventValidationRejected}:      StepValidationFailed,
	{StepValidated, EventApprovalRequested}:          StepAwaitingApproval,
	{StepAwaitingApproval, EventApprovalGranted}:     StepAwaitingApproval,
	{StepAwaitingApproval, EventApprovalDenied}:      StepRejected,
	{StepAwaitingApproval, EventExecutionSucceeded}:  StepExecuted,
	{StepAwaitingApproval, EventExecutionFailed}:     StepExecutionFailed,
	{StepExecuted, EventFormatted}:                   StepFormatted,
}

var terminal = map[StepTag]bool{
	StepAbstainedNoSchema: true,
	StepAbstainedSentinel: true,
	StepValidationFailed:  true,
	StepExecutionFailed:   true,
	StepFormatted:         true,
	StepError:             true,
	StepRejected:          true,
}

func init() {
	for _, s := range Steps {
		if !terminal[s] {
			transitions[edge{s, EventStageFailed}] = StepError
		}
	}
}

// Transition returns the step reached from `from` on event, or
// *errors.ErrInvalidTransition when the table has no such edge.
func Transition(from StepTag, event Event) (StepTag, error) {
	next, ok := transitions[edge{from, event}]
	if !ok {
		return from, errors.NewInvalidTransition(string(from), string(event))
	}
	return next, nil
}

// IsTerminal reports whether no event leaves step.
func (s StepTag) IsTerminal() bool {
	return terminal[s]
}

// Valid reports whether s is a known step tag.
func (s StepTag) Valid() bool {
	for _, t := range Steps {
		if t == s {
			return true
		}
	}
	return false
}

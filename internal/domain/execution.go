package domain

import (
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	// OutcomeSuccess: transition reached its terminal state and every
	// configured hook exited zero.
	OutcomeSuccess Outcome = "success"
	// OutcomePartialFailure: transition succeeded but a hook failed
	// or timed out.
	OutcomePartialFailure Outcome = "partial_failure"
	// OutcomeFailure: the transition itself failed or timed out.
	OutcomeFailure Outcome = "failure"
)

// HookResult captures one hook invocation. Partial output is kept even
// when the hook was killed on timeout.
type HookResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Error    string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ExecutionRecord is the append-only outcome of one trigger firing.
// Exactly one record exists per firing regardless of outcome. The
// trigger it references may have been deleted since.
type ExecutionRecord struct {
	ID        uuid.UUID  `json:"id"`
	TriggerID uuid.UUID  `json:"trigger_id"`
	Resource  ResourceID `json:"resource"`
	Action    Action     `json:"action"`

	ScheduledAt time.Time `json:"scheduled_at"`
	FiredAt     time.Time `json:"fired_at"`

	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`

	PreStop   *HookResult `json:"pre_stop,omitempty"`
	PostStart *HookResult `json:"post_start,omitempty"`

	Duration time.Duration `json:"duration"`
}

// FireEvent is handed from the evaluator to the runner when a trigger
// is due. It carries a snapshot of the trigger so a concurrent edit or
// delete cannot change an execution already in flight.
type FireEvent struct {
	ExecutionID uuid.UUID
	Trigger     Trigger

	ScheduledAt time.Time // the next_fire_at instant that came due
	FiredAt     time.Time // evaluator tick that detected it
	CatchUp     bool      // fired by the post-restart catch-up pass
}

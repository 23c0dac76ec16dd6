package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the backend is unavailable, implementations log
// warnings and continue.
type Sink interface {
	// Evaluator metrics
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	TickDrift(drift time.Duration)

	// Monitor metrics
	PollCompleted(ok bool, duration time.Duration)
	PollThresholdTripped()
	StateChanged(to string)
	TransitionRequested(action string)
	TransitionResolved(outcome string, duration time.Duration)

	// Runner metrics
	ExecutionCompleted(outcome string, duration time.Duration)
	HookCompleted(phase string, ok bool, duration time.Duration)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()

	// Trigger bus metrics
	BufferSizeUpdate(size int)
	EmitError()
}

// Transition outcome labels for TransitionResolved.
const (
	TransitionConfirmed = "confirmed"
	TransitionTimeout   = "timeout"
	TransitionCancelled = "cancelled"
)

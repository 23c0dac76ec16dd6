package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                               {}
func (n *NoopSink) TickCompleted(duration time.Duration, fired int, err error) {}
func (n *NoopSink) TickDrift(drift time.Duration)                              {}
func (n *NoopSink) PollCompleted(ok bool, duration time.Duration)              {}
func (n *NoopSink) PollThresholdTripped()                                      {}
func (n *NoopSink) StateChanged(to string)                                     {}
func (n *NoopSink) TransitionRequested(action string)                          {}
func (n *NoopSink) TransitionResolved(outcome string, d time.Duration)         {}
func (n *NoopSink) ExecutionCompleted(outcome string, d time.Duration)         {}
func (n *NoopSink) HookCompleted(phase string, ok bool, d time.Duration)       {}
func (n *NoopSink) ExecutionsInFlightIncr()                                    {}
func (n *NoopSink) ExecutionsInFlightDecr()                                    {}
func (n *NoopSink) BufferSizeUpdate(size int)                                  {}
func (n *NoopSink) EmitError()                                                 {}

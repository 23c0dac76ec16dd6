// Package eventlog is the append-only record of state changes and
// trigger executions. The core only writes; querying is the sink's
// own concern.
package eventlog

import (
	"context"
	"fmt"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// Sink appends events durably before returning.
type Sink interface {
	AppendStateChange(ctx context.Context, ev domain.StateChange) error
	AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error
}

// MultiSink fans every append out to all sinks. The first error is
// returned after all sinks were attempted, so one failing sink does
// not starve the others.
type MultiSink []Sink

func (m MultiSink) AppendStateChange(ctx context.Context, ev domain.StateChange) error {
	var first error
	for _, s := range m {
		if err := s.AppendStateChange(ctx, ev); err != nil && first == nil {
			first = fmt.Errorf("append state change: %w", err)
		}
	}
	return first
}

func (m MultiSink) AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	var first error
	for _, s := range m {
		if err := s.AppendExecution(ctx, rec); err != nil && first == nil {
			first = fmt.Errorf("append execution: %w", err)
		}
	}
	return first
}

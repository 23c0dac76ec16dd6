package eventlog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// MemorySink keeps the most recent events in ring buffers so the API
// can serve recent history without a database. It is meant to ride in
// a MultiSink next to a durable sink.
type MemorySink struct {
	mu         sync.RWMutex
	limit      int
	changes    []domain.StateChange
	executions []domain.ExecutionRecord
}

func NewMemorySink(limit int) *MemorySink {
	if limit <= 0 {
		limit = 200
	}
	return &MemorySink{limit: limit}
}

func (s *MemorySink) AppendStateChange(ctx context.Context, ev domain.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, ev)
	if len(s.changes) > s.limit {
		s.changes = s.changes[len(s.changes)-s.limit:]
	}
	return nil
}

func (s *MemorySink) AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, rec)
	if len(s.executions) > s.limit {
		s.executions = s.executions[len(s.executions)-s.limit:]
	}
	return nil
}

// RecentStateChanges returns up to limit most recent events, newest
// first.
func (s *MemorySink) RecentStateChanges(limit int) []domain.StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.changes, limit)
}

// RecentExecutions returns up to limit most recent records for a
// trigger, newest first. The zero uuid matches all triggers.
func (s *MemorySink) RecentExecutions(triggerID uuid.UUID, limit int) []domain.ExecutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.ExecutionRecord
	for _, rec := range s.executions {
		if triggerID != uuid.Nil && rec.TriggerID != triggerID {
			continue
		}
		matched = append(matched, rec)
	}
	return newestFirst(matched, limit)
}

func newestFirst[T any](in []T, limit int) []T {
	if limit <= 0 || limit > len(in) {
		limit = len(in)
	}
	out := make([]T, 0, limit)
	for i := len(in) - 1; i >= len(in)-limit; i-- {
		out = append(out, in[i])
	}
	return out
}

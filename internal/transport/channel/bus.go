// Package channel carries due triggers from the evaluator to the
// runner over a buffered in-memory channel.
package channel

import (
	"context"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// MetricsSink records bus metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

type Option func(*TriggerBus)

func WithMetrics(sink MetricsSink) Option {
	return func(b *TriggerBus) { b.metrics = sink }
}

type TriggerBus struct {
	ch      chan domain.FireEvent
	metrics MetricsSink // optional, nil = disabled
}

func NewTriggerBus(buffer int, opts ...Option) *TriggerBus {
	b := &TriggerBus{
		ch: make(chan domain.FireEvent, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit enqueues a fire event. It only blocks when the buffer is full,
// and then gives up when ctx is done so the evaluator loop cannot hang
// on a stalled runner.
func (b *TriggerBus) Emit(ctx context.Context, ev domain.FireEvent) error {
	select {
	case b.ch <- ev:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

func (b *TriggerBus) Channel() <-chan domain.FireEvent {
	return b.ch
}

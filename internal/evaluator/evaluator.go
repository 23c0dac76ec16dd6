// Package evaluator decides, on a fixed tick, which enabled triggers
// are due and hands them to the runner. The loop itself never calls
// the remote API or runs hooks; it reads trigger state, recomputes
// schedules, and enqueues.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/schedule"
)

// Store is the slice of the trigger store the evaluator needs. Reads
// are served from the store's cache; MarkFired is durable before the
// event is emitted.
type Store interface {
	List(ctx context.Context, enabledOnly bool) ([]domain.Trigger, error)
	MarkFired(ctx context.Context, id uuid.UUID, firedAt, next time.Time, spent bool) error
}

// Emitter hands due triggers to the runner.
type Emitter interface {
	Emit(ctx context.Context, ev domain.FireEvent) error
}

// MetricsSink records evaluator metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	TickDrift(drift time.Duration)
}

type Config struct {
	// TickInterval is the evaluation cadence. Sub-minute, so a
	// minute-granular schedule can never be skipped between ticks.
	TickInterval time.Duration
	// Location is the wall-clock timezone for daily/weekly/cron
	// recurrences.
	Location *time.Location
}

type Evaluator struct {
	config  Config
	store   Store
	emitter Emitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(config Config, store Store, emitter Emitter) *Evaluator {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Evaluator{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (e *Evaluator) WithMetrics(sink MetricsSink) *Evaluator {
	e.metrics = sink
	return e
}

// Run evaluates once immediately, which is the restart catch-up pass:
// any trigger whose next_fire_at elapsed while the process was down
// fires exactly once now. It then ticks until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	log.Printf("evaluator: started, tick=%s tz=%s", e.config.TickInterval, e.config.Location)

	if fired, err := e.evaluate(ctx, true); err != nil {
		log.Printf("evaluator: catch-up pass error: %v", err)
	} else if fired > 0 {
		log.Printf("evaluator: catch-up pass fired %d trigger(s)", fired)
	}

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	expected := e.clock().Add(e.config.TickInterval)
	for {
		select {
		case <-ctx.Done():
			log.Println("evaluator: stopped")
			return ctx.Err()
		case <-ticker.C:
			if e.metrics != nil {
				e.metrics.TickDrift(e.clock().Sub(expected))
			}
			expected = e.clock().Add(e.config.TickInterval)

			if _, err := e.evaluate(ctx, false); err != nil {
				log.Printf("evaluator: tick error: %v", err)
			}
		}
	}
}

// evaluate scans all enabled triggers once and fires the due ones.
// Returns how many fired.
func (e *Evaluator) evaluate(ctx context.Context, catchUp bool) (int, error) {
	start := e.clock()
	if e.metrics != nil {
		e.metrics.TickStarted()
	}

	now := start.UTC()
	triggers, err := e.store.List(ctx, true)
	if err != nil {
		if e.metrics != nil {
			e.metrics.TickCompleted(e.clock().Sub(start), 0, err)
		}
		return 0, fmt.Errorf("list triggers: %w", err)
	}

	fired := 0
	for _, t := range triggers {
		if ctx.Err() != nil {
			break
		}
		ok, err := e.fireIfDue(ctx, t, now, catchUp)
		if err != nil {
			log.Printf("evaluator: trigger %s (%s): %v", t.ID, t.Name, err)
			continue
		}
		if ok {
			fired++
		}
	}

	if e.metrics != nil {
		e.metrics.TickCompleted(e.clock().Sub(start), fired, nil)
	}
	return fired, nil
}

// fireIfDue fires one trigger at most once per call. The recomputed
// next_fire_at is strictly after now, so a backlog of missed instants
// collapses into a single firing: the catch-up guarantee.
func (e *Evaluator) fireIfDue(ctx context.Context, t domain.Trigger, now time.Time, catchUp bool) (bool, error) {
	if t.Status == domain.TriggerStatusSpent || t.NextFireAt.IsZero() {
		return false, nil
	}
	if t.NextFireAt.After(now) {
		return false, nil
	}

	scheduledAt := t.NextFireAt
	next, err := schedule.NextAfter(t.Recurrence, now, e.config.Location)
	spent := false
	switch {
	case errors.Is(err, schedule.ErrSpent):
		spent = true
	case err != nil:
		return false, fmt.Errorf("recompute next fire: %w", err)
	}

	// Persist the firing before handing off: a crash after MarkFired
	// skips this instant instead of repeating the action on restart,
	// which is the safer failure mode for start/stop side effects.
	if err := e.store.MarkFired(ctx, t.ID, now, next, spent); err != nil {
		return false, fmt.Errorf("mark fired: %w", err)
	}

	ev := domain.FireEvent{
		ExecutionID: uuid.New(),
		Trigger:     t,
		ScheduledAt: scheduledAt,
		FiredAt:     now,
		CatchUp:     catchUp,
	}
	if err := e.emitter.Emit(ctx, ev); err != nil {
		return false, fmt.Errorf("emit: %w", err)
	}

	log.Printf("evaluator: fired trigger=%s action=%s resource=%s scheduled_at=%s catch_up=%t",
		t.ID, t.Action, t.Resource, scheduledAt.Format(time.RFC3339), catchUp)
	return true, nil
}

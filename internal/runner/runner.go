// Package runner executes due triggers: it drives start/stop
// transitions through the monitor, runs the configured hooks in order,
// and records exactly one ExecutionRecord per firing.
package runner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// TransitionHandle is the runner's view of an in-flight transition.
type TransitionHandle interface {
	Wait(ctx context.Context) (domain.State, error)
	Cancel()
}

// StateController requests lifecycle transitions. Satisfied by the
// monitor through an adapter in main.
type StateController interface {
	RequestTransition(ctx context.Context, id domain.ResourceID, action domain.Action, machine domain.MachineType) (TransitionHandle, error)
}

// Sink receives the execution record of every firing.
type Sink interface {
	AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error
}

// AnalyticsSink records execution counters as a best-effort
// side-effect; it never affects outcomes.
type AnalyticsSink interface {
	Record(ctx context.Context, rec domain.ExecutionRecord)
}

// MetricsSink records runner metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	ExecutionCompleted(outcome string, duration time.Duration)
	HookCompleted(phase string, ok bool, duration time.Duration)
	ExecutionsInFlightIncr()
	ExecutionsInFlightDecr()
}

type Config struct {
	// TransitionWaitTimeout bounds waiting for a requested transition
	// to reach its terminal state before the outcome is classified.
	TransitionWaitTimeout time.Duration
	// DrainTimeout bounds processing of buffered events on shutdown.
	DrainTimeout time.Duration
	// RestartSettle is the pause between confirmed stop and start of
	// a restart action.
	RestartSettle time.Duration
}

type Runner struct {
	config     Config
	controller StateController
	hooks      HookRunner
	sink       Sink
	analytics  AnalyticsSink // optional, nil = disabled
	metrics    MetricsSink   // optional, nil = disabled
	clock      func() time.Time

	mu   sync.Mutex
	busy map[string]*sync.Mutex // per-resource execution serialization
	wg   sync.WaitGroup
}

func New(config Config, controller StateController, hooks HookRunner, sink Sink) *Runner {
	if config.TransitionWaitTimeout == 0 {
		config.TransitionWaitTimeout = 10 * time.Minute
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 30 * time.Second
	}
	if config.RestartSettle == 0 {
		config.RestartSettle = 5 * time.Second
	}
	return &Runner{
		config:     config,
		controller: controller,
		hooks:      hooks,
		sink:       sink,
		clock:      time.Now,
		busy:       make(map[string]*sync.Mutex),
	}
}

func (r *Runner) WithAnalytics(sink AnalyticsSink) *Runner {
	r.analytics = sink
	return r
}

func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// Run consumes fire events until ctx is cancelled, then drains the
// remaining buffered events with a timeout. Events for different
// resources execute in parallel; events for one resource execute in
// arrival order.
func (r *Runner) Run(ctx context.Context, ch <-chan domain.FireEvent) {
	for {
		select {
		case <-ctx.Done():
			r.drain(ch)
			r.wg.Wait()
			return
		case ev := <-ch:
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, ev domain.FireEvent) {
	lock := r.resourceLock(ev.Trigger.Resource)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		lock.Lock()
		defer lock.Unlock()
		r.Execute(ctx, ev)
	}()
}

// drain processes events still buffered after shutdown was signalled.
// Drained events run synchronously so the drain context stays alive
// until the last one finishes; DrainTimeout bounds the batch as a
// whole.
func (r *Runner) drain(ch <-chan domain.FireEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), r.config.DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("runner: drain timeout, processed %d events", count)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			lock := r.resourceLock(ev.Trigger.Resource)
			lock.Lock()
			r.Execute(drainCtx, ev)
			lock.Unlock()
			count++
		default:
			if count > 0 {
				log.Printf("runner: drain complete, processed %d events", count)
			}
			return
		}
	}
}

func (r *Runner) resourceLock(id domain.ResourceID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := id.String()
	lock, ok := r.busy[key]
	if !ok {
		lock = &sync.Mutex{}
		r.busy[key] = lock
	}
	return lock
}

// Execute runs one trigger firing to completion and returns its
// record. Every path produces exactly one record; append failures are
// logged, never propagated.
func (r *Runner) Execute(ctx context.Context, ev domain.FireEvent) domain.ExecutionRecord {
	t := ev.Trigger
	started := r.clock()

	if r.metrics != nil {
		r.metrics.ExecutionsInFlightIncr()
		defer r.metrics.ExecutionsInFlightDecr()
	}

	rec := domain.ExecutionRecord{
		ID:          ev.ExecutionID,
		TriggerID:   t.ID,
		Resource:    t.Resource,
		Action:      t.Action,
		ScheduledAt: ev.ScheduledAt,
		FiredAt:     ev.FiredAt,
	}

	switch t.Action {
	case domain.ActionStart:
		r.runStart(ctx, t, &rec)
	case domain.ActionStop:
		r.runStop(ctx, t, &rec)
	case domain.ActionRestart:
		r.runRestart(ctx, t, &rec)
	default:
		rec.Outcome = domain.OutcomeFailure
		rec.Error = "unknown action " + string(t.Action)
	}

	rec.Duration = r.clock().Sub(started)

	log.Printf("runner: trigger=%s action=%s resource=%s outcome=%s duration=%s",
		t.ID, t.Action, t.Resource, rec.Outcome, rec.Duration.Round(time.Millisecond))

	if err := r.sink.AppendExecution(ctx, rec); err != nil {
		log.Printf("runner: append execution record: %v", err)
	}
	if r.analytics != nil {
		r.analytics.Record(ctx, rec)
	}
	if r.metrics != nil {
		r.metrics.ExecutionCompleted(string(rec.Outcome), rec.Duration)
	}
	return rec
}

// runStart requests the start transition, waits for Running, then
// runs the post-start hook.
func (r *Runner) runStart(ctx context.Context, t domain.Trigger, rec *domain.ExecutionRecord) {
	if err := r.transition(ctx, t.Resource, domain.ActionStart, t.MachineType); err != nil {
		rec.Outcome = domain.OutcomeFailure
		rec.Error = err.Error()
		return
	}

	rec.Outcome = domain.OutcomeSuccess
	if t.PostStart != nil {
		rec.PostStart = r.runHook(ctx, "post_start", *t.PostStart)
		if !hookOK(rec.PostStart) {
			rec.Outcome = domain.OutcomePartialFailure
		}
	}
}

// runStop runs the pre-stop hook to completion (or timeout) strictly
// before the stop transition is requested, so the hook still reaches
// a running resource.
func (r *Runner) runStop(ctx context.Context, t domain.Trigger, rec *domain.ExecutionRecord) {
	hookFailed := false
	if t.PreStop != nil {
		rec.PreStop = r.runHook(ctx, "pre_stop", *t.PreStop)
		hookFailed = !hookOK(rec.PreStop)
	}

	if err := r.transition(ctx, t.Resource, domain.ActionStop, ""); err != nil {
		rec.Outcome = domain.OutcomeFailure
		rec.Error = err.Error()
		return
	}

	if hookFailed {
		rec.Outcome = domain.OutcomePartialFailure
	} else {
		rec.Outcome = domain.OutcomeSuccess
	}
}

// runRestart is stop then start: pre-stop hook, stop, settle, start,
// post-start hook.
func (r *Runner) runRestart(ctx context.Context, t domain.Trigger, rec *domain.ExecutionRecord) {
	hookFailed := false
	if t.PreStop != nil {
		rec.PreStop = r.runHook(ctx, "pre_stop", *t.PreStop)
		hookFailed = !hookOK(rec.PreStop)
	}

	if err := r.transition(ctx, t.Resource, domain.ActionStop, ""); err != nil {
		rec.Outcome = domain.OutcomeFailure
		rec.Error = "stop: " + err.Error()
		return
	}

	select {
	case <-ctx.Done():
		rec.Outcome = domain.OutcomeFailure
		rec.Error = ctx.Err().Error()
		return
	case <-time.After(r.config.RestartSettle):
	}

	if err := r.transition(ctx, t.Resource, domain.ActionStart, t.MachineType); err != nil {
		rec.Outcome = domain.OutcomeFailure
		rec.Error = "start after stop: " + err.Error()
		return
	}

	rec.Outcome = domain.OutcomeSuccess
	if t.PostStart != nil {
		rec.PostStart = r.runHook(ctx, "post_start", *t.PostStart)
		if !hookOK(rec.PostStart) {
			rec.Outcome = domain.OutcomePartialFailure
		}
	}
	if hookFailed && rec.Outcome == domain.OutcomeSuccess {
		rec.Outcome = domain.OutcomePartialFailure
	}
}

// transition requests a lifecycle change and waits for confirmation.
func (r *Runner) transition(ctx context.Context, id domain.ResourceID, action domain.Action, machine domain.MachineType) error {
	handle, err := r.controller.RequestTransition(ctx, id, action, machine)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.config.TransitionWaitTimeout)
	defer cancel()

	if _, err := handle.Wait(waitCtx); err != nil {
		// Stop waiting; the remote call already went out.
		handle.Cancel()
		return err
	}
	return nil
}

func (r *Runner) runHook(ctx context.Context, phase string, spec domain.HookSpec) *domain.HookResult {
	res := r.hooks.Run(ctx, spec)
	if r.metrics != nil {
		r.metrics.HookCompleted(phase, hookOK(&res), res.FinishedAt.Sub(res.StartedAt))
	}
	if !hookOK(&res) {
		log.Printf("runner: %s hook failed (exit=%d timed_out=%t): %s",
			phase, res.ExitCode, res.TimedOut, firstLine(res.Stderr))
	}
	return &res
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}

// Package monitor tracks the authoritative lifecycle state of each
// studio against the asynchronous control API. It is the only writer
// of cached resource state; everything else reads snapshots or
// subscribes to state-change events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/remote"
)

var (
	// ErrConflict: a transition was requested while another is in
	// flight for the same resource. The cached state is unaffected.
	ErrConflict = errors.New("transition already in flight for resource")
	// ErrUnknownResource: the resource is not tracked.
	ErrUnknownResource = errors.New("unknown resource")
)

// EventSink receives state-change events. Appends are durable before
// returning; failures are logged and do not stop polling.
type EventSink interface {
	AppendStateChange(ctx context.Context, ev domain.StateChange) error
}

// MetricsSink records monitor metrics. All methods are non-blocking
// and fire-and-forget.
type MetricsSink interface {
	PollCompleted(ok bool, duration time.Duration)
	PollThresholdTripped()
	StateChanged(to string)
	TransitionRequested(action string)
	TransitionResolved(outcome string, duration time.Duration)
}

type Config struct {
	// PollInterval is the fixed per-resource poll cadence.
	PollInterval time.Duration
	// PollTimeout bounds each control API call.
	PollTimeout time.Duration
	// FailureThreshold is the consecutive-failure count at which the
	// cached state degrades to Error.
	FailureThreshold int
	// TransitionTimeout bounds how long a transition handle waits for
	// the target state before resolving as an error.
	TransitionTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:      30 * time.Second,
		PollTimeout:       10 * time.Second,
		FailureThreshold:  3,
		TransitionTimeout: 10 * time.Minute,
	}
}

type resourceState struct {
	mu sync.Mutex

	id           domain.ResourceID
	state        domain.State
	observedAt   time.Time
	lastMachine  domain.MachineType
	lastErr      string
	runningSince time.Time // zero unless state is Running

	failures failureTracker
	inflight *TransitionHandle
}

// Monitor polls the control client per resource, maintains the
// last-known state, detects transitions, and owns the one-in-flight
// transition rule.
type Monitor struct {
	config  Config
	client  remote.Client
	sink    EventSink
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	mu        sync.RWMutex
	resources map[string]*resourceState
	subs      []func(domain.StateChange)

	runCtx  context.Context
	running bool
	wg      sync.WaitGroup
}

func New(config Config, client remote.Client, sink EventSink) *Monitor {
	return &Monitor{
		config:    config,
		client:    client,
		sink:      sink,
		clock:     time.Now,
		resources: make(map[string]*resourceState),
	}
}

// WithMetrics attaches a metrics sink.
func (m *Monitor) WithMetrics(sink MetricsSink) *Monitor {
	m.metrics = sink
	return m
}

// Subscribe registers a live state-change consumer. Callbacks run on
// the emitting resource's poll goroutine and must not block.
// Subscribe before Run.
func (m *Monitor) Subscribe(fn func(domain.StateChange)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Track registers a resource. State starts as Unknown until the first
// successful poll. Tracking after Run starts its poll loop immediately.
func (m *Monitor) Track(id domain.ResourceID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := id.String()
	if _, ok := m.resources[key]; ok {
		return
	}
	rs := &resourceState{
		id:       id,
		state:    domain.StateUnknown,
		failures: failureTracker{threshold: m.config.FailureThreshold},
	}
	m.resources[key] = rs

	if m.running {
		m.wg.Add(1)
		go m.pollLoop(m.runCtx, rs)
	}
}

// Run starts one poll loop per tracked resource and blocks until ctx
// is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.running = true
	for _, rs := range m.resources {
		m.wg.Add(1)
		go m.pollLoop(ctx, rs)
	}
	n := len(m.resources)
	m.mu.Unlock()

	log.Printf("monitor: started (resources=%d, interval=%s, threshold=%d)",
		n, m.config.PollInterval, m.config.FailureThreshold)

	<-ctx.Done()
	m.wg.Wait()
	log.Println("monitor: stopped")
}

func (m *Monitor) pollLoop(ctx context.Context, rs *resourceState) {
	defer m.wg.Done()

	// First poll immediately so restart recovers state without
	// waiting a full interval.
	m.pollOnce(ctx, rs)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pollOnce(ctx, rs)
		}
	}
}

// pollOnce performs one poll of the control API and reconciles the
// cached state with the observation.
func (m *Monitor) pollOnce(ctx context.Context, rs *resourceState) {
	pollCtx, cancel := context.WithTimeout(ctx, m.config.PollTimeout)
	start := m.clock()
	observed, err := m.client.Poll(pollCtx, rs.id)
	cancel()

	if m.metrics != nil {
		m.metrics.PollCompleted(err == nil, m.clock().Sub(start))
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := m.clock().UTC()

	if err != nil {
		if ctx.Err() != nil {
			return // shutting down
		}
		if !remote.IsTransient(err) {
			// Explicit rejection: degrade immediately.
			log.Printf("monitor: %s poll rejected: %v", rs.id, err)
			m.applyLocked(rs, domain.StateError, now, err.Error())
			return
		}
		// Transient: keep the cached state until the threshold trips,
		// so one lost poll does not flap consumers.
		if rs.failures.recordFailure(err.Error()) {
			log.Printf("monitor: %s degraded after %d consecutive poll failures: %v",
				rs.id, m.config.FailureThreshold, err)
			if m.metrics != nil {
				m.metrics.PollThresholdTripped()
			}
			m.applyLocked(rs, domain.StateError, now, err.Error())
		}
		return
	}

	rs.failures.recordSuccess()

	// After an accepted start or stop the remote can keep reporting the
	// pre-transition state for a short window. Holding such observations
	// back while the handle is unresolved keeps the cache from flapping
	// between the pending state and the stale one.
	if h := rs.inflight; h != nil && !h.resolved() && staleObservation(h, observed) {
		rs.observedAt = now
		return
	}

	m.applyLocked(rs, observed, now, "")
	m.confirmLocked(rs, observed, now)
}

// staleObservation reports whether an observed state contradicts an
// unresolved in-flight transition without being its target, its pending
// intermediate, or an error.
func staleObservation(h *TransitionHandle, observed domain.State) bool {
	if observed == h.target || observed == domain.StateError {
		return false
	}
	pending := domain.StateStarting
	if h.action == domain.ActionStop {
		pending = domain.StateStopping
	}
	return observed != pending
}

// applyLocked updates the cached state and emits a state-change event
// when the observation differs. rs.mu must be held.
func (m *Monitor) applyLocked(rs *resourceState, state domain.State, observedAt time.Time, reason string) {
	rs.observedAt = observedAt
	rs.lastErr = reason
	if state == rs.state {
		return
	}

	from := rs.state
	rs.state = state
	if state == domain.StateRunning {
		rs.runningSince = observedAt
	} else {
		rs.runningSince = time.Time{}
	}

	ev := domain.StateChange{
		ID:         uuid.New(),
		Resource:   rs.id,
		From:       from,
		To:         state,
		Reason:     reason,
		ObservedAt: observedAt,
	}
	if m.metrics != nil {
		m.metrics.StateChanged(string(state))
	}
	log.Printf("monitor: %s %s -> %s", rs.id, from, state)
	m.emit(ev)
}

// confirmLocked resolves the in-flight handle when a poll observes the
// target state. rs.mu must be held.
func (m *Monitor) confirmLocked(rs *resourceState, observed domain.State, now time.Time) {
	h := rs.inflight
	if h == nil {
		return
	}
	if h.resolved() {
		rs.inflight = nil
		return
	}
	if observed != h.target {
		return
	}
	if h.resolve(observed, nil) && m.metrics != nil {
		m.metrics.TransitionResolved("confirmed", now.Sub(h.requestedAt))
	}
	rs.inflight = nil
}

// emit fans a state-change event out to the event log and live
// subscribers. Sink failures are absorbed: state tracking must not
// stop because the log is unavailable.
func (m *Monitor) emit(ev domain.StateChange) {
	if m.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.sink.AppendStateChange(ctx, ev); err != nil {
			log.Printf("monitor: append state change: %v", err)
		}
		cancel()
	}

	m.mu.RLock()
	subs := m.subs
	m.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// Current returns the cached state of a resource and when it was
// last observed.
func (m *Monitor) Current(id domain.ResourceID) (domain.State, time.Time, error) {
	rs, err := m.lookup(id)
	if err != nil {
		return domain.StateUnknown, time.Time{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.state, rs.observedAt, nil
}

// Uptime reports how long a resource has been continuously observed
// Running, measured from the poll that saw it enter Running. A
// resource that is not currently Running has zero uptime.
func (m *Monitor) Uptime(id domain.ResourceID) (time.Duration, time.Time, error) {
	rs, err := m.lookup(id)
	if err != nil {
		return 0, time.Time{}, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.state != domain.StateRunning || rs.runningSince.IsZero() {
		return 0, time.Time{}, nil
	}
	return m.clock().UTC().Sub(rs.runningSince), rs.runningSince, nil
}

// Snapshot returns point-in-time copies of all tracked resources,
// ordered by id.
func (m *Monitor) Snapshot() []domain.Resource {
	m.mu.RLock()
	states := make([]*resourceState, 0, len(m.resources))
	for _, rs := range m.resources {
		states = append(states, rs)
	}
	m.mu.RUnlock()

	out := make([]domain.Resource, 0, len(states))
	for _, rs := range states {
		rs.mu.Lock()
		out = append(out, domain.Resource{
			ID:              rs.id,
			State:           rs.state,
			ObservedAt:      rs.observedAt,
			LastMachineType: rs.lastMachine,
			LastError:       rs.lastErr,
		})
		rs.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// RequestTransition issues an asynchronous start or stop. On success
// the cached state moves to the pending intermediate and the returned
// handle resolves when a poll confirms the target state, the timeout
// elapses, or the caller cancels. A second request while one is in
// flight fails fast with ErrConflict and leaves the cache untouched.
func (m *Monitor) RequestTransition(ctx context.Context, id domain.ResourceID, action domain.Action, machine domain.MachineType) (*TransitionHandle, error) {
	if action != domain.ActionStart && action != domain.ActionStop {
		return nil, fmt.Errorf("unsupported transition action %q", action)
	}

	rs, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.inflight != nil && !rs.inflight.resolved() {
		return nil, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	rs.inflight = nil

	var (
		pending domain.State
		target  domain.State
	)
	if action == domain.ActionStart {
		pending, target = domain.StateStarting, domain.StateRunning
	} else {
		pending, target = domain.StateStopping, domain.StateStopped
	}

	callCtx, cancel := context.WithTimeout(ctx, m.config.PollTimeout)
	defer cancel()

	if action == domain.ActionStart {
		err = m.client.Start(callCtx, id, machine)
	} else {
		err = m.client.Stop(callCtx, id)
	}
	if err != nil {
		// Rejected request: cached state is unaffected.
		return nil, err
	}

	now := m.clock().UTC()
	if action == domain.ActionStart {
		rs.lastMachine = machine
	}
	if m.metrics != nil {
		m.metrics.TransitionRequested(string(action))
	}
	m.applyLocked(rs, pending, now, "transition requested")

	h := newHandle(id, action, target, now)
	h.startTimer(m.config.TransitionTimeout, func() {
		if h.resolve(domain.StateUnknown, ErrTransitionTimeout) {
			log.Printf("monitor: %s %s not confirmed within %s", id, action, m.config.TransitionTimeout)
			if m.metrics != nil {
				m.metrics.TransitionResolved("timeout", m.config.TransitionTimeout)
			}
		}
	})
	rs.inflight = h
	return h, nil
}

func (m *Monitor) lookup(id domain.ResourceID) (*resourceState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.resources[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	return rs, nil
}

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/remote"
	"github.com/Myster-Pmf/Lightning/internal/testutil"
)

var testResource = domain.ResourceID{Owner: "acme", Teamspace: "prod", Name: "render"}

// mockSink records appended state changes.
type mockSink struct {
	mu     sync.Mutex
	events []domain.StateChange
}

func (s *mockSink) AppendStateChange(ctx context.Context, ev domain.StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *mockSink) all() []domain.StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StateChange(nil), s.events...)
}

func transientErr() error {
	return &remote.Error{Kind: remote.KindTransient, Op: "poll", Err: errors.New("connection refused")}
}

func terminalErr() error {
	return &remote.Error{Kind: remote.KindTerminal, Op: "poll", Err: errors.New("studio deleted")}
}

func newTestMonitor(client remote.Client, sink EventSink) *Monitor {
	m := New(Config{
		PollInterval:      time.Second,
		PollTimeout:       time.Second,
		FailureThreshold:  3,
		TransitionTimeout: time.Minute,
	}, client, sink)
	m.Track(testResource)
	return m
}

func (m *Monitor) testState(t *testing.T) *resourceState {
	t.Helper()
	rs, err := m.lookup(testResource)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return rs
}

func TestPollOnce_FirstObservationEmitsChange(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	sink := &mockSink{}
	m := newTestMonitor(client, sink)

	m.pollOnce(context.Background(), m.testState(t))

	state, _, err := m.Current(testResource)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if state != domain.StateRunning {
		t.Errorf("state = %s, want running", state)
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(events))
	}
	if events[0].From != domain.StateUnknown || events[0].To != domain.StateRunning {
		t.Errorf("event = %s -> %s, want unknown -> running", events[0].From, events[0].To)
	}
}

func TestPollOnce_SameStateEmitsNothing(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	sink := &mockSink{}
	m := newTestMonitor(client, sink)
	rs := m.testState(t)

	for i := 0; i < 5; i++ {
		m.pollOnce(context.Background(), rs)
	}

	// One event for unknown -> running, none for the repeats.
	if n := len(sink.all()); n != 1 {
		t.Errorf("emitted %d events, want 1", n)
	}
}

func TestPollOnce_TransientFailuresBelowThresholdKeepState(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	sink := &mockSink{}
	m := newTestMonitor(client, sink)
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)

	client.SetPollErr(transientErr())
	m.pollOnce(context.Background(), rs)
	m.pollOnce(context.Background(), rs)

	// Two of three allowed failures: cached state still running.
	state, _, _ := m.Current(testResource)
	if state != domain.StateRunning {
		t.Errorf("state after threshold-1 failures = %s, want running", state)
	}
	if n := len(sink.all()); n != 1 {
		t.Errorf("emitted %d events, want 1", n)
	}
}

func TestPollOnce_ThresholdDegradesToError(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	sink := &mockSink{}
	m := newTestMonitor(client, sink)
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)

	client.SetPollErr(transientErr())
	for i := 0; i < 3; i++ {
		m.pollOnce(context.Background(), rs)
	}

	state, _, _ := m.Current(testResource)
	if state != domain.StateError {
		t.Errorf("state after threshold failures = %s, want error", state)
	}

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("emitted %d events, want 2", len(events))
	}
	last := events[1]
	if last.To != domain.StateError || last.Reason == "" {
		t.Errorf("last event to=%s reason=%q, want error with a reason", last.To, last.Reason)
	}
}

func TestPollOnce_RecoveryResetsFailureCount(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	m := newTestMonitor(client, &mockSink{})
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)

	// Two failures, one success, two more failures: the threshold of
	// three consecutive failures never trips.
	client.SetPollErr(transientErr())
	m.pollOnce(context.Background(), rs)
	m.pollOnce(context.Background(), rs)
	client.SetPollErr(nil)
	m.pollOnce(context.Background(), rs)
	client.SetPollErr(transientErr())
	m.pollOnce(context.Background(), rs)
	m.pollOnce(context.Background(), rs)

	state, _, _ := m.Current(testResource)
	if state != domain.StateRunning {
		t.Errorf("state = %s, want running", state)
	}
}

func TestPollOnce_TerminalErrorDegradesImmediately(t *testing.T) {
	client := &testutil.FakeControlClient{PollErr: terminalErr()}
	m := newTestMonitor(client, &mockSink{})
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)

	state, _, _ := m.Current(testResource)
	if state != domain.StateError {
		t.Errorf("state after terminal error = %s, want error", state)
	}
}

func TestRequestTransition_SetsPendingState(t *testing.T) {
	client := &testutil.FakeControlClient{}
	m := newTestMonitor(client, &mockSink{})

	h, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineGPU)
	if err != nil {
		t.Fatalf("RequestTransition() error = %v", err)
	}
	if h.Target() != domain.StateRunning {
		t.Errorf("Target() = %s, want running", h.Target())
	}

	state, _, _ := m.Current(testResource)
	if state != domain.StateStarting {
		t.Errorf("state = %s, want starting", state)
	}
	if len(client.StartCalls) != 1 {
		t.Errorf("Start called %d times, want 1", len(client.StartCalls))
	}
}

func TestRequestTransition_SecondRequestConflicts(t *testing.T) {
	client := &testutil.FakeControlClient{}
	m := newTestMonitor(client, &mockSink{})

	if _, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU); err != nil {
		t.Fatalf("first RequestTransition() error = %v", err)
	}

	_, err := m.RequestTransition(context.Background(), testResource, domain.ActionStop, "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second RequestTransition() error = %v, want ErrConflict", err)
	}

	// The rejected request must not disturb the cached state or issue
	// a remote call.
	state, _, _ := m.Current(testResource)
	if state != domain.StateStarting {
		t.Errorf("state = %s, want starting", state)
	}
	if len(client.StopCalls) != 0 {
		t.Errorf("Stop called %d times, want 0", len(client.StopCalls))
	}
}

func TestRequestTransition_RejectedCallLeavesStateUntouched(t *testing.T) {
	client := &testutil.FakeControlClient{
		States:   []domain.State{domain.StateStopped},
		StartErr: &remote.Error{Kind: remote.KindTerminal, Op: "start", Err: errors.New("quota exceeded")},
	}
	sink := &mockSink{}
	m := newTestMonitor(client, sink)
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)

	if _, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU); err == nil {
		t.Fatal("RequestTransition() should propagate the rejection")
	}

	state, _, _ := m.Current(testResource)
	if state != domain.StateStopped {
		t.Errorf("state = %s, want stopped", state)
	}
}

func TestRequestTransition_ConfirmedByPoll(t *testing.T) {
	client := &testutil.FakeControlClient{}
	m := newTestMonitor(client, &mockSink{})
	rs := m.testState(t)

	h, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU)
	if err != nil {
		t.Fatalf("RequestTransition() error = %v", err)
	}

	client.SetStates(domain.StateRunning)
	m.pollOnce(context.Background(), rs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if state != domain.StateRunning {
		t.Errorf("Wait() state = %s, want running", state)
	}

	// The slot is free again.
	if _, err := m.RequestTransition(context.Background(), testResource, domain.ActionStop, ""); err != nil {
		t.Errorf("transition after confirmation: %v", err)
	}
}

func TestRequestTransition_TimesOut(t *testing.T) {
	client := &testutil.FakeControlClient{}
	m := New(Config{
		PollInterval:      time.Second,
		PollTimeout:       time.Second,
		FailureThreshold:  3,
		TransitionTimeout: 20 * time.Millisecond,
	}, client, &mockSink{})
	m.Track(testResource)

	h, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU)
	if err != nil {
		t.Fatalf("RequestTransition() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, ErrTransitionTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTransitionTimeout", err)
	}

	// A timed-out transition releases the slot.
	if _, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU); err != nil {
		t.Errorf("transition after timeout: %v", err)
	}
}

func TestPollOnce_HoldsStaleStateDuringTransition(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateStopped}}
	sink := &mockSink{}
	m := newTestMonitor(client, sink)
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)

	h, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU)
	if err != nil {
		t.Fatalf("RequestTransition() error = %v", err)
	}

	// The remote keeps reporting stopped for a moment after accepting
	// the start; the cache must stay on starting instead of flapping.
	client.SetStates(domain.StateStopped)
	m.pollOnce(context.Background(), rs)

	state, _, _ := m.Current(testResource)
	if state != domain.StateStarting {
		t.Errorf("state during transition = %s, want starting", state)
	}

	client.SetStates(domain.StateRunning)
	m.pollOnce(context.Background(), rs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	// unknown -> stopped, stopped -> starting, starting -> running; the
	// stale observation contributes nothing.
	events := sink.all()
	if len(events) != 3 {
		t.Fatalf("emitted %d events, want 3: %v", len(events), events)
	}
	if events[2].From != domain.StateStarting || events[2].To != domain.StateRunning {
		t.Errorf("last event = %s -> %s, want starting -> running", events[2].From, events[2].To)
	}
}

func TestPollOnce_ErrorStillAppliesDuringTransition(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateStopped}}
	m := newTestMonitor(client, &mockSink{})
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)

	if _, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU); err != nil {
		t.Fatalf("RequestTransition() error = %v", err)
	}

	// A remote that reports error during the transition is not stale
	// noise; the cache must degrade.
	client.SetStates(domain.StateError)
	m.pollOnce(context.Background(), rs)

	state, _, _ := m.Current(testResource)
	if state != domain.StateError {
		t.Errorf("state = %s, want error", state)
	}
}

func TestRequestTransition_TightTimeoutRacesConfirmation(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	m := New(Config{
		PollInterval:      time.Second,
		PollTimeout:       time.Second,
		FailureThreshold:  3,
		TransitionTimeout: time.Nanosecond,
	}, client, &mockSink{})
	m.Track(testResource)
	rs := m.testState(t)

	// The timeout fires essentially immediately while a poll is
	// confirming; whichever wins, the handle must settle cleanly.
	for i := 0; i < 25; i++ {
		h, err := m.RequestTransition(context.Background(), testResource, domain.ActionStart, domain.MachineCPU)
		if err != nil {
			t.Fatalf("RequestTransition() error = %v", err)
		}

		done := make(chan struct{})
		go func() {
			m.pollOnce(context.Background(), rs)
			close(done)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if _, err := h.Wait(ctx); err != nil && !errors.Is(err, ErrTransitionTimeout) {
			t.Fatalf("Wait() error = %v", err)
		}
		cancel()
		<-done
	}
}

func TestUptime_MeasuredFromObservedRunning(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clk := testutil.NewFakeClock(start)
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	m := newTestMonitor(client, &mockSink{})
	m.clock = clk.Now
	rs := m.testState(t)

	m.pollOnce(context.Background(), rs)
	clk.Advance(90 * time.Second)

	uptime, since, err := m.Uptime(testResource)
	if err != nil {
		t.Fatalf("Uptime() error = %v", err)
	}
	if uptime != 90*time.Second {
		t.Errorf("uptime = %s, want 90s", uptime)
	}
	if !since.Equal(start) {
		t.Errorf("since = %s, want %s", since, start)
	}

	// A repeated running observation must not reset the window.
	m.pollOnce(context.Background(), rs)
	clk.Advance(30 * time.Second)
	uptime, since, _ = m.Uptime(testResource)
	if uptime != 2*time.Minute {
		t.Errorf("uptime after repeat poll = %s, want 2m", uptime)
	}
	if !since.Equal(start) {
		t.Errorf("since after repeat poll = %s, want %s", since, start)
	}

	// Leaving running zeroes the window.
	client.SetStates(domain.StateStopped)
	m.pollOnce(context.Background(), rs)
	uptime, since, _ = m.Uptime(testResource)
	if uptime != 0 || !since.IsZero() {
		t.Errorf("uptime after stop = %s since %s, want zero", uptime, since)
	}
}

func TestUptime_UnknownResource(t *testing.T) {
	m := newTestMonitor(&testutil.FakeControlClient{}, &mockSink{})

	other := domain.ResourceID{Owner: "acme", Teamspace: "prod", Name: "ghost"}
	if _, _, err := m.Uptime(other); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("error = %v, want ErrUnknownResource", err)
	}
}

func TestRequestTransition_UnknownResource(t *testing.T) {
	m := newTestMonitor(&testutil.FakeControlClient{}, &mockSink{})

	other := domain.ResourceID{Owner: "acme", Teamspace: "prod", Name: "ghost"}
	if _, err := m.RequestTransition(context.Background(), other, domain.ActionStart, domain.MachineCPU); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("error = %v, want ErrUnknownResource", err)
	}
}

func TestRequestTransition_RestartNotSupported(t *testing.T) {
	m := newTestMonitor(&testutil.FakeControlClient{}, &mockSink{})

	// Restart is composed by the runner from stop and start; the
	// monitor only accepts primitives.
	if _, err := m.RequestTransition(context.Background(), testResource, domain.ActionRestart, domain.MachineCPU); err == nil {
		t.Error("RequestTransition(restart) should fail")
	}
}

func TestSubscribe_ReceivesStateChanges(t *testing.T) {
	client := &testutil.FakeControlClient{States: []domain.State{domain.StateRunning}}
	m := newTestMonitor(client, &mockSink{})

	var mu sync.Mutex
	var got []domain.StateChange
	m.Subscribe(func(ev domain.StateChange) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	m.pollOnce(context.Background(), m.testState(t))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("subscriber saw %d events, want 1", len(got))
	}
	if got[0].To != domain.StateRunning {
		t.Errorf("event to = %s, want running", got[0].To)
	}
}

func TestSnapshot_SortedByID(t *testing.T) {
	m := newTestMonitor(&testutil.FakeControlClient{}, &mockSink{})
	m.Track(domain.ResourceID{Owner: "acme", Teamspace: "prod", Name: "api"})
	m.Track(domain.ResourceID{Owner: "acme", Teamspace: "dev", Name: "api"})

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d resources, want 3", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].ID.String() >= snap[i].ID.String() {
			t.Errorf("snapshot not sorted: %s before %s", snap[i-1].ID, snap[i].ID)
		}
	}
	for _, res := range snap {
		if res.State != domain.StateUnknown {
			t.Errorf("unpolled resource %s state = %s, want unknown", res.ID, res.State)
		}
	}
}

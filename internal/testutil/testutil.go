// Package testutil provides shared test helpers for studiod.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/remote"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// FakeControlClient is a scripted remote.Client for tests. Poll returns
// states from the States queue (repeating the last entry once drained)
// unless PollErr is set. Start/Stop record their calls and return
// StartErr/StopErr.
type FakeControlClient struct {
	mu       sync.Mutex
	States   []domain.State
	PollErr  error
	StartErr error
	StopErr  error

	PollCalls  int
	StartCalls []domain.ResourceID
	StopCalls  []domain.ResourceID
}

var _ remote.Client = (*FakeControlClient)(nil)

func (f *FakeControlClient) Poll(ctx context.Context, id domain.ResourceID) (domain.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PollCalls++
	if f.PollErr != nil {
		return domain.StateUnknown, f.PollErr
	}
	if len(f.States) == 0 {
		return domain.StateUnknown, nil
	}
	st := f.States[0]
	if len(f.States) > 1 {
		f.States = f.States[1:]
	}
	return st, nil
}

func (f *FakeControlClient) Start(ctx context.Context, id domain.ResourceID, machineType domain.MachineType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StartCalls = append(f.StartCalls, id)
	return f.StartErr
}

func (f *FakeControlClient) Stop(ctx context.Context, id domain.ResourceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, id)
	return f.StopErr
}

// SetPollErr swaps the scripted poll error under the lock.
func (f *FakeControlClient) SetPollErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PollErr = err
}

// SetStates replaces the scripted state queue under the lock.
func (f *FakeControlClient) SetStates(states ...domain.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.States = states
}

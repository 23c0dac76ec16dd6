package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

var (
	// ErrTransitionTimeout: the target state was not observed within
	// the configured transition timeout.
	ErrTransitionTimeout = errors.New("transition timed out waiting for confirmation")
	// ErrTransitionCancelled: the caller stopped waiting. The remote
	// call already sent is not undone.
	ErrTransitionCancelled = errors.New("transition cancelled")
)

// TransitionHandle represents one in-flight start or stop request.
// It resolves when a poll observes the target state, when the
// transition timeout elapses, or when cancelled.
type TransitionHandle struct {
	resource domain.ResourceID
	action   domain.Action
	target   domain.State

	requestedAt time.Time
	timer       *time.Timer

	mu    sync.Mutex
	state domain.State
	err   error
	done  chan struct{}
}

func newHandle(resource domain.ResourceID, action domain.Action, target domain.State, requestedAt time.Time) *TransitionHandle {
	return &TransitionHandle{
		resource:    resource,
		action:      action,
		target:      target,
		requestedAt: requestedAt,
		done:        make(chan struct{}),
	}
}

func (h *TransitionHandle) Resource() domain.ResourceID { return h.resource }
func (h *TransitionHandle) Action() domain.Action       { return h.action }
func (h *TransitionHandle) Target() domain.State        { return h.target }
func (h *TransitionHandle) RequestedAt() time.Time      { return h.requestedAt }

// Done is closed when the handle resolves.
func (h *TransitionHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the handle resolves or ctx is done.
func (h *TransitionHandle) Wait(ctx context.Context) (domain.State, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.state, h.err
	case <-ctx.Done():
		return domain.StateUnknown, ctx.Err()
	}
}

// Cancel stops waiting for confirmation. The in-flight slot on the
// resource is released; the remote call is not undone.
func (h *TransitionHandle) Cancel() {
	h.resolve(domain.StateUnknown, ErrTransitionCancelled)
}

// startTimer arms the timeout under the handle lock so a concurrent
// resolve always observes a fully published timer.
func (h *TransitionHandle) startTimer(d time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timer = time.AfterFunc(d, fn)
}

// resolve settles the handle exactly once. Later calls are no-ops.
func (h *TransitionHandle) resolve(state domain.State, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return false
	default:
	}

	h.state = state
	h.err = err
	if h.timer != nil {
		h.timer.Stop()
	}
	close(h.done)
	return true
}

func (h *TransitionHandle) resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Package remote is the call boundary to the studio control API.
// Operations are asynchronous on the remote side: Start and Stop mean
// "accepted", not "done". Completion is observed through Poll.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// Client is consumed by the monitor. Implementations must distinguish
// transient failures (retried by the next poll cycle) from terminal
// rejections via *Error.
type Client interface {
	Poll(ctx context.Context, id domain.ResourceID) (domain.State, error)
	Start(ctx context.Context, id domain.ResourceID, machine domain.MachineType) error
	Stop(ctx context.Context, id domain.ResourceID) error
}

type ErrorKind int

const (
	// KindTransient: network errors, timeouts, throttling, 5xx. The
	// next poll cycle retries; not surfaced until the failure
	// threshold is exceeded.
	KindTransient ErrorKind = iota
	// KindTerminal: explicit rejection by the control API. Surfaced
	// immediately; the resource state becomes Error.
	KindTerminal
)

// Error wraps a control API failure with its retryability class.
type Error struct {
	Kind ErrorKind
	Op   string // "poll", "start", "stop"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Transient() bool { return e.Kind == KindTransient }

// IsTransient reports whether err may succeed on retry. Errors that do
// not carry a classification are treated as transient: an unclassified
// failure is more likely a flaky network than a rejection.
func IsTransient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Transient()
	}
	return true
}

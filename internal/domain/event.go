package domain

import (
	"time"

	"github.com/google/uuid"
)

// StateChange is emitted by the monitor exactly once per observed
// transition of a resource. Events for one resource are ordered by
// ObservedAt.
type StateChange struct {
	ID       uuid.UUID  `json:"id"`
	Resource ResourceID `json:"resource"`

	From State `json:"from"`
	To   State `json:"to"`

	// Reason is set when the transition was synthesized locally
	// (poll failure threshold, requested transition) rather than
	// observed from the remote API.
	Reason string `json:"reason,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

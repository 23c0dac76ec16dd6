package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

func (a Action) Valid() bool {
	switch a {
	case ActionStart, ActionStop, ActionRestart:
		return true
	}
	return false
}

type RecurrenceKind string

const (
	RecurrenceOnce   RecurrenceKind = "once"
	RecurrenceDaily  RecurrenceKind = "daily"
	RecurrenceWeekly RecurrenceKind = "weekly"
	RecurrenceCron   RecurrenceKind = "cron"
)

// TimeOfDay is a wall-clock time in the evaluator's location.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return TimeOfDay{}, fmt.Errorf("time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: out of range", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// Recurrence describes when a trigger fires. Exactly the fields for
// its Kind are meaningful; the rest stay zero.
type Recurrence struct {
	Kind RecurrenceKind `json:"kind"`

	At time.Time `json:"at,omitempty"` // once

	TimeOfDay TimeOfDay      `json:"time_of_day,omitempty"` // daily, weekly
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`    // weekly

	Expression string `json:"expression,omitempty"` // cron, 5-field
}

// HookSpec is an opaque user-supplied command run around an action.
// The command string is parsed shell-style at execution time; a zero
// Timeout means the runner's default applies.
type HookSpec struct {
	Command string        `json:"command"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

type TriggerStatus string

const (
	TriggerStatusActive TriggerStatus = "active"
	// TriggerStatusSpent marks a consumed once trigger. Spent triggers
	// are kept for audit and never fire again.
	TriggerStatusSpent TriggerStatus = "spent"
)

// Trigger is a persisted rule: perform Action on Resource whenever
// Recurrence says so.
type Trigger struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	Resource    ResourceID  `json:"resource"`
	Action      Action      `json:"action"`
	MachineType MachineType `json:"machine_type,omitempty"` // start/restart only

	Recurrence Recurrence    `json:"recurrence"`
	Enabled    bool          `json:"enabled"`
	Status     TriggerStatus `json:"status"`

	PostStart *HookSpec `json:"post_start,omitempty"`
	PreStop   *HookSpec `json:"pre_stop,omitempty"`

	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	// NextFireAt is derived: recomputed on every edit and after every
	// firing. Zero only for spent triggers.
	NextFireAt time.Time `json:"next_fire_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hook returns the hook relevant to the trigger's action phase:
// post_start for start, pre_stop for stop. Restart uses both.
func (t Trigger) Hook(phase Action) *HookSpec {
	switch phase {
	case ActionStart:
		return t.PostStart
	case ActionStop:
		return t.PreStop
	}
	return nil
}

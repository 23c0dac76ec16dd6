package api

import (
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

type TriggerRequest struct {
	Name        string `json:"name"`
	Resource    string `json:"resource"` // owner/teamspace/name
	Action      string `json:"action"`
	MachineType string `json:"machine_type,omitempty"` // start/restart only, default CPU

	Recurrence RecurrenceRequest `json:"recurrence"`
	Enabled    *bool             `json:"enabled,omitempty"` // default true

	PostStart *HookRequest `json:"post_start,omitempty"`
	PreStop   *HookRequest `json:"pre_stop,omitempty"`
}

type RecurrenceRequest struct {
	Kind string `json:"kind"`

	At string `json:"at,omitempty"` // once, RFC3339

	TimeOfDay string   `json:"time_of_day,omitempty"` // daily/weekly, HH:MM
	Weekdays  []string `json:"weekdays,omitempty"`    // weekly

	Expression string `json:"expression,omitempty"` // cron, 5-field
}

type HookRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type TriggerResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	MachineType string `json:"machine_type,omitempty"`

	Recurrence RecurrenceRequest `json:"recurrence"`
	Enabled    bool              `json:"enabled"`
	Status     string            `json:"status"`

	PostStart *HookRequest `json:"post_start,omitempty"`
	PreStop   *HookRequest `json:"pre_stop,omitempty"`

	LastFiredAt string `json:"last_fired_at,omitempty"`
	NextFireAt  string `json:"next_fire_at,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type ResourceResponse struct {
	Resource        string `json:"resource"`
	State           string `json:"state"`
	ObservedAt      string `json:"observed_at,omitempty"`
	LastMachineType string `json:"last_machine_type,omitempty"`
	LastError       string `json:"last_error,omitempty"`
}

type ListResourcesResponse struct {
	Resources []ResourceResponse `json:"resources"`
}

// UptimeResponse reports how long a resource has been continuously
// Running, measured from the poll that observed it enter Running. A
// resource in any other state reports zero uptime.
type UptimeResponse struct {
	Resource      string  `json:"resource"`
	State         string  `json:"state"`
	Running       bool    `json:"running"`
	RunningSince  string  `json:"running_since,omitempty"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

type TransitionRequest struct {
	Action      string `json:"action"` // start or stop
	MachineType string `json:"machine_type,omitempty"`
}

// TransitionResponse acknowledges an accepted transition. The request
// is asynchronous: the state feed or polling GET /resources reports
// completion.
type TransitionResponse struct {
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	State       string `json:"state"`
	RequestedAt string `json:"requested_at"`
}

type HookResultResponse struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

type ExecutionResponse struct {
	ID          string `json:"id"`
	TriggerID   string `json:"trigger_id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	ScheduledAt string `json:"scheduled_at"`
	FiredAt     string `json:"fired_at"`
	Outcome     string `json:"outcome"`
	Error       string `json:"error,omitempty"`

	PreStop   *HookResultResponse `json:"pre_stop,omitempty"`
	PostStart *HookResultResponse `json:"post_start,omitempty"`

	DurationSeconds float64 `json:"duration_seconds"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type StateChangeResponse struct {
	ID         string `json:"id"`
	Resource   string `json:"resource"`
	From       string `json:"from"`
	To         string `json:"to"`
	Reason     string `json:"reason,omitempty"`
	ObservedAt string `json:"observed_at"`
}

type ListStateChangesResponse struct {
	Events []StateChangeResponse `json:"events"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimeOpt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func triggerResponse(t domain.Trigger) TriggerResponse {
	resp := TriggerResponse{
		ID:          t.ID.String(),
		Name:        t.Name,
		Resource:    t.Resource.String(),
		Action:      string(t.Action),
		MachineType: string(t.MachineType),
		Recurrence:  recurrenceRequest(t.Recurrence),
		Enabled:     t.Enabled,
		Status:      string(t.Status),
		NextFireAt:  formatTimeOpt(t.NextFireAt),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
	if t.LastFiredAt != nil {
		resp.LastFiredAt = formatTime(*t.LastFiredAt)
	}
	if t.PostStart != nil {
		resp.PostStart = hookRequest(*t.PostStart)
	}
	if t.PreStop != nil {
		resp.PreStop = hookRequest(*t.PreStop)
	}
	return resp
}

func recurrenceRequest(r domain.Recurrence) RecurrenceRequest {
	req := RecurrenceRequest{
		Kind:       string(r.Kind),
		Expression: r.Expression,
	}
	if !r.At.IsZero() {
		req.At = formatTime(r.At)
	}
	switch r.Kind {
	case domain.RecurrenceDaily, domain.RecurrenceWeekly:
		req.TimeOfDay = r.TimeOfDay.String()
	}
	for _, d := range r.Weekdays {
		req.Weekdays = append(req.Weekdays, d.String())
	}
	return req
}

func hookRequest(h domain.HookSpec) *HookRequest {
	return &HookRequest{
		Command:        h.Command,
		TimeoutSeconds: int(h.Timeout.Seconds()),
	}
}

func hookResultResponse(r *domain.HookResult) *HookResultResponse {
	if r == nil {
		return nil
	}
	return &HookResultResponse{
		Command:    r.Command,
		ExitCode:   r.ExitCode,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		TimedOut:   r.TimedOut,
		Error:      r.Error,
		StartedAt:  formatTime(r.StartedAt),
		FinishedAt: formatTime(r.FinishedAt),
	}
}

func executionResponse(rec domain.ExecutionRecord) ExecutionResponse {
	return ExecutionResponse{
		ID:              rec.ID.String(),
		TriggerID:       rec.TriggerID.String(),
		Resource:        rec.Resource.String(),
		Action:          string(rec.Action),
		ScheduledAt:     formatTime(rec.ScheduledAt),
		FiredAt:         formatTime(rec.FiredAt),
		Outcome:         string(rec.Outcome),
		Error:           rec.Error,
		PreStop:         hookResultResponse(rec.PreStop),
		PostStart:       hookResultResponse(rec.PostStart),
		DurationSeconds: rec.Duration.Seconds(),
	}
}

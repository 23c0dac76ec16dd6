package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/schedule"
)

// Hook timeout bounds. Zero means the runner default.
const (
	minHookTimeout = time.Second
	maxHookTimeout = time.Hour
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// buildTrigger validates a request and converts it into a domain
// trigger with zero ID and times; the handler fills those in.
func buildTrigger(req TriggerRequest) (domain.Trigger, error) {
	if req.Name == "" {
		return domain.Trigger{}, fmt.Errorf("name is required")
	}

	resource, err := domain.ParseResourceID(req.Resource)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("invalid resource: %w", err)
	}

	action := domain.Action(req.Action)
	if !action.Valid() {
		return domain.Trigger{}, fmt.Errorf("action must be start, stop or restart, got %q", req.Action)
	}

	var machine domain.MachineType
	if action == domain.ActionStart || action == domain.ActionRestart {
		machine = domain.MachineCPU
		if req.MachineType != "" {
			machine = domain.MachineType(req.MachineType)
			if !machine.Valid() {
				return domain.Trigger{}, fmt.Errorf("machine_type must be CPU, GPU or GPU_FAST, got %q", req.MachineType)
			}
		}
	} else if req.MachineType != "" {
		return domain.Trigger{}, fmt.Errorf("machine_type is only valid for start and restart")
	}

	rec, err := buildRecurrence(req.Recurrence)
	if err != nil {
		return domain.Trigger{}, fmt.Errorf("invalid recurrence: %w", err)
	}

	postStart, err := buildHook("post_start", req.PostStart)
	if err != nil {
		return domain.Trigger{}, err
	}
	preStop, err := buildHook("pre_stop", req.PreStop)
	if err != nil {
		return domain.Trigger{}, err
	}

	// A hook only runs around the phase it belongs to.
	if postStart != nil && action == domain.ActionStop {
		return domain.Trigger{}, fmt.Errorf("post_start hook is not valid for a stop trigger")
	}
	if preStop != nil && action == domain.ActionStart {
		return domain.Trigger{}, fmt.Errorf("pre_stop hook is not valid for a start trigger")
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	return domain.Trigger{
		Name:        req.Name,
		Resource:    resource,
		Action:      action,
		MachineType: machine,
		Recurrence:  rec,
		Enabled:     enabled,
		Status:      domain.TriggerStatusActive,
		PostStart:   postStart,
		PreStop:     preStop,
	}, nil
}

func buildRecurrence(req RecurrenceRequest) (domain.Recurrence, error) {
	rec := domain.Recurrence{Kind: domain.RecurrenceKind(req.Kind)}

	switch rec.Kind {
	case domain.RecurrenceOnce:
		if req.At == "" {
			return domain.Recurrence{}, fmt.Errorf("at is required for once")
		}
		at, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			return domain.Recurrence{}, fmt.Errorf("at: %w", err)
		}
		rec.At = at.UTC()

	case domain.RecurrenceDaily:
		tod, err := domain.ParseTimeOfDay(req.TimeOfDay)
		if err != nil {
			return domain.Recurrence{}, err
		}
		rec.TimeOfDay = tod

	case domain.RecurrenceWeekly:
		tod, err := domain.ParseTimeOfDay(req.TimeOfDay)
		if err != nil {
			return domain.Recurrence{}, err
		}
		rec.TimeOfDay = tod
		for _, name := range req.Weekdays {
			day, ok := weekdayNames[strings.ToLower(name)]
			if !ok {
				return domain.Recurrence{}, fmt.Errorf("unknown weekday %q", name)
			}
			rec.Weekdays = append(rec.Weekdays, day)
		}

	case domain.RecurrenceCron:
		rec.Expression = req.Expression

	default:
		return domain.Recurrence{}, fmt.Errorf("kind must be once, daily, weekly or cron, got %q", req.Kind)
	}

	if err := schedule.Validate(rec); err != nil {
		return domain.Recurrence{}, err
	}
	return rec, nil
}

func buildHook(field string, req *HookRequest) (*domain.HookSpec, error) {
	if req == nil {
		return nil, nil
	}
	if strings.TrimSpace(req.Command) == "" {
		return nil, fmt.Errorf("%s: command is required", field)
	}
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout != 0 && (timeout < minHookTimeout || timeout > maxHookTimeout) {
		return nil, fmt.Errorf("%s: timeout_seconds must be between %d and %d",
			field, int(minHookTimeout.Seconds()), int(maxHookTimeout.Seconds()))
	}
	return &domain.HookSpec{Command: req.Command, Timeout: timeout}, nil
}

func validateTransition(req TransitionRequest) (domain.Action, domain.MachineType, error) {
	action := domain.Action(req.Action)
	if action != domain.ActionStart && action != domain.ActionStop {
		return "", "", fmt.Errorf("action must be start or stop, got %q", req.Action)
	}

	var machine domain.MachineType
	if action == domain.ActionStart {
		machine = domain.MachineCPU
		if req.MachineType != "" {
			machine = domain.MachineType(req.MachineType)
			if !machine.Valid() {
				return "", "", fmt.Errorf("machine_type must be CPU, GPU or GPU_FAST, got %q", req.MachineType)
			}
		}
	} else if req.MachineType != "" {
		return "", "", fmt.Errorf("machine_type is only valid for start")
	}

	return action, machine, nil
}

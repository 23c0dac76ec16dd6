package config

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// CONTROL_API_URL is required
	if cfg.ControlAPIURL == "" {
		errs = append(errs, ValidationError{
			Field:   "CONTROL_API_URL",
			Message: "required",
		})
	}

	// STUDIOS entries must be "owner/teamspace/name"
	for _, s := range cfg.Studios {
		if parts := strings.Split(s, "/"); len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			errs = append(errs, ValidationError{
				Field:   "STUDIOS",
				Message: fmt.Sprintf("entry %q must be owner/teamspace/name", s),
			})
		}
	}

	// STORE_BACKEND must be "file" or "postgres"
	switch cfg.StoreBackend {
	case "", "file":
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DATABASE_URL",
				Message: "required when STORE_BACKEND is 'postgres'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "STORE_BACKEND",
			Message: fmt.Sprintf("must be 'file' or 'postgres', got %q", cfg.StoreBackend),
		})
	}

	// TIMEZONE must be a loadable IANA location
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONE",
				Message: fmt.Sprintf("unknown location: %v", err),
			})
		}
	}

	errs = append(errs, validateDuration("POLL_INTERVAL", cfg.PollIntervalStr)...)
	errs = append(errs, validateDuration("POLL_TIMEOUT", cfg.PollTimeoutStr)...)
	errs = append(errs, validateDuration("TICK_INTERVAL", cfg.TickIntervalStr)...)
	errs = append(errs, validateDuration("TRANSITION_TIMEOUT", cfg.TransitionTimeoutStr)...)
	errs = append(errs, validateDuration("HOOK_TIMEOUT", cfg.HookTimeoutStr)...)
	errs = append(errs, validateDuration("HOOK_KILL_GRACE", cfg.HookKillGraceStr)...)
	errs = append(errs, validateDuration("DB_OP_TIMEOUT", cfg.DBOpTimeoutStr)...)
	errs = append(errs, validateDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)...)
	errs = append(errs, validateDuration("RUNNER_DRAIN_TIMEOUT", cfg.RunnerDrainTimeoutStr)...)

	// The poll timeout must fit within the poll interval, otherwise
	// polls pile up behind each other.
	if cfg.PollTimeout > 0 && cfg.PollInterval > 0 && cfg.PollTimeout > cfg.PollInterval {
		errs = append(errs, ValidationError{
			Field:   "POLL_TIMEOUT",
			Message: fmt.Sprintf("must not exceed POLL_INTERVAL (%s)", cfg.PollIntervalStr),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, value string) ValidationErrors {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return ValidationErrors{{
			Field:   field,
			Message: fmt.Sprintf("invalid duration: %v", err),
		}}
	}
	if d <= 0 {
		return ValidationErrors{{
			Field:   field,
			Message: "must be positive",
		}}
	}
	return nil
}

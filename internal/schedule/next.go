// Package schedule computes next-fire instants for trigger recurrences.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// ErrSpent is returned when a once recurrence has no occurrence left.
var ErrSpent = errors.New("recurrence spent")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextAfter returns the next fire instant strictly after the given
// time, in UTC. Wall-clock recurrences (daily, weekly) are evaluated
// in loc. A consumed once recurrence returns ErrSpent.
func NextAfter(r domain.Recurrence, after time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	switch r.Kind {
	case domain.RecurrenceOnce:
		if r.At.After(after) {
			return r.At.UTC(), nil
		}
		return time.Time{}, ErrSpent

	case domain.RecurrenceDaily:
		local := after.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(),
			r.TimeOfDay.Hour, r.TimeOfDay.Minute, 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next.UTC(), nil

	case domain.RecurrenceWeekly:
		if len(r.Weekdays) == 0 {
			return time.Time{}, fmt.Errorf("weekly recurrence: no weekdays")
		}
		days := make(map[time.Weekday]bool, len(r.Weekdays))
		for _, d := range r.Weekdays {
			days[d] = true
		}
		local := after.In(loc)
		// Today counts if the time of day has not passed; otherwise the
		// scan wraps to the same weekday next week.
		for ahead := 0; ahead <= 7; ahead++ {
			day := local.AddDate(0, 0, ahead)
			if !days[day.Weekday()] {
				continue
			}
			next := time.Date(day.Year(), day.Month(), day.Day(),
				r.TimeOfDay.Hour, r.TimeOfDay.Minute, 0, 0, loc)
			if next.After(local) {
				return next.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("weekly recurrence: no occurrence within 8 days")

	case domain.RecurrenceCron:
		sched, err := cronParser.Parse(r.Expression)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron %q: %w", r.Expression, err)
		}
		return sched.Next(after.In(loc)).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("unknown recurrence kind %q", r.Kind)
}

// Validate checks a recurrence without evaluating it.
func Validate(r domain.Recurrence) error {
	switch r.Kind {
	case domain.RecurrenceOnce:
		if r.At.IsZero() {
			return fmt.Errorf("once recurrence: at is required")
		}
	case domain.RecurrenceDaily:
		// TimeOfDay is validated at parse time; zero value (00:00) is legal.
	case domain.RecurrenceWeekly:
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("weekly recurrence: at least one weekday required")
		}
		seen := make(map[time.Weekday]bool)
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("weekly recurrence: invalid weekday %d", d)
			}
			if seen[d] {
				return fmt.Errorf("weekly recurrence: duplicate weekday %s", d)
			}
			seen[d] = true
		}
	case domain.RecurrenceCron:
		if _, err := cronParser.Parse(r.Expression); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	default:
		return fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
	return nil
}

package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

func TestNextAfter_OnceFuture(t *testing.T) {
	at := time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC)
	rec := domain.Recurrence{Kind: domain.RecurrenceOnce, At: at}

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	next, err := NextAfter(rec, now, time.UTC)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}
	if !next.Equal(at) {
		t.Errorf("NextAfter() = %v, want %v", next, at)
	}
}

func TestNextAfter_OnceSpent(t *testing.T) {
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	rec := domain.Recurrence{Kind: domain.RecurrenceOnce, At: at}

	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	if _, err := NextAfter(rec, now, time.UTC); !errors.Is(err, ErrSpent) {
		t.Errorf("NextAfter() error = %v, want ErrSpent", err)
	}
}

func TestNextAfter_OnceExactInstantIsSpent(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	rec := domain.Recurrence{Kind: domain.RecurrenceOnce, At: at}

	// "Strictly after" means the instant itself does not count.
	if _, err := NextAfter(rec, at, time.UTC); !errors.Is(err, ErrSpent) {
		t.Errorf("NextAfter() at the instant: error = %v, want ErrSpent", err)
	}
}

func TestNextAfter_DailyBeforeTimeOfDay(t *testing.T) {
	rec := domain.Recurrence{
		Kind:      domain.RecurrenceDaily,
		TimeOfDay: domain.TimeOfDay{Hour: 9, Minute: 0},
	}

	now := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	next, err := NextAfter(rec, now, time.UTC)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}

	want := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}
}

func TestNextAfter_DailyAfterTimeOfDayRollsToTomorrow(t *testing.T) {
	rec := domain.Recurrence{
		Kind:      domain.RecurrenceDaily,
		TimeOfDay: domain.TimeOfDay{Hour: 9, Minute: 0},
	}

	// Evaluated at exactly 09:00 on day D, the next occurrence is
	// 09:00 on day D+1.
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	next, err := NextAfter(rec, now, time.UTC)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}

	want := time.Date(2024, 1, 16, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}
}

func TestNextAfter_DailyInLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	rec := domain.Recurrence{
		Kind:      domain.RecurrenceDaily,
		TimeOfDay: domain.TimeOfDay{Hour: 9, Minute: 0},
	}

	// 13:00 UTC in January is 08:00 in New York, so today's 09:00
	// local has not passed yet.
	now := time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC)
	next, err := NextAfter(rec, now, loc)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}

	want := time.Date(2024, 1, 15, 9, 0, 0, 0, loc).UTC()
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}
}

func TestNextAfter_WeeklyPicksNextConfiguredDay(t *testing.T) {
	rec := domain.Recurrence{
		Kind:      domain.RecurrenceWeekly,
		TimeOfDay: domain.TimeOfDay{Hour: 18, Minute: 0},
		Weekdays:  []time.Weekday{time.Monday, time.Friday},
	}

	// Monday 2024-01-15 at 19:00: Monday's instant has passed, so the
	// next occurrence is Friday.
	now := time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC)
	next, err := NextAfter(rec, now, time.UTC)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}

	want := time.Date(2024, 1, 19, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}
}

func TestNextAfter_WeeklyWrapsToNextWeek(t *testing.T) {
	rec := domain.Recurrence{
		Kind:      domain.RecurrenceWeekly,
		TimeOfDay: domain.TimeOfDay{Hour: 6, Minute: 0},
		Weekdays:  []time.Weekday{time.Monday},
	}

	// Monday 07:00: past today's instant, only Monday is configured,
	// so the scan wraps to the same weekday next week.
	now := time.Date(2024, 1, 15, 7, 0, 0, 0, time.UTC)
	next, err := NextAfter(rec, now, time.UTC)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}

	want := time.Date(2024, 1, 22, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}
	if next.Weekday() != time.Monday {
		t.Errorf("NextAfter() weekday = %v, want Monday", next.Weekday())
	}
}

func TestNextAfter_WeeklySameDayBeforeTime(t *testing.T) {
	rec := domain.Recurrence{
		Kind:      domain.RecurrenceWeekly,
		TimeOfDay: domain.TimeOfDay{Hour: 18, Minute: 0},
		Weekdays:  []time.Weekday{time.Monday},
	}

	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC) // Monday morning
	next, err := NextAfter(rec, now, time.UTC)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}

	want := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}
}

func TestNextAfter_Cron(t *testing.T) {
	rec := domain.Recurrence{Kind: domain.RecurrenceCron, Expression: "*/15 * * * *"}

	now := time.Date(2024, 1, 15, 10, 7, 0, 0, time.UTC)
	next, err := NextAfter(rec, now, time.UTC)
	if err != nil {
		t.Fatalf("NextAfter() error = %v", err)
	}

	want := time.Date(2024, 1, 15, 10, 15, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextAfter() = %v, want %v", next, want)
	}
}

func TestNextAfter_CronInvalidExpression(t *testing.T) {
	rec := domain.Recurrence{Kind: domain.RecurrenceCron, Expression: "not a cron"}
	if _, err := NextAfter(rec, time.Now(), time.UTC); err == nil {
		t.Error("NextAfter() should fail for an invalid expression")
	}
}

func TestNextAfter_UnknownKind(t *testing.T) {
	rec := domain.Recurrence{Kind: "hourly"}
	if _, err := NextAfter(rec, time.Now(), time.UTC); err == nil {
		t.Error("NextAfter() should fail for an unknown kind")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     domain.Recurrence
		wantErr bool
	}{
		{
			name: "valid once",
			rec:  domain.Recurrence{Kind: domain.RecurrenceOnce, At: time.Now().Add(time.Hour)},
		},
		{
			name:    "once without at",
			rec:     domain.Recurrence{Kind: domain.RecurrenceOnce},
			wantErr: true,
		},
		{
			name: "valid daily",
			rec:  domain.Recurrence{Kind: domain.RecurrenceDaily, TimeOfDay: domain.TimeOfDay{Hour: 9}},
		},
		{
			name: "valid weekly",
			rec: domain.Recurrence{
				Kind:     domain.RecurrenceWeekly,
				Weekdays: []time.Weekday{time.Monday, time.Friday},
			},
		},
		{
			name:    "weekly without weekdays",
			rec:     domain.Recurrence{Kind: domain.RecurrenceWeekly},
			wantErr: true,
		},
		{
			name: "weekly with duplicate weekday",
			rec: domain.Recurrence{
				Kind:     domain.RecurrenceWeekly,
				Weekdays: []time.Weekday{time.Monday, time.Monday},
			},
			wantErr: true,
		},
		{
			name: "valid cron",
			rec:  domain.Recurrence{Kind: domain.RecurrenceCron, Expression: "0 9 * * 1"},
		},
		{
			name:    "invalid cron",
			rec:     domain.Recurrence{Kind: domain.RecurrenceCron, Expression: "bad"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			rec:     domain.Recurrence{Kind: "hourly"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}

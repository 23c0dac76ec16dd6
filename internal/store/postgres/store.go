// Package postgres backs the trigger store and the event log with
// PostgreSQL, for deployments that already run one. Durability comes
// from the database; per-trigger write serialization from row locks.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/store"
)

// Store implements the trigger store and the event log sink over one
// *sql.DB. opTimeout bounds every statement.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

func New(db *sql.DB, opTimeout time.Duration) *Store {
	if opTimeout == 0 {
		opTimeout = 5 * time.Second
	}
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Create(ctx context.Context, t domain.Trigger) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	args, err := triggerArgs(t)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, queryInsertTrigger, args...); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", store.ErrDuplicateID, t.ID)
		}
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetTrigger, id)
	t, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trigger{}, fmt.Errorf("%w: %s", store.ErrTriggerNotFound, id)
	}
	return t, err
}

func (s *Store) Update(ctx context.Context, t domain.Trigger) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	args, err := triggerArgs(t)
	if err != nil {
		return err
	}
	// queryUpdateTrigger takes the insert args minus created_at.
	args = append(args[:14:14], args[15])
	res, err := s.db.ExecContext(ctx, queryUpdateTrigger, args...)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	return requireRow(res, t.ID)
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteTrigger, id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) List(ctx context.Context, enabledOnly bool) ([]domain.Trigger, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := queryListTriggers
	if enabledOnly {
		query = queryListEnabledTriggers
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var out []domain.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) MarkFired(ctx context.Context, id uuid.UUID, firedAt, next time.Time, spent bool) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryMarkFired, id, firedAt, nullTime(next), spent)
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	return requireRow(res, id)
}

// AppendStateChange implements the event log sink.
func (s *Store) AppendStateChange(ctx context.Context, ev domain.StateChange) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertStateChange,
		ev.ID, ev.Resource.String(), string(ev.From), string(ev.To), ev.Reason, ev.ObservedAt)
	if err != nil {
		return fmt.Errorf("insert state change: %w", err)
	}
	return nil
}

// AppendExecution implements the event log sink.
func (s *Store) AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	preStop, err := nullJSON(rec.PreStop)
	if err != nil {
		return err
	}
	postStart, err := nullJSON(rec.PostStart)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, queryInsertExecution,
		rec.ID, rec.TriggerID, rec.Resource.String(), string(rec.Action),
		rec.ScheduledAt, rec.FiredAt, string(rec.Outcome), rec.Error,
		preStop, postStart, rec.Duration.Milliseconds(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// ListExecutions returns recorded executions for a trigger, newest
// first.
func (s *Store) ListExecutions(ctx context.Context, triggerID uuid.UUID, limit, offset int) ([]domain.ExecutionRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListExecutions, triggerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec        domain.ExecutionRecord
			resource   string
			action     string
			outcome    string
			preStop    []byte
			postStart  []byte
			durationMs int64
		)
		err := rows.Scan(&rec.ID, &rec.TriggerID, &resource, &action,
			&rec.ScheduledAt, &rec.FiredAt, &outcome, &rec.Error,
			&preStop, &postStart, &durationMs)
		if err != nil {
			return nil, err
		}
		if rec.Resource, err = domain.ParseResourceID(resource); err != nil {
			return nil, err
		}
		rec.Action = domain.Action(action)
		rec.Outcome = domain.Outcome(outcome)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		if rec.PreStop, err = hookResultFromJSON(preStop); err != nil {
			return nil, err
		}
		if rec.PostStart, err = hookResultFromJSON(postStart); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row scanner) (domain.Trigger, error) {
	var (
		t           domain.Trigger
		recurrence  []byte
		postStart   []byte
		preStop     []byte
		lastFiredAt sql.NullTime
		nextFireAt  sql.NullTime
		action      string
		machine     string
		status      string
	)
	err := row.Scan(&t.ID, &t.Name,
		&t.Resource.Owner, &t.Resource.Teamspace, &t.Resource.Name,
		&action, &machine, &recurrence, &t.Enabled, &status,
		&postStart, &preStop, &lastFiredAt, &nextFireAt,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return domain.Trigger{}, err
	}

	t.Action = domain.Action(action)
	t.MachineType = domain.MachineType(machine)
	t.Status = domain.TriggerStatus(status)
	if err := json.Unmarshal(recurrence, &t.Recurrence); err != nil {
		return domain.Trigger{}, fmt.Errorf("decode recurrence: %w", err)
	}
	if t.PostStart, err = hookSpecFromJSON(postStart); err != nil {
		return domain.Trigger{}, err
	}
	if t.PreStop, err = hookSpecFromJSON(preStop); err != nil {
		return domain.Trigger{}, err
	}
	if lastFiredAt.Valid {
		fired := lastFiredAt.Time.UTC()
		t.LastFiredAt = &fired
	}
	if nextFireAt.Valid {
		t.NextFireAt = nextFireAt.Time.UTC()
	}
	return t, nil
}

func triggerArgs(t domain.Trigger) ([]any, error) {
	recurrence, err := json.Marshal(t.Recurrence)
	if err != nil {
		return nil, fmt.Errorf("encode recurrence: %w", err)
	}
	postStart, err := nullJSON(t.PostStart)
	if err != nil {
		return nil, err
	}
	preStop, err := nullJSON(t.PreStop)
	if err != nil {
		return nil, err
	}

	var lastFired any
	if t.LastFiredAt != nil {
		lastFired = *t.LastFiredAt
	}

	return []any{
		t.ID, t.Name,
		t.Resource.Owner, t.Resource.Teamspace, t.Resource.Name,
		string(t.Action), string(t.MachineType), recurrence,
		t.Enabled, string(t.Status), postStart, preStop,
		lastFired, nullTime(t.NextFireAt), t.CreatedAt, t.UpdatedAt,
	}, nil
}

func nullJSON(v any) (any, error) {
	switch x := v.(type) {
	case *domain.HookSpec:
		if x == nil {
			return nil, nil
		}
	case *domain.HookResult:
		if x == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return data, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func hookSpecFromJSON(data []byte) (*domain.HookSpec, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var spec domain.HookSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode hook spec: %w", err)
	}
	return &spec, nil
}

func hookResultFromJSON(data []byte) (*domain.HookResult, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var res domain.HookResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode hook result: %w", err)
	}
	return &res, nil
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, id)
	}
	return nil
}

// isDuplicateKeyError detects a Postgres unique_violation (23505)
// without depending on the driver's error type.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

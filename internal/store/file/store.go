// Package file is the default trigger store: one JSON document,
// replaced atomically on every write (write temp, fsync, rename).
// A failed write leaves the previous document intact.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Myster-Pmf/Lightning/internal/domain"
	"github.com/Myster-Pmf/Lightning/internal/store"
)

// document is the persisted layout. Version increments on every
// successful write so external tooling can detect replaced documents.
type document struct {
	Version  int64            `json:"version"`
	SavedAt  time.Time        `json:"saved_at"`
	Triggers []domain.Trigger `json:"triggers"`
}

// Store holds the full trigger set in memory and persists the whole
// document on every write. Reads never touch the disk. The single
// writer lock serializes all writes, which subsumes the per-trigger
// serialization requirement; reads proceed concurrently and observe
// either the pre- or post-write value, never a partial write.
type Store struct {
	mu       sync.RWMutex
	path     string
	version  int64
	triggers map[uuid.UUID]domain.Trigger
	closed   bool
}

// Open loads the trigger document at path, creating the parent
// directory if needed. A missing file is an empty store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		path:     path,
		triggers: make(map[uuid.UUID]domain.Trigger),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	s.version = doc.Version
	for _, t := range doc.Triggers {
		s.triggers[t.ID] = t
	}
	return s, nil
}

// Create inserts a new trigger. The id must not exist.
func (s *Store) Create(ctx context.Context, t domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.triggers[t.ID]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateID, t.ID)
	}
	s.triggers[t.ID] = t
	return s.persistLocked()
}

// Get returns a copy of the trigger.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (domain.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return domain.Trigger{}, store.ErrClosed
	}
	t, ok := s.triggers[id]
	if !ok {
		return domain.Trigger{}, fmt.Errorf("%w: %s", store.ErrTriggerNotFound, id)
	}
	return t, nil
}

// Update replaces an existing trigger.
func (s *Store) Update(ctx context.Context, t domain.Trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.triggers[t.ID]; !ok {
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, t.ID)
	}
	s.triggers[t.ID] = t
	return s.persistLocked()
}

// Delete removes a trigger. Deleting does not abort an in-flight
// execution; its record will reference an id that no longer resolves.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	if _, ok := s.triggers[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, id)
	}
	delete(s.triggers, id)
	return s.persistLocked()
}

// List returns copies of all triggers, enabled-only when requested.
func (s *Store) List(ctx context.Context, enabledOnly bool) ([]domain.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	out := make([]domain.Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		if enabledOnly && (!t.Enabled || t.Status == domain.TriggerStatusSpent) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// MarkFired records a firing: last_fired_at, the recomputed
// next_fire_at, and the spent transition for consumed once triggers.
func (s *Store) MarkFired(ctx context.Context, id uuid.UUID, firedAt, next time.Time, spent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	t, ok := s.triggers[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrTriggerNotFound, id)
	}

	fired := firedAt
	t.LastFiredAt = &fired
	t.NextFireAt = next
	t.UpdatedAt = firedAt
	if spent {
		t.Status = domain.TriggerStatusSpent
		t.NextFireAt = time.Time{}
	}
	s.triggers[id] = t
	return s.persistLocked()
}

// Close persists a final time and rejects further operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.persistLocked()
	s.closed = true
	return err
}

// persistLocked writes the whole document via temp file + rename.
// s.mu must be held for writing.
func (s *Store) persistLocked() error {
	s.version++

	doc := document{
		Version:  s.version,
		SavedAt:  time.Now().UTC(),
		Triggers: make([]domain.Trigger, 0, len(s.triggers)),
	}
	for _, t := range s.triggers {
		doc.Triggers = append(doc.Triggers, t)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		s.version--
		return fmt.Errorf("marshal triggers: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".triggers-*.tmp")
	if err != nil {
		s.version--
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.version--
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		s.version--
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		s.version--
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		s.version--
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// Event types in the JSONL log.
const (
	TypeStateChange = "state_change"
	TypeExecution   = "execution"
)

// envelope is one JSONL line.
type envelope struct {
	Type    string          `json:"type"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// FileSink appends events to a JSONL file, one line per event, synced
// before returning.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

func OpenFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) AppendStateChange(ctx context.Context, ev domain.StateChange) error {
	return s.append(TypeStateChange, ev)
}

func (s *FileSink) AppendExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	return s.append(TypeExecution, rec)
}

func (s *FileSink) append(typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	line, err := json.Marshal(envelope{Type: typ, At: time.Now().UTC(), Payload: data})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append %s: %w", typ, err)
	}
	return s.file.Sync()
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

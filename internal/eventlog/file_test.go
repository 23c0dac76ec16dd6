package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

func TestFileSink_AppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	s, err := OpenFileSink(path)
	if err != nil {
		t.Fatalf("OpenFileSink() error = %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	ev := stateChange(domain.StateRunning)
	if err := s.AppendStateChange(ctx, ev); err != nil {
		t.Fatalf("AppendStateChange() error = %v", err)
	}
	rec := execution(ev.ID)
	if err := s.AppendExecution(ctx, rec); err != nil {
		t.Fatalf("AppendExecution() error = %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var envelopes []envelope
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(envelopes)+1, err)
		}
		envelopes = append(envelopes, env)
	}

	if len(envelopes) != 2 {
		t.Fatalf("log has %d lines, want 2", len(envelopes))
	}
	if envelopes[0].Type != TypeStateChange || envelopes[1].Type != TypeExecution {
		t.Errorf("types = %s, %s", envelopes[0].Type, envelopes[1].Type)
	}

	var got domain.StateChange
	if err := json.Unmarshal(envelopes[0].Payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.ID != ev.ID || got.To != domain.StateRunning {
		t.Errorf("payload = %+v, want the appended event", got)
	}
}

func TestFileSink_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	ctx := context.Background()

	s, err := OpenFileSink(path)
	if err != nil {
		t.Fatalf("OpenFileSink() error = %v", err)
	}
	s.AppendStateChange(ctx, stateChange(domain.StateRunning))
	s.Close()

	s2, err := OpenFileSink(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s2.Close()
	s2.AppendStateChange(ctx, stateChange(domain.StateStopped))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("log has %d lines after reopen, want 2 (append, not truncate)", lines)
	}
}

func TestMultiSink_FansOutToAll(t *testing.T) {
	a := NewMemorySink(10)
	b := NewMemorySink(10)
	multi := MultiSink{a, b}

	ev := stateChange(domain.StateRunning)
	if err := multi.AppendStateChange(context.Background(), ev); err != nil {
		t.Fatalf("AppendStateChange() error = %v", err)
	}

	if len(a.RecentStateChanges(10)) != 1 || len(b.RecentStateChanges(10)) != 1 {
		t.Error("event should reach every sink")
	}
}

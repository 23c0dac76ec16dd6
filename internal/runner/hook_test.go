package runner

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("hook tests exec unix binaries")
	}
}

func TestShellRunner_Success(t *testing.T) {
	requireUnix(t)
	r := NewShellRunner(time.Minute, time.Second)

	res := r.Run(context.Background(), domain.HookSpec{Command: "echo hello world"})

	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello world" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello world")
	}
	if res.TimedOut || res.Error != "" {
		t.Errorf("unexpected failure: timed_out=%t error=%q", res.TimedOut, res.Error)
	}
	if !hookOK(&res) {
		t.Error("result should count as success")
	}
}

func TestShellRunner_QuotedArguments(t *testing.T) {
	requireUnix(t)
	r := NewShellRunner(time.Minute, time.Second)

	res := r.Run(context.Background(), domain.HookSpec{Command: `echo "one two" three`})

	if got := strings.TrimSpace(res.Stdout); got != "one two three" {
		t.Errorf("Stdout = %q, want %q", got, "one two three")
	}
}

func TestShellRunner_NonZeroExit(t *testing.T) {
	requireUnix(t)
	r := NewShellRunner(time.Minute, time.Second)

	res := r.Run(context.Background(), domain.HookSpec{Command: "sh -c 'exit 3'"})

	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if hookOK(&res) {
		t.Error("non-zero exit should not count as success")
	}
}

func TestShellRunner_Timeout(t *testing.T) {
	requireUnix(t)
	r := NewShellRunner(time.Minute, time.Second)

	start := time.Now()
	res := r.Run(context.Background(), domain.HookSpec{
		Command: "sleep 30",
		Timeout: 50 * time.Millisecond,
	})

	if !res.TimedOut {
		t.Error("TimedOut should be set")
	}
	if hookOK(&res) {
		t.Error("timed-out hook should not count as success")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("hook took %s, the runner must not wait out the sleep", elapsed)
	}
}

func TestShellRunner_TimeoutKeepsPartialOutput(t *testing.T) {
	requireUnix(t)
	r := NewShellRunner(time.Minute, time.Second)

	res := r.Run(context.Background(), domain.HookSpec{
		Command: "sh -c 'echo partial; sleep 30'",
		Timeout: 200 * time.Millisecond,
	})

	if !res.TimedOut {
		t.Fatal("TimedOut should be set")
	}
	if !strings.Contains(res.Stdout, "partial") {
		t.Errorf("Stdout = %q, want the output written before the kill", res.Stdout)
	}
}

func TestShellRunner_UnparseableCommand(t *testing.T) {
	r := NewShellRunner(time.Minute, time.Second)

	res := r.Run(context.Background(), domain.HookSpec{Command: `echo "unterminated`})

	if res.Error == "" {
		t.Error("Error should be set for an unparseable command")
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", res.ExitCode)
	}
}

func TestShellRunner_EmptyCommand(t *testing.T) {
	r := NewShellRunner(time.Minute, time.Second)

	res := r.Run(context.Background(), domain.HookSpec{Command: "   "})

	if res.Error == "" {
		t.Error("Error should be set for an empty command")
	}
	if hookOK(&res) {
		t.Error("empty command should not count as success")
	}
}

func TestShellRunner_MissingBinary(t *testing.T) {
	requireUnix(t)
	r := NewShellRunner(time.Minute, time.Second)

	res := r.Run(context.Background(), domain.HookSpec{Command: "definitely-not-a-binary-xyz"})

	if res.Error == "" {
		t.Error("Error should be set when the binary does not exist")
	}
}

func TestShellRunner_OutputCapped(t *testing.T) {
	requireUnix(t)
	r := NewShellRunner(time.Minute, time.Second)

	// ~1MB of output against a 64KB cap.
	res := r.Run(context.Background(), domain.HookSpec{
		Command: "sh -c 'yes x | head -c 1048576'",
	})

	if len(res.Stdout) > maxHookOutput {
		t.Errorf("Stdout length = %d, want at most %d", len(res.Stdout), maxHookOutput)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

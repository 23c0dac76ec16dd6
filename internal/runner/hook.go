package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/Myster-Pmf/Lightning/internal/domain"
)

// maxHookOutput caps captured stdout/stderr per stream.
const maxHookOutput = 64 << 10

// HookRunner executes a hook command and reports its result. The
// runner never blocks past the hook's timeout plus the kill grace.
type HookRunner interface {
	Run(ctx context.Context, spec domain.HookSpec) domain.HookResult
}

// ShellRunner runs hook commands as local processes. The command
// string is split shell-style; no shell is spawned, so the command
// names the binary directly.
type ShellRunner struct {
	defaultTimeout time.Duration
	killGrace      time.Duration
	clock          func() time.Time
}

func NewShellRunner(defaultTimeout, killGrace time.Duration) *ShellRunner {
	if defaultTimeout == 0 {
		defaultTimeout = 5 * time.Minute
	}
	if killGrace == 0 {
		killGrace = 5 * time.Second
	}
	return &ShellRunner{
		defaultTimeout: defaultTimeout,
		killGrace:      killGrace,
		clock:          time.Now,
	}
}

func (r *ShellRunner) Run(ctx context.Context, spec domain.HookSpec) domain.HookResult {
	res := domain.HookResult{
		Command:   spec.Command,
		StartedAt: r.clock().UTC(),
		ExitCode:  -1,
	}

	args, err := shellquote.Split(spec.Command)
	if err != nil {
		res.Error = "parse command: " + err.Error()
		res.FinishedAt = r.clock().UTC()
		return res
	}
	if len(args) == 0 {
		res.Error = "empty command"
		res.FinishedAt = r.clock().UTC()
		return res
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(hookCtx, args[0], args[1:]...)
	cmd.Stdout = &capWriter{buf: &stdout, max: maxHookOutput}
	cmd.Stderr = &capWriter{buf: &stderr, max: maxHookOutput}
	// Bounded grace between SIGKILL on context expiry and giving up
	// on process exit.
	cmd.WaitDelay = r.killGrace

	err = cmd.Run()
	res.FinishedAt = r.clock().UTC()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if hookCtx.Err() == context.DeadlineExceeded {
		// Killed on timeout; partial output above is kept.
		res.TimedOut = true
		res.Error = "hook timed out after " + timeout.String()
		return res
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.Error = err.Error()
		}
		return res
	}

	res.ExitCode = 0
	return res
}

// OK reports whether a hook result counts as success for outcome
// classification.
func hookOK(res *domain.HookResult) bool {
	return res != nil && !res.TimedOut && res.Error == "" && res.ExitCode == 0
}

// capWriter discards writes past max, keeping the head of the stream.
type capWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *capWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		w.buf.Write(p)
	}
	return n, nil
}

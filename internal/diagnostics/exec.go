package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowsim/flowsim/internal/core"
)

// CommandResult holds the captured outcome of an external command.
type CommandResult struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

// CommandRunner runs short-lived external commands for probes.
type CommandRunner interface {
	// LookPath resolves a binary name on PATH.
	LookPath(name string) (string, error)
	// Run executes name with args, bounded by timeout. A command that runs
	// but exits non-zero returns its result together with a
	// core.ErrProbeFailed error.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (CommandResult, error)
}

// ExecStats reports executor counters.
type ExecStats struct {
	CommandsRun    int64 `json:"commands_run"`
	CommandsActive int64 `json:"commands_active"`
	Timeouts       int64 `json:"timeouts"`
	Failures       int64 `json:"failures"`
}

// SafeExecutor runs probe commands with a hard deadline, combined output
// capture and counters.
type SafeExecutor struct {
	logger *slog.Logger

	commandsRun    atomic.Int64
	commandsActive atomic.Int64
	timeouts       atomic.Int64
	failures       atomic.Int64
}

// NewSafeExecutor creates a safe executor.
func NewSafeExecutor(logger *slog.Logger) *SafeExecutor {
	return &SafeExecutor{logger: logger}
}

// LookPath resolves a binary on PATH.
func (e *SafeExecutor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes a command. Missing binaries map to core.ErrProbeNotFound and
// an exceeded deadline maps to core.ErrProbeTimeout.
func (e *SafeExecutor) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	command := strings.TrimSpace(name + " " + strings.Join(args, " "))

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.commandsRun.Add(1)
	e.commandsActive.Add(1)
	defer e.commandsActive.Add(-1)

	var buf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	// Don't wait on orphaned grandchildren holding the pipes open.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	result := CommandResult{
		Output:   strings.TrimSpace(buf.String()),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err == nil {
		return result, nil
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		e.timeouts.Add(1)
		e.debug("probe command timed out", "command", command, "timeout", timeout)
		return result, core.ErrProbeTimeout(command, timeout).WithCause(err)
	case errors.Is(err, exec.ErrNotFound):
		e.failures.Add(1)
		return result, core.ErrProbeNotFound(name).WithCause(err)
	default:
		var pathErr *exec.Error
		if errors.As(err, &pathErr) {
			e.failures.Add(1)
			return result, core.ErrProbeNotFound(name).WithCause(err)
		}
		e.failures.Add(1)
		e.debug("probe command failed", "command", command, "exit_code", result.ExitCode)
		return result, core.ErrProbeFailed(command, result.Output).WithCause(err)
	}
}

// Stats returns a snapshot of the executor counters.
func (e *SafeExecutor) Stats() ExecStats {
	return ExecStats{
		CommandsRun:    e.commandsRun.Load(),
		CommandsActive: e.commandsActive.Load(),
		Timeouts:       e.timeouts.Load(),
		Failures:       e.failures.Load(),
	}
}

func (e *SafeExecutor) debug(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

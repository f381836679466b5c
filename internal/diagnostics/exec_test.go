package diagnostics

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/flowsim/flowsim/internal/core"
)

func TestSafeExecutor_RunSuccess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	e := NewSafeExecutor(nil)

	res, err := e.Run(context.Background(), 5*time.Second, "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Output != "hello" {
		t.Errorf("Output = %q, want hello", res.Output)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d", res.ExitCode)
	}

	stats := e.Stats()
	if stats.CommandsRun != 1 || stats.CommandsActive != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSafeExecutor_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	e := NewSafeExecutor(nil)

	res, err := e.Run(context.Background(), 5*time.Second, "sh", "-c", "echo denied >&2; exit 3")
	if !core.HasCode(err, core.CodeProbeFailed) {
		t.Fatalf("expected PROBE_FAILED, got %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Output != "denied" {
		t.Errorf("Output = %q, want captured stderr", res.Output)
	}
	if e.Stats().Failures != 1 {
		t.Errorf("Failures = %d", e.Stats().Failures)
	}
}

func TestSafeExecutor_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	e := NewSafeExecutor(nil)

	start := time.Now()
	_, err := e.Run(context.Background(), 100*time.Millisecond, "sleep", "5")
	if !core.HasCode(err, core.CodeProbeTimeout) {
		t.Fatalf("expected PROBE_TIMEOUT, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced: took %v", time.Since(start))
	}
	if e.Stats().Timeouts != 1 {
		t.Errorf("Timeouts = %d", e.Stats().Timeouts)
	}
}

func TestSafeExecutor_NotFound(t *testing.T) {
	e := NewSafeExecutor(nil)

	_, err := e.Run(context.Background(), time.Second, "flowsim-no-such-binary-xyz")
	if !core.HasCode(err, core.CodeProbeNotFound) {
		t.Fatalf("expected PROBE_NOT_FOUND, got %v", err)
	}
	if _, err := e.LookPath("flowsim-no-such-binary-xyz"); err == nil {
		t.Error("LookPath should fail for a missing binary")
	}
}

package diagnostics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/flowsim/flowsim/internal/core"
)

// fakeInspector serves scripted snapshots per pid.
type fakeInspector struct {
	mu      sync.Mutex
	alive   map[int32]bool
	snap    map[int32]ProcessSnapshot
	fail    map[int32]error
	panics  map[int32]bool
	calls   map[int32]int
	forgets map[int32]int
	status  map[int32]int

	// delay stalls every Inspect call.
	delay time.Duration
}

func newFakeInspector(pids ...int32) *fakeInspector {
	f := &fakeInspector{
		alive:   map[int32]bool{},
		snap:    map[int32]ProcessSnapshot{},
		fail:    map[int32]error{},
		panics:  map[int32]bool{},
		calls:   map[int32]int{},
		forgets: map[int32]int{},
		status:  map[int32]int{},
	}
	for _, pid := range pids {
		f.alive[pid] = true
		f.snap[pid] = ProcessSnapshot{Status: "running", CPUPercent: 10, RSSBytes: 64 * bytesPerMB, MemoryPercent: 5}
	}
	return f
}

func (f *fakeInspector) Exists(_ context.Context, pid int32) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid], nil
}

func (f *fakeInspector) Inspect(_ context.Context, pid int32) (ProcessSnapshot, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[pid]++
	if f.panics[pid] {
		panic("inspector exploded")
	}
	if !f.alive[pid] {
		return ProcessSnapshot{}, ErrProcessGone
	}
	if err := f.fail[pid]; err != nil {
		return ProcessSnapshot{}, err
	}
	return f.snap[pid], nil
}

func (f *fakeInspector) Status(_ context.Context, pid int32) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[pid]++
	if !f.alive[pid] {
		return "", ErrProcessGone
	}
	return f.snap[pid].Status, nil
}

func (f *fakeInspector) Forget(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgets[pid]++
}

func (f *fakeInspector) set(pid int32, fn func(*ProcessSnapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.snap[pid]
	fn(&s)
	f.snap[pid] = s
}

func (f *fakeInspector) kill(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = false
}

func (f *fakeInspector) revive(pid int32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive[pid] = true
}

func (f *fakeInspector) callCount(pid int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pid]
}

func (f *fakeInspector) forgetCount(pid int32) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forgets[pid]
}

type fakeResult struct {
	out   string
	err   error
	sleep time.Duration
}

// fakeRunner answers commands keyed by "name arg1 arg2".
type fakeRunner struct {
	mu      sync.Mutex
	paths   map[string]string
	results map[string]fakeResult
	calls   map[string]int
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.paths[name]; ok {
		return p, nil
	}
	if strings.HasPrefix(name, "/") {
		for _, p := range f.paths {
			if p == name {
				return p, nil
			}
		}
	}
	return "", errors.New("executable file not found in $PATH")
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[key]++
	res, ok := f.results[key]
	f.mu.Unlock()

	if !ok {
		return CommandResult{}, core.ErrProbeNotFound(name)
	}
	if res.sleep > 0 {
		select {
		case <-time.After(res.sleep):
		case <-time.After(timeout):
			return CommandResult{}, core.ErrProbeTimeout(key, timeout)
		case <-ctx.Done():
			return CommandResult{}, core.ErrProbeTimeout(key, timeout)
		}
	}
	if res.err != nil {
		return CommandResult{Output: res.out, ExitCode: 1}, res.err
	}
	return CommandResult{Output: res.out}, nil
}

func (f *fakeRunner) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// fakeSystem returns scripted host metrics in order, repeating the last one.
type fakeSystem struct {
	mu      sync.Mutex
	metrics []SystemMetrics
	i       int
}

func (f *fakeSystem) Collect(context.Context) SystemMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.metrics[f.i]
	if f.i < len(f.metrics)-1 {
		f.i++
	}
	m.Timestamp = time.Now()
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// samplesAt builds a synthetic history with fixed spacing.
func samplesAt(start time.Time, step time.Duration, cpu ...float64) []MetricSample {
	out := make([]MetricSample, len(cpu))
	for i, c := range cpu {
		out[i] = MetricSample{
			Timestamp:  start.Add(time.Duration(i) * step),
			PID:        1,
			Status:     "running",
			CPUPercent: c,
		}
	}
	return out
}

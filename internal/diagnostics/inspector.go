package diagnostics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// ErrProcessGone is returned by a ProcessInspector when the pid no longer exists.
var ErrProcessGone = errors.New("process no longer exists")

// ProcessSnapshot is the raw per-process data returned by an inspector.
type ProcessSnapshot struct {
	Status        string
	CPUPercent    float64
	RSSBytes      uint64
	VMSBytes      uint64
	MemoryPercent float64
	NumThreads    int32
	ReadBytes     uint64
	WriteBytes    uint64
}

// ProcessInspector reads process information from the operating system.
type ProcessInspector interface {
	// Exists reports whether a process with pid exists.
	Exists(ctx context.Context, pid int32) (bool, error)
	// Inspect samples one process. It returns ErrProcessGone when the
	// process exited, including zombies.
	Inspect(ctx context.Context, pid int32) (ProcessSnapshot, error)
	// Status reads the scheduler status of pid without touching the state
	// Inspect keeps between calls. It returns ErrProcessGone like Inspect.
	Status(ctx context.Context, pid int32) (string, error)
	// Forget drops any cached per-pid state.
	Forget(pid int32)
}

// NetCounter reads host-wide network byte counters.
type NetCounter interface {
	Counters(ctx context.Context) (sent, recv uint64, err error)
}

// gopsutilInspector caches one *process.Process per pid so that CPU percent
// is computed as a delta between consecutive calls.
type gopsutilInspector struct {
	mu    sync.Mutex
	procs map[int32]*cachedProcess
}

// cachedProcess serializes use of one handle; gopsutil keeps the CPU
// baseline on the handle without locking.
type cachedProcess struct {
	mu sync.Mutex
	p  *process.Process
}

// NewProcessInspector returns the gopsutil-backed inspector.
func NewProcessInspector() ProcessInspector {
	return &gopsutilInspector{procs: make(map[int32]*cachedProcess)}
}

func (g *gopsutilInspector) Exists(ctx context.Context, pid int32) (bool, error) {
	return process.PidExistsWithContext(ctx, pid)
}

func (g *gopsutilInspector) handle(ctx context.Context, pid int32) (*cachedProcess, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cp, ok := g.procs[pid]; ok {
		return cp, nil
	}
	p, err := newProcess(ctx, pid)
	if err != nil {
		return nil, err
	}
	// Prime the CPU counter; the first Percent(0) call has no baseline.
	_, _ = p.PercentWithContext(ctx, 0)
	cp := &cachedProcess{p: p}
	g.procs[pid] = cp
	return cp, nil
}

func newProcess(ctx context.Context, pid int32) (*process.Process, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, ErrProcessGone
		}
		return nil, err
	}
	return p, nil
}

func (g *gopsutilInspector) Inspect(ctx context.Context, pid int32) (ProcessSnapshot, error) {
	cp, err := g.handle(ctx, pid)
	if err != nil {
		return ProcessSnapshot{}, err
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	p := cp.p

	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return ProcessSnapshot{}, ErrProcessGone
	}

	var snap ProcessSnapshot
	if statuses, err := p.StatusWithContext(ctx); err == nil && len(statuses) > 0 {
		snap.Status = statuses[0]
	}
	if snap.Status == process.Zombie {
		return ProcessSnapshot{}, ErrProcessGone
	}

	cpuPercent, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		return ProcessSnapshot{}, err
	}
	snap.CPUPercent = cpuPercent

	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		snap.RSSBytes = mi.RSS
		snap.VMSBytes = mi.VMS
	}
	if mp, err := p.MemoryPercentWithContext(ctx); err == nil {
		snap.MemoryPercent = float64(mp)
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		snap.NumThreads = n
	}
	// IO counters need elevated privileges on some platforms.
	if io, err := p.IOCountersWithContext(ctx); err == nil && io != nil {
		snap.ReadBytes = io.ReadBytes
		snap.WriteBytes = io.WriteBytes
	}
	return snap, nil
}

// Status uses a fresh handle so the cached CPU baseline is left alone.
func (g *gopsutilInspector) Status(ctx context.Context, pid int32) (string, error) {
	p, err := newProcess(ctx, pid)
	if err != nil {
		return "", err
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return "", ErrProcessGone
	}

	var status string
	if statuses, err := p.StatusWithContext(ctx); err == nil && len(statuses) > 0 {
		status = statuses[0]
	}
	if status == process.Zombie {
		return "", ErrProcessGone
	}
	return status, nil
}

func (g *gopsutilInspector) Forget(pid int32) {
	g.mu.Lock()
	delete(g.procs, pid)
	g.mu.Unlock()
}

type gopsutilNet struct{}

// NewNetCounter returns the gopsutil-backed host network counter.
func NewNetCounter() NetCounter { return gopsutilNet{} }

func (gopsutilNet) Counters(ctx context.Context) (uint64, uint64, error) {
	stats, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return 0, 0, err
	}
	if len(stats) == 0 {
		return 0, 0, nil
	}
	return stats[0].BytesSent, stats[0].BytesRecv, nil
}

// inspectTimeout bounds a single pid inspection inside the sampling loop.
const inspectTimeout = 2 * time.Second

package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flowsim/flowsim/internal/core"
)

// SamplerOptions configures a MetricsSampler. Zero values take defaults.
type SamplerOptions struct {
	Interval    time.Duration // default 1s
	HistorySize int           // per-process ring capacity, default 100
	StopTimeout time.Duration // join timeout for StopMonitoring, default 2s
	HangSamples int           // consecutive idle samples that make a hang, default 5

	Inspector  ProcessInspector     // default gopsutil
	Net        NetCounter           // default gopsutil; nil-able via DisableNet
	DisableNet bool                 // skip host network counters
	Containers ContainerStatsSource // optional

	// OpsCounter reports the running container-operation count stamped on
	// each sample.
	OpsCounter func() int64
	// OnSample is called for every recorded sample, outside the sampler lock.
	OnSample func(MetricSample)

	Logger *slog.Logger
}

func (o *SamplerOptions) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 100
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 2 * time.Second
	}
	if o.HangSamples < 2 {
		o.HangSamples = 5
	}
	if o.Inspector == nil {
		o.Inspector = NewProcessInspector()
	}
	if o.Net == nil && !o.DisableNet {
		o.Net = NewNetCounter()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// MetricsSampler tracks a set of process ids and samples them on a single
// background goroutine. The goroutine starts with the first tracked pid and
// exits once no pid is left.
type MetricsSampler struct {
	opts   SamplerOptions
	logger *slog.Logger

	mu      sync.Mutex
	records map[int32]*processRecord
	active  map[int32]bool
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewMetricsSampler creates a sampler.
func NewMetricsSampler(opts SamplerOptions) *MetricsSampler {
	opts.applyDefaults()
	return &MetricsSampler{
		opts:    opts,
		logger:  opts.Logger.With("component", "sampler"),
		records: make(map[int32]*processRecord),
		active:  make(map[int32]bool),
	}
}

// StartMonitoring begins tracking pid. It fails with core.ErrProcessLookup
// when no such process exists. Adding a pid that is already tracked is a
// no-op and never starts a second loop.
func (s *MetricsSampler) StartMonitoring(pid int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), inspectTimeout)
	exists, err := s.opts.Inspector.Exists(ctx, pid)
	cancel()
	if err != nil || !exists {
		lookupErr := core.ErrProcessLookup(pid)
		if err != nil {
			lookupErr = lookupErr.WithCause(err)
		}
		s.logger.Error("cannot monitor process", "pid", pid, "error", lookupErr)
		return lookupErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active[pid] {
		s.records[pid] = newProcessRecord(pid, s.opts.HistorySize, time.Now())
		s.active[pid] = true
		s.logger.Info("monitoring process", "pid", pid)
	}

	if !s.running {
		loopCtx, loopCancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		s.cancel = loopCancel
		s.done = done
		s.running = true
		go s.loop(loopCtx, done)
	}
	return nil
}

// StopMonitoring stops tracking the given pids, or every pid when called
// without arguments. When nothing is left to track, the sampling goroutine
// is cancelled and joined for at most the stop timeout. Sampled history
// stays readable after stopping.
func (s *MetricsSampler) StopMonitoring(pids ...int32) {
	s.mu.Lock()
	if len(pids) == 0 {
		for pid := range s.active {
			s.opts.Inspector.Forget(pid)
		}
		clear(s.active)
	} else {
		for _, pid := range pids {
			if s.active[pid] {
				delete(s.active, pid)
				s.opts.Inspector.Forget(pid)
			}
		}
	}

	var done chan struct{}
	if len(s.active) == 0 && s.running {
		s.cancel()
		done = s.done
		s.running = false
		s.cancel = nil
		s.done = nil
	}
	s.mu.Unlock()

	if done == nil {
		return
	}

	timer := time.NewTimer(s.opts.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Debug("sampling loop stopped")
	case <-timer.C:
		s.logger.Warn("sampling loop did not stop in time", "timeout", s.opts.StopTimeout)
	}
}

// IsRunning reports whether the sampling goroutine is active.
func (s *MetricsSampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Len returns the number of tracked pids.
func (s *MetricsSampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// TrackedPIDs returns the tracked pids in ascending order.
func (s *MetricsSampler) TrackedPIDs() []int32 {
	s.mu.Lock()
	pids := make([]int32, 0, len(s.active))
	for pid := range s.active {
		pids = append(pids, pid)
	}
	s.mu.Unlock()

	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// History returns a copy of the samples recorded for pid, oldest first.
func (s *MetricsSampler) History(pid int32) []MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[pid]
	if !ok {
		return []MetricSample{}
	}
	return rec.history.Items()
}

// Latest returns the newest sample across all pids.
func (s *MetricsSampler) Latest() (MetricSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest MetricSample
	found := false
	for _, rec := range s.records {
		if smp, ok := rec.history.Latest(); ok && (!found || smp.Timestamp.After(latest.Timestamp)) {
			latest, found = smp, true
		}
	}
	return latest, found
}

// GetProcessStatus classifies pid as running, terminated (known to the
// sampler but gone) or not_found. It reads the live status without
// sampling, so the loop's CPU baselines stay untouched.
func (s *MetricsSampler) GetProcessStatus(pid int32) ProcessStatus {
	s.mu.Lock()
	status := ProcessStatus{PID: pid, Tracked: s.active[pid]}
	rec, known := s.records[pid]
	if known {
		status.SampleCount = rec.history.Len()
		if latest, ok := rec.history.Latest(); ok {
			status.Latest = &latest
		}
		status.Status = rec.lastStatus
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), inspectTimeout)
	defer cancel()

	gone := func() ProcessStatus {
		if known {
			status.State = ProcessTerminated
		} else {
			status.State = ProcessNotFound
		}
		return status
	}

	exists, err := s.opts.Inspector.Exists(ctx, pid)
	if err != nil || !exists {
		return gone()
	}

	procStatus, err := s.opts.Inspector.Status(ctx, pid)
	if errors.Is(err, ErrProcessGone) {
		return gone()
	}
	status.State = ProcessRunning
	if err == nil {
		status.Status = procStatus
	}
	return status
}

// DetectHangingProcesses flags tracked pids whose most recent samples all
// show zero CPU with an unchanged status.
func (s *MetricsSampler) DetectHangingProcesses() []ProcessHang {
	s.mu.Lock()
	defer s.mu.Unlock()

	hangs := []ProcessHang{}
	for pid := range s.active {
		rec := s.records[pid]
		if rec.history.Len() < s.opts.HangSamples {
			continue
		}
		recent := rec.history.Last(s.opts.HangSamples)
		if hang, ok := idleRun(pid, recent); ok {
			hangs = append(hangs, hang)
		}
	}
	sort.Slice(hangs, func(i, j int) bool { return hangs[i].PID < hangs[j].PID })
	return hangs
}

func idleRun(pid int32, recent []MetricSample) (ProcessHang, bool) {
	first := recent[0]
	for _, smp := range recent {
		if smp.CPUPercent != 0 || smp.Status != first.Status {
			return ProcessHang{}, false
		}
	}
	last := recent[len(recent)-1]
	return ProcessHang{
		PID:       pid,
		Reason:    HangReasonNoCPU,
		Status:    first.Status,
		Duration:  last.Timestamp.Sub(first.Timestamp),
		Samples:   len(recent),
		FirstSeen: first.Timestamp,
		LastSeen:  last.Timestamp,
	}, true
}

func (s *MetricsSampler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	if !s.sampleOnce(ctx, done) {
		return
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.sampleOnce(ctx, done) {
				return
			}
		}
	}
}

type pidResult struct {
	pid    int32
	sample MetricSample
	gone   bool
	err    error
}

// sampleOnce samples every tracked pid. It returns false when the loop
// should exit because nothing is tracked anymore.
func (s *MetricsSampler) sampleOnce(ctx context.Context, done chan struct{}) bool {
	s.mu.Lock()
	pids := make([]int32, 0, len(s.active))
	for pid := range s.active {
		pids = append(pids, pid)
	}
	s.mu.Unlock()

	shared := s.sharedFields(ctx)

	results := make([]pidResult, 0, len(pids))
	for _, pid := range pids {
		if ctx.Err() != nil {
			return false
		}
		results = append(results, s.sampleProcess(ctx, pid, shared))
	}

	recorded := make([]MetricSample, 0, len(results))

	s.mu.Lock()
	for _, res := range results {
		if !s.active[res.pid] {
			continue
		}
		rec := s.records[res.pid]
		switch {
		case res.gone:
			delete(s.active, res.pid)
			s.opts.Inspector.Forget(res.pid)
			rec.lastStatus = string(ProcessTerminated)
			s.logger.Info("monitored process exited", "pid", res.pid, "samples", rec.history.Len())
		case res.err != nil:
			rec.lastErr = res.err
			s.logger.Warn("skipping sample", "pid", res.pid, "error", core.ErrTransientSample(res.pid, res.err))
		default:
			rec.history.Push(res.sample)
			rec.lastStatus = res.sample.Status
			rec.lastErr = nil
			recorded = append(recorded, res.sample)
		}
	}

	keepGoing := len(s.active) > 0
	if !keepGoing && s.done == done {
		s.running = false
		s.cancel = nil
		s.done = nil
	}
	s.mu.Unlock()

	if s.opts.OnSample != nil {
		for _, smp := range recorded {
			s.opts.OnSample(smp)
		}
	}
	return keepGoing
}

// sharedFields collects the host-wide fields stamped on every sample of one
// iteration.
func (s *MetricsSampler) sharedFields(ctx context.Context) MetricSample {
	var shared MetricSample
	if s.opts.Net != nil {
		if sent, recv, err := s.opts.Net.Counters(ctx); err == nil {
			shared.NetSentBytes, shared.NetRecvBytes = sent, recv
		}
	}
	if s.opts.Containers != nil {
		if cs, err := s.opts.Containers.ContainerStats(ctx); err == nil {
			shared.ActiveContainers = cs.ActiveContainers
			shared.DockerCPUPercent = cs.CPUPercent
			shared.DockerMemoryMB = cs.MemoryMB
		}
	}
	if s.opts.OpsCounter != nil {
		shared.DockerOperationsCount = s.opts.OpsCounter()
	}
	return shared
}

func (s *MetricsSampler) sampleProcess(ctx context.Context, pid int32, shared MetricSample) (res pidResult) {
	res.pid = pid
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic while sampling: %v", r)
		}
	}()

	ictx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	snap, err := s.opts.Inspector.Inspect(ictx, pid)
	if errors.Is(err, ErrProcessGone) {
		res.gone = true
		return res
	}
	if err != nil {
		res.err = err
		return res
	}

	smp := shared
	smp.Timestamp = time.Now()
	smp.PID = pid
	smp.Status = snap.Status
	smp.CPUPercent = snap.CPUPercent
	smp.MemoryRSSMB = bytesToMB(snap.RSSBytes)
	smp.MemoryVMSMB = bytesToMB(snap.VMSBytes)
	smp.MemoryPercent = snap.MemoryPercent
	smp.NumThreads = snap.NumThreads
	smp.DiskReadMB = bytesToMB(snap.ReadBytes)
	smp.DiskWriteMB = bytesToMB(snap.WriteBytes)
	res.sample = smp
	return res
}

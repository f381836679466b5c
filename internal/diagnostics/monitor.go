package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowsim/flowsim/internal/events"
)

// MonitorOptions configures a PerformanceMonitor. Zero values take defaults.
type MonitorOptions struct {
	Sampler    SamplerOptions
	Thresholds Thresholds

	// AnalysisHistory bounds the cross-process sample history used for
	// analysis and reports. Default 1000.
	AnalysisHistory int
	// MaxOperations bounds the container operation log. Default 10000.
	MaxOperations  int
	TraceMaxEvents int

	// System collects the host summary for reports. Default gopsutil.
	System SystemSampler
	// Events receives stage, issue and container operation events. Optional.
	Events *events.EventBus
	Logger *slog.Logger
}

// PerformanceIssue is a condition detected on live data.
type PerformanceIssue struct {
	Type      string    `json:"type" yaml:"type"`
	Severity  Severity  `json:"severity" yaml:"severity"`
	Message   string    `json:"message" yaml:"message"`
	Value     float64   `json:"value" yaml:"value"`
	Threshold float64   `json:"threshold" yaml:"threshold"`
	Stage     string    `json:"stage,omitempty" yaml:"stage,omitempty"`
	PID       int32     `json:"pid,omitempty" yaml:"pid,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// MonitoringStatus describes the monitor itself.
type MonitoringStatus struct {
	Active           bool      `json:"active" yaml:"active"`
	TrackedPIDs      []int32   `json:"tracked_pids" yaml:"tracked_pids"`
	SampleCount      int       `json:"sample_count" yaml:"sample_count"`
	DockerOperations int64     `json:"docker_operations" yaml:"docker_operations"`
	CurrentStage     string    `json:"current_stage,omitempty" yaml:"current_stage,omitempty"`
	StartedAt        time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	UptimeSeconds    float64   `json:"uptime_seconds" yaml:"uptime_seconds"`
}

// RealTimeMetrics is the live view served to callers.
type RealTimeMetrics struct {
	Current          *MetricSample    `json:"current" yaml:"current"`
	Trends           []MetricTrend    `json:"trends" yaml:"trends"`
	MonitoringStatus MonitoringStatus `json:"monitoring_status" yaml:"monitoring_status"`
}

// PerformanceMonitor ties together the sampler, stage tracker, tracer and
// analyzer for one monitored run.
type PerformanceMonitor struct {
	sampler  *MetricsSampler
	stages   *StageTracker
	tracer   *ExecutionTracer
	analyzer *Analyzer
	system   SystemSampler
	events   *events.EventBus
	logger   *slog.Logger

	mu           sync.Mutex
	samples      *Ring[MetricSample]
	ops          *Ring[DockerOperation]
	startedAt    time.Time
	stoppedAt    time.Time
	activeIssues map[string]bool

	opsCount atomic.Int64
	now      func() time.Time
}

// NewPerformanceMonitor creates a monitor. Sampling starts with the first
// StartMonitoring call.
func NewPerformanceMonitor(opts MonitorOptions) *PerformanceMonitor {
	if opts.AnalysisHistory <= 0 {
		opts.AnalysisHistory = 1000
	}
	if opts.MaxOperations <= 0 {
		opts.MaxOperations = 10000
	}
	if opts.System == nil {
		opts.System = NewSystemMetricsCollector()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	m := &PerformanceMonitor{
		stages:   NewStageTracker(),
		tracer:   NewExecutionTracer(opts.TraceMaxEvents),
		analyzer: NewAnalyzer(opts.Thresholds),
		system:   opts.System,
		events:   opts.Events,
		logger:   opts.Logger.With("component", "monitor"),
		samples:  NewRing[MetricSample](opts.AnalysisHistory),
		ops:      NewRing[DockerOperation](opts.MaxOperations),
		now:      time.Now,
	}

	sopts := opts.Sampler
	if sopts.Logger == nil {
		sopts.Logger = opts.Logger
	}
	userHook := sopts.OnSample
	sopts.OnSample = func(s MetricSample) {
		m.observe(s)
		if userHook != nil {
			userHook(s)
		}
	}
	sopts.OpsCounter = m.opsCount.Load
	m.sampler = NewMetricsSampler(sopts)
	return m
}

func (m *PerformanceMonitor) observe(s MetricSample) {
	m.mu.Lock()
	m.samples.Push(s)
	m.mu.Unlock()

	m.stages.Observe(s)
	m.tracer.RecordEvent(WithSource(context.Background(), "sampler"), "sample", map[string]any{
		"pid":         s.PID,
		"cpu_percent": s.CPUPercent,
		"rss_mb":      s.MemoryRSSMB,
	})

	if m.events != nil {
		m.publishIssueChanges()
	}
}

func (m *PerformanceMonitor) publish(ev events.Event) {
	if m.events != nil {
		m.events.Publish(ev)
	}
}

// publishIssueChanges emits an event when an issue type appears or clears.
func (m *PerformanceMonitor) publishIssueChanges() {
	issues := m.DetectPerformanceIssues()
	current := make(map[string]bool, len(issues))
	var detected []PerformanceIssue
	var resolved []string

	m.mu.Lock()
	for _, is := range issues {
		current[is.Type] = true
		if !m.activeIssues[is.Type] {
			detected = append(detected, is)
		}
	}
	for typ := range m.activeIssues {
		if !current[typ] {
			resolved = append(resolved, typ)
		}
	}
	m.activeIssues = current
	m.mu.Unlock()

	for _, is := range detected {
		m.publish(events.NewIssueDetectedEvent(is.Type, string(is.Severity), is.Message,
			is.Value, is.Threshold, is.Stage, is.PID))
	}
	for _, typ := range resolved {
		m.publish(events.NewIssueResolvedEvent(typ))
	}
}

// StartMonitoring begins sampling pid. The first call of a run starts the
// trace and the run clock.
func (m *PerformanceMonitor) StartMonitoring(pid int32) error {
	if err := m.sampler.StartMonitoring(pid); err != nil {
		return err
	}

	m.mu.Lock()
	first := m.startedAt.IsZero()
	if first {
		m.startedAt = m.now()
	}
	m.stoppedAt = time.Time{}
	m.mu.Unlock()

	if first {
		m.tracer.StartTrace()
	} else {
		m.tracer.ResumeTrace()
	}
	m.tracer.RecordEvent(context.Background(), "monitoring_started", map[string]any{"pid": pid})
	m.publish(events.NewMonitoringStartedEvent(pid))
	return nil
}

// StopMonitoring stops sampling the given pids, or all of them. Collected
// data stays available for analysis and reports.
func (m *PerformanceMonitor) StopMonitoring(pids ...int32) {
	m.sampler.StopMonitoring(pids...)
	if m.sampler.IsRunning() {
		return
	}

	m.mu.Lock()
	stopped := !m.startedAt.IsZero() && m.stoppedAt.IsZero()
	if stopped {
		m.stoppedAt = m.now()
	}
	count := m.samples.Len()
	m.mu.Unlock()
	m.tracer.RecordEvent(context.Background(), "monitoring_stopped", nil)
	m.tracer.StopTrace()
	if stopped && m.events != nil {
		m.events.PublishPriority(events.NewMonitoringStoppedEvent(count, m.Status().UptimeSeconds))
	}
}

// StartStage opens a named stage, closing the open one first.
func (m *PerformanceMonitor) StartStage(name string) {
	prev, closed := m.stages.StartStage(name)
	if closed {
		m.logStageEnd(prev)
	}
	m.tracer.RecordEvent(context.Background(), "stage_start", map[string]any{"stage": name})
	m.publish(events.NewStageStartedEvent(name))
	m.logger.Debug("stage started", "stage", name)
}

// EndStage closes the open stage.
func (m *PerformanceMonitor) EndStage() (ExecutionStage, bool) {
	st, ok := m.stages.EndStage()
	if ok {
		m.logStageEnd(st)
	}
	return st, ok
}

func (m *PerformanceMonitor) logStageEnd(st ExecutionStage) {
	m.tracer.RecordEvent(context.Background(), "stage_end", map[string]any{
		"stage":       st.Name,
		"duration_ms": *st.DurationMS,
	})
	m.publish(events.NewStageCompletedEvent(st.Name, *st.DurationMS, st.PeakCPU, st.PeakMemoryMB, st.DockerOperations))
	m.logger.Debug("stage finished",
		"stage", st.Name,
		"duration_ms", *st.DurationMS,
		"peak_cpu", st.PeakCPU,
		"docker_operations", st.DockerOperations,
	)
}

// RecordDockerOperation counts one container-engine operation against the
// run and the open stage.
func (m *PerformanceMonitor) RecordDockerOperation(kind, ref string) {
	total := m.opsCount.Add(1)
	stage := m.stages.AddDockerOperation()

	op := DockerOperation{Timestamp: m.now(), Kind: kind, Ref: ref, Stage: stage}
	m.mu.Lock()
	m.ops.Push(op)
	m.mu.Unlock()

	m.tracer.RecordEvent(context.Background(), "docker_operation", map[string]any{
		"kind":  kind,
		"ref":   ref,
		"stage": stage,
	})
	m.publish(events.NewDockerOperationEvent(kind, ref, stage, total))
}

// DockerOperationCount returns the total number of recorded operations.
func (m *PerformanceMonitor) DockerOperationCount() int64 {
	return m.opsCount.Load()
}

// DetectPerformanceIssues checks the latest sample and the open stage.
func (m *PerformanceMonitor) DetectPerformanceIssues() []PerformanceIssue {
	th := m.analyzer.Thresholds()
	now := m.now()
	issues := []PerformanceIssue{}

	if latest, ok := m.latestSample(); ok && latest.CPUPercent > th.CPUHigh {
		severity := SeverityMedium
		if latest.CPUPercent >= th.CPUHigh+(100-th.CPUHigh)/2 {
			severity = SeverityHigh
		}
		issues = append(issues, PerformanceIssue{
			Type:      IssueHighCPU,
			Severity:  severity,
			Message:   fmt.Sprintf("CPU usage %.1f%% exceeds %.0f%%", latest.CPUPercent, th.CPUHigh),
			Value:     latest.CPUPercent,
			Threshold: th.CPUHigh,
			PID:       latest.PID,
			Timestamp: latest.Timestamp,
		})
	}

	if cur, ok := m.stages.Current(); ok {
		if elapsed := cur.Duration(now); elapsed > th.StageSlow {
			issues = append(issues, PerformanceIssue{
				Type:      IssueLongRunningStage,
				Severity:  SeverityMedium,
				Message:   fmt.Sprintf("stage %q running for %s (threshold %s)", cur.Name, elapsed.Round(time.Second), th.StageSlow),
				Value:     elapsed.Seconds(),
				Threshold: th.StageSlow.Seconds(),
				Stage:     cur.Name,
				Timestamp: now,
			})
		}
	}
	return issues
}

// GetRealTimeMetrics returns the latest sample, trends for its process and
// the monitoring status.
func (m *PerformanceMonitor) GetRealTimeMetrics() RealTimeMetrics {
	rt := RealTimeMetrics{Trends: []MetricTrend{}}
	if latest, ok := m.latestSample(); ok {
		rt.Current = &latest
		rt.Trends = ComputeTrends(m.sampler.History(latest.PID))
	}
	rt.MonitoringStatus = m.Status()
	return rt
}

// Status describes the monitor.
func (m *PerformanceMonitor) Status() MonitoringStatus {
	m.mu.Lock()
	started, stopped := m.startedAt, m.stoppedAt
	count := m.samples.Len()
	m.mu.Unlock()

	st := MonitoringStatus{
		Active:           m.sampler.IsRunning(),
		TrackedPIDs:      m.sampler.TrackedPIDs(),
		SampleCount:      count,
		DockerOperations: m.opsCount.Load(),
		StartedAt:        started,
	}
	if cur, ok := m.stages.Current(); ok {
		st.CurrentStage = cur.Name
	}
	if !started.IsZero() {
		end := stopped
		if end.IsZero() {
			end = m.now()
		}
		st.UptimeSeconds = round2(end.Sub(started).Seconds())
	}
	return st
}

// AnalyzeBottlenecks runs the bottleneck rules over the collected history
// and closed stages.
func (m *PerformanceMonitor) AnalyzeBottlenecks() []BottleneckFinding {
	return m.analyzer.AnalyzeBottlenecks(m.Samples(), m.stages.Closed())
}

// IdentifyOptimizationOpportunities runs the optimization rules.
func (m *PerformanceMonitor) IdentifyOptimizationOpportunities() []OptimizationOpportunity {
	return m.analyzer.IdentifyOptimizationOpportunities(m.Samples(), m.stages.Closed(), m.DockerOperations())
}

// GeneratePerformanceReport analyzes everything collected so far.
func (m *PerformanceMonitor) GeneratePerformanceReport(ctx context.Context) *PerformanceReport {
	samples := m.Samples()
	closed := m.stages.Closed()
	ops := m.DockerOperations()

	m.mu.Lock()
	started, stopped := m.startedAt, m.stoppedAt
	m.mu.Unlock()
	end := stopped
	if end.IsZero() {
		end = m.now()
	}

	var trends []MetricTrend
	if latest, ok := m.latestSample(); ok {
		trends = ComputeTrends(m.sampler.History(latest.PID))
	}

	report := BuildReport(ReportInput{
		GeneratedAt:   end,
		StartedAt:     started,
		Samples:       samples,
		Stages:        m.stages.All(),
		Operations:    ops,
		TotalOps:      m.opsCount.Load(),
		TrackedPIDs:   m.sampledPIDs(samples),
		Findings:      m.analyzer.AnalyzeBottlenecks(samples, closed),
		Opportunities: m.analyzer.IdentifyOptimizationOpportunities(samples, closed, ops),
		Host:          m.system.Collect(ctx),
		Trends:        trends,
		Timeline:      m.tracer.Timeline(),
		Trace:         m.tracer.Statistics(),
		Thresholds:    m.analyzer.Thresholds(),
	})
	m.logger.Info("performance report generated",
		"report_id", report.Metadata.ReportID,
		"score", report.Metadata.PerformanceScore,
		"bottlenecks", len(report.Analysis.Bottlenecks),
		"opportunities", len(report.Analysis.Opportunities),
	)
	return report
}

// ExportMetrics generates a report and writes it to path in format.
// Unsupported formats fail before a report is built or a file written.
func (m *PerformanceMonitor) ExportMetrics(ctx context.Context, path, format string) (*PerformanceReport, error) {
	f, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	report := m.GeneratePerformanceReport(ctx)
	if err := report.Export(path, f); err != nil {
		return nil, err
	}
	m.logger.Info("performance report exported", "path", path, "format", f)
	return report, nil
}

func (m *PerformanceMonitor) sampledPIDs(samples []MetricSample) []int32 {
	seen := make(map[int32]bool)
	pids := []int32{}
	for _, s := range samples {
		if !seen[s.PID] {
			seen[s.PID] = true
			pids = append(pids, s.PID)
		}
	}
	return pids
}

func (m *PerformanceMonitor) latestSample() (MetricSample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples.Latest()
}

// Samples returns the analysis history across all processes, oldest first.
func (m *PerformanceMonitor) Samples() []MetricSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples.Items()
}

// DockerOperations returns the retained operation log.
func (m *PerformanceMonitor) DockerOperations() []DockerOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops.Items()
}

// Stages returns closed stages followed by the open one.
func (m *PerformanceMonitor) Stages() []ExecutionStage { return m.stages.All() }

// Sampler returns the underlying sampler.
func (m *PerformanceMonitor) Sampler() *MetricsSampler { return m.sampler }

// Tracer returns the run's tracer.
func (m *PerformanceMonitor) Tracer() *ExecutionTracer { return m.tracer }

// Analyzer returns the analyzer and its thresholds.
func (m *PerformanceMonitor) Analyzer() *Analyzer { return m.analyzer }

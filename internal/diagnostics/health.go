package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowsim/flowsim/internal/core"
)

// HealthStatus is the outcome of one probe.
type HealthStatus string

const (
	HealthOK      HealthStatus = "OK"
	HealthWarning HealthStatus = "WARNING"
	HealthError   HealthStatus = "ERROR"
)

// Component names reported by the probe.
const (
	ComponentSystem          = "system"
	ComponentContainerEngine = "container_engine"
	ComponentCompanion       = "companion_binary"
	ComponentPermissions     = "permissions"
	ComponentHangDetection   = "hang_detection"
)

// HealthCheckResult is the result of a single probe.
type HealthCheckResult struct {
	Component       string         `json:"component" yaml:"component"`
	Status          HealthStatus   `json:"status" yaml:"status"`
	Message         string         `json:"message" yaml:"message"`
	Details         map[string]any `json:"details" yaml:"details"`
	Recommendations []string       `json:"recommendations" yaml:"recommendations"`
	Timestamp       time.Time      `json:"timestamp" yaml:"timestamp"`
}

// HealthReport aggregates a comprehensive check.
type HealthReport struct {
	OverallStatus HealthStatus        `json:"overall_status" yaml:"overall_status"`
	Components    []HealthCheckResult `json:"components" yaml:"components"`
	Summary       string              `json:"summary" yaml:"summary"`
	Timestamp     time.Time           `json:"timestamp" yaml:"timestamp"`
	DurationMS    float64             `json:"duration_ms" yaml:"duration_ms"`
}

// HangupCondition flags sustained host pressure seen across the most recent
// system checks.
type HangupCondition struct {
	Reason           string    `json:"reason" yaml:"reason"`
	Checks           int       `json:"checks" yaml:"checks"`
	AvgCPUPercent    float64   `json:"avg_cpu_percent" yaml:"avg_cpu_percent"`
	AvgMemoryPercent float64   `json:"avg_memory_percent" yaml:"avg_memory_percent"`
	FirstSeen        time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen         time.Time `json:"last_seen" yaml:"last_seen"`
}

// HangReasonResourcePressure marks a HangupCondition.
const HangReasonResourcePressure = "sustained_resource_pressure"

// HangDetector reports per-process hangs, usually a MetricsSampler.
type HangDetector interface {
	DetectHangingProcesses() []ProcessHang
}

// Identity is the effective user of this process.
type Identity struct {
	UID      int      `json:"uid"`
	GID      int      `json:"gid"`
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
}

// SocketAccess describes the engine control socket.
type SocketAccess struct {
	Exists     bool
	IsSocket   bool
	Accessible bool
	Err        error
}

// HealthOptions configures a HealthProbe. Zero values take defaults.
type HealthOptions struct {
	System SystemSampler
	Runner CommandRunner
	Hangs  HangDetector

	CPUHigh     float64 // default 90
	MemoryHigh  float64 // default 85
	DiskHigh    float64 // default 90
	HistorySize int     // default 100
	HangWindow  int     // default 3

	EngineBinary    string   // default docker
	CompanionBinary string   // default act
	CompanionPaths  []string // extra install locations, ~ expanded
	EngineSocket    string
	EngineGroup     string // default docker

	VersionTimeout time.Duration // default 10s
	InfoTimeout    time.Duration // default 15s
	SmokeTimeout   time.Duration // default 5s

	Logger *slog.Logger
}

func (o *HealthOptions) applyDefaults() {
	if o.System == nil {
		o.System = NewSystemMetricsCollector()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Runner == nil {
		o.Runner = NewSafeExecutor(o.Logger)
	}
	if o.CPUHigh <= 0 {
		o.CPUHigh = 90
	}
	if o.MemoryHigh <= 0 {
		o.MemoryHigh = 85
	}
	if o.DiskHigh <= 0 {
		o.DiskHigh = 90
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 100
	}
	if o.HangWindow <= 0 {
		o.HangWindow = 3
	}
	if o.EngineBinary == "" {
		o.EngineBinary = "docker"
	}
	if o.CompanionBinary == "" {
		o.CompanionBinary = "act"
	}
	if o.EngineSocket == "" {
		o.EngineSocket = defaultEngineSocket
	}
	if o.EngineGroup == "" {
		o.EngineGroup = "docker"
	}
	if o.VersionTimeout <= 0 {
		o.VersionTimeout = 10 * time.Second
	}
	if o.InfoTimeout <= 0 {
		o.InfoTimeout = 15 * time.Second
	}
	if o.SmokeTimeout <= 0 {
		o.SmokeTimeout = 5 * time.Second
	}
}

// HealthProbe runs timeout-bounded checks of the host and of the external
// tools the simulator depends on. Probe failures are reported as ERROR
// results, never returned as errors.
type HealthProbe struct {
	opts   HealthOptions
	logger *slog.Logger

	mu      sync.Mutex
	history *Ring[SystemMetrics]

	identity func() (Identity, error)
	socket   func(path string) SocketAccess
	now      func() time.Time
}

// NewHealthProbe creates a probe.
func NewHealthProbe(opts HealthOptions) *HealthProbe {
	opts.applyDefaults()
	return &HealthProbe{
		opts:     opts,
		logger:   opts.Logger.With("component", "health"),
		history:  NewRing[SystemMetrics](opts.HistorySize),
		identity: currentIdentity,
		socket:   checkSocket,
		now:      time.Now,
	}
}

func (p *HealthProbe) result(component string, status HealthStatus, msg string) HealthCheckResult {
	return HealthCheckResult{
		Component:       component,
		Status:          status,
		Message:         msg,
		Details:         map[string]any{},
		Recommendations: []string{},
		Timestamp:       p.now(),
	}
}

// CheckSystemHealth samples host usage and records it in the rolling
// history.
func (p *HealthProbe) CheckSystemHealth(ctx context.Context) HealthCheckResult {
	m := p.opts.System.Collect(ctx)

	p.mu.Lock()
	p.history.Push(m)
	p.mu.Unlock()

	res := p.result(ComponentSystem, HealthOK, "System resources within limits")
	res.Details = map[string]any{
		"cpu_percent":    round2(m.CPUPercent),
		"memory_percent": round2(m.MemPercent),
		"disk_percent":   round2(m.DiskPercent),
		"load_avg_1":     m.LoadAvg1,
		"load_avg_5":     m.LoadAvg5,
		"load_avg_15":    m.LoadAvg15,
		"cpu_cores":      m.CPUCores,
		"mem_total_mb":   round2(m.MemTotalMB),
	}

	var problems []string
	if m.CPUPercent > p.opts.CPUHigh {
		problems = append(problems, fmt.Sprintf("CPU at %.1f%%", m.CPUPercent))
		res.Recommendations = append(res.Recommendations, "Close CPU-heavy applications or reduce parallel jobs")
	}
	if m.MemPercent > p.opts.MemoryHigh {
		problems = append(problems, fmt.Sprintf("memory at %.1f%%", m.MemPercent))
		res.Recommendations = append(res.Recommendations, "Free memory or raise the container engine memory limit")
	}
	if m.DiskPercent > p.opts.DiskHigh {
		problems = append(problems, fmt.Sprintf("disk at %.1f%%", m.DiskPercent))
		res.Recommendations = append(res.Recommendations, "Prune unused images and volumes to free disk space")
	}
	if len(problems) > 0 {
		res.Status = HealthWarning
		res.Message = "High resource usage: " + strings.Join(problems, ", ")
	}
	return res
}

// History returns the recorded system checks, oldest first.
func (p *HealthProbe) History() []SystemMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Items()
}

// DetectHangupConditions reports sustained pressure when the last checks
// all exceeded both the CPU and the memory threshold.
func (p *HealthProbe) DetectHangupConditions() []HangupCondition {
	p.mu.Lock()
	recent := p.history.Last(p.opts.HangWindow)
	p.mu.Unlock()

	conditions := []HangupCondition{}
	if len(recent) < p.opts.HangWindow {
		return conditions
	}
	var cpuSum, memSum float64
	for _, m := range recent {
		if m.CPUPercent <= p.opts.CPUHigh || m.MemPercent <= p.opts.MemoryHigh {
			return conditions
		}
		cpuSum += m.CPUPercent
		memSum += m.MemPercent
	}
	n := float64(len(recent))
	return append(conditions, HangupCondition{
		Reason:           HangReasonResourcePressure,
		Checks:           len(recent),
		AvgCPUPercent:    round2(cpuSum / n),
		AvgMemoryPercent: round2(memSum / n),
		FirstSeen:        recent[0].Timestamp,
		LastSeen:         recent[len(recent)-1].Timestamp,
	})
}

// CheckContainerEngine probes the engine binary, its version and the
// daemon, in that order. The first failing stage decides the result.
func (p *HealthProbe) CheckContainerEngine(ctx context.Context) HealthCheckResult {
	bin := p.opts.EngineBinary

	path, err := p.opts.Runner.LookPath(bin)
	if err != nil {
		res := p.result(ComponentContainerEngine, HealthError, fmt.Sprintf("%s not found on PATH", bin))
		res.Details["path"] = nil
		res.Details["binary"] = bin
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Install %s: https://docs.docker.com/get-docker/", bin),
			fmt.Sprintf("Make sure the %s binary is on PATH", bin),
		)
		return res
	}

	out, err := p.opts.Runner.Run(ctx, p.opts.VersionTimeout, path, "--version")
	if err != nil {
		res := p.result(ComponentContainerEngine, HealthError, fmt.Sprintf("%s --version failed", bin))
		res.Details["path"] = path
		res.Details["error"] = err.Error()
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Reinstall %s; the binary on PATH does not run", bin))
		return res
	}
	version := firstLine(out.Output)

	info, err := p.opts.Runner.Run(ctx, p.opts.InfoTimeout, path, "info", "--format", "{{.ServerVersion}}")
	if err != nil {
		res := p.result(ComponentContainerEngine, HealthError, fmt.Sprintf("%s daemon is not reachable", bin))
		res.Details["path"] = path
		res.Details["version"] = version
		res.Details["error"] = err.Error()
		res.Recommendations = append(res.Recommendations, p.daemonAdvice(err, info.Output)...)
		return res
	}

	res := p.result(ComponentContainerEngine, HealthOK, fmt.Sprintf("%s available (%s)", bin, version))
	res.Details["path"] = path
	res.Details["version"] = version
	res.Details["server_version"] = firstLine(info.Output)
	return res
}

func (p *HealthProbe) daemonAdvice(err error, output string) []string {
	if output == "" {
		var de *core.DomainError
		if errors.As(err, &de) {
			if s, ok := de.Details["output"].(string); ok {
				output = s
			}
		}
	}
	lower := strings.ToLower(output)

	group := fmt.Sprintf("Add your user to the %s group (sudo usermod -aG %s $USER) and log in again",
		p.opts.EngineGroup, p.opts.EngineGroup)
	start := "Start the container daemon (sudo systemctl start docker, or launch Docker Desktop)"

	switch {
	case core.HasCode(err, core.CodeProbeTimeout):
		return []string{"The daemon did not answer in time; restart it and retry"}
	case strings.Contains(lower, "permission denied"):
		return []string{group}
	case strings.Contains(lower, "cannot connect"), strings.Contains(lower, "is the docker daemon running"):
		return []string{start}
	default:
		return []string{start, group}
	}
}

// CheckCompanionBinary locates the companion binary on PATH or in known
// install locations and smoke-tests it.
func (p *HealthProbe) CheckCompanionBinary(ctx context.Context) HealthCheckResult {
	bin := p.opts.CompanionBinary
	path, searched := p.locateCompanion()
	if path == "" {
		res := p.result(ComponentCompanion, HealthError, fmt.Sprintf("%s not found", bin))
		res.Details["path"] = nil
		res.Details["searched"] = searched
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Install %s: https://nektosact.com/installation/", bin),
			fmt.Sprintf("Or place the %s binary in one of: %s", bin, strings.Join(searched, ", ")),
		)
		return res
	}

	out, err := p.opts.Runner.Run(ctx, p.opts.SmokeTimeout, path, "--version")
	if err != nil {
		res := p.result(ComponentCompanion, HealthError, fmt.Sprintf("%s --version failed", bin))
		res.Details["path"] = path
		res.Details["error"] = err.Error()
		res.Recommendations = append(res.Recommendations, fmt.Sprintf("Reinstall %s", bin))
		return res
	}
	version := firstLine(out.Output)

	if _, err := p.opts.Runner.Run(ctx, p.opts.SmokeTimeout, path, "--help"); err != nil {
		res := p.result(ComponentCompanion, HealthWarning, fmt.Sprintf("%s --help failed", bin))
		res.Details["path"] = path
		res.Details["version"] = version
		res.Details["error"] = err.Error()
		res.Recommendations = append(res.Recommendations,
			fmt.Sprintf("Upgrade %s to a current release", bin))
		return res
	}

	res := p.result(ComponentCompanion, HealthOK, fmt.Sprintf("%s available (%s)", bin, version))
	res.Details["path"] = path
	res.Details["version"] = version
	return res
}

func (p *HealthProbe) locateCompanion() (string, []string) {
	searched := []string{"$PATH"}
	if path, err := p.opts.Runner.LookPath(p.opts.CompanionBinary); err == nil {
		return path, searched
	}
	for _, candidate := range p.opts.CompanionPaths {
		candidate = expandHome(candidate)
		searched = append(searched, candidate)
		if path, err := p.opts.Runner.LookPath(candidate); err == nil {
			return path, searched
		}
	}
	return "", searched
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// CheckPermissions inspects the effective identity and access to the
// engine control socket.
func (p *HealthProbe) CheckPermissions(_ context.Context) HealthCheckResult {
	res := p.result(ComponentPermissions, HealthOK, "Container engine socket is accessible")
	res.Details["socket"] = p.opts.EngineSocket

	id, err := p.identity()
	if err != nil {
		res.Details["identity_error"] = err.Error()
	} else {
		res.Details["uid"] = id.UID
		res.Details["gid"] = id.GID
		res.Details["username"] = id.Username
		res.Details["groups"] = id.Groups
	}
	inGroup := err == nil && (id.UID == 0 || contains(id.Groups, p.opts.EngineGroup))
	res.Details["in_engine_group"] = inGroup

	groupAdvice := fmt.Sprintf("Add your user to the %s group (sudo usermod -aG %s $USER) and log in again",
		p.opts.EngineGroup, p.opts.EngineGroup)

	access := p.socket(p.opts.EngineSocket)
	switch {
	case !access.Exists:
		res.Status = HealthError
		res.Message = fmt.Sprintf("Container engine socket %s does not exist", p.opts.EngineSocket)
		res.Recommendations = append(res.Recommendations,
			"Start the container daemon so it creates its socket",
			"Set health.engine_socket if the daemon listens elsewhere")
	case !access.IsSocket:
		res.Status = HealthError
		res.Message = fmt.Sprintf("%s is not a socket", p.opts.EngineSocket)
		res.Recommendations = append(res.Recommendations, "Set health.engine_socket to the daemon's control socket")
	case !access.Accessible:
		res.Status = HealthError
		res.Message = fmt.Sprintf("No read/write access to %s", p.opts.EngineSocket)
		if access.Err != nil {
			res.Details["error"] = access.Err.Error()
		}
		res.Recommendations = append(res.Recommendations, groupAdvice)
	}

	if res.Status == HealthOK && !inGroup {
		res.Recommendations = append(res.Recommendations, groupAdvice)
	}
	return res
}

// RunComprehensiveHealthCheck runs the system check, then the external
// probes concurrently, then hang detection. Components keep that order.
func (p *HealthProbe) RunComprehensiveHealthCheck(ctx context.Context) HealthReport {
	start := p.now()
	components := []HealthCheckResult{p.CheckSystemHealth(ctx)}

	probes := []func(context.Context) HealthCheckResult{
		p.CheckContainerEngine,
		p.CheckCompanionBinary,
		p.CheckPermissions,
	}
	results := make([]HealthCheckResult, len(probes))
	g, gctx := errgroup.WithContext(ctx)
	for i, probe := range probes {
		g.Go(func() error {
			results[i] = probe(gctx)
			return nil
		})
	}
	_ = g.Wait()
	components = append(components, results...)
	components = append(components, p.checkHangs())

	report := HealthReport{
		OverallStatus: overallStatus(components),
		Components:    components,
		Timestamp:     start,
		DurationMS:    round2(float64(p.now().Sub(start)) / float64(time.Millisecond)),
	}
	report.Summary = summarizeHealth(report.OverallStatus, components)

	for _, c := range components {
		level := slog.LevelDebug
		if c.Status != HealthOK {
			level = slog.LevelWarn
		}
		p.logger.Log(ctx, level, "health check", "component", c.Component, "status", c.Status, "message", c.Message)
	}
	return report
}

func (p *HealthProbe) checkHangs() HealthCheckResult {
	res := p.result(ComponentHangDetection, HealthOK, "No hang conditions detected")
	conditions := p.DetectHangupConditions()
	hangs := []ProcessHang{}
	if p.opts.Hangs != nil {
		hangs = p.opts.Hangs.DetectHangingProcesses()
	}
	res.Details["resource_conditions"] = conditions
	res.Details["hanging_processes"] = hangs

	var parts []string
	if len(conditions) > 0 {
		parts = append(parts, fmt.Sprintf("CPU and memory above thresholds for the last %d checks", p.opts.HangWindow))
		res.Recommendations = append(res.Recommendations, "Reduce concurrent jobs; the host is saturated")
	}
	if len(hangs) > 0 {
		pids := make([]string, len(hangs))
		for i, h := range hangs {
			pids[i] = fmt.Sprint(h.PID)
		}
		parts = append(parts, fmt.Sprintf("no CPU activity from pid %s", strings.Join(pids, ", ")))
		res.Recommendations = append(res.Recommendations, "Inspect the idle processes for deadlocks or blocked I/O")
	}
	if len(parts) > 0 {
		res.Status = HealthWarning
		res.Message = "Possible hang: " + strings.Join(parts, "; ")
	}
	return res
}

func overallStatus(components []HealthCheckResult) HealthStatus {
	overall := HealthOK
	for _, c := range components {
		switch c.Status {
		case HealthError:
			return HealthError
		case HealthWarning:
			overall = HealthWarning
		}
	}
	return overall
}

func summarizeHealth(overall HealthStatus, components []HealthCheckResult) string {
	var failing []string
	ok := 0
	for _, c := range components {
		if c.Status == HealthOK {
			ok++
			continue
		}
		failing = append(failing, fmt.Sprintf("%s (%s)", c.Component, c.Status))
	}
	summary := fmt.Sprintf("%s: %d of %d components healthy", overall, ok, len(components))
	if len(failing) > 0 {
		summary += "; attention needed: " + strings.Join(failing, ", ")
	}
	return summary
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

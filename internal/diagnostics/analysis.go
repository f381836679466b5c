package diagnostics

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Severity ranks findings and opportunities.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Finding and opportunity types.
const (
	BottleneckCPUHigh    = "CPU_HIGH_USAGE"
	BottleneckMemoryHigh = "MEMORY_HIGH_USAGE"
	BottleneckStageSlow  = "STAGE_SLOW_EXECUTION"
	BottleneckDiskIO     = "DISK_IO_BOTTLENECK"

	OpportunityDockerOps   = "DOCKER_OPERATIONS_OPTIMIZATION"
	OpportunityParallelize = "PARALLELIZATION"
	OpportunityRightsizing = "RESOURCE_RIGHTSIZING"

	IssueHighCPU          = "HIGH_CPU_USAGE"
	IssueLongRunningStage = "LONG_RUNNING_STAGE"
)

// minRightsizingSamples is the history needed before suggesting smaller
// resources.
const minRightsizingSamples = 5

// BottleneckFinding is a sustained resource pattern believed to limit
// throughput.
type BottleneckFinding struct {
	Type            string         `json:"type" yaml:"type"`
	Severity        Severity       `json:"severity" yaml:"severity"`
	Description     string         `json:"description" yaml:"description"`
	AffectedStage   string         `json:"affected_stage,omitempty" yaml:"affected_stage,omitempty"`
	ImpactScore     float64        `json:"impact_score" yaml:"impact_score"`
	Recommendations []string       `json:"recommendations" yaml:"recommendations"`
	Evidence        map[string]any `json:"evidence" yaml:"evidence"`
}

// OptimizationOpportunity is a forward-looking suggestion for future runs.
type OptimizationOpportunity struct {
	Type                 string   `json:"type" yaml:"type"`
	Priority             Severity `json:"priority" yaml:"priority"`
	Title                string   `json:"title" yaml:"title"`
	Description          string   `json:"description" yaml:"description"`
	EstimatedImprovement string   `json:"estimated_improvement" yaml:"estimated_improvement"`
	ImplementationEffort string   `json:"implementation_effort" yaml:"implementation_effort"`
	Recommendations      []string `json:"recommendations" yaml:"recommendations"`
}

// DockerOperation is one recorded container-engine operation.
type DockerOperation struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Kind      string    `json:"kind" yaml:"kind"`
	Ref       string    `json:"ref" yaml:"ref"`
	Stage     string    `json:"stage,omitempty" yaml:"stage,omitempty"`
}

// Thresholds tunes the analysis rules. The defaults are heuristics, not
// calibrated values.
type Thresholds struct {
	CPUHigh            float64
	MemoryHigh         float64
	Window             int
	StageSlow          time.Duration
	DiskIOMBps         float64
	DockerOpsThreshold int
	DockerOpsWindow    time.Duration
	ParallelStage      time.Duration
	LowDensity         float64 // container operations per second
	LowUtilization     float64
}

// DefaultThresholds returns the stock rule thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUHigh:            85,
		MemoryHigh:         85,
		Window:             5,
		StageSlow:          60 * time.Second,
		DiskIOMBps:         50,
		DockerOpsThreshold: 50,
		DockerOpsWindow:    60 * time.Second,
		ParallelStage:      15 * time.Second,
		LowDensity:         0.1,
		LowUtilization:     30,
	}
}

func (t *Thresholds) applyDefaults() {
	d := DefaultThresholds()
	if t.CPUHigh <= 0 {
		t.CPUHigh = d.CPUHigh
	}
	if t.MemoryHigh <= 0 {
		t.MemoryHigh = d.MemoryHigh
	}
	if t.Window <= 0 {
		t.Window = d.Window
	}
	if t.StageSlow <= 0 {
		t.StageSlow = d.StageSlow
	}
	if t.DiskIOMBps <= 0 {
		t.DiskIOMBps = d.DiskIOMBps
	}
	if t.DockerOpsThreshold <= 0 {
		t.DockerOpsThreshold = d.DockerOpsThreshold
	}
	if t.DockerOpsWindow <= 0 {
		t.DockerOpsWindow = d.DockerOpsWindow
	}
	if t.ParallelStage <= 0 {
		t.ParallelStage = d.ParallelStage
	}
	if t.LowDensity < 0 {
		t.LowDensity = d.LowDensity
	}
	if t.LowUtilization <= 0 {
		t.LowUtilization = d.LowUtilization
	}
}

// Analyzer applies the bottleneck and optimization rules. It holds no state
// beyond its thresholds and is safe for concurrent use.
type Analyzer struct {
	th Thresholds
}

// NewAnalyzer creates an analyzer; zero threshold fields take defaults.
func NewAnalyzer(th Thresholds) *Analyzer {
	th.applyDefaults()
	return &Analyzer{th: th}
}

// Thresholds returns the effective thresholds.
func (a *Analyzer) Thresholds() Thresholds { return a.th }

// AnalyzeBottlenecks evaluates the sample history and stages. Findings are
// sorted by impact, highest first.
func (a *Analyzer) AnalyzeBottlenecks(samples []MetricSample, stages []ExecutionStage) []BottleneckFinding {
	findings := []BottleneckFinding{}

	for _, series := range splitByPID(samples) {
		if f, ok := a.cpuRule(series, stages); ok {
			findings = append(findings, f)
		}
		if f, ok := a.memoryRule(series, stages); ok {
			findings = append(findings, f)
		}
		if f, ok := a.diskIORule(series, stages); ok {
			findings = append(findings, f)
		}
	}
	findings = append(findings, a.slowStageRule(stages)...)

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].ImpactScore > findings[j].ImpactScore
	})
	return findings
}

func (a *Analyzer) cpuRule(series []MetricSample, stages []ExecutionStage) (BottleneckFinding, bool) {
	values := make([]float64, len(series))
	for i, s := range series {
		values[i] = s.CPUPercent
	}
	start, end, ok := longestHotRun(values, a.th.Window, a.th.CPUHigh)
	if !ok {
		return BottleneckFinding{}, false
	}

	run := values[start : end+1]
	avg, peak := meanMax(run)
	score := a.sustainedScore(math.Min(1, (avg-a.th.CPUHigh)/(100-a.th.CPUHigh)), len(run))
	span := series[end].Timestamp.Sub(series[start].Timestamp)

	return BottleneckFinding{
		Type:     BottleneckCPUHigh,
		Severity: severityForScore(score),
		Description: fmt.Sprintf("CPU averaged %.1f%% over %d consecutive samples (threshold %.0f%%)",
			avg, len(run), a.th.CPUHigh),
		AffectedStage: stageAt(stages, midpoint(series[start].Timestamp, series[end].Timestamp)),
		ImpactScore:   score,
		Recommendations: []string{
			"Reduce parallel jobs or matrix width so steps do not compete for CPU",
			"Allocate more CPUs to the container engine",
			"Profile the heaviest step for avoidable work such as repeated builds",
		},
		Evidence: map[string]any{
			"pid":              series[start].PID,
			"avg_cpu_percent":  round2(avg),
			"peak_cpu_percent": round2(peak),
			"samples":          len(run),
			"window":           a.th.Window,
			"threshold":        a.th.CPUHigh,
			"duration_seconds": round2(span.Seconds()),
		},
	}, true
}

func (a *Analyzer) memoryRule(series []MetricSample, stages []ExecutionStage) (BottleneckFinding, bool) {
	values := make([]float64, len(series))
	for i, s := range series {
		values[i] = s.MemoryPercent
	}
	start, end, ok := longestHotRun(values, a.th.Window, a.th.MemoryHigh)
	if !ok {
		return BottleneckFinding{}, false
	}

	run := values[start : end+1]
	avg, peak := meanMax(run)
	score := a.sustainedScore(math.Min(1, (avg-a.th.MemoryHigh)/(100-a.th.MemoryHigh)), len(run))
	peakRSS := 0.0
	for _, s := range series[start : end+1] {
		peakRSS = math.Max(peakRSS, s.MemoryRSSMB)
	}

	return BottleneckFinding{
		Type:     BottleneckMemoryHigh,
		Severity: severityForScore(score),
		Description: fmt.Sprintf("Memory usage averaged %.1f%% over %d consecutive samples (threshold %.0f%%)",
			avg, len(run), a.th.MemoryHigh),
		AffectedStage: stageAt(stages, midpoint(series[start].Timestamp, series[end].Timestamp)),
		ImpactScore:   score,
		Recommendations: []string{
			"Raise the memory limit of the container engine",
			"Run memory-heavy jobs sequentially instead of in parallel",
			"Check the workload for unbounded caches or leaks",
		},
		Evidence: map[string]any{
			"pid":                 series[start].PID,
			"avg_memory_percent":  round2(avg),
			"peak_memory_percent": round2(peak),
			"peak_rss_mb":         round2(peakRSS),
			"samples":             len(run),
			"threshold":           a.th.MemoryHigh,
		},
	}, true
}

func (a *Analyzer) diskIORule(series []MetricSample, stages []ExecutionStage) (BottleneckFinding, bool) {
	if len(series) < 2 {
		return BottleneckFinding{}, false
	}
	rates := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		dt := series[i].Timestamp.Sub(series[i-1].Timestamp).Seconds()
		moved := (series[i].DiskReadMB + series[i].DiskWriteMB) - (series[i-1].DiskReadMB + series[i-1].DiskWriteMB)
		if dt > 0 && moved > 0 {
			rates[i-1] = moved / dt
		}
	}

	window := max(1, a.th.Window-1)
	start, end, ok := longestHotRun(rates, window, a.th.DiskIOMBps)
	if !ok {
		return BottleneckFinding{}, false
	}

	run := rates[start : end+1]
	avg, peak := meanMax(run)
	score := a.sustainedScore(math.Min(1, (avg-a.th.DiskIOMBps)/a.th.DiskIOMBps), len(run)+1)
	first, last := series[start], series[end+1]

	return BottleneckFinding{
		Type:     BottleneckDiskIO,
		Severity: severityForScore(score),
		Description: fmt.Sprintf("Disk throughput averaged %.1f MB/s over %d intervals (threshold %.0f MB/s)",
			avg, len(run), a.th.DiskIOMBps),
		AffectedStage: stageAt(stages, midpoint(first.Timestamp, last.Timestamp)),
		ImpactScore:   score,
		Recommendations: []string{
			"Cache dependencies and build outputs between runs instead of re-downloading them",
			"Move workspaces and container storage to faster local disks",
			"Avoid copying large artifacts between steps",
		},
		Evidence: map[string]any{
			"pid":           first.PID,
			"avg_mb_per_s":  round2(avg),
			"peak_mb_per_s": round2(peak),
			"intervals":     len(run),
			"threshold":     a.th.DiskIOMBps,
			"read_mb":       round2(last.DiskReadMB - first.DiskReadMB),
			"write_mb":      round2(last.DiskWriteMB - first.DiskWriteMB),
		},
	}, true
}

func (a *Analyzer) slowStageRule(stages []ExecutionStage) []BottleneckFinding {
	findings := []BottleneckFinding{}
	limit := a.th.StageSlow
	for _, st := range stages {
		if st.IsOpen() {
			continue
		}
		d := st.Duration(*st.EndTime)
		if d <= limit {
			continue
		}
		multiple := float64(d) / float64(limit)
		severity := SeverityLow
		switch {
		case multiple >= 5:
			severity = SeverityHigh
		case multiple >= 2:
			severity = SeverityMedium
		}

		recs := []string{"Split the stage into smaller steps so slow parts can be cached or parallelized"}
		if st.DockerOperations > 0 {
			recs = append(recs, "Pre-pull or cache container images used by this stage")
		}
		if st.SampleCount > 0 && st.PeakCPU < a.th.LowUtilization {
			recs = append(recs, "CPU stayed low during this stage; look for network or lock waits")
		}

		findings = append(findings, BottleneckFinding{
			Type:     BottleneckStageSlow,
			Severity: severity,
			Description: fmt.Sprintf("Stage %q took %s (threshold %s)",
				st.Name, d.Round(time.Millisecond), limit),
			AffectedStage:   st.Name,
			ImpactScore:     math.Min(1, float64(d)/(float64(limit)*5)),
			Recommendations: recs,
			Evidence: map[string]any{
				"duration_ms":       round2(*st.DurationMS),
				"threshold_ms":      float64(limit.Milliseconds()),
				"peak_cpu":          round2(st.PeakCPU),
				"peak_memory_mb":    round2(st.PeakMemoryMB),
				"docker_operations": st.DockerOperations,
			},
		})
	}
	return findings
}

// sustainedScore blends how far over the threshold a run was with how long
// it lasted relative to the window.
func (a *Analyzer) sustainedScore(excess float64, runLen int) float64 {
	duration := math.Min(1, float64(runLen)/float64(a.th.Window*4))
	return clamp(math.Max(0, excess)*0.6+duration*0.4, 0, 1)
}

func severityForScore(score float64) Severity {
	switch {
	case score >= 0.7:
		return SeverityHigh
	case score >= 0.4:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// longestHotRun finds the longest stretch of consecutive sliding windows
// whose mean exceeds threshold. It returns the index range of the values
// covered by those windows.
func longestHotRun(values []float64, window int, threshold float64) (start, end int, ok bool) {
	if window <= 0 || len(values) < window {
		return 0, 0, false
	}

	sum := 0.0
	for _, v := range values[:window] {
		sum += v
	}

	bestLen, runStart := 0, -1
	for i := 0; i+window <= len(values); i++ {
		if i > 0 {
			sum += values[i+window-1] - values[i-1]
		}
		if sum/float64(window) > threshold {
			if runStart < 0 {
				runStart = i
			}
			if n := i - runStart + 1; n > bestLen {
				bestLen = n
				start, end = runStart, i+window-1
			}
		} else {
			runStart = -1
		}
	}
	return start, end, bestLen > 0
}

func splitByPID(samples []MetricSample) [][]MetricSample {
	var order []int32
	byPID := make(map[int32][]MetricSample)
	for _, s := range samples {
		if _, ok := byPID[s.PID]; !ok {
			order = append(order, s.PID)
		}
		byPID[s.PID] = append(byPID[s.PID], s)
	}
	out := make([][]MetricSample, 0, len(order))
	for _, pid := range order {
		out = append(out, byPID[pid])
	}
	return out
}

// stageAt names the stage whose time range contains ts.
func stageAt(stages []ExecutionStage, ts time.Time) string {
	for _, st := range stages {
		if ts.Before(st.StartTime) {
			continue
		}
		if st.EndTime == nil || !ts.After(*st.EndTime) {
			return st.Name
		}
	}
	return ""
}

func midpoint(a, b time.Time) time.Time {
	return a.Add(b.Sub(a) / 2)
}

func meanMax(values []float64) (mean, peak float64) {
	if len(values) == 0 {
		return 0, 0
	}
	peak = values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		peak = math.Max(peak, v)
	}
	return sum / float64(len(values)), peak
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package diagnostics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedStage(name string, start time.Time, d time.Duration, ops int) ExecutionStage {
	end := start.Add(d)
	ms := d.Seconds() * 1000
	return ExecutionStage{
		Name:             name,
		StartTime:        start,
		EndTime:          &end,
		DurationMS:       &ms,
		DockerOperations: ops,
		Bottlenecks:      []string{},
	}
}

func findingOfType(findings []BottleneckFinding, typ string) *BottleneckFinding {
	for i := range findings {
		if findings[i].Type == typ {
			return &findings[i]
		}
	}
	return nil
}

func TestAnalyzeBottlenecks_SustainedCPU(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	samples := samplesAt(time.Unix(0, 0), time.Second, 95, 95, 95, 95, 95, 95, 95, 95, 95, 95)

	findings := a.AnalyzeBottlenecks(samples, nil)

	f := findingOfType(findings, BottleneckCPUHigh)
	require.NotNil(t, f)
	assert.Contains(t, []Severity{SeverityHigh, SeverityMedium}, f.Severity)
	assert.InDelta(t, 0.6, f.ImpactScore, 1e-9)
	assert.NotEmpty(t, f.Recommendations)
	assert.Equal(t, 10, f.Evidence["samples"])
}

func TestAnalyzeBottlenecks_SpikeIsNotSustained(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	samples := samplesAt(time.Unix(0, 0), time.Second, 10, 10, 100, 10, 10, 10, 10)

	findings := a.AnalyzeBottlenecks(samples, nil)
	assert.Nil(t, findingOfType(findings, BottleneckCPUHigh))
	assert.NotNil(t, findings, "findings is empty, never nil")
}

func TestAnalyzeBottlenecks_TooFewSamples(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	samples := samplesAt(time.Unix(0, 0), time.Second, 99, 99, 99)
	assert.Empty(t, a.AnalyzeBottlenecks(samples, nil))
}

func TestAnalyzeBottlenecks_SeverityScalesWithDuration(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	cpu := make([]float64, 40)
	for i := range cpu {
		cpu[i] = 100
	}
	findings := a.AnalyzeBottlenecks(samplesAt(time.Unix(0, 0), time.Second, cpu...), nil)

	f := findingOfType(findings, BottleneckCPUHigh)
	require.NotNil(t, f)
	assert.Equal(t, SeverityHigh, f.Severity)
	assert.InDelta(t, 1.0, f.ImpactScore, 1e-9)
}

func TestAnalyzeBottlenecks_AffectedStage(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	start := time.Unix(0, 0)
	stages := []ExecutionStage{
		closedStage("setup", start, 2*time.Second, 0),
		closedStage("build", start.Add(2*time.Second), 20*time.Second, 0),
	}
	samples := samplesAt(start.Add(5*time.Second), time.Second, 90, 92, 94, 96, 98, 99)

	f := findingOfType(a.AnalyzeBottlenecks(samples, stages), BottleneckCPUHigh)
	require.NotNil(t, f)
	assert.Equal(t, "build", f.AffectedStage)
}

func TestAnalyzeBottlenecks_Memory(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	samples := samplesAt(time.Unix(0, 0), time.Second, 1, 1, 1, 1, 1, 1)
	for i := range samples {
		samples[i].MemoryPercent = 97
		samples[i].MemoryRSSMB = 900
	}

	f := findingOfType(a.AnalyzeBottlenecks(samples, nil), BottleneckMemoryHigh)
	require.NotNil(t, f)
	assert.Equal(t, 900.0, f.Evidence["peak_rss_mb"])
}

func TestAnalyzeBottlenecks_SlowStage(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	start := time.Unix(0, 0)
	stages := []ExecutionStage{
		closedStage("fast", start, 10*time.Second, 0),
		closedStage("slow", start, 90*time.Second, 3),
		closedStage("glacial", start, 6*time.Minute, 0),
	}

	findings := a.AnalyzeBottlenecks(nil, stages)
	require.Len(t, findings, 2)

	// sorted by impact: glacial (1.0) before slow (0.3)
	assert.Equal(t, "glacial", findings[0].AffectedStage)
	assert.Equal(t, SeverityHigh, findings[0].Severity)
	assert.InDelta(t, 1.0, findings[0].ImpactScore, 1e-9)

	assert.Equal(t, "slow", findings[1].AffectedStage)
	assert.Equal(t, SeverityLow, findings[1].Severity)
	assert.InDelta(t, 0.3, findings[1].ImpactScore, 1e-9)
	assert.Len(t, findings[1].Recommendations, 2, "image caching advice for a stage with docker ops")
}

func TestAnalyzeBottlenecks_DiskIO(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	samples := samplesAt(time.Unix(0, 0), time.Second, 5, 5, 5, 5, 5, 5, 5)
	for i := range samples {
		samples[i].DiskReadMB = float64(i) * 60
		samples[i].DiskWriteMB = float64(i) * 40
	}

	f := findingOfType(a.AnalyzeBottlenecks(samples, nil), BottleneckDiskIO)
	require.NotNil(t, f)
	assert.Equal(t, 100.0, f.Evidence["avg_mb_per_s"])
	assert.Equal(t, 6, f.Evidence["intervals"])
}

func TestAnalyzeBottlenecks_ImpactAlwaysInRange(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	start := time.Unix(0, 0)
	samples := samplesAt(start, time.Second, 100, 100, 100, 100, 100, 100)
	for i := range samples {
		samples[i].MemoryPercent = 100
		samples[i].DiskWriteMB = float64(i) * 10000
	}
	stages := []ExecutionStage{closedStage("x", start, time.Hour, 0)}

	for _, f := range a.AnalyzeBottlenecks(samples, stages) {
		assert.GreaterOrEqual(t, f.ImpactScore, 0.0)
		assert.LessOrEqual(t, f.ImpactScore, 1.0)
		assert.NotEmpty(t, f.Recommendations, f.Type)
	}
}

func TestLongestHotRun(t *testing.T) {
	start, end, ok := longestHotRun([]float64{0, 90, 90, 90, 0, 90, 90, 90, 90, 90, 0}, 3, 85)
	require.True(t, ok)
	assert.Equal(t, 5, start)
	assert.Equal(t, 9, end)

	_, _, ok = longestHotRun([]float64{90, 90}, 3, 85)
	assert.False(t, ok)
}

func TestIdentifyOpportunities_DockerOps(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	base := time.Unix(0, 0)
	ops := make([]DockerOperation, 60)
	for i := range ops {
		ops[i] = DockerOperation{Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond), Kind: "pull", Ref: "alpine"}
	}

	opps := a.IdentifyOptimizationOpportunities(nil, nil, ops)
	require.Len(t, opps, 1)
	assert.Equal(t, OpportunityDockerOps, opps[0].Type)
	assert.Equal(t, SeverityMedium, opps[0].Priority)
	assert.NotEmpty(t, opps[0].Recommendations)
	assert.Contains(t, opps[0].Description, "pull=60")
}

func TestIdentifyOpportunities_DockerOpsSpreadOut(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	base := time.Unix(0, 0)
	ops := make([]DockerOperation, 60)
	for i := range ops {
		ops[i] = DockerOperation{Timestamp: base.Add(time.Duration(i) * 5 * time.Second), Kind: "run"}
	}
	// 13 operations per minute at most
	assert.Empty(t, a.IdentifyOptimizationOpportunities(nil, nil, ops))
}

func TestIdentifyOpportunities_DockerOpsHighPriority(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	ops := make([]DockerOperation, 120)
	for i := range ops {
		ops[i] = DockerOperation{Timestamp: time.Unix(0, 0), Kind: "exec"}
	}
	opps := a.IdentifyOptimizationOpportunities(nil, nil, ops)
	require.Len(t, opps, 1)
	assert.Equal(t, SeverityHigh, opps[0].Priority)
}

func TestIdentifyOpportunities_Parallelization(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	start := time.Unix(0, 0)
	stages := []ExecutionStage{
		closedStage("lint", start, 20*time.Second, 0),
		closedStage("unit", start.Add(20*time.Second), 30*time.Second, 1),
		closedStage("images", start.Add(50*time.Second), 20*time.Second, 40),
		closedStage("short", start.Add(70*time.Second), 5*time.Second, 0),
	}

	opps := a.IdentifyOptimizationOpportunities(nil, stages, nil)
	require.Len(t, opps, 1)
	assert.Equal(t, OpportunityParallelize, opps[0].Type)
	assert.Contains(t, opps[0].Description, "lint, unit")
	assert.NotContains(t, opps[0].Description, "images")
	assert.Contains(t, opps[0].EstimatedImprovement, "40%")
}

func TestIdentifyOpportunities_Rightsizing(t *testing.T) {
	a := NewAnalyzer(DefaultThresholds())
	samples := samplesAt(time.Unix(0, 0), time.Second, 5, 6, 7, 8, 9)
	for i := range samples {
		samples[i].MemoryPercent = 10
	}

	opps := a.IdentifyOptimizationOpportunities(samples, nil, nil)
	require.Len(t, opps, 1)
	assert.Equal(t, OpportunityRightsizing, opps[0].Type)
	assert.Equal(t, SeverityLow, opps[0].Priority)

	assert.Empty(t, a.IdentifyOptimizationOpportunities(samples[:4], nil, nil))
}

func TestNewAnalyzer_FillsZeroThresholds(t *testing.T) {
	a := NewAnalyzer(Thresholds{CPUHigh: 70})
	th := a.Thresholds()
	assert.Equal(t, 70.0, th.CPUHigh)
	assert.Equal(t, 5, th.Window)
	assert.Equal(t, 60*time.Second, th.StageSlow)
}

package diagnostics

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/flowsim/flowsim/internal/core"
	"github.com/flowsim/flowsim/internal/fsutil"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ReportMetadata identifies a report.
type ReportMetadata struct {
	ReportID           string          `json:"report_id" yaml:"report_id"`
	GeneratedAt        time.Time       `json:"generated_at" yaml:"generated_at"`
	PerformanceScore   float64         `json:"performance_score" yaml:"performance_score"`
	MonitoringDuration float64         `json:"monitoring_duration_seconds" yaml:"monitoring_duration_seconds"`
	SampleCount        int             `json:"sample_count" yaml:"sample_count"`
	TrackedPIDs        []int32         `json:"tracked_pids" yaml:"tracked_pids"`
	Trace              TraceStatistics `json:"trace" yaml:"trace"`
}

// SystemSummary aggregates the run.
type SystemSummary struct {
	Host                  SystemMetrics `json:"host" yaml:"host"`
	AvgCPUPercent         float64       `json:"avg_cpu_percent" yaml:"avg_cpu_percent"`
	PeakCPUPercent        float64       `json:"peak_cpu_percent" yaml:"peak_cpu_percent"`
	AvgMemoryPercent      float64       `json:"avg_memory_percent" yaml:"avg_memory_percent"`
	PeakMemoryMB          float64       `json:"peak_memory_mb" yaml:"peak_memory_mb"`
	TotalDockerOperations int64         `json:"total_docker_operations" yaml:"total_docker_operations"`
	DockerOpsPerMinute    float64       `json:"docker_ops_per_minute" yaml:"docker_ops_per_minute"`
	StageCount            int           `json:"stage_count" yaml:"stage_count"`
	Trends                []MetricTrend `json:"trends" yaml:"trends"`
}

// ReportAnalysis holds the analyzer output.
type ReportAnalysis struct {
	Bottlenecks     []BottleneckFinding       `json:"bottlenecks" yaml:"bottlenecks"`
	Opportunities   []OptimizationOpportunity `json:"opportunities" yaml:"opportunities"`
	ExecutionStages []ExecutionStage          `json:"execution_stages" yaml:"execution_stages"`
}

// RawMetrics carries the underlying data of a report.
type RawMetrics struct {
	Samples          []MetricSample    `json:"samples" yaml:"samples"`
	DockerOperations []DockerOperation `json:"docker_operations" yaml:"docker_operations"`
	Timeline         []TimelineEntry   `json:"timeline" yaml:"timeline"`
}

// PerformanceReport is the exported result of a monitored run. Every slice
// is non-nil so exported documents never contain null arrays.
type PerformanceReport struct {
	Metadata        ReportMetadata `json:"metadata" yaml:"metadata"`
	SystemSummary   SystemSummary  `json:"system_summary" yaml:"system_summary"`
	Analysis        ReportAnalysis `json:"analysis" yaml:"analysis"`
	Recommendations []string       `json:"recommendations" yaml:"recommendations"`
	RawMetrics      RawMetrics     `json:"raw_metrics" yaml:"raw_metrics"`
}

// ReportInput is everything a report is built from.
type ReportInput struct {
	GeneratedAt   time.Time
	StartedAt     time.Time
	Samples       []MetricSample
	Stages        []ExecutionStage
	Operations    []DockerOperation
	TotalOps      int64
	TrackedPIDs   []int32
	Findings      []BottleneckFinding
	Opportunities []OptimizationOpportunity
	Host          SystemMetrics
	Trends        []MetricTrend
	Timeline      []TimelineEntry
	Trace         TraceStatistics
	Thresholds    Thresholds
}

// BuildReport assembles a report and computes its score.
func BuildReport(in ReportInput) *PerformanceReport {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}
	in.Thresholds.applyDefaults()

	duration := 0.0
	if !in.StartedAt.IsZero() && in.GeneratedAt.After(in.StartedAt) {
		duration = in.GeneratedAt.Sub(in.StartedAt).Seconds()
	}

	summary := summarize(in, duration)
	r := &PerformanceReport{
		Metadata: ReportMetadata{
			ReportID:           uuid.NewString(),
			GeneratedAt:        in.GeneratedAt,
			MonitoringDuration: round2(duration),
			SampleCount:        len(in.Samples),
			TrackedPIDs:        nonNil(in.TrackedPIDs),
			Trace:              in.Trace,
		},
		SystemSummary: summary,
		Analysis: ReportAnalysis{
			Bottlenecks:     nonNil(in.Findings),
			Opportunities:   nonNil(in.Opportunities),
			ExecutionStages: annotateStages(in.Stages, in.Findings),
		},
		Recommendations: flattenRecommendations(in.Findings, in.Opportunities),
		RawMetrics: RawMetrics{
			Samples:          nonNil(in.Samples),
			DockerOperations: nonNil(in.Operations),
			Timeline:         nonNil(in.Timeline),
		},
	}
	if r.Metadata.Trace.EventsByType == nil {
		r.Metadata.Trace.EventsByType = map[string]int{}
	}
	if r.Metadata.Trace.EventsBySource == nil {
		r.Metadata.Trace.EventsBySource = map[string]int{}
	}
	if r.SystemSummary.Host.GPUs == nil {
		r.SystemSummary.Host.GPUs = []GPUInfo{}
	}

	r.Metadata.PerformanceScore = performanceScore(summary, duration, in.Findings, in.Thresholds)
	return r
}

func summarize(in ReportInput, duration float64) SystemSummary {
	s := SystemSummary{
		Host:                  in.Host,
		TotalDockerOperations: in.TotalOps,
		StageCount:            len(in.Stages),
		Trends:                nonNil(in.Trends),
	}
	if n := len(in.Samples); n > 0 {
		var cpuSum, memSum float64
		for _, smp := range in.Samples {
			cpuSum += smp.CPUPercent
			memSum += smp.MemoryPercent
			s.PeakCPUPercent = math.Max(s.PeakCPUPercent, smp.CPUPercent)
			s.PeakMemoryMB = math.Max(s.PeakMemoryMB, smp.MemoryRSSMB)
		}
		s.AvgCPUPercent = round2(cpuSum / float64(n))
		s.AvgMemoryPercent = round2(memSum / float64(n))
	}
	if duration > 0 {
		s.DockerOpsPerMinute = round2(float64(in.TotalOps) / (duration / 60))
	}
	return s
}

// performanceScore starts at 100 and subtracts penalties for high average
// CPU and memory, dense container activity and analyzer findings.
func performanceScore(s SystemSummary, duration float64, findings []BottleneckFinding, th Thresholds) float64 {
	score := 100.0
	score -= math.Min(30, math.Max(0, s.AvgCPUPercent-50)*0.6)
	score -= math.Min(30, math.Max(0, s.AvgMemoryPercent-50)*0.6)

	if duration > 0 && th.DockerOpsWindow > 0 {
		density := float64(s.TotalDockerOperations) / duration
		limit := float64(th.DockerOpsThreshold) / th.DockerOpsWindow.Seconds()
		if ratio := density / limit; ratio > 0.5 {
			score -= math.Min(20, (ratio-0.5)*20)
		}
	}

	penalty := 0.0
	for _, f := range findings {
		switch f.Severity {
		case SeverityHigh:
			penalty += 10
		case SeverityMedium:
			penalty += 5
		default:
			penalty += 2
		}
	}
	score -= math.Min(20, penalty)

	return math.Round(clamp(score, 0, 100)*10) / 10
}

// annotateStages returns copies of stages with the finding types that
// affected each one.
func annotateStages(stages []ExecutionStage, findings []BottleneckFinding) []ExecutionStage {
	out := make([]ExecutionStage, len(stages))
	for i, st := range stages {
		c := st.clone()
		for _, f := range findings {
			if f.AffectedStage == st.Name && !contains(c.Bottlenecks, f.Type) {
				c.Bottlenecks = append(c.Bottlenecks, f.Type)
			}
		}
		out[i] = c
	}
	return out
}

func flattenRecommendations(findings []BottleneckFinding, opps []OptimizationOpportunity) []string {
	recs := []string{}
	seen := make(map[string]bool)
	add := func(list []string) {
		for _, r := range list {
			if r != "" && !seen[r] {
				seen[r] = true
				recs = append(recs, r)
			}
		}
	}
	for _, f := range findings {
		add(f.Recommendations)
	}
	for _, o := range opps {
		add(o.Recommendations)
	}
	return recs
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ReportSummary is the compact form of a report.
type ReportSummary struct {
	ReportID           string   `json:"report_id" yaml:"report_id"`
	Score              float64  `json:"score" yaml:"score"`
	Grade              string   `json:"grade" yaml:"grade"`
	DurationSeconds    float64  `json:"duration_seconds" yaml:"duration_seconds"`
	Samples            int      `json:"samples" yaml:"samples"`
	Stages             int      `json:"stages" yaml:"stages"`
	Bottlenecks        int      `json:"bottlenecks" yaml:"bottlenecks"`
	HighSeverity       int      `json:"high_severity" yaml:"high_severity"`
	Opportunities      int      `json:"opportunities" yaml:"opportunities"`
	TopRecommendations []string `json:"top_recommendations" yaml:"top_recommendations"`
}

// Summary condenses the report.
func (r *PerformanceReport) Summary() ReportSummary {
	s := ReportSummary{
		ReportID:        r.Metadata.ReportID,
		Score:           r.Metadata.PerformanceScore,
		Grade:           grade(r.Metadata.PerformanceScore),
		DurationSeconds: r.Metadata.MonitoringDuration,
		Samples:         r.Metadata.SampleCount,
		Stages:          len(r.Analysis.ExecutionStages),
		Bottlenecks:     len(r.Analysis.Bottlenecks),
		Opportunities:   len(r.Analysis.Opportunities),
	}
	for _, f := range r.Analysis.Bottlenecks {
		if f.Severity == SeverityHigh {
			s.HighSeverity++
		}
	}
	s.TopRecommendations = append([]string{}, r.Recommendations[:min(3, len(r.Recommendations))]...)
	return s
}

func grade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "F"
	}
}

// NormalizeFormat maps a user-supplied format name to FormatJSON or
// FormatYAML.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", core.ErrExportFormatUnsupported(format)
	}
}

// Marshal encodes the report in the given format.
func (r *PerformanceReport) Marshal(format string) ([]byte, error) {
	f, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch f {
	case FormatYAML:
		data, err = yaml.Marshal(r)
	default:
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return nil, core.ErrSerialization(f, err)
	}
	return data, nil
}

// Export writes the report to path. The format is checked before anything
// touches the disk and the file is replaced atomically.
func (r *PerformanceReport) Export(path, format string) error {
	data, err := r.Marshal(format)
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o640); err != nil {
		return core.ErrExport(path, err)
	}
	return nil
}

// LoadReport reads a report written by Export. The format follows the file
// extension; anything other than .yaml or .yml is read as JSON.
func LoadReport(path string) (*PerformanceReport, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}

	var r PerformanceReport
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &r)
	default:
		err = json.Unmarshal(data, &r)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", path, err)
	}
	return &r, nil
}

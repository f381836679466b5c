package diagnostics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// IdentifyOptimizationOpportunities applies the forward-looking rules to a
// run's samples, stages and container operations.
func (a *Analyzer) IdentifyOptimizationOpportunities(samples []MetricSample, stages []ExecutionStage, ops []DockerOperation) []OptimizationOpportunity {
	opps := []OptimizationOpportunity{}
	if o, ok := a.dockerOpsRule(ops); ok {
		opps = append(opps, o)
	}
	if o, ok := a.parallelizationRule(stages); ok {
		opps = append(opps, o)
	}
	if o, ok := a.rightsizingRule(samples); ok {
		opps = append(opps, o)
	}
	return opps
}

func (a *Analyzer) dockerOpsRule(ops []DockerOperation) (OptimizationOpportunity, bool) {
	peak, from, to := busiestWindow(ops, a.th.DockerOpsWindow)
	if peak <= a.th.DockerOpsThreshold {
		return OptimizationOpportunity{}, false
	}

	priority := SeverityMedium
	if peak > 2*a.th.DockerOpsThreshold {
		priority = SeverityHigh
	}

	kinds := make(map[string]int)
	for _, op := range ops {
		kinds[op.Kind]++
	}

	return OptimizationOpportunity{
		Type:     OpportunityDockerOps,
		Priority: priority,
		Title:    "Reduce container engine round-trips",
		Description: fmt.Sprintf("%d container operations within %s (threshold %d, busiest span %s to %s; %s)",
			peak, a.th.DockerOpsWindow, a.th.DockerOpsThreshold,
			from.Format(time.TimeOnly), to.Format(time.TimeOnly), formatCounts(kinds)),
		EstimatedImprovement: "10-30% shorter container setup time",
		ImplementationEffort: "LOW",
		Recommendations: []string{
			"Batch image pulls and pre-pull images before the run",
			"Reuse containers between jobs instead of recreating them",
			"Enable layer caching for image builds",
		},
	}, true
}

func (a *Analyzer) parallelizationRule(stages []ExecutionStage) (OptimizationOpportunity, bool) {
	var names []string
	var total, longest time.Duration
	for _, st := range stages {
		if st.IsOpen() {
			continue
		}
		d := st.Duration(*st.EndTime)
		if d <= a.th.ParallelStage {
			continue
		}
		density := float64(st.DockerOperations) / d.Seconds()
		if density >= a.th.LowDensity {
			continue
		}
		names = append(names, st.Name)
		total += d
		longest = max(longest, d)
	}
	if len(names) < 2 {
		return OptimizationOpportunity{}, false
	}

	saved := 100 * float64(total-longest) / float64(total)
	return OptimizationOpportunity{
		Type:     OpportunityParallelize,
		Priority: SeverityMedium,
		Title:    "Run independent stages in parallel",
		Description: fmt.Sprintf("%d stages ran longer than %s with little container activity: %s",
			len(names), a.th.ParallelStage, strings.Join(names, ", ")),
		EstimatedImprovement: fmt.Sprintf("up to %.0f%% of the time spent in these stages", saved),
		ImplementationEffort: "MEDIUM",
		Recommendations: []string{
			"Declare independent jobs without needs: dependencies so they can run concurrently",
			"Split long sequential steps into a job matrix",
		},
	}, true
}

func (a *Analyzer) rightsizingRule(samples []MetricSample) (OptimizationOpportunity, bool) {
	if len(samples) < minRightsizingSamples {
		return OptimizationOpportunity{}, false
	}
	var cpuSum, memSum float64
	for _, s := range samples {
		cpuSum += s.CPUPercent
		memSum += s.MemoryPercent
	}
	avgCPU := cpuSum / float64(len(samples))
	avgMem := memSum / float64(len(samples))
	if avgCPU >= a.th.LowUtilization || avgMem >= a.th.LowUtilization {
		return OptimizationOpportunity{}, false
	}

	return OptimizationOpportunity{
		Type:     OpportunityRightsizing,
		Priority: SeverityLow,
		Title:    "Right-size runner resources",
		Description: fmt.Sprintf("Average CPU %.1f%% and memory %.1f%% stayed below %.0f%% across %d samples",
			avgCPU, avgMem, a.th.LowUtilization, len(samples)),
		EstimatedImprovement: "lower resource cost with no expected slowdown",
		ImplementationEffort: "LOW",
		Recommendations: []string{
			"Use a smaller runner size or lower container resource limits",
			"Run more jobs concurrently on the same host",
		},
	}, true
}

// busiestWindow returns the largest number of operations falling within any
// span of length window, with the span's first and last timestamps.
func busiestWindow(ops []DockerOperation, window time.Duration) (count int, from, to time.Time) {
	if len(ops) == 0 {
		return 0, time.Time{}, time.Time{}
	}
	ts := make([]time.Time, len(ops))
	for i, op := range ops {
		ts[i] = op.Timestamp
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	lo := 0
	for hi := range ts {
		for ts[hi].Sub(ts[lo]) > window {
			lo++
		}
		if n := hi - lo + 1; n > count {
			count, from, to = n, ts[lo], ts[hi]
		}
	}
	return count, from, to
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

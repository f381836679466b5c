package diagnostics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// trendWindow is the number of recent samples considered for trends.
const trendWindow = 30

// MetricTrend summarizes one metric over the recent window. Slope is in
// metric units per second.
type MetricTrend struct {
	Metric    string  `json:"metric" yaml:"metric"`
	Mean      float64 `json:"mean" yaml:"mean"`
	StdDev    float64 `json:"std_dev" yaml:"std_dev"`
	Min       float64 `json:"min" yaml:"min"`
	Max       float64 `json:"max" yaml:"max"`
	Slope     float64 `json:"slope_per_second" yaml:"slope_per_second"`
	Direction string  `json:"direction" yaml:"direction"`
	Samples   int     `json:"samples" yaml:"samples"`
}

type trendMetric struct {
	name string
	// stableSlope is the absolute slope per second below which the
	// metric counts as flat.
	stableSlope float64
	value       func(MetricSample) float64
}

var trendMetrics = []trendMetric{
	{"cpu_percent", 0.5, func(s MetricSample) float64 { return s.CPUPercent }},
	{"memory_rss_mb", 1, func(s MetricSample) float64 { return s.MemoryRSSMB }},
	{"memory_percent", 0.1, func(s MetricSample) float64 { return s.MemoryPercent }},
	{"num_threads", 0.05, func(s MetricSample) float64 { return float64(s.NumThreads) }},
}

// ComputeTrends fits mean, deviation and a least-squares slope to each
// tracked metric over the newest samples of one process.
func ComputeTrends(samples []MetricSample) []MetricTrend {
	if len(samples) > trendWindow {
		samples = samples[len(samples)-trendWindow:]
	}
	trends := make([]MetricTrend, 0, len(trendMetrics))
	if len(samples) == 0 {
		return trends
	}

	xs := make([]float64, len(samples))
	origin := samples[0].Timestamp
	for i, s := range samples {
		xs[i] = s.Timestamp.Sub(origin).Seconds()
	}

	ys := make([]float64, len(samples))
	for _, m := range trendMetrics {
		for i, s := range samples {
			ys[i] = m.value(s)
		}
		trends = append(trends, fitTrend(m, xs, ys))
	}
	return trends
}

func fitTrend(m trendMetric, xs, ys []float64) MetricTrend {
	t := MetricTrend{Metric: m.name, Direction: TrendStable, Samples: len(ys)}
	t.Min, t.Max = ys[0], ys[0]
	for _, y := range ys {
		t.Min = math.Min(t.Min, y)
		t.Max = math.Max(t.Max, y)
	}
	if len(ys) < 2 {
		t.Mean = ys[0]
		return t
	}

	t.Mean, t.StdDev = stat.MeanStdDev(ys, nil)
	if xs[len(xs)-1] > xs[0] {
		_, beta := stat.LinearRegression(xs, ys, nil, false)
		if !math.IsNaN(beta) && !math.IsInf(beta, 0) {
			t.Slope = beta
		}
	}

	switch {
	case t.Slope > m.stableSlope:
		t.Direction = TrendIncreasing
	case t.Slope < -m.stableSlope:
		t.Direction = TrendDecreasing
	}
	t.Mean = round2(t.Mean)
	t.StdDev = round2(t.StdDev)
	t.Slope = math.Round(t.Slope*1000) / 1000
	return t
}

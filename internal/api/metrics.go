package api

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowsim/flowsim/internal/diagnostics"
)

const namespace = "flowsim"

// monitorCollector exposes the monitor's latest state on each scrape.
type monitorCollector struct {
	monitor *diagnostics.PerformanceMonitor

	cpu         *prometheus.Desc
	rss         *prometheus.Desc
	memPercent  *prometheus.Desc
	threads     *prometheus.Desc
	tracked     *prometheus.Desc
	active      *prometheus.Desc
	samples     *prometheus.Desc
	dockerOps   *prometheus.Desc
	stageTime   *prometheus.Desc
	traceEvents *prometheus.Desc
}

func newMonitorCollector(m *diagnostics.PerformanceMonitor) *monitorCollector {
	pid := []string{"pid"}
	return &monitorCollector{
		monitor: m,
		cpu: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "cpu_percent"),
			"CPU usage of a monitored process.", pid, nil),
		rss: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "memory_rss_megabytes"),
			"Resident memory of a monitored process.", pid, nil),
		memPercent: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "memory_percent"),
			"Share of host memory used by a monitored process.", pid, nil),
		threads: prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", "threads"),
			"Thread count of a monitored process.", pid, nil),
		tracked: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "tracked_processes"),
			"Number of processes being sampled.", nil, nil),
		active: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "monitoring_active"),
			"1 while the sampling loop runs.", nil, nil),
		samples: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "samples_retained"),
			"Samples held for analysis.", nil, nil),
		dockerOps: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "docker_operations_total"),
			"Container engine operations recorded.", nil, nil),
		stageTime: prometheus.NewDesc(prometheus.BuildFQName(namespace, "stage", "elapsed_seconds"),
			"Elapsed time of the open stage.", []string{"stage"}, nil),
		traceEvents: prometheus.NewDesc(prometheus.BuildFQName(namespace, "trace", "events_total"),
			"Trace events recorded by type.", []string{"type"}, nil),
	}
}

func (c *monitorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpu
	ch <- c.rss
	ch <- c.memPercent
	ch <- c.threads
	ch <- c.tracked
	ch <- c.active
	ch <- c.samples
	ch <- c.dockerOps
	ch <- c.stageTime
	ch <- c.traceEvents
}

func (c *monitorCollector) Collect(ch chan<- prometheus.Metric) {
	sampler := c.monitor.Sampler()
	pids := sampler.TrackedPIDs()
	for _, pid := range pids {
		history := sampler.History(pid)
		if len(history) == 0 {
			continue
		}
		latest := history[len(history)-1]
		label := strconv.Itoa(int(pid))
		ch <- prometheus.MustNewConstMetric(c.cpu, prometheus.GaugeValue, latest.CPUPercent, label)
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, latest.MemoryRSSMB, label)
		ch <- prometheus.MustNewConstMetric(c.memPercent, prometheus.GaugeValue, latest.MemoryPercent, label)
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(latest.NumThreads), label)
	}

	status := c.monitor.Status()
	active := 0.0
	if status.Active {
		active = 1
	}
	ch <- prometheus.MustNewConstMetric(c.tracked, prometheus.GaugeValue, float64(len(pids)))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, active)
	ch <- prometheus.MustNewConstMetric(c.samples, prometheus.GaugeValue, float64(status.SampleCount))
	ch <- prometheus.MustNewConstMetric(c.dockerOps, prometheus.CounterValue, float64(status.DockerOperations))

	for _, st := range c.monitor.Stages() {
		if st.IsOpen() {
			ch <- prometheus.MustNewConstMetric(c.stageTime, prometheus.GaugeValue,
				st.Duration(time.Now()).Seconds(), st.Name)
		}
	}

	for typ, n := range c.monitor.Tracer().Statistics().EventsByType {
		ch <- prometheus.MustNewConstMetric(c.traceEvents, prometheus.CounterValue, float64(n), typ)
	}
}

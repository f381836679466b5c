package diagnostics

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// ContainerStats aggregates resource usage across running containers.
type ContainerStats struct {
	ActiveContainers int     `json:"active_containers"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryMB         float64 `json:"memory_mb"`
}

// ContainerStatsSource reports aggregate container usage.
type ContainerStatsSource interface {
	ContainerStats(ctx context.Context) (ContainerStats, error)
}

// dockerStatsLine is one line of `docker stats --format '{{json .}}'`.
type dockerStatsLine struct {
	Name     string `json:"Name"`
	CPUPerc  string `json:"CPUPerc"`
	MemUsage string `json:"MemUsage"`
}

// DockerStatsSource polls `docker stats --no-stream`. Results are cached
// because the command takes about a second even on idle hosts.
type DockerStatsSource struct {
	runner  CommandRunner
	binary  string
	timeout time.Duration
	ttl     time.Duration

	mu        sync.Mutex
	cached    ContainerStats
	cachedErr error
	fetchedAt time.Time
}

// NewDockerStatsSource creates a stats source using binary through runner.
func NewDockerStatsSource(runner CommandRunner, binary string) *DockerStatsSource {
	if binary == "" {
		binary = "docker"
	}
	return &DockerStatsSource{
		runner:  runner,
		binary:  binary,
		timeout: 5 * time.Second,
		ttl:     5 * time.Second,
	}
}

// ContainerStats returns cached stats when they are fresh.
func (d *DockerStatsSource) ContainerStats(ctx context.Context) (ContainerStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.fetchedAt.IsZero() && time.Since(d.fetchedAt) < d.ttl {
		return d.cached, d.cachedErr
	}

	res, err := d.runner.Run(ctx, d.timeout, d.binary, "stats", "--no-stream", "--format", "{{json .}}")
	d.fetchedAt = time.Now()
	if err != nil {
		d.cached, d.cachedErr = ContainerStats{}, err
		return d.cached, err
	}
	d.cached, d.cachedErr = parseDockerStats(res.Output), nil
	return d.cached, nil
}

func parseDockerStats(output string) ContainerStats {
	var stats ContainerStats
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row dockerStatsLine
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			continue
		}
		stats.ActiveContainers++
		if v, ok := parseFloatField(strings.TrimSuffix(row.CPUPerc, "%")); ok {
			stats.CPUPercent += v
		}
		used, _, _ := strings.Cut(row.MemUsage, "/")
		if v, ok := parseSizeStringToMB(used); ok {
			stats.MemoryMB += v
		}
	}
	return stats
}

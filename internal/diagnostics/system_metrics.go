package diagnostics

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// GPUInfo names a graphics adapter found on the host.
type GPUInfo struct {
	Name   string `json:"name" yaml:"name"`
	Vendor string `json:"vendor,omitempty" yaml:"vendor,omitempty"`
}

// SystemMetrics holds host-wide resource usage.
type SystemMetrics struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	Hostname string `json:"hostname" yaml:"hostname"`
	Platform string `json:"platform" yaml:"platform"`
	Uptime   uint64 `json:"uptime_seconds" yaml:"uptime_seconds"`

	CPUModel   string  `json:"cpu_model" yaml:"cpu_model"`
	CPUCores   int     `json:"cpu_cores" yaml:"cpu_cores"`
	CPUThreads int     `json:"cpu_threads" yaml:"cpu_threads"`
	CPUPercent float64 `json:"cpu_percent" yaml:"cpu_percent"`

	MemTotalMB float64 `json:"mem_total_mb" yaml:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb" yaml:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent" yaml:"mem_percent"`

	DiskTotalGB float64 `json:"disk_total_gb" yaml:"disk_total_gb"`
	DiskUsedGB  float64 `json:"disk_used_gb" yaml:"disk_used_gb"`
	DiskPercent float64 `json:"disk_percent" yaml:"disk_percent"`

	LoadAvg1  float64 `json:"load_avg_1" yaml:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5" yaml:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15" yaml:"load_avg_15"`

	GPUs []GPUInfo `json:"gpus" yaml:"gpus"`
}

// SystemSampler collects host metrics.
type SystemSampler interface {
	Collect(ctx context.Context) SystemMetrics
}

// SystemMetricsCollector collects host statistics with gopsutil. CPU usage
// is the delta between consecutive calls; the first call falls back to a
// short blocking measurement.
type SystemMetricsCollector struct {
	mu           sync.Mutex
	lastCPUTotal float64
	lastCPUIdle  float64

	infoCollected bool
	hostname      string
	platform      string
	cpuModel      string
	cpuCores      int
	cpuThreads    int
	gpus          []GPUInfo
}

// NewSystemMetricsCollector creates a new system metrics collector.
func NewSystemMetricsCollector() *SystemMetricsCollector {
	return &SystemMetricsCollector{}
}

// Collect gathers current host statistics. Individual sources that fail
// leave their fields zeroed.
func (c *SystemMetricsCollector) Collect(ctx context.Context) SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := SystemMetrics{Timestamp: time.Now()}

	c.collectStaticInfo(ctx, &stats)
	c.collectCPU(ctx, &stats)
	c.collectMemory(ctx, &stats)
	c.collectDisk(ctx, &stats)
	c.collectLoad(ctx, &stats)

	if up, err := host.UptimeWithContext(ctx); err == nil {
		stats.Uptime = up
	}

	return stats
}

func (c *SystemMetricsCollector) collectMemory(ctx context.Context, stats *SystemMetrics) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return
	}
	stats.MemTotalMB = bytesToMB(vm.Total)
	stats.MemUsedMB = bytesToMB(vm.Used)
	stats.MemPercent = vm.UsedPercent
}

func (c *SystemMetricsCollector) collectCPU(ctx context.Context, stats *SystemMetrics) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(times) == 0 {
		return
	}

	t := times[0]
	total := t.User + t.Nice + t.System + t.Idle + t.Iowait + t.Irq + t.Softirq + t.Steal
	idle := t.Idle + t.Iowait

	if c.lastCPUTotal > 0 {
		if totalDelta := total - c.lastCPUTotal; totalDelta > 0 {
			stats.CPUPercent = (1 - (idle-c.lastCPUIdle)/totalDelta) * 100
		}
	} else if pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}

	c.lastCPUTotal = total
	c.lastCPUIdle = idle
}

func (c *SystemMetricsCollector) collectDisk(ctx context.Context, stats *SystemMetrics) {
	usage, err := disk.UsageWithContext(ctx, rootDiskPath())
	if err != nil {
		return
	}
	const gb = 1024 * 1024 * 1024
	stats.DiskTotalGB = float64(usage.Total) / gb
	stats.DiskUsedGB = float64(usage.Used) / gb
	stats.DiskPercent = usage.UsedPercent
}

func (c *SystemMetricsCollector) collectLoad(ctx context.Context, stats *SystemMetrics) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return
	}
	stats.LoadAvg1 = avg.Load1
	stats.LoadAvg5 = avg.Load5
	stats.LoadAvg15 = avg.Load15
}

// collectStaticInfo fills fields that do not change while the process runs.
// They are read once per collector.
func (c *SystemMetricsCollector) collectStaticInfo(ctx context.Context, stats *SystemMetrics) {
	if !c.infoCollected {
		if hi, err := host.InfoWithContext(ctx); err == nil {
			c.hostname = hi.Hostname
			c.platform = strings.TrimSpace(hi.Platform + " " + hi.PlatformVersion)
		}
		if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
			c.cpuModel = strings.TrimSpace(infos[0].ModelName)
		}
		if cores, err := cpu.CountsWithContext(ctx, false); err == nil && cores > 0 {
			c.cpuCores = cores
		}
		if threads, err := cpu.CountsWithContext(ctx, true); err == nil && threads > 0 {
			c.cpuThreads = threads
		}
		c.gpus = queryGPUs()
		c.infoCollected = true
	}

	stats.Hostname = c.hostname
	stats.Platform = c.platform
	if stats.Platform == "" {
		stats.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	stats.CPUModel = c.cpuModel
	stats.CPUCores = c.cpuCores
	stats.CPUThreads = c.cpuThreads
	stats.GPUs = append([]GPUInfo{}, c.gpus...)
}

// queryGPUs lists graphics cards via ghw. Containers and CI runners often
// lack /sys access, so failure just yields no GPUs.
func queryGPUs() []GPUInfo {
	info, err := ghw.GPU()
	if err != nil || info == nil {
		return nil
	}

	gpus := make([]GPUInfo, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		gpu := GPUInfo{}
		if card.DeviceInfo != nil {
			if card.DeviceInfo.Vendor != nil {
				gpu.Vendor = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
			if card.DeviceInfo.Product != nil {
				gpu.Name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			}
		}
		if gpu.Name == "" {
			gpu.Name = fmt.Sprintf("GPU %d", card.Index)
		}
		gpus = append(gpus, gpu)
	}
	return gpus
}

var sizePattern = regexp.MustCompile(`(?i)([0-9]*\.?[0-9]+)\s*([kmgt]i?b|b)\b`)

// parseSizeStringToMB parses sizes such as "256MiB", "1.5GB" or "512kB".
func parseSizeStringToMB(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if m := sizePattern.FindStringSubmatch(s); len(m) == 3 {
		return parseSizeToMB(m[1], m[2])
	}
	return parseFloatField(s)
}

func parseSizeToMB(value, unit string) (float64, bool) {
	v, ok := parseFloatField(value)
	if !ok {
		return 0, false
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "b":
		return v / bytesPerMB, true
	case "kb", "kib":
		return v / 1024, true
	case "mb", "mib":
		return v, true
	case "gb", "gib":
		return v * 1024, true
	case "tb", "tib":
		return v * 1024 * 1024, true
	default:
		return v, true
	}
}

func parseFloatField(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func rootDiskPath() string {
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}

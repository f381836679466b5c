package diagnostics

import "time"

// MetricSample is one observation of a monitored process. Samples are values
// and are never modified after they are recorded.
type MetricSample struct {
	Timestamp     time.Time `json:"timestamp" yaml:"timestamp"`
	PID           int32     `json:"pid" yaml:"pid"`
	Status        string    `json:"status" yaml:"status"`
	CPUPercent    float64   `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryRSSMB   float64   `json:"memory_rss_mb" yaml:"memory_rss_mb"`
	MemoryVMSMB   float64   `json:"memory_vms_mb" yaml:"memory_vms_mb"`
	MemoryPercent float64   `json:"memory_percent" yaml:"memory_percent"`
	NumThreads    int32     `json:"num_threads" yaml:"num_threads"`

	// Cumulative process IO since process start.
	DiskReadMB  float64 `json:"disk_read_mb" yaml:"disk_read_mb"`
	DiskWriteMB float64 `json:"disk_write_mb" yaml:"disk_write_mb"`

	// Host-wide network counters.
	NetSentBytes uint64 `json:"net_sent_bytes" yaml:"net_sent_bytes"`
	NetRecvBytes uint64 `json:"net_recv_bytes" yaml:"net_recv_bytes"`

	DockerOperationsCount int64   `json:"docker_operations_count" yaml:"docker_operations_count"`
	ActiveContainers      int     `json:"active_containers" yaml:"active_containers"`
	DockerCPUPercent      float64 `json:"docker_cpu_percent" yaml:"docker_cpu_percent"`
	DockerMemoryMB        float64 `json:"docker_memory_mb" yaml:"docker_memory_mb"`
}

// ProcessState classifies a point-in-time process lookup.
type ProcessState string

const (
	ProcessRunning    ProcessState = "running"
	ProcessTerminated ProcessState = "terminated"
	ProcessNotFound   ProcessState = "not_found"
)

// ProcessStatus is a point snapshot of one pid.
type ProcessStatus struct {
	PID         int32         `json:"pid"`
	State       ProcessState  `json:"state"`
	Status      string        `json:"status,omitempty"`
	Tracked     bool          `json:"tracked"`
	SampleCount int           `json:"sample_count"`
	Latest      *MetricSample `json:"latest,omitempty"`
}

// ProcessHang flags a tracked process that made no progress.
type ProcessHang struct {
	PID       int32         `json:"pid"`
	Reason    string        `json:"reason"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Samples   int           `json:"samples"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
}

// HangReasonNoCPU is reported when consecutive samples show zero CPU with an
// unchanged status.
const HangReasonNoCPU = "no_cpu_activity"

// processRecord is the sampler-owned state of one tracked pid.
type processRecord struct {
	pid        int32
	history    *Ring[MetricSample]
	lastStatus string
	lastErr    error
	added      time.Time
}

func newProcessRecord(pid int32, capacity int, now time.Time) *processRecord {
	return &processRecord{
		pid:     pid,
		history: NewRing[MetricSample](capacity),
		added:   now,
	}
}

const bytesPerMB = 1024 * 1024

func bytesToMB(b uint64) float64 {
	return float64(b) / bytesPerMB
}

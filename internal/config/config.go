package config

import "time"

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Health   HealthConfig   `mapstructure:"health"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Report   ReportConfig   `mapstructure:"report"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MonitorConfig configures process sampling and event tracing.
type MonitorConfig struct {
	SampleInterval  string `mapstructure:"sample_interval"`
	HistorySize     int    `mapstructure:"history_size"`
	StopTimeout     string `mapstructure:"stop_timeout"`
	HangSamples     int    `mapstructure:"hang_samples"`
	AnalysisHistory int    `mapstructure:"analysis_history"`
	TraceMaxEvents  int    `mapstructure:"trace_max_events"`
	DockerStats     bool   `mapstructure:"docker_stats"`
}

// HealthConfig configures the environment health probes.
type HealthConfig struct {
	CPUHigh         float64  `mapstructure:"cpu_high"`
	MemoryHigh      float64  `mapstructure:"memory_high"`
	DiskHigh        float64  `mapstructure:"disk_high"`
	HistorySize     int      `mapstructure:"history_size"`
	HangWindow      int      `mapstructure:"hang_window"`
	EngineBinary    string   `mapstructure:"engine_binary"`
	CompanionBinary string   `mapstructure:"companion_binary"`
	CompanionPaths  []string `mapstructure:"companion_paths"`
	EngineSocket    string   `mapstructure:"engine_socket"`
	EngineGroup     string   `mapstructure:"engine_group"`
	VersionTimeout  string   `mapstructure:"version_timeout"`
	InfoTimeout     string   `mapstructure:"info_timeout"`
	SmokeTimeout    string   `mapstructure:"smoke_timeout"`
}

// AnalysisConfig holds the thresholds used by the bottleneck and
// optimization rules.
type AnalysisConfig struct {
	CPUHigh            float64 `mapstructure:"cpu_high"`
	MemoryHigh         float64 `mapstructure:"memory_high"`
	Window             int     `mapstructure:"window"`
	StageSlow          string  `mapstructure:"stage_slow"`
	DiskIOMBps         float64 `mapstructure:"disk_io_mbps"`
	DockerOpsThreshold int     `mapstructure:"docker_ops_threshold"`
	DockerOpsWindow    string  `mapstructure:"docker_ops_window"`
	ParallelStage      string  `mapstructure:"parallel_stage"`
	LowDensity         float64 `mapstructure:"low_density"`
	LowUtilization     float64 `mapstructure:"low_utilization"`
}

// ReportConfig configures report export.
type ReportConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the live HTTP surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Duration parses a duration field, falling back to def when the value is
// empty or malformed. Validated configs never hit the fallback.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

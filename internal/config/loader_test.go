package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Monitor.SampleInterval != "1s" {
		t.Errorf("Monitor.SampleInterval = %q, want %q", cfg.Monitor.SampleInterval, "1s")
	}
	if cfg.Monitor.HistorySize != 100 {
		t.Errorf("Monitor.HistorySize = %d, want 100", cfg.Monitor.HistorySize)
	}
	if cfg.Monitor.HangSamples != 5 {
		t.Errorf("Monitor.HangSamples = %d, want 5", cfg.Monitor.HangSamples)
	}
	if cfg.Health.CPUHigh != 90 || cfg.Health.MemoryHigh != 85 {
		t.Errorf("Health thresholds = %v/%v, want 90/85", cfg.Health.CPUHigh, cfg.Health.MemoryHigh)
	}
	if cfg.Health.EngineBinary != "docker" || cfg.Health.CompanionBinary != "act" {
		t.Errorf("binaries = %q/%q", cfg.Health.EngineBinary, cfg.Health.CompanionBinary)
	}
	if len(cfg.Health.CompanionPaths) == 0 {
		t.Error("expected default companion search paths")
	}
	if cfg.Analysis.CPUHigh != 85 || cfg.Analysis.Window != 5 {
		t.Errorf("Analysis cpu/window = %v/%d, want 85/5", cfg.Analysis.CPUHigh, cfg.Analysis.Window)
	}
	if cfg.Analysis.DockerOpsThreshold != 50 {
		t.Errorf("Analysis.DockerOpsThreshold = %d, want 50", cfg.Analysis.DockerOpsThreshold)
	}
	if cfg.Report.Format != "json" {
		t.Errorf("Report.Format = %q, want json", cfg.Report.Format)
	}

	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLOWSIM_LOG_LEVEL", "debug")
	t.Setenv("FLOWSIM_MONITOR_HISTORY_SIZE", "250")
	t.Setenv("FLOWSIM_ANALYSIS_STAGE_SLOW", "2m")

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Monitor.HistorySize != 250 {
		t.Errorf("Monitor.HistorySize = %d, want 250", cfg.Monitor.HistorySize)
	}
	if cfg.Analysis.StageSlow != "2m" {
		t.Errorf("Analysis.StageSlow = %q, want 2m", cfg.Analysis.StageSlow)
	}
}

func TestLoader_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	content := `
monitor:
  sample_interval: 250ms
  docker_stats: true
health:
  engine_binary: podman
report:
  format: yaml
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader().WithConfigFile(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Monitor.SampleInterval != "250ms" {
		t.Errorf("SampleInterval = %q", cfg.Monitor.SampleInterval)
	}
	if !cfg.Monitor.DockerStats {
		t.Error("DockerStats = false, want true")
	}
	if cfg.Health.EngineBinary != "podman" {
		t.Errorf("EngineBinary = %q, want podman", cfg.Health.EngineBinary)
	}
	if cfg.Report.Format != "yaml" {
		t.Errorf("Report.Format = %q", cfg.Report.Format)
	}
	// untouched keys keep defaults
	if cfg.Monitor.HistorySize != 100 {
		t.Errorf("HistorySize = %d, want default 100", cfg.Monitor.HistorySize)
	}
	if loader.ConfigFile() != path {
		t.Errorf("ConfigFile() = %q, want %q", loader.ConfigFile(), path)
	}
}

func TestLoader_ProjectFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.MkdirAll(filepath.Join(dir, ".flowsim"), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".flowsim", "config.yaml"), []byte("log:\n  level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
}

func TestLoader_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("monitor: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewLoader().WithConfigFile(path).Load(); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestDefault_MatchesLoader(t *testing.T) {
	cfg := Default()
	if cfg.Monitor.TraceMaxEvents != 10000 {
		t.Errorf("TraceMaxEvents = %d, want 10000", cfg.Monitor.TraceMaxEvents)
	}
	if cfg.Health.InfoTimeout != "15s" {
		t.Errorf("InfoTimeout = %q, want 15s", cfg.Health.InfoTimeout)
	}
}

func TestDefaultConfigYAML_Loads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := AtomicWrite(path, []byte(DefaultConfigYAML)); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().WithConfigFile(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("default YAML should validate: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8089" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

func TestDuration(t *testing.T) {
	tests := []struct {
		in   string
		def  time.Duration
		want time.Duration
	}{
		{"2s", time.Second, 2 * time.Second},
		{"", time.Second, time.Second},
		{"garbage", time.Second, time.Second},
		{"-5s", time.Second, time.Second},
	}
	for _, tt := range tests {
		if got := Duration(tt.in, tt.def); got != tt.want {
			t.Errorf("Duration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateMonitor(&cfg.Monitor)
	v.validateHealth(&cfg.Health)
	v.validateAnalysis(&cfg.Analysis)
	v.validateReport(&cfg.Report)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateMonitor(cfg *MonitorConfig) {
	v.validateDuration("monitor.sample_interval", cfg.SampleInterval)
	v.validateDuration("monitor.stop_timeout", cfg.StopTimeout)

	if cfg.HistorySize <= 0 {
		v.addError("monitor.history_size", cfg.HistorySize, "must be positive")
	}
	if cfg.HangSamples < 2 {
		v.addError("monitor.hang_samples", cfg.HangSamples, "must be at least 2")
	}
	if cfg.HangSamples > cfg.HistorySize {
		v.addError("monitor.hang_samples", cfg.HangSamples, "must not exceed monitor.history_size")
	}
	if cfg.AnalysisHistory <= 0 {
		v.addError("monitor.analysis_history", cfg.AnalysisHistory, "must be positive")
	}
	if cfg.TraceMaxEvents <= 0 {
		v.addError("monitor.trace_max_events", cfg.TraceMaxEvents, "must be positive")
	}
}

func (v *Validator) validateHealth(cfg *HealthConfig) {
	v.validatePercent("health.cpu_high", cfg.CPUHigh)
	v.validatePercent("health.memory_high", cfg.MemoryHigh)
	v.validatePercent("health.disk_high", cfg.DiskHigh)

	if cfg.HistorySize <= 0 {
		v.addError("health.history_size", cfg.HistorySize, "must be positive")
	}
	if cfg.HangWindow <= 0 || cfg.HangWindow > cfg.HistorySize {
		v.addError("health.hang_window", cfg.HangWindow, "must be between 1 and health.history_size")
	}
	if cfg.EngineBinary == "" {
		v.addError("health.engine_binary", cfg.EngineBinary, "binary name required")
	}
	if cfg.CompanionBinary == "" {
		v.addError("health.companion_binary", cfg.CompanionBinary, "binary name required")
	}

	v.validateDuration("health.version_timeout", cfg.VersionTimeout)
	v.validateDuration("health.info_timeout", cfg.InfoTimeout)
	v.validateDuration("health.smoke_timeout", cfg.SmokeTimeout)
}

func (v *Validator) validateAnalysis(cfg *AnalysisConfig) {
	v.validatePercent("analysis.cpu_high", cfg.CPUHigh)
	v.validatePercent("analysis.memory_high", cfg.MemoryHigh)
	v.validatePercent("analysis.low_utilization", cfg.LowUtilization)

	if cfg.Window <= 0 {
		v.addError("analysis.window", cfg.Window, "must be positive")
	}
	if cfg.DiskIOMBps <= 0 {
		v.addError("analysis.disk_io_mbps", cfg.DiskIOMBps, "must be positive")
	}
	if cfg.DockerOpsThreshold <= 0 {
		v.addError("analysis.docker_ops_threshold", cfg.DockerOpsThreshold, "must be positive")
	}
	if cfg.LowDensity < 0 {
		v.addError("analysis.low_density", cfg.LowDensity, "must be non-negative")
	}

	v.validateDuration("analysis.stage_slow", cfg.StageSlow)
	v.validateDuration("analysis.docker_ops_window", cfg.DockerOpsWindow)
	v.validateDuration("analysis.parallel_stage", cfg.ParallelStage)
}

func (v *Validator) validateReport(cfg *ReportConfig) {
	validFormats := map[string]bool{
		"json": true, "yaml": true, "yml": true,
	}
	if !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("report.format", cfg.Format, "must be one of: json, yaml")
	}

	if cfg.Dir == "" {
		v.addError("report.dir", cfg.Dir, "directory required")
	} else if !isValidPath(cfg.Dir) {
		v.addError("report.dir", cfg.Dir, "invalid directory path")
	}
}

func (v *Validator) validateDuration(field, value string) {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
	}
}

func (v *Validator) validatePercent(field string, value float64) {
	if value <= 0 || value > 100 {
		v.addError(field, value, "must be in (0, 100]")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}

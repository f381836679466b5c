package cmd

import (
	"log/slog"
	"time"

	"github.com/flowsim/flowsim/internal/config"
	"github.com/flowsim/flowsim/internal/diagnostics"
)

func thresholdsFromConfig(cfg *config.Config) diagnostics.Thresholds {
	d := diagnostics.DefaultThresholds()
	a := cfg.Analysis
	return diagnostics.Thresholds{
		CPUHigh:            a.CPUHigh,
		MemoryHigh:         a.MemoryHigh,
		Window:             a.Window,
		StageSlow:          config.Duration(a.StageSlow, d.StageSlow),
		DiskIOMBps:         a.DiskIOMBps,
		DockerOpsThreshold: a.DockerOpsThreshold,
		DockerOpsWindow:    config.Duration(a.DockerOpsWindow, d.DockerOpsWindow),
		ParallelStage:      config.Duration(a.ParallelStage, d.ParallelStage),
		LowDensity:         a.LowDensity,
		LowUtilization:     a.LowUtilization,
	}
}

func samplerOptionsFromConfig(cfg *config.Config, logger *slog.Logger) diagnostics.SamplerOptions {
	m := cfg.Monitor
	opts := diagnostics.SamplerOptions{
		Interval:    config.Duration(m.SampleInterval, time.Second),
		HistorySize: m.HistorySize,
		StopTimeout: config.Duration(m.StopTimeout, 2*time.Second),
		HangSamples: m.HangSamples,
		Logger:      logger,
	}
	if m.DockerStats {
		opts.Containers = diagnostics.NewDockerStatsSource(
			diagnostics.NewSafeExecutor(logger), cfg.Health.EngineBinary)
	}
	return opts
}

func monitorOptionsFromConfig(cfg *config.Config, logger *slog.Logger) diagnostics.MonitorOptions {
	return diagnostics.MonitorOptions{
		Sampler:         samplerOptionsFromConfig(cfg, logger),
		Thresholds:      thresholdsFromConfig(cfg),
		AnalysisHistory: cfg.Monitor.AnalysisHistory,
		TraceMaxEvents:  cfg.Monitor.TraceMaxEvents,
		Logger:          logger,
	}
}

func healthOptionsFromConfig(cfg *config.Config, logger *slog.Logger) diagnostics.HealthOptions {
	h := cfg.Health
	return diagnostics.HealthOptions{
		CPUHigh:         h.CPUHigh,
		MemoryHigh:      h.MemoryHigh,
		DiskHigh:        h.DiskHigh,
		HistorySize:     h.HistorySize,
		HangWindow:      h.HangWindow,
		EngineBinary:    h.EngineBinary,
		CompanionBinary: h.CompanionBinary,
		CompanionPaths:  h.CompanionPaths,
		EngineSocket:    h.EngineSocket,
		EngineGroup:     h.EngineGroup,
		VersionTimeout:  config.Duration(h.VersionTimeout, 10*time.Second),
		InfoTimeout:     config.Duration(h.InfoTimeout, 15*time.Second),
		SmokeTimeout:    config.Duration(h.SmokeTimeout, 5*time.Second),
		Logger:          logger,
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "FLOWSIM"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: envPrefix,
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (FLOWSIM_*)
// 3. Project config (.flowsim/config.yaml)
// 4. User config (~/.config/flowsim/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".flowsim")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "flowsim"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("monitor.sample_interval", "1s")
	l.v.SetDefault("monitor.history_size", 100)
	l.v.SetDefault("monitor.stop_timeout", "2s")
	l.v.SetDefault("monitor.hang_samples", 5)
	l.v.SetDefault("monitor.analysis_history", 1000)
	l.v.SetDefault("monitor.trace_max_events", 10000)
	l.v.SetDefault("monitor.docker_stats", false)

	l.v.SetDefault("health.cpu_high", 90.0)
	l.v.SetDefault("health.memory_high", 85.0)
	l.v.SetDefault("health.disk_high", 90.0)
	l.v.SetDefault("health.history_size", 100)
	l.v.SetDefault("health.hang_window", 3)
	l.v.SetDefault("health.engine_binary", "docker")
	l.v.SetDefault("health.companion_binary", "act")
	l.v.SetDefault("health.companion_paths", []string{
		"/usr/local/bin/act",
		"/opt/homebrew/bin/act",
		"~/.local/bin/act",
		"~/bin/act",
	})
	l.v.SetDefault("health.engine_socket", "/var/run/docker.sock")
	l.v.SetDefault("health.engine_group", "docker")
	l.v.SetDefault("health.version_timeout", "10s")
	l.v.SetDefault("health.info_timeout", "15s")
	l.v.SetDefault("health.smoke_timeout", "5s")

	l.v.SetDefault("analysis.cpu_high", 85.0)
	l.v.SetDefault("analysis.memory_high", 85.0)
	l.v.SetDefault("analysis.window", 5)
	l.v.SetDefault("analysis.stage_slow", "60s")
	l.v.SetDefault("analysis.disk_io_mbps", 50.0)
	l.v.SetDefault("analysis.docker_ops_threshold", 50)
	l.v.SetDefault("analysis.docker_ops_window", "60s")
	l.v.SetDefault("analysis.parallel_stage", "15s")
	l.v.SetDefault("analysis.low_density", 0.1)
	l.v.SetDefault("analysis.low_utilization", 30.0)

	l.v.SetDefault("report.dir", ".flowsim/reports")
	l.v.SetDefault("report.format", "json")

	l.v.SetDefault("server.addr", "127.0.0.1:8089")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// Default returns a fully defaulted configuration without reading files or
// the environment. Used by tests and by library callers that skip viper.
func Default() *Config {
	l := NewLoader()
	l.setDefaults()
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not unmarshal: %v", err))
	}
	return &cfg
}

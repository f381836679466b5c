package config

// DefaultConfigYAML contains the default configuration YAML content.
// It is written by `flowsim init` and mirrors the loader defaults.
const DefaultConfigYAML = `# flowsim configuration
#
# Values not specified here use built-in defaults.
# Every key can be overridden with FLOWSIM_<SECTION>_<KEY>, e.g. FLOWSIM_LOG_LEVEL=debug.

log:
  level: info
  format: auto          # auto, text, json

# Process sampling
monitor:
  sample_interval: 1s
  history_size: 100     # samples kept per process
  stop_timeout: 2s      # how long StopMonitoring waits for the sampler
  hang_samples: 5       # consecutive idle samples before a process counts as hung
  analysis_history: 1000
  trace_max_events: 10000
  docker_stats: false   # poll "docker stats" for container figures

# Environment probes (flowsim diagnose)
health:
  cpu_high: 90
  memory_high: 85
  disk_high: 90
  history_size: 100
  hang_window: 3
  engine_binary: docker
  companion_binary: act
  engine_socket: /var/run/docker.sock
  engine_group: docker
  version_timeout: 10s
  info_timeout: 15s
  smoke_timeout: 5s

# Bottleneck and optimization rules
analysis:
  cpu_high: 85
  memory_high: 85
  window: 5
  stage_slow: 60s
  disk_io_mbps: 50
  docker_ops_threshold: 50
  docker_ops_window: 60s
  parallel_stage: 15s
  low_density: 0.1
  low_utilization: 30

report:
  dir: .flowsim/reports
  format: json          # json, yaml

server:
  addr: 127.0.0.1:8089
`

package diagnostics

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsim/flowsim/internal/core"
)

const (
	dockerPath = "/usr/bin/docker"
	actPath    = "/usr/local/bin/act"

	dockerVersionKey = dockerPath + " --version"
	dockerInfoKey    = dockerPath + " info --format {{.ServerVersion}}"
	actVersionKey    = actPath + " --version"
	actHelpKey       = actPath + " --help"
)

type fakeHangs []ProcessHang

func (f fakeHangs) DetectHangingProcesses() []ProcessHang { return f }

func healthyRunner() *fakeRunner {
	return &fakeRunner{
		paths: map[string]string{"docker": dockerPath, "act": actPath},
		results: map[string]fakeResult{
			dockerVersionKey: {out: "Docker version 27.1.1, build 6312585\n"},
			dockerInfoKey:    {out: "27.1.1"},
			actVersionKey:    {out: "act version 0.2.68"},
			actHelpKey:       {out: "Usage: act [event name]"},
		},
	}
}

func newTestProbe(runner *fakeRunner, metrics ...SystemMetrics) *HealthProbe {
	if len(metrics) == 0 {
		metrics = []SystemMetrics{{CPUPercent: 20, MemPercent: 40, DiskPercent: 50}}
	}
	p := NewHealthProbe(HealthOptions{
		System:         &fakeSystem{metrics: metrics},
		Runner:         runner,
		CompanionPaths: []string{"/opt/homebrew/bin/act"},
		EngineSocket:   "/var/run/docker.sock",
	})
	p.identity = func() (Identity, error) {
		return Identity{UID: 1000, GID: 1000, Username: "ci", Groups: []string{"ci", "docker"}}, nil
	}
	p.socket = func(string) SocketAccess {
		return SocketAccess{Exists: true, IsSocket: true, Accessible: true}
	}
	return p
}

func TestCheckSystemHealth(t *testing.T) {
	p := newTestProbe(healthyRunner(),
		SystemMetrics{CPUPercent: 20, MemPercent: 40},
		SystemMetrics{CPUPercent: 95, MemPercent: 40},
		SystemMetrics{CPUPercent: 20, MemPercent: 90, DiskPercent: 97},
	)

	res := p.CheckSystemHealth(t.Context())
	assert.Equal(t, HealthOK, res.Status)
	assert.Equal(t, ComponentSystem, res.Component)
	assert.Equal(t, 20.0, res.Details["cpu_percent"])

	res = p.CheckSystemHealth(t.Context())
	assert.Equal(t, HealthWarning, res.Status)
	assert.Contains(t, res.Message, "CPU")
	assert.Len(t, res.Recommendations, 1)

	res = p.CheckSystemHealth(t.Context())
	assert.Equal(t, HealthWarning, res.Status)
	assert.Contains(t, res.Message, "memory")
	assert.Contains(t, res.Message, "disk")

	assert.Len(t, p.History(), 3)
}

func TestCheckSystemHealth_HistoryIsBounded(t *testing.T) {
	p := NewHealthProbe(HealthOptions{
		System:      &fakeSystem{metrics: []SystemMetrics{{}}},
		Runner:      healthyRunner(),
		HistorySize: 4,
	})
	for range 10 {
		p.CheckSystemHealth(t.Context())
	}
	assert.Len(t, p.History(), 4)
}

func TestDetectHangupConditions(t *testing.T) {
	hot := SystemMetrics{CPUPercent: 97, MemPercent: 92}
	p := newTestProbe(healthyRunner(), SystemMetrics{CPUPercent: 97, MemPercent: 50}, hot, hot, hot)

	assert.Empty(t, p.DetectHangupConditions(), "no history yet")

	for range 3 {
		p.CheckSystemHealth(t.Context())
	}
	assert.Empty(t, p.DetectHangupConditions(), "memory was fine in the first check")

	p.CheckSystemHealth(t.Context())
	conds := p.DetectHangupConditions()
	require.Len(t, conds, 1)
	assert.Equal(t, HangReasonResourcePressure, conds[0].Reason)
	assert.Equal(t, 3, conds[0].Checks)
	assert.Equal(t, 97.0, conds[0].AvgCPUPercent)
}

func TestCheckContainerEngine_OK(t *testing.T) {
	res := newTestProbe(healthyRunner()).CheckContainerEngine(t.Context())
	assert.Equal(t, HealthOK, res.Status)
	assert.Equal(t, "Docker version 27.1.1, build 6312585", res.Details["version"])
	assert.Equal(t, "27.1.1", res.Details["server_version"])
	assert.Empty(t, res.Recommendations)
}

func TestCheckContainerEngine_Missing(t *testing.T) {
	runner := healthyRunner()
	delete(runner.paths, "docker")

	res := newTestProbe(runner).CheckContainerEngine(t.Context())
	assert.Equal(t, HealthError, res.Status)
	path, ok := res.Details["path"]
	assert.True(t, ok)
	assert.Nil(t, path)
	require.NotEmpty(t, res.Recommendations)
	assert.Contains(t, res.Recommendations[0], "Install")
	assert.Zero(t, runner.count(dockerVersionKey))
}

func TestCheckContainerEngine_DaemonFailures(t *testing.T) {
		tests := []struct {
		name   string
		result fakeResult
		advice string
	}{
		{
			name: "permission denied",
			result: fakeResult{err: core.ErrProbeFailed("docker info",
				"permission denied while trying to connect to the Docker daemon socket")},
			advice: "group",
		},
		{
			name: "daemon down",
			result: fakeResult{
				out: "Cannot connect to the Docker daemon. Is the docker daemon running?",
				err: errors.New("exit status 1"),
			},
			advice: "Start the container daemon",
		},
		{
			name:   "timeout",
			result: fakeResult{err: core.ErrProbeTimeout("docker info", 15*time.Second)},
			advice: "did not answer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := healthyRunner()
			runner.results[dockerInfoKey] = tt.result

			res := newTestProbe(runner).CheckContainerEngine(t.Context())
			assert.Equal(t, HealthError, res.Status)
			assert.Contains(t, res.Message, "not reachable")
			require.Len(t, res.Recommendations, 1)
			assert.Contains(t, res.Recommendations[0], tt.advice)
			assert.NotEmpty(t, res.Details["version"])
		})
	}
}

func TestCheckContainerEngine_VersionFails(t *testing.T) {
	runner := healthyRunner()
	runner.results[dockerVersionKey] = fakeResult{err: errors.New("exec format error")}

	res := newTestProbe(runner).CheckContainerEngine(t.Context())
	assert.Equal(t, HealthError, res.Status)
	assert.Contains(t, res.Message, "--version")
	assert.Zero(t, runner.count(dockerInfoKey))
}

func TestCheckCompanionBinary(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		res := newTestProbe(healthyRunner()).CheckCompanionBinary(t.Context())
		assert.Equal(t, HealthOK, res.Status)
		assert.Equal(t, "act version 0.2.68", res.Details["version"])
	})

	t.Run("found in known location", func(t *testing.T) {
		runner := healthyRunner()
		delete(runner.paths, "act")
		runner.paths["brew-act"] = "/opt/homebrew/bin/act"
		runner.results["/opt/homebrew/bin/act --version"] = fakeResult{out: "act version 0.2.60"}
		runner.results["/opt/homebrew/bin/act --help"] = fakeResult{out: "usage"}

		res := newTestProbe(runner).CheckCompanionBinary(t.Context())
		assert.Equal(t, HealthOK, res.Status)
		assert.Equal(t, "/opt/homebrew/bin/act", res.Details["path"])
	})

	t.Run("missing", func(t *testing.T) {
		runner := healthyRunner()
		delete(runner.paths, "act")

		res := newTestProbe(runner).CheckCompanionBinary(t.Context())
		assert.Equal(t, HealthError, res.Status)
		assert.Nil(t, res.Details["path"])
		assert.Contains(t, res.Details["searched"], "/opt/homebrew/bin/act")
		assert.Contains(t, res.Recommendations[0], "Install")
	})

	t.Run("help fails", func(t *testing.T) {
		runner := healthyRunner()
		runner.results[actHelpKey] = fakeResult{err: errors.New("exit status 2")}

		res := newTestProbe(runner).CheckCompanionBinary(t.Context())
		assert.Equal(t, HealthWarning, res.Status)
	})

	t.Run("version fails", func(t *testing.T) {
		runner := healthyRunner()
		runner.results[actVersionKey] = fakeResult{err: errors.New("exit status 1")}

		res := newTestProbe(runner).CheckCompanionBinary(t.Context())
		assert.Equal(t, HealthError, res.Status)
		assert.Zero(t, runner.count(actHelpKey))
	})
}

func TestCheckPermissions(t *testing.T) {
	t.Run("accessible and in group", func(t *testing.T) {
		res := newTestProbe(healthyRunner()).CheckPermissions(t.Context())
		assert.Equal(t, HealthOK, res.Status)
		assert.Equal(t, true, res.Details["in_engine_group"])
		assert.Empty(t, res.Recommendations)
	})

	t.Run("accessible but not in group", func(t *testing.T) {
		p := newTestProbe(healthyRunner())
		p.identity = func() (Identity, error) {
			return Identity{UID: 1000, Username: "ci", Groups: []string{"ci"}}, nil
		}
		res := p.CheckPermissions(t.Context())
		assert.Equal(t, HealthOK, res.Status)
		require.Len(t, res.Recommendations, 1)
		assert.Contains(t, res.Recommendations[0], "usermod -aG docker")
	})

	t.Run("socket missing", func(t *testing.T) {
		p := newTestProbe(healthyRunner())
		p.socket = func(string) SocketAccess { return SocketAccess{Err: fs.ErrNotExist} }
		res := p.CheckPermissions(t.Context())
		assert.Equal(t, HealthError, res.Status)
		assert.Contains(t, res.Message, "does not exist")
	})

	t.Run("socket inaccessible", func(t *testing.T) {
		p := newTestProbe(healthyRunner())
		p.socket = func(string) SocketAccess {
			return SocketAccess{Exists: true, IsSocket: true, Err: fs.ErrPermission}
		}
		res := p.CheckPermissions(t.Context())
		assert.Equal(t, HealthError, res.Status)
		assert.Contains(t, res.Recommendations[0], "group")
	})

	t.Run("root needs no group", func(t *testing.T) {
		p := newTestProbe(healthyRunner())
		p.identity = func() (Identity, error) { return Identity{UID: 0, Username: "root"}, nil }
		res := p.CheckPermissions(t.Context())
		assert.Equal(t, true, res.Details["in_engine_group"])
	})
}

func TestRunComprehensiveHealthCheck_AllHealthy(t *testing.T) {
	report := newTestProbe(healthyRunner()).RunComprehensiveHealthCheck(t.Context())

	assert.Equal(t, HealthOK, report.OverallStatus)
	names := make([]string, len(report.Components))
	for i, c := range report.Components {
		names[i] = c.Component
	}
	assert.Equal(t, []string{
		ComponentSystem, ComponentContainerEngine, ComponentCompanion, ComponentPermissions, ComponentHangDetection,
	}, names)
	assert.Contains(t, report.Summary, "5 of 5")
}

func TestRunComprehensiveHealthCheck_Aggregation(t *testing.T) {
	runner := healthyRunner()
	runner.results[actHelpKey] = fakeResult{err: errors.New("exit status 2")}
	p := newTestProbe(runner)

	report := p.RunComprehensiveHealthCheck(t.Context())
	assert.Equal(t, HealthWarning, report.OverallStatus)
	assert.Contains(t, report.Summary, "companion_binary (WARNING)")

	delete(runner.paths, "docker")
	report = p.RunComprehensiveHealthCheck(t.Context())
	assert.Equal(t, HealthError, report.OverallStatus)
}

func TestRunComprehensiveHealthCheck_ProbesRunConcurrently(t *testing.T) {
	runner := healthyRunner()
	runner.results[dockerInfoKey] = fakeResult{out: "27", sleep: 200 * time.Millisecond}
	runner.results[actVersionKey] = fakeResult{out: "act", sleep: 200 * time.Millisecond}

	start := time.Now()
	report := newTestProbe(runner).RunComprehensiveHealthCheck(t.Context())
	assert.Less(t, time.Since(start), 390*time.Millisecond)
	assert.Equal(t, HealthOK, report.OverallStatus)
}

func TestRunComprehensiveHealthCheck_ProbeTimeoutBecomesError(t *testing.T) {
	runner := healthyRunner()
	runner.results[dockerInfoKey] = fakeResult{sleep: time.Second}
	p := newTestProbe(runner)
	p.opts.InfoTimeout = 50 * time.Millisecond

	report := p.RunComprehensiveHealthCheck(context.Background())
	assert.Equal(t, HealthError, report.Components[1].Status)
	assert.Equal(t, HealthError, report.OverallStatus)
}

func TestRunComprehensiveHealthCheck_HangDetection(t *testing.T) {
	p := newTestProbe(healthyRunner())
	p.opts.Hangs = fakeHangs{{PID: 321, Reason: HangReasonNoCPU, Samples: 5}}

	report := p.RunComprehensiveHealthCheck(t.Context())
	hang := report.Components[len(report.Components)-1]
	assert.Equal(t, ComponentHangDetection, hang.Component)
	assert.Equal(t, HealthWarning, hang.Status)
	assert.Contains(t, hang.Message, "321")
	assert.Equal(t, HealthWarning, report.OverallStatus)
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/ci")
	assert.Equal(t, "/home/ci/bin/act", expandHome("~/bin/act"))
	assert.Equal(t, "/usr/local/bin/act", expandHome("/usr/local/bin/act"))
}

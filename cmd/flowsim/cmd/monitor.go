package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flowsim/flowsim/internal/api"
	"github.com/flowsim/flowsim/internal/diagnostics"
	"github.com/flowsim/flowsim/internal/events"
	"github.com/flowsim/flowsim/internal/logging"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [flags] [-- command [args...]]",
	Short: "Monitor a process or a command and write a performance report",
	Long: `Sample a running process (--pid) for a fixed duration, or launch a command
and sample it until it exits. The run is recorded as an execution stage, and
a performance report with bottlenecks and recommendations is exported when
monitoring ends.

With --serve (or --listen), live metrics, issues and reports are served over
HTTP while monitoring runs, including Prometheus metrics on /metrics.

Examples:
  # Monitor a workflow run end to end
  flowsim monitor -- act -j build

  # Sample an existing process for two minutes
  flowsim monitor --pid 4242 --duration 2m

  # Serve live data while monitoring
  flowsim monitor --listen 127.0.0.1:8089 -- act push`,
	Args: cobra.ArbitraryArgs,
	RunE: runMonitor,
}

var (
	monitorPID      int32
	monitorDuration time.Duration
	monitorInterval time.Duration
	monitorOutput   string
	monitorFormat   string
	monitorListen   string
	monitorServe    bool
	monitorStage    string
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().Int32Var(&monitorPID, "pid", 0, "Process id to monitor")
	monitorCmd.Flags().DurationVar(&monitorDuration, "duration", 30*time.Second,
		"How long to sample --pid (ignored for commands)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0,
		"Sampling interval (default: monitor.sample_interval)")
	monitorCmd.Flags().StringVarP(&monitorOutput, "output", "o", "",
		"Report path (default: <report.dir>/report-<timestamp>.<format>)")
	monitorCmd.Flags().StringVarP(&monitorFormat, "format", "f", "",
		"Report format: json or yaml (default: report.format)")
	monitorCmd.Flags().StringVar(&monitorListen, "listen", "",
		"Serve the live API on this address while monitoring (implies --serve)")
	monitorCmd.Flags().BoolVar(&monitorServe, "serve", false,
		"Serve the live API on server.addr while monitoring")
	monitorCmd.Flags().StringVar(&monitorStage, "stage", "",
		"Stage name for the run (default: command name or pid)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if monitorPID == 0 && len(args) == 0 {
		return errors.New("nothing to monitor: pass --pid or a command after --")
	}
	if monitorPID != 0 && len(args) > 0 {
		return errors.New("--pid and a command are mutually exclusive")
	}

	cfg := currentConfig()
	logger := newLogger(cfg).WithComponent("monitor")

	format := monitorFormat
	if format == "" {
		format = cfg.Report.Format
	}
	format, err := diagnostics.NormalizeFormat(format)
	if err != nil {
		return err
	}
	output := monitorOutput
	if output == "" {
		name := fmt.Sprintf("report-%s.%s", time.Now().Format("20060102-150405"), format)
		output = filepath.Join(cfg.Report.Dir, name)
	}

	opts := monitorOptionsFromConfig(cfg, logger.Slog())
	if monitorInterval > 0 {
		opts.Sampler.Interval = monitorInterval
	}
	var bus *events.EventBus
	if serving() {
		bus = events.New(100)
		defer bus.Close()
		opts.Events = bus
	}
	monitor := diagnostics.NewPerformanceMonitor(opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := monitorWithServer(ctx, cfg.Server.Addr, monitor, bus, logger, func(ctx context.Context) error {
		if len(args) > 0 {
			return monitorCommand(ctx, monitor, args, logger)
		}
		return monitorProcess(ctx, monitor, monitorPID, monitorDuration, logger)
	})

	// The report is written even when the run was interrupted or failed.
	report, err := monitor.ExportMetrics(context.WithoutCancel(ctx), output, format)
	if err != nil {
		return errors.Join(runErr, err)
	}
	logger.Info("report exported", "path", output, "score", report.Metadata.PerformanceScore)

	if !quiet {
		out := cmd.OutOrStdout()
		renderReportSummary(out, report)
		fmt.Fprintf(out, "\nReport written to %s\n", output)
	}
	return runErr
}

// monitorWithServer runs fn, serving the live API alongside it when --serve
// or --listen is set. The server stops when fn returns.
func monitorWithServer(ctx context.Context, defaultAddr string, monitor *diagnostics.PerformanceMonitor,
	bus *events.EventBus, logger *logging.Logger, fn func(context.Context) error) error {
	if !serving() {
		return fn(ctx)
	}

	addr := monitorListen
	if addr == "" {
		addr = defaultAddr
	}
	probe := diagnostics.NewHealthProbe(healthOptionsFromConfig(currentConfig(), logger.Slog()))
	server := api.NewServer(monitor,
		api.WithLogger(logger.Slog()),
		api.WithHealthProbe(probe),
		api.WithEventBus(bus),
	)

	serverCtx, cancelServer := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serverCtx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr)
	})
	g.Go(func() error {
		defer cancelServer()
		return fn(gctx)
	})
	return g.Wait()
}

func monitorProcess(ctx context.Context, monitor *diagnostics.PerformanceMonitor, pid int32, duration time.Duration,
	logger *logging.Logger) error {
	if err := monitor.StartMonitoring(pid); err != nil {
		return err
	}
	defer monitor.StopMonitoring()

	stage := monitorStage
	if stage == "" {
		stage = fmt.Sprintf("pid-%d", pid)
	}
	monitor.StartStage(stage)
	defer monitor.EndStage()
	logger.WithStage(stage).WithPID(pid).Info("monitoring process", "duration", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

func monitorCommand(ctx context.Context, monitor *diagnostics.PerformanceMonitor, args []string, logger *logging.Logger) error {
	child := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // The user asked to run this command
	child.Stdin = os.Stdin
	child.Stdout = os.Stderr
	child.Stderr = os.Stderr
	child.WaitDelay = 5 * time.Second

	stage := monitorStage
	if stage == "" {
		stage = filepath.Base(args[0])
	}
	monitor.StartStage(stage)
	defer func() {
		monitor.EndStage()
		monitor.StopMonitoring()
	}()

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", args[0], err)
	}
	pid := int32(child.Process.Pid) //nolint:gosec // pids fit in int32
	runLog := logger.WithStage(stage).WithPID(pid)
	if err := monitor.StartMonitoring(pid); err != nil {
		runLog.Warn("process exited before monitoring started", "error", err)
	} else {
		runLog.Info("monitoring command", "command", logger.Sanitize(strings.Join(args, " ")))
	}

	if err := child.Wait(); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	return nil
}

func serving() bool {
	return monitorServe || monitorListen != ""
}

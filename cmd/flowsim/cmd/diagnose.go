package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowsim/flowsim/internal/diagnostics"
	"github.com/flowsim/flowsim/internal/logging"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check that this host can run workflows locally",
	Long: `Run the environment health checks: host resources, the container engine
and its daemon, the workflow runner binary and access to the engine socket.

Exits non-zero when any check reports ERROR.`,
	RunE: runDiagnose,
}

var diagnoseJSON bool

// errUnhealthy is returned when the comprehensive check reports ERROR.
var errUnhealthy = errors.New("environment health check failed")

func init() {
	rootCmd.AddCommand(diagnoseCmd)
	diagnoseCmd.Flags().BoolVar(&diagnoseJSON, "json", false, "Print the health report as JSON")
}

func runDiagnose(cmd *cobra.Command, _ []string) error {
	cfg := currentConfig()
	logger := newLogger(cfg).WithComponent("diagnose")

	probe := diagnostics.NewHealthProbe(healthOptionsFromConfig(cfg, logger.Slog()))
	report := sanitizeHealthReport(probe.RunComprehensiveHealthCheck(cmd.Context()), logger)

	out := cmd.OutOrStdout()
	if diagnoseJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encoding health report: %w", err)
		}
	} else {
		renderHealthReport(out, report)
	}

	if report.OverallStatus == diagnostics.HealthError {
		return errUnhealthy
	}
	return nil
}

// sanitizeHealthReport redacts credentials that probe output (docker info,
// runner help text) may echo from the environment.
func sanitizeHealthReport(report diagnostics.HealthReport, logger *logging.Logger) diagnostics.HealthReport {
	components := make([]diagnostics.HealthCheckResult, len(report.Components))
	for i, c := range report.Components {
		c.Message = logger.Sanitize(c.Message)
		recs := make([]string, len(c.Recommendations))
		for j, rec := range c.Recommendations {
			recs[j] = logger.Sanitize(rec)
		}
		c.Recommendations = recs
		if len(c.Details) > 0 {
			c.Details = logger.Sanitizer().SanitizeMap(c.Details)
		}
		components[i] = c
	}
	report.Components = components
	report.Summary = logger.Sanitize(report.Summary)
	return report
}

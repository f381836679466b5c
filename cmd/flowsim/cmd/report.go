package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowsim/flowsim/internal/diagnostics"
)

var reportCmd = &cobra.Command{
	Use:   "report <file>",
	Short: "Summarize an exported performance report",
	Long: `Read a report written by 'flowsim monitor' (JSON or YAML) and print its
score, stages, bottlenecks and top recommendations.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

var reportJSON bool

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the compact summary as JSON")
}

func runReport(cmd *cobra.Command, args []string) error {
	report, err := diagnostics.LoadReport(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report.Summary()); err != nil {
			return fmt.Errorf("encoding summary: %w", err)
		}
		return nil
	}
	renderReportSummary(out, report)
	return nil
}

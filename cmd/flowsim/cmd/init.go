package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowsim/flowsim/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long: `Create .flowsim/config.yaml in the current directory with every setting at
its default value, and the directory exported reports are written to.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	configPath := filepath.Join(cwd, ".flowsim", "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return errors.New("configuration already exists, use --force to overwrite")
	}

	if err := config.AtomicWrite(configPath, []byte(config.DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	reportDir := currentConfig().Report.Dir
	if !filepath.IsAbs(reportDir) {
		reportDir = filepath.Join(cwd, reportDir)
	}
	if err := os.MkdirAll(reportDir, 0o750); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	}
	return nil
}

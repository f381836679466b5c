package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// resetCommandState restores every package-level flag variable so tests do
// not leak state through the shared root command.
func resetCommandState(t *testing.T) {
	t.Helper()
	viper.Reset()
	appConfig = nil
	cfgFile = ""
	logLevel = "info"
	logFormat = "auto"
	noColor = true
	quiet = false

	diagnoseJSON = false
	reportJSON = false
	initForce = false

	monitorPID = 0
	monitorDuration = 30 * time.Second
	monitorInterval = 0
	monitorOutput = ""
	monitorFormat = ""
	monitorListen = ""
	monitorServe = false
	monitorStage = ""

	t.Cleanup(func() {
		viper.Reset()
		appConfig = nil
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetCommandState(t)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// Command laserscan drives a laser-line turntable scanner: full capture
// sessions, manual turntable control, offline extraction of single frames
// and coverage reports from the scan ledger.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/version"
)

var (
	configPath string
	opsLog     string
	diagLog    string
	traceLog   string

	logs      = defaultLogs()
	closeLogs = func() error { return nil }

	openLogWriters = monitoring.OpenWriters
)

func defaultLogs() *monitoring.Streams {
	return monitoring.New("laserscan", monitoring.LogWriters{Ops: os.Stderr})
}

var rootCmd = &cobra.Command{
	Use:           "laserscan",
	Short:         "Laser-line turntable scanner",
	Long:          `laserscan sequences the turntable, camera and line laser through a multi-pose sweep and turns laser frames into calibrated 3D point slices.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		lw, closeFn, err := openLogWriters(opsLog, diagLog, traceLog)
		if err != nil {
			return err
		}
		logs = monitoring.New("laserscan", lw)
		closeLogs = closeFn
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "session config file (.json, .yaml or .yml); defaults apply when empty")
	pf.StringVar(&opsLog, "ops-log", "stderr", "ops stream: stderr, stdout, none or a file path")
	pf.StringVar(&diagLog, "diag-log", "stderr", "diag stream: stderr, stdout, none or a file path")
	pf.StringVar(&traceLog, "trace-log", "none", "trace stream: stderr, stdout, none or a file path")
}

// loadConfig reads --config, or returns the built-in defaults.
func loadConfig() (*config.SessionConfig, error) {
	if configPath == "" {
		return config.EmptySessionConfig(), nil
	}
	return config.Load(configPath)
}

// runRoot runs the command tree and releases the log writers afterwards.
// Cobra skips post-run hooks when RunE fails, so closing happens here.
func runRoot() error {
	err := rootCmd.Execute()
	if cerr := closeLogs(); cerr != nil && err == nil {
		err = fmt.Errorf("closing logs: %w", cerr)
	}
	logs, closeLogs = defaultLogs(), func() error { return nil }
	return err
}

func main() {
	if err := runRoot(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

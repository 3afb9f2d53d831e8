package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/laserscan/internal/ledger"
	"github.com/banshee-data/laserscan/internal/report"
)

var (
	reportLedger  string
	reportSession string
	reportOut     string
	reportList    bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarise capture coverage from the scan ledger",
	Long: `Print per pose and stage coverage for a recorded session (the newest by
default) and optionally write an HTML chart of it.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	f := reportCmd.Flags()
	f.StringVar(&reportLedger, "ledger", "", "ledger database (default ledger_path from the config)")
	f.StringVar(&reportSession, "session", "", "session id (default newest)")
	f.StringVarP(&reportOut, "out", "o", "", "write an HTML coverage chart to this path")
	f.BoolVar(&reportList, "list", false, "list recorded sessions and exit")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	path := reportLedger
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.GetLedgerPath()
	}
	if path == "" {
		return fmt.Errorf("no ledger: pass --ledger or set ledger_path in the config")
	}
	led, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer led.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if reportList {
		sessions, err := led.Sessions(ctx)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			state := "finished"
			if s.FinishedAt.IsZero() {
				state = "unfinished"
			}
			fmt.Fprintf(out, "%s  %s  %v  %s\n", s.ID, s.StartedAt.Format("2006-01-02 15:04:05"), s.Poses, state)
		}
		return nil
	}

	sess, err := led.Session(ctx, reportSession)
	if err != nil {
		return err
	}
	cov, err := led.Coverage(ctx, sess.ID)
	if err != nil {
		return err
	}
	if err := report.Summary(out, sess, cov); err != nil {
		return err
	}
	if reportOut == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := report.Render(&buf, sess, cov); err != nil {
		return err
	}
	if err := os.WriteFile(reportOut, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", reportOut, err)
	}
	logs.Diagf("coverage report written to %s", reportOut)
	return nil
}

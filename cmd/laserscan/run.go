package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/extract"
	"github.com/banshee-data/laserscan/internal/ledger"
	"github.com/banshee-data/laserscan/internal/preview"
	"github.com/banshee-data/laserscan/internal/scan"
)

var runYes bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full capture session",
	Long: `Run every pose of the session config: a laser depth sweep producing point
slices, then an RGB sweep for photogrammetry. Before each pose the operator
is asked to press Enter unless --yes is given. Interrupting stops the
session at the next pose boundary.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "start every pose without waiting for Enter")
	rootCmd.AddCommand(runCmd)
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ex, err := extract.New(extract.ConfigFrom(cfg.Extractor), logs.With("extract"))
	if err != nil {
		return err
	}

	sc := scan.Config{
		Plan:         cfg.Plan(),
		Camera:       cameraOpener(cfg, logs.With("camera")),
		Laser:        laserOpener(cfg.Laser, logs.With("laser")),
		Turntable:    newTurntable(cfg, "", logs.With("turntable")),
		Extractor:    ex,
		Calibration:  scan.FileCalibration(cfg, nil),
		Store:        newStore(cfg, logs.With("store")),
		Confirm:      scan.AutoConfirm,
		PollInterval: cfg.Sync.GetPollInterval(),
		SyncTimeout:  cfg.Sync.GetTimeout(),
		Logger:       logs.With("scan"),
	}
	if !runYes {
		sc.Confirm = scan.Prompt(cmd.InOrStdin(), cmd.OutOrStdout())
	}
	if cfg.GetPreview() {
		sc.Preview = preview.New(preview.Config{Logger: logs.With("preview")})
	}

	var led *ledger.Ledger
	if path := cfg.GetLedgerPath(); path != "" {
		led, err = ledger.Open(path)
		if err != nil {
			return err
		}
		defer led.Close()
		sc.SessionID, err = led.StartSession(ctx, ledger.Session{
			ConfigPath:     configPath,
			OutputDir:      cfg.GetOutputDir(),
			DegreesPerStep: cfg.GetDegreesPerStep(),
			AnglesPerPose:  len(config.Angles(cfg.GetDegreesPerStep())),
			Poses:          cfg.GetPoses(),
		})
		if err != nil {
			return err
		}
		sc.Recorder = led
		logs.Diagf("ledger session %s in %s", sc.SessionID, path)
	}

	sess, err := scan.NewSession(sc)
	if err != nil {
		return err
	}
	sum, runErr := sess.Run(ctx)
	if led != nil {
		if err := led.FinishSession(context.WithoutCancel(ctx), sc.SessionID, time.Now()); err != nil {
			logs.Opsf("warning: closing ledger session: %v", err)
		}
	}
	printSummary(cmd.OutOrStdout(), sum)
	return runErr
}

func printSummary(w io.Writer, sum scan.Summary) {
	for _, p := range sum.Poses {
		line := fmt.Sprintf("%-10s slices %d/%d  images %d/%d  points %d  capture failures %d  degraded syncs %d",
			p.Pose, p.Slices, p.Planned, p.Images, p.Planned, p.Points, p.CaptureFailures, p.DegradedSyncs)
		if p.PersistFailures > 0 {
			line += fmt.Sprintf("  write failures %d", p.PersistFailures)
		}
		if p.CalibrationErr != nil {
			line += "  laser stage skipped: " + p.CalibrationErr.Error()
		}
		fmt.Fprintln(w, line)
	}
	if len(sum.Poses) > 0 && !sum.Complete() {
		fmt.Fprintln(w, "scan incomplete: recapture the missing angles")
	}
}

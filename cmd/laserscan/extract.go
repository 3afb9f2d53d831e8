package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/banshee-data/laserscan/internal/extract"
	"github.com/banshee-data/laserscan/internal/preview"
	"github.com/banshee-data/laserscan/internal/slicestore"
	"github.com/banshee-data/laserscan/internal/triangulate"
)

var (
	extractPose       string
	extractIntrinsics string
	extractPlane      string
	extractBlur       int
	extractThreshold  int
	extractPreview    string
	extractOut        string
)

var extractCmd = &cobra.Command{
	Use:   "extract <image>",
	Short: "Extract and triangulate the laser line of one image",
	Long: `Run laser-line extraction and triangulation on a single image file using
the calibration of one pose, and print how many columns produced a sample and
how many points hit the laser plane.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringVar(&extractPose, "pose", "", "pose whose calibration to use (default first configured pose)")
	f.StringVar(&extractIntrinsics, "intrinsics", "", "intrinsics file, overriding the pose lookup")
	f.StringVar(&extractPlane, "plane", "", "laser plane file, overriding the pose lookup")
	f.IntVar(&extractBlur, "blur", 0, "blur kernel size, overriding the config")
	f.IntVar(&extractThreshold, "threshold", 0, "brightness threshold, overriding the config")
	f.StringVar(&extractPreview, "preview", "", "write an X-Z profile PNG to this path")
	f.StringVar(&extractOut, "out", "", "write the slice JSON to this directory")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pose := extractPose
	if pose == "" {
		pose = cfg.GetPoses()[0]
	}
	intrPath, planePath := extractIntrinsics, extractPlane
	if intrPath == "" {
		intrPath = cfg.IntrinsicsPath(pose)
	}
	if planePath == "" {
		planePath = cfg.LaserPlanePath(pose)
	}

	ecfg := extract.ConfigFrom(cfg.Extractor)
	if cmd.Flags().Changed("blur") {
		ecfg.BlurKernel = extractBlur
	}
	if cmd.Flags().Changed("threshold") {
		ecfg.Threshold = extractThreshold
	}
	ex, err := extract.New(ecfg, logs.With("extract"))
	if err != nil {
		return err
	}
	model, err := triangulate.LoadFiles(intrPath, planePath)
	if err != nil {
		return err
	}

	img, err := imaging.Open(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	obs := ex.Extract(img)
	points := model.WithLogger(logs.With("triangulate")).ObservationToPoints(obs)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d columns, %d samples, %d points\n",
		filepath.Base(args[0]), img.Bounds().Dx(), len(obs), len(points))

	sl := slicestore.Slice{Pose: pose, Timestamp: time.Now(), Points: points}
	if extractOut != "" {
		store := slicestore.New(slicestore.Config{Root: extractOut, Format: cfg.GetSliceFormat(), Logger: logs.With("store")})
		path, err := store.WriteSlice(sl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	if extractPreview != "" {
		if err := preview.New(preview.Config{Logger: logs.With("preview")}).WriteProfile(extractPreview, sl); err != nil {
			return err
		}
	}
	return nil
}

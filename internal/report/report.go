// Package report renders an HTML coverage report for a recorded scan
// session: saved versus missing captures per pose and stage.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/laserscan/internal/ledger"
)

// Render writes the coverage page for sess to w.
func Render(w io.Writer, sess ledger.Session, cov []ledger.StageCoverage) error {
	page := components.NewPage()
	page.PageTitle = "Scan coverage " + sess.ID
	page.AddCharts(captureChart(sess, cov), syncChart(cov))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

type poseStages struct {
	laser, rgb ledger.StageCoverage
}

// byPose folds coverage rows into pose order.
func byPose(cov []ledger.StageCoverage) ([]string, map[string]*poseStages) {
	var poses []string
	out := make(map[string]*poseStages)
	for _, c := range cov {
		ps, ok := out[c.Pose]
		if !ok {
			ps = &poseStages{}
			out[c.Pose] = ps
			poses = append(poses, c.Pose)
		}
		switch c.Stage {
		case ledger.StageLaserDepth:
			ps.laser = c
		case ledger.StagePhotogrammetry:
			ps.rgb = c
		}
	}
	return poses, out
}

func missing(c ledger.StageCoverage) int {
	if n := c.Planned - c.Saved; n > 0 {
		return n
	}
	return 0
}

func captureChart(sess ledger.Session, cov []ledger.StageCoverage) *charts.Bar {
	poses, rows := byPose(cov)
	var laserSaved, laserMissing, rgbSaved, rgbMissing []opts.BarData
	for _, p := range poses {
		r := rows[p]
		laserSaved = append(laserSaved, opts.BarData{Value: r.laser.Saved})
		laserMissing = append(laserMissing, opts.BarData{Value: missing(r.laser)})
		rgbSaved = append(rgbSaved, opts.BarData{Value: r.rgb.Saved})
		rgbMissing = append(rgbMissing, opts.BarData{Value: missing(r.rgb)})
	}

	subtitle := fmt.Sprintf("started %s, %g° step, %d angles per pose",
		sess.StartedAt.Format(time.RFC3339), sess.DegreesPerStep, sess.AnglesPerPose)
	if sess.FinishedAt.IsZero() {
		subtitle += ", unfinished"
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Captures per pose", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)
	label := charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "inside"})
	bar.SetXAxis(poses).
		AddSeries("laser saved", laserSaved, charts.WithBarChartOpts(opts.BarChart{Stack: "laser"}), label).
		AddSeries("laser missing", laserMissing, charts.WithBarChartOpts(opts.BarChart{Stack: "laser"}), label).
		AddSeries("rgb saved", rgbSaved, charts.WithBarChartOpts(opts.BarChart{Stack: "rgb"}), label).
		AddSeries("rgb missing", rgbMissing, charts.WithBarChartOpts(opts.BarChart{Stack: "rgb"}), label)
	return bar
}

func syncChart(cov []ledger.StageCoverage) *charts.Bar {
	poses, rows := byPose(cov)
	var degraded, points []opts.BarData
	for _, p := range poses {
		r := rows[p]
		degraded = append(degraded, opts.BarData{Value: r.laser.DegradedSyncs + r.rgb.DegradedSyncs})
		points = append(points, opts.BarData{Value: r.laser.Points})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Sync and depth", Subtitle: "degraded turntable syncs and triangulated points"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
	)
	bar.SetXAxis(poses).
		AddSeries("degraded syncs", degraded,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("points", points,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

// Summary writes a plain-text coverage table, one line per pose and stage,
// listing the angles that need recapture.
func Summary(w io.Writer, sess ledger.Session, cov []ledger.StageCoverage) error {
	if _, err := fmt.Fprintf(w, "session %s (%d poses, %d angles each)\n", sess.ID, len(sess.Poses), sess.AnglesPerPose); err != nil {
		return err
	}
	for _, c := range cov {
		status := "complete"
		switch {
		case c.CalibrationError != "":
			status = "skipped: " + c.CalibrationError
		case !c.Complete():
			status = fmt.Sprintf("missing %v", c.MissingAngles)
		}
		if _, err := fmt.Fprintf(w, "  %-12s %-15s %3d/%-3d degraded=%d  %s\n",
			c.Pose, c.Stage, c.Saved, c.Planned, c.DegradedSyncs, status); err != nil {
			return err
		}
	}
	return nil
}

// Package preview renders quick-look PNG plots of triangulated slices so
// an operator can sanity check a pose while the scan is running.
package preview

import (
	"fmt"
	"image/color"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/fsutil"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/slicestore"
)

// Config configures a Writer.
type Config struct {
	FS     fsutil.FileSystem
	Width  vg.Length // default 6in
	Height vg.Length // default 4in
	Logger monitoring.Logger
}

// Writer saves slice profile plots.
type Writer struct {
	fs     fsutil.FileSystem
	width  vg.Length
	height vg.Length
	log    monitoring.Logger
}

// New creates a Writer.
func New(cfg Config) *Writer {
	w := &Writer{fs: cfg.FS, width: cfg.Width, height: cfg.Height, log: monitoring.OrDiscard(cfg.Logger)}
	if w.fs == nil {
		w.fs = fsutil.OSFileSystem{}
	}
	if w.width <= 0 {
		w.width = 6 * vg.Inch
	}
	if w.height <= 0 {
		w.height = 4 * vg.Inch
	}
	return w
}

// PathFor returns the PNG path next to a slice metadata file.
func PathFor(slicePath string) string {
	return strings.TrimSuffix(slicePath, filepath.Ext(slicePath)) + ".png"
}

// ProfilePlot plots a slice in the camera X-Z plane (depth against
// lateral offset).
func ProfilePlot(sl slicestore.Slice) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s @ %s° (%d points)", sl.Pose, config.AngleTag(sl.Angle), len(sl.Points))
	p.X.Label.Text = "X (camera units)"
	p.Y.Label.Text = "Z (camera units)"
	p.Add(plotter.NewGrid())

	if len(sl.Points) == 0 {
		p.X.Min, p.X.Max = -1, 1
		p.Y.Min, p.Y.Max = 0, 1
		return p, nil
	}

	pts := make(plotter.XYs, len(sl.Points))
	for i, v := range sl.Points {
		pts[i] = plotter.XY{X: v.X, Y: v.Z}
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("creating scatter: %w", err)
	}
	scatter.GlyphStyle.Color = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	scatter.GlyphStyle.Radius = vg.Points(1)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(scatter)
	return p, nil
}

// WriteProfile renders sl to a PNG at path.
func (w *Writer) WriteProfile(path string, sl slicestore.Slice) error {
	p, err := ProfilePlot(sl)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(w.width, w.height, "png")
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := w.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	f, err := w.fs.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	w.log.Tracef("wrote profile %s", path)
	return nil
}

// Package slicestore writes scan output: triangulated point slices under
// <root>/slices/<pose>/ and RGB frames under <root>/rgb/<pose>/, each with
// a JSON metadata sidecar.
package slicestore

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/fsutil"
	"github.com/banshee-data/laserscan/internal/monitoring"
)

// Slice is the point set triangulated from one laser frame, in camera
// coordinates.
type Slice struct {
	Pose      string
	Angle     float64
	Timestamp time.Time
	Points    []r3.Vec
}

// Config configures a Store. Zero values get defaults.
type Config struct {
	Root        string // default "output"
	Format      string // "json" (default) or "pcd"
	JPEGQuality int    // default 95
	FS          fsutil.FileSystem
	Logger      monitoring.Logger
}

// Store persists slices and RGB frames.
type Store struct {
	root    string
	format  string
	quality int
	fs      fsutil.FileSystem
	log     monitoring.Logger
}

// New creates a Store.
func New(cfg Config) *Store {
	s := &Store{
		root:    cfg.Root,
		format:  cfg.Format,
		quality: cfg.JPEGQuality,
		fs:      cfg.FS,
		log:     monitoring.OrDiscard(cfg.Logger),
	}
	if s.root == "" {
		s.root = config.DefaultOutputDir
	}
	if s.format == "" {
		s.format = config.SliceFormatJSON
	}
	if s.quality <= 0 {
		s.quality = 95
	}
	if s.fs == nil {
		s.fs = fsutil.OSFileSystem{}
	}
	return s
}

// Root returns the output root directory.
func (s *Store) Root() string { return s.root }

// SliceDir returns the directory holding a pose's slices.
func (s *Store) SliceDir(pose string) string {
	return filepath.Join(s.root, "slices", pose)
}

// RGBDir returns the directory holding a pose's RGB frames.
func (s *Store) RGBDir(pose string) string {
	return filepath.Join(s.root, "rgb", pose)
}

// SlicePath returns the metadata path for (pose, angle). With the pcd
// format the points live next to it in a .pcd file.
func (s *Store) SlicePath(pose string, angle float64) string {
	return filepath.Join(s.SliceDir(pose), "slice_"+config.AngleTag(angle)+".json")
}

// RGBPath returns the JPEG path for (pose, angle).
func (s *Store) RGBPath(pose string, angle float64) string {
	return filepath.Join(s.RGBDir(pose), "img_"+config.AngleTag(angle)+".jpg")
}

// sliceDoc is the on-disk slice metadata.
type sliceDoc struct {
	Pose       string       `json:"pose"`
	Angle      float64      `json:"angle"`
	Timestamp  float64      `json:"timestamp"`
	PointCount int          `json:"point_count"`
	Points     [][3]float64 `json:"points"`
	PointsFile string       `json:"points_file,omitempty"`
}

// WriteSlice persists sl and returns the metadata path. Empty slices are
// written too, so a missing file always means a skipped capture.
func (s *Store) WriteSlice(sl Slice) (string, error) {
	dir := s.SliceDir(sl.Pose)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	path := s.SlicePath(sl.Pose, sl.Angle)
	doc := sliceDoc{
		Pose:       sl.Pose,
		Angle:      sl.Angle,
		Timestamp:  unixSeconds(sl.Timestamp),
		PointCount: len(sl.Points),
		Points:     [][3]float64{},
	}

	if s.format == config.SliceFormatPCD {
		pcdPath := pcdPathFor(path)
		if err := s.writePCD(pcdPath, sl.Points); err != nil {
			return "", err
		}
		doc.Points = nil
		doc.PointsFile = filepath.Base(pcdPath)
	} else {
		for _, p := range sl.Points {
			doc.Points = append(doc.Points, [3]float64{p.X, p.Y, p.Z})
		}
	}

	if err := s.writeJSON(path, doc); err != nil {
		return "", err
	}
	s.log.Diagf("saved slice %s with %d points", path, len(sl.Points))
	return path, nil
}

// ReadSlice loads a slice written by WriteSlice from its metadata path.
func (s *Store) ReadSlice(path string) (Slice, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return Slice{}, fmt.Errorf("reading slice: %w", err)
	}
	var doc sliceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Slice{}, fmt.Errorf("parsing slice %s: %w", path, err)
	}
	sl := Slice{Pose: doc.Pose, Angle: doc.Angle, Timestamp: fromUnixSeconds(doc.Timestamp)}
	if doc.PointsFile != "" {
		pts, err := s.readPCD(filepath.Join(filepath.Dir(path), doc.PointsFile))
		if err != nil {
			return Slice{}, err
		}
		sl.Points = pts
	} else {
		sl.Points = make([]r3.Vec, 0, len(doc.Points))
		for _, p := range doc.Points {
			sl.Points = append(sl.Points, r3.Vec{X: p[0], Y: p[1], Z: p[2]})
		}
	}
	if len(sl.Points) != doc.PointCount {
		return Slice{}, fmt.Errorf("slice %s: point_count %d does not match %d stored points", path, doc.PointCount, len(sl.Points))
	}
	return sl, nil
}

// ListSlices returns the metadata paths of a pose's slices in angle order.
func (s *Store) ListSlices(pose string) ([]string, error) {
	dir := s.SliceDir(pose)
	names, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if filepath.Ext(n) == ".json" {
			out = append(out, filepath.Join(dir, n))
		}
	}
	return out, nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func pcdPathFor(jsonPath string) string {
	return jsonPath[:len(jsonPath)-len(filepath.Ext(jsonPath))] + ".pcd"
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

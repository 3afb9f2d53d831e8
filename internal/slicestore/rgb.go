package slicestore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/laserscan/internal/camera"
)

// RGBMeta is the sidecar written next to each RGB frame.
type RGBMeta struct {
	Timestamp float64 `json:"timestamp"`
	PoseID    string  `json:"pose_id"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Pose      string  `json:"pose"`
	Angle     float64 `json:"angle"`
}

// WriteRGB stores f as a JPEG with a metadata sidecar and returns the image
// path.
func (s *Store) WriteRGB(f camera.Frame) (string, error) {
	dir := s.RGBDir(f.Pose)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	path := s.RGBPath(f.Pose, f.Angle)
	w, err := s.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", path, err)
	}
	if err := imaging.Encode(w, f.Image, imaging.JPEG, imaging.JPEGQuality(s.quality)); err != nil {
		w.Close()
		return "", fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", path, err)
	}

	meta := RGBMeta{
		Timestamp: unixSeconds(f.Timestamp),
		PoseID:    f.Pose,
		Width:     f.Width(),
		Height:    f.Height(),
		Pose:      f.Pose,
		Angle:     f.Angle,
	}
	if err := s.writeJSON(sidecarPath(path), meta); err != nil {
		return "", err
	}
	s.log.Diagf("saved RGB %s", path)
	return path, nil
}

func sidecarPath(imgPath string) string {
	return strings.TrimSuffix(imgPath, filepath.Ext(imgPath)) + ".json"
}

package triangulate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/fsutil"
)

// MaxCoefficients is the length of the rational lens model
// (k1, k2, p1, p2, k3, k4, k5, k6).
const MaxCoefficients = 8

// Intrinsics is the camera_intrinsics_<pose>.json document.
type Intrinsics struct {
	CameraMatrix [][]float64 `json:"camera_matrix"`
	DistCoeffs   Coefficients `json:"dist_coeffs,omitempty"`
}

// Coefficients decodes either a flat list or a single-row nested list,
// the shape OpenCV calibration writes.
type Coefficients []float64

// UnmarshalJSON accepts [k1, ...] and [[k1, ...]].
func (c *Coefficients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	var flat []float64
	if err := json.Unmarshal(data, &flat); err == nil {
		*c = flat
		return nil
	}
	var nested [][]float64
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("dist_coeffs must be a list of numbers: %w", err)
	}
	var out []float64
	for _, row := range nested {
		out = append(out, row...)
	}
	*c = out
	return nil
}

// LaserPlane is the laser_plane_<pose>.json document: n·x + d = 0.
type LaserPlane struct {
	Normal []float64 `json:"normal"`
	D      *float64  `json:"d"`
}

// ReadIntrinsics decodes an intrinsics document from fs.
func ReadIntrinsics(fs fsutil.FileSystem, path string) (Intrinsics, error) {
	var doc Intrinsics
	if err := readJSON(fs, path, &doc); err != nil {
		return Intrinsics{}, err
	}
	return doc, nil
}

// ReadLaserPlane decodes a laser plane document from fs.
func ReadLaserPlane(fs fsutil.FileSystem, path string) (LaserPlane, error) {
	var doc LaserPlane
	if err := readJSON(fs, path, &doc); err != nil {
		return LaserPlane{}, err
	}
	return doc, nil
}

func readJSON(fs fsutil.FileSystem, path string, v any) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %w", config.ErrInvalid, path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: parsing %s: %w", config.ErrInvalid, path, err)
	}
	return nil
}

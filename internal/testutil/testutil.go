// Package testutil provides shared test fixtures: synthetic laser frames and
// calibration documents in the on-disk formats the scanner reads.
package testutil

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// DarkFrame returns a black w×h frame.
func DarkFrame(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

// LaserFrame returns a dark frame crossed by a bright line. rowAt gives the
// line centre for each column; the line is drawn one pixel either side of
// the rounded centre with full white on the centre and level on the flanks.
// Columns for which rowAt returns NaN are left dark.
func LaserFrame(w, h int, rowAt func(x int) float64, level uint8) *image.NRGBA {
	img := DarkFrame(w, h)
	for x := 0; x < w; x++ {
		r := rowAt(x)
		if math.IsNaN(r) {
			continue
		}
		y := int(math.Round(r))
		set := func(yy int, v uint8) {
			if yy < 0 || yy >= h {
				return
			}
			img.SetNRGBA(x, yy, color.NRGBA{R: v, G: v, B: v, A: 0xff})
		}
		set(y-1, level)
		set(y, 0xff)
		set(y+1, level)
	}
	return img
}

// SineRow returns a rowAt function for LaserFrame tracing
// base + amp*sin(x/period).
func SineRow(base, amp, period float64) func(int) float64 {
	return func(x int) float64 {
		return base + amp*math.Sin(float64(x)/period)
	}
}

// EncodeJPEG encodes img at quality 95.
func EncodeJPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	AssertNoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// IntrinsicsDoc builds a camera intrinsics document with a pinhole matrix.
func IntrinsicsDoc(fx, fy, cx, cy float64, coeffs ...float64) map[string]any {
	doc := map[string]any{
		"camera_matrix": [][]float64{
			{fx, 0, cx},
			{0, fy, cy},
			{0, 0, 1},
		},
	}
	if len(coeffs) > 0 {
		doc["dist_coeffs"] = coeffs
	}
	return doc
}

// PlaneDoc builds a laser plane document.
func PlaneDoc(nx, ny, nz, d float64) map[string]any {
	return map[string]any{"normal": []float64{nx, ny, nz}, "d": d}
}

// MustJSON marshals v or fails the test.
func MustJSON(t testing.TB, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	AssertNoError(t, err)
	return data
}

// WriteJSON marshals v into dir/name and returns the path.
func WriteJSON(t testing.TB, dir, name string, v any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	AssertNoError(t, os.MkdirAll(dir, 0o755))
	AssertNoError(t, os.WriteFile(path, MustJSON(t, v), 0o644))
	return path
}

// WriteCalibration writes camera_intrinsics_<pose>.json and
// laser_plane_<pose>.json into dir using the given documents.
func WriteCalibration(t testing.TB, dir, pose string, intrinsics, plane map[string]any) {
	t.Helper()
	WriteJSON(t, dir, "camera_intrinsics_"+pose+".json", intrinsics)
	WriteJSON(t, dir, "laser_plane_"+pose+".json", plane)
}

// DefaultCalibration writes a 640×480 pinhole camera (f=500) and a plane
// z = 1 for pose.
func DefaultCalibration(t testing.TB, dir, pose string) {
	t.Helper()
	WriteCalibration(t, dir, pose, IntrinsicsDoc(500, 500, 320, 240), PlaneDoc(0, 0, 1, -1))
}

// Package triangulate turns laser-line pixels into camera-centric 3D points
// by intersecting undistorted viewing rays with the calibrated laser plane.
package triangulate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/extract"
	"github.com/banshee-data/laserscan/internal/fsutil"
	"github.com/banshee-data/laserscan/internal/geometry"
	"github.com/banshee-data/laserscan/internal/monitoring"
)

// undistortIterations bounds the fixed-point inversion of the lens model.
const undistortIterations = 20

// Model is the immutable calibration for one pose.
type Model struct {
	k     *mat.Dense
	kInv  *mat.Dense
	dist  [MaxCoefficients]float64
	plane geometry.Plane
	log   monitoring.Logger
}

// Load validates the calibration documents and builds a Model. Every
// failure wraps config.ErrInvalid.
func Load(intr Intrinsics, plane LaserPlane) (*Model, error) {
	k, err := cameraMatrix(intr.CameraMatrix)
	if err != nil {
		return nil, err
	}
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, config.Invalidf("camera_matrix is not invertible: %v", err)
	}

	if len(intr.DistCoeffs) > MaxCoefficients {
		return nil, config.Invalidf("dist_coeffs has %d entries, at most %d are supported", len(intr.DistCoeffs), MaxCoefficients)
	}
	m := &Model{k: k, kInv: &kInv, log: monitoring.Discard}
	for i, c := range intr.DistCoeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, config.Invalidf("dist_coeffs[%d] is not finite", i)
		}
		m.dist[i] = c
	}

	p, err := laserPlane(plane)
	if err != nil {
		return nil, err
	}
	m.plane = p
	return m, nil
}

// LoadFiles reads both documents from disk and calls Load.
func LoadFiles(intrinsicsPath, planePath string) (*Model, error) {
	return LoadFilesFS(fsutil.OSFileSystem{}, intrinsicsPath, planePath)
}

// LoadFilesFS is LoadFiles over an arbitrary filesystem.
func LoadFilesFS(fs fsutil.FileSystem, intrinsicsPath, planePath string) (*Model, error) {
	intr, err := ReadIntrinsics(fs, intrinsicsPath)
	if err != nil {
		return nil, err
	}
	plane, err := ReadLaserPlane(fs, planePath)
	if err != nil {
		return nil, err
	}
	m, err := Load(intr, plane)
	if err != nil {
		return nil, fmt.Errorf("%s, %s: %w", intrinsicsPath, planePath, err)
	}
	return m, nil
}

func cameraMatrix(rows [][]float64) (*mat.Dense, error) {
	if len(rows) != 3 {
		return nil, config.Invalidf("camera_matrix must have 3 rows, got %d", len(rows))
	}
	data := make([]float64, 0, 9)
	for i, row := range rows {
		if len(row) != 3 {
			return nil, config.Invalidf("camera_matrix row %d must have 3 columns, got %d", i, len(row))
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, config.Invalidf("camera_matrix row %d is not finite", i)
			}
		}
		data = append(data, row...)
	}
	return mat.NewDense(3, 3, data), nil
}

func laserPlane(doc LaserPlane) (geometry.Plane, error) {
	if len(doc.Normal) != 3 {
		return geometry.Plane{}, config.Invalidf("laser plane normal must have 3 components, got %d", len(doc.Normal))
	}
	if doc.D == nil {
		return geometry.Plane{}, config.Invalidf("laser plane is missing d")
	}
	n := r3.Vec{X: doc.Normal[0], Y: doc.Normal[1], Z: doc.Normal[2]}
	norm := r3.Norm(n)
	if math.IsNaN(norm) || math.IsInf(norm, 0) || norm == 0 {
		return geometry.Plane{}, config.Invalidf("laser plane normal must be finite and non-zero")
	}
	d := *doc.D
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return geometry.Plane{}, config.Invalidf("laser plane d is not finite")
	}
	return geometry.Plane{Normal: r3.Scale(1/norm, n), D: d / norm}, nil
}

// WithLogger returns a copy of m that reports dropped points on logger's
// trace stream.
func (m *Model) WithLogger(logger monitoring.Logger) *Model {
	cp := *m
	cp.log = monitoring.OrDiscard(logger)
	return &cp
}

// Plane returns the unit-normal laser plane.
func (m *Model) Plane() geometry.Plane { return m.plane }

// Distortion returns the zero-padded lens coefficients.
func (m *Model) Distortion() [MaxCoefficients]float64 { return m.dist }

// PixelToRay back-projects pixel (x, y) through the inverse intrinsics,
// removes lens distortion and returns the unit viewing ray.
func (m *Model) PixelToRay(x, y float64) r3.Vec {
	px := m.kInv.At(0, 0)*x + m.kInv.At(0, 1)*y + m.kInv.At(0, 2)
	py := m.kInv.At(1, 0)*x + m.kInv.At(1, 1)*y + m.kInv.At(1, 2)
	pw := m.kInv.At(2, 0)*x + m.kInv.At(2, 1)*y + m.kInv.At(2, 2)
	if pw != 0 {
		px, py = px/pw, py/pw
	}
	ux, uy := undistort(px, py, m.dist)
	return geometry.Normalize(r3.Vec{X: ux, Y: uy, Z: 1})
}

// ObservationToPoints triangulates each sample against the laser plane.
// Samples whose ray misses the plane are dropped, so the result is never
// longer than obs.
func (m *Model) ObservationToPoints(obs extract.Observation) []r3.Vec {
	points := make([]r3.Vec, 0, len(obs))
	var dropped int
	for _, s := range obs {
		ray := m.PixelToRay(float64(s.Column), s.Row)
		p, err := geometry.IntersectRayPlane(r3.Vec{}, ray, m.plane)
		if err != nil {
			dropped++
			m.log.Tracef("dropped sample col=%d row=%.3f: %v", s.Column, s.Row, err)
			continue
		}
		points = append(points, p)
	}
	if dropped > 0 {
		m.log.Tracef("triangulated %d of %d samples", len(points), len(obs))
	}
	return points
}

// distort applies the rational radial plus tangential model to normalized
// coordinates.
func distort(x, y float64, c [MaxCoefficients]float64) (float64, float64) {
	k1, k2, p1, p2, k3, k4, k5, k6 := c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7]
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := (1 + k1*r2 + k2*r4 + k3*r6) / (1 + k4*r2 + k5*r4 + k6*r6)
	xd := x*radial + 2*p1*x*y + p2*(r2+2*x*x)
	yd := y*radial + p1*(r2+2*y*y) + 2*p2*x*y
	return xd, yd
}

// undistort inverts distort by fixed-point iteration. If the model folds
// over (negative radial factor) the distorted coordinates are returned.
func undistort(xd, yd float64, c [MaxCoefficients]float64) (float64, float64) {
	if c == ([MaxCoefficients]float64{}) {
		return xd, yd
	}
	k1, k2, p1, p2, k3, k4, k5, k6 := c[0], c[1], c[2], c[3], c[4], c[5], c[6], c[7]
	x, y := xd, yd
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		r4 := r2 * r2
		r6 := r4 * r2
		icdist := (1 + k4*r2 + k5*r4 + k6*r6) / (1 + k1*r2 + k2*r4 + k3*r6)
		if icdist < 0 || math.IsNaN(icdist) || math.IsInf(icdist, 0) {
			return xd, yd
		}
		dx := 2*p1*x*y + p2*(r2+2*x*x)
		dy := p1*(r2+2*y*y) + 2*p2*x*y
		x = (xd - dx) * icdist
		y = (yd - dy) * icdist
	}
	return x, y
}

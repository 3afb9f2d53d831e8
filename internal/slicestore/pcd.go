package slicestore

import (
	"bytes"
	"fmt"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"gonum.org/v1/gonum/spatial/r3"
)

// xyzHeader returns a binary XYZ float32 header for n points.
func xyzHeader(n int) pc.PointCloudHeader {
	return pc.PointCloudHeader{
		Version:   0.7,
		Fields:    []string{"x", "y", "z"},
		Size:      []int{4, 4, 4},
		Type:      []string{"F", "F", "F"},
		Count:     []int{1, 1, 1},
		Width:     n,
		Height:    1,
		Viewpoint: []float32{0, 0, 0, 1, 0, 0, 0},
	}
}

// EncodePCD encodes points as a binary PCD cloud. Coordinates are stored
// as float32.
func EncodePCD(points []r3.Vec) ([]byte, error) {
	pp := &pc.PointCloud{
		PointCloudHeader: xyzHeader(len(points)),
		Points:           len(points),
	}
	pp.Data = make([]byte, len(points)*pp.Stride())
	if len(points) > 0 {
		it, err := pp.Vec3Iterator()
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			it.SetVec3(mat.Vec3{float32(p.X), float32(p.Y), float32(p.Z)})
			it.Incr()
		}
	}
	var buf bytes.Buffer
	if err := pc.Marshal(pp, &buf); err != nil {
		return nil, fmt.Errorf("encoding pcd: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePCD reads the x, y, z fields of a PCD cloud.
func DecodePCD(data []byte) ([]r3.Vec, error) {
	pp, err := pc.Unmarshal(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding pcd: %w", err)
	}
	if pp.Points == 0 {
		return []r3.Vec{}, nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, fmt.Errorf("decoding pcd: %w", err)
	}
	out := make([]r3.Vec, 0, it.Len())
	for ; it.IsValid(); it.Incr() {
		v := it.Vec3()
		out = append(out, r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
	}
	return out, nil
}

func (s *Store) writePCD(path string, points []r3.Vec) error {
	data, err := EncodePCD(points)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := s.fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (s *Store) readPCD(path string) ([]r3.Vec, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	pts, err := DecodePCD(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pts, nil
}

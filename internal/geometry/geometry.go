// Package geometry holds the vector and ray/plane primitives used by
// triangulation. All coordinates are camera-centric.
package geometry

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ParallelEpsilon is the smallest |n·dir| treated as a real crossing.
const ParallelEpsilon = 1e-9

var (
	// ErrParallel means the ray runs parallel to the plane.
	ErrParallel = errors.New("ray is parallel to plane")
	// ErrBehindOrigin means the plane is crossed at t < 0.
	ErrBehindOrigin = errors.New("intersection behind ray origin")
)

// Plane is the set of points x with Normal·x + D = 0.
type Plane struct {
	Normal r3.Vec
	D      float64
}

// Normalize returns v scaled to unit length. The zero vector is returned as is.
func Normalize(v r3.Vec) r3.Vec {
	n := r3.Norm(v)
	if n == 0 {
		return v
	}
	return r3.Scale(1/n, v)
}

// IntersectRayPlane returns origin + t·dir where the ray meets p.
// t == 0 is a valid hit at the origin; t < 0 is rejected.
func IntersectRayPlane(origin, dir r3.Vec, p Plane) (r3.Vec, error) {
	denom := r3.Dot(p.Normal, dir)
	if math.Abs(denom) < ParallelEpsilon {
		return r3.Vec{}, ErrParallel
	}
	t := -(r3.Dot(p.Normal, origin) + p.D) / denom
	if t < 0 {
		return r3.Vec{}, ErrBehindOrigin
	}
	return r3.Add(origin, r3.Scale(t, dir)), nil
}

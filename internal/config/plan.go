package config

import (
	"fmt"
	"math"
)

// Plan is the ordered sweep for a session.
type Plan struct {
	Poses []PosePlan
}

// PosePlan lists the turntable angles visited for one pose, strictly
// increasing and within [0, 360).
type PosePlan struct {
	ID     string
	Angles []float64
}

// Plan expands the configured poses and step into the angle schedule.
func (c *SessionConfig) Plan() Plan {
	angles := Angles(c.GetDegreesPerStep())
	poses := c.GetPoses()
	plan := Plan{Poses: make([]PosePlan, 0, len(poses))}
	for _, id := range poses {
		plan.Poses = append(plan.Poses, PosePlan{ID: id, Angles: append([]float64(nil), angles...)})
	}
	return plan
}

// TotalCaptures counts angles across all poses for one stage.
func (p Plan) TotalCaptures() int {
	n := 0
	for _, pose := range p.Poses {
		n += len(pose.Angles)
	}
	return n
}

// Angles returns {k*step : k >= 0} ∩ [0, 360). A non-positive step yields nil.
func Angles(step float64) []float64 {
	if !(step > 0) || math.IsInf(step, 0) {
		return nil
	}
	var out []float64
	for k := 0; ; k++ {
		a := float64(k) * step
		if a >= 360 {
			break
		}
		out = append(out, a)
	}
	return out
}

// MinDegreesPerStep is the finest step AngleTag can tell apart.
const MinDegreesPerStep = 0.01

// StepResolvable reports whether step is a positive whole number of
// hundredths of a degree, so that the angles of a plan map to distinct tags.
func StepResolvable(step float64) bool {
	if !(step >= MinDegreesPerStep) || math.IsInf(step, 0) {
		return false
	}
	h := step / MinDegreesPerStep
	return math.Abs(h-math.Round(h)) < 1e-6
}

// AngleTag renders an angle for file names: the whole degrees zero padded to
// three digits, followed by "_hh" hundredths when the angle is fractional.
// 10 -> "010", 7.5 -> "007_50".
func AngleTag(angle float64) string {
	hundredths := int64(math.Round(angle * 100))
	whole, frac := hundredths/100, hundredths%100
	if frac == 0 {
		return fmt.Sprintf("%03d", whole)
	}
	return fmt.Sprintf("%03d_%02d", whole, frac)
}

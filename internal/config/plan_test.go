package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAngles(t *testing.T) {
	tests := []struct {
		step float64
		want []float64
	}{
		{step: 90, want: []float64{0, 90, 180, 270}},
		{step: 120, want: []float64{0, 120, 240}},
		{step: 359, want: []float64{0, 359}},
		{step: 360, want: []float64{0}},
		{step: 500, want: []float64{0}},
		{step: 0, want: nil},
		{step: -10, want: nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, Angles(tt.step)); diff != "" {
			t.Errorf("Angles(%v) mismatch (-want +got):\n%s", tt.step, diff)
		}
	}
}

func TestAngles_DefaultStep(t *testing.T) {
	angles := Angles(10)
	require.Len(t, angles, 36)
	assert.Equal(t, 0.0, angles[0])
	assert.Equal(t, 350.0, angles[35])
	for i := 1; i < len(angles); i++ {
		assert.Greater(t, angles[i], angles[i-1])
	}
}

func TestSessionConfig_Plan(t *testing.T) {
	step := 120.0
	cfg := &SessionConfig{Poses: []string{"low", "high"}, DegreesPerStep: &step}
	want := Plan{Poses: []PosePlan{
		{ID: "low", Angles: []float64{0, 120, 240}},
		{ID: "high", Angles: []float64{0, 120, 240}},
	}}
	plan := cfg.Plan()
	if diff := cmp.Diff(want, plan); diff != "" {
		t.Errorf("Plan() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 6, plan.TotalCaptures())

	// Each pose owns its slice.
	plan.Poses[0].Angles[0] = 99
	assert.Equal(t, 0.0, plan.Poses[1].Angles[0])
}

func TestAngleTag(t *testing.T) {
	tests := map[float64]string{
		0:      "000",
		10:     "010",
		180:    "180",
		350:    "350",
		7.5:    "007_50",
		22.25:  "022_25",
		359.99: "359_99",
	}
	for angle, want := range tests {
		assert.Equal(t, want, AngleTag(angle), "angle %v", angle)
	}
}

func TestStepResolvable(t *testing.T) {
	tests := map[float64]bool{
		10:     true,
		7.5:    true,
		0.25:   true,
		0.01:   true,
		0.07:   true,
		0.004:  false,
		0.015:  false,
		1e-12:  false,
		0:      false,
		-1:     false,
		1000.5: true,
	}
	for step, want := range tests {
		assert.Equal(t, want, StepResolvable(step), "step %v", step)
	}
}

func TestAngleTag_DistinctAcrossPlan(t *testing.T) {
	for _, step := range []float64{10, 7.5, 1, 0.25, 0.07, 0.01} {
		require.True(t, StepResolvable(step))
		angles := Angles(step)
		seen := make(map[string]float64, len(angles))
		for _, a := range angles {
			tag := AngleTag(a)
			prev, dup := seen[tag]
			require.False(t, dup, "step %v: angles %v and %v share tag %q", step, prev, a, tag)
			seen[tag] = a
		}
	}
}

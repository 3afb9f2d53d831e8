package scan

import "fmt"

// Phase is the orchestrator's coarse state.
type Phase string

const (
	PhaseIdle           Phase = "IDLE"
	PhaseLaserDepth     Phase = "LASER_DEPTH"
	PhasePhotogrammetry Phase = "PHOTOGRAMMETRY"
	PhaseDone           Phase = "DONE"
)

// State is the session cursor. It only ever moves forward.
type State struct {
	Phase      Phase
	PoseIndex  int
	AngleIndex int
}

func (s State) String() string {
	switch s.Phase {
	case PhaseIdle, PhaseDone:
		return string(s.Phase)
	}
	return fmt.Sprintf("%s pose=%d angle=%d", s.Phase, s.PoseIndex, s.AngleIndex)
}

func (s State) key() [4]int {
	switch s.Phase {
	case PhaseIdle:
		return [4]int{0}
	case PhaseDone:
		return [4]int{2}
	}
	stage := 0
	if s.Phase == PhasePhotogrammetry {
		stage = 1
	}
	return [4]int{1, s.PoseIndex, stage, s.AngleIndex}
}

// Compare orders states by session progress: IDLE first, then pose, stage
// and angle, then DONE.
func (s State) Compare(o State) int {
	a, b := s.key(), o.key()
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

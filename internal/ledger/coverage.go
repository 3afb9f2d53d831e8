package ledger

import (
	"context"
	"sort"
)

// StageCoverage summarises one stage of one pose.
type StageCoverage struct {
	Pose             string
	Stage            string
	Planned          int
	Saved            int
	CaptureFailed    int
	PersistFailed    int
	DegradedSyncs    int
	Points           int
	CalibrationError string    // laser stage only
	MissingAngles    []float64 // recorded as failed, ascending
}

// Complete reports whether every planned angle was saved.
func (c StageCoverage) Complete() bool {
	return c.Planned > 0 && c.Saved >= c.Planned
}

// Coverage returns per pose and stage counts for a session, in the
// session's pose order with the laser stage first.
func (l *Ledger) Coverage(ctx context.Context, sessionID string) ([]StageCoverage, error) {
	sess, err := l.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	captures, err := l.Captures(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	calib, err := l.calibrationFailures(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	type key struct{ pose, stage string }
	byKey := make(map[key]*StageCoverage)
	var order []key
	add := func(k key) *StageCoverage {
		if c, ok := byKey[k]; ok {
			return c
		}
		c := &StageCoverage{Pose: k.pose, Stage: k.stage, Planned: sess.AnglesPerPose}
		byKey[k] = c
		order = append(order, k)
		return c
	}
	for _, p := range sess.Poses {
		add(key{p, StageLaserDepth}).CalibrationError = calib[p]
		add(key{p, StagePhotogrammetry})
	}

	for _, c := range captures {
		cov := add(key{c.Pose, c.Stage})
		switch c.Outcome {
		case OutcomeSaved:
			cov.Saved++
			cov.Points += c.PointCount
		case OutcomeCaptureFailed:
			cov.CaptureFailed++
			cov.MissingAngles = append(cov.MissingAngles, c.Angle)
		case OutcomePersistFailed:
			cov.PersistFailed++
			cov.MissingAngles = append(cov.MissingAngles, c.Angle)
		}
		if c.DegradedSync {
			cov.DegradedSyncs++
		}
	}

	out := make([]StageCoverage, 0, len(order))
	for _, k := range order {
		c := byKey[k]
		sort.Float64s(c.MissingAngles)
		out = append(out, *c)
	}
	return out, nil
}

func (l *Ledger) calibrationFailures(ctx context.Context, sessionID string) (map[string]string, error) {
	rows, err := l.QueryContext(ctx, `SELECT pose, error FROM scan_pose_calibration WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var pose, msg string
		if err := rows.Scan(&pose, &msg); err != nil {
			return nil, err
		}
		out[pose] = msg
	}
	return out, rows.Err()
}

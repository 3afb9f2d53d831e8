package ledger

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestOpen_Migrates(t *testing.T) {
	l := openTestLedger(t)
	version, dirty, err := l.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Re-running is a no-op.
	require.NoError(t, l.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.MigrateDown())
	version, _, err := l.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = l.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'scan_pose_calibration'`).Scan(&n)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSessionLifecycle(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	id, err := l.StartSession(ctx, Session{
		StartedAt:      start,
		ConfigPath:     "session.json",
		OutputDir:      "output",
		DegreesPerStep: 10,
		AnglesPerPose:  36,
		Poses:          []string{"low", "mid"},
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)

	s, err := l.Session(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, id, s.ID)
	assert.True(t, s.FinishedAt.IsZero())
	assert.Equal(t, []string{"low", "mid"}, s.Poses)
	assert.True(t, start.Equal(s.StartedAt))

	require.NoError(t, l.FinishSession(ctx, id, start.Add(time.Hour)))
	s, err = l.Session(ctx, id)
	require.NoError(t, err)
	assert.True(t, start.Add(time.Hour).Equal(s.FinishedAt))

	err = l.FinishSession(ctx, "nope", start)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	_, err = l.Session(ctx, "nope")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSession_EmptyLedger(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.Session(context.Background(), "")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestRecordCapture_ForeignKey(t *testing.T) {
	l := openTestLedger(t)
	err := l.RecordCapture(context.Background(), Capture{SessionID: "missing", Pose: "low", Stage: StageLaserDepth, Outcome: OutcomeSaved})
	assert.Error(t, err)
}

func TestCoverage(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	id, err := l.StartSession(ctx, Session{DegreesPerStep: 90, AnglesPerPose: 4, Poses: []string{"low", "high"}})
	require.NoError(t, err)

	record := func(pose, stage string, angle float64, outcome string, points int, degraded bool) {
		t.Helper()
		require.NoError(t, l.RecordCapture(ctx, Capture{
			SessionID: id, Pose: pose, Stage: stage, Angle: angle,
			Outcome: outcome, PointCount: points, DegradedSync: degraded,
		}))
	}
	for _, a := range []float64{0, 90, 270} {
		record("low", StageLaserDepth, a, OutcomeSaved, 100, false)
	}
	record("low", StageLaserDepth, 180, OutcomeCaptureFailed, 0, true)
	for _, a := range []float64{0, 90, 180, 270} {
		record("low", StagePhotogrammetry, a, OutcomeSaved, 0, false)
	}
	record("high", StagePhotogrammetry, 270, OutcomePersistFailed, 0, false)
	record("high", StagePhotogrammetry, 90, OutcomeCaptureFailed, 0, false)
	require.NoError(t, l.RecordCalibrationFailure(ctx, id, "high", errors.New("laser_plane_high.json: no such file")))

	cov, err := l.Coverage(ctx, id)
	require.NoError(t, err)
	want := []StageCoverage{
		{Pose: "low", Stage: StageLaserDepth, Planned: 4, Saved: 3, CaptureFailed: 1, DegradedSyncs: 1, Points: 300, MissingAngles: []float64{180}},
		{Pose: "low", Stage: StagePhotogrammetry, Planned: 4, Saved: 4},
		{Pose: "high", Stage: StageLaserDepth, Planned: 4, CalibrationError: "laser_plane_high.json: no such file"},
		{Pose: "high", Stage: StagePhotogrammetry, Planned: 4, CaptureFailed: 1, PersistFailed: 1, MissingAngles: []float64{90, 270}},
	}
	if diff := cmp.Diff(want, cov); diff != "" {
		t.Errorf("Coverage mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, cov[0].Complete())
	assert.True(t, cov[1].Complete())

	caps, err := l.Captures(ctx, id)
	require.NoError(t, err)
	assert.Len(t, caps, 10)
	assert.True(t, caps[3].DegradedSync)
}

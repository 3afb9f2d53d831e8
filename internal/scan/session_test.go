package scan

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/laserscan/internal/camera"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/extract"
	"github.com/banshee-data/laserscan/internal/fsutil"
	"github.com/banshee-data/laserscan/internal/laser"
	"github.com/banshee-data/laserscan/internal/ledger"
	"github.com/banshee-data/laserscan/internal/preview"
	"github.com/banshee-data/laserscan/internal/slicestore"
	"github.com/banshee-data/laserscan/internal/testutil"
	"github.com/banshee-data/laserscan/internal/timeutil"
	"github.com/banshee-data/laserscan/internal/triangulate"
)

const (
	frameW = 64
	frameH = 48
)

type fakeTable struct {
	rotations []float64
	busy      bool
	rotateErr error
}

func (f *fakeTable) RequestRotation(_ context.Context, deg float64) error {
	f.rotations = append(f.rotations, deg)
	return f.rotateErr
}

func (f *fakeTable) WaitUntilIdle(context.Context, time.Duration, time.Duration) bool {
	return !f.busy
}

type fakeCamera struct {
	failAt   map[float64]bool
	failAll  bool
	captures int
	closed   int
	// onCapture runs before each capture.
	onCapture func()
}

func (c *fakeCamera) Capture(_ context.Context, pose string, angle float64) (camera.Frame, error) {
	c.captures++
	if c.onCapture != nil {
		c.onCapture()
	}
	if c.failAll || c.failAt[angle] {
		return camera.Frame{}, camera.ErrNoFrame
	}
	img := testutil.LaserFrame(frameW, frameH, func(int) float64 { return frameH / 2 }, 128)
	return camera.Frame{Image: img, Pose: pose, Angle: angle}, nil
}

func (c *fakeCamera) Close() error {
	c.closed++
	return nil
}

type fakeLaser struct {
	on     bool
	events []string
}

func (l *fakeLaser) On(context.Context) error {
	l.on = true
	l.events = append(l.events, "on")
	return nil
}

func (l *fakeLaser) Off(context.Context) error {
	l.on = false
	l.events = append(l.events, "off")
	return nil
}

func (l *fakeLaser) IsOn() bool { return l.on }

func (l *fakeLaser) Close() error {
	l.events = append(l.events, "close")
	return nil
}

func pinholeModel(t *testing.T) *triangulate.Model {
	t.Helper()
	d := -1.0
	m, err := triangulate.Load(
		triangulate.Intrinsics{CameraMatrix: [][]float64{{50, 0, frameW / 2}, {0, 50, frameH / 2}, {0, 0, 1}}},
		triangulate.LaserPlane{Normal: []float64{0, 0, 1}, D: &d},
	)
	require.NoError(t, err)
	return m
}

type rig struct {
	cfg   Config
	fs    *fsutil.MemoryFileSystem
	store *slicestore.Store
	table *fakeTable
	cam   *fakeCamera
	laser *fakeLaser
}

func newRig(t *testing.T, poses []string, step float64) *rig {
	t.Helper()
	ex, err := extract.New(extract.Config{BlurKernel: 5, Threshold: 50}, nil)
	require.NoError(t, err)

	sc := &config.SessionConfig{Poses: poses, DegreesPerStep: &step}
	model := pinholeModel(t)
	r := &rig{
		fs:    fsutil.NewMemoryFileSystem(),
		table: &fakeTable{},
		cam:   &fakeCamera{failAt: map[float64]bool{}},
		laser: &fakeLaser{},
	}
	r.store = slicestore.New(slicestore.Config{Root: "out", FS: r.fs})
	r.cfg = Config{
		Plan:        sc.Plan(),
		Camera:      func(context.Context) (camera.Device, error) { return r.cam, nil },
		Laser:       func(context.Context) (laser.Controller, error) { return r.laser, nil },
		Turntable:   r.table,
		Extractor:   ex,
		Calibration: func(string) (*triangulate.Model, error) { return model, nil },
		Store:       r.store,
		Clock:       timeutil.NewMockClock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	return r
}

func (r *rig) run(t *testing.T) Summary {
	t.Helper()
	s, err := NewSession(r.cfg)
	require.NoError(t, err)
	sum, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, s.State().Phase)
	return sum
}

func TestRun_FullSweep(t *testing.T) {
	r := newRig(t, []string{"low"}, 10)
	sum := r.run(t)

	require.Len(t, sum.Poses, 1)
	ps := sum.Poses[0]
	assert.Equal(t, 36, ps.Planned)
	assert.Equal(t, 36, ps.Slices)
	assert.Equal(t, 36, ps.Images)
	assert.Equal(t, 36*frameW, ps.Points)
	assert.Zero(t, ps.CaptureFailures)
	assert.True(t, sum.Complete())

	slices, err := r.store.ListSlices("low")
	require.NoError(t, err)
	assert.Len(t, slices, 36)
	assert.Equal(t, filepath.Join("out", "slices", "low", "slice_000.json"), slices[0])
	assert.Equal(t, filepath.Join("out", "slices", "low", "slice_350.json"), slices[35])

	var jpgs, sidecars int
	for _, f := range r.fs.Files(filepath.Join("out", "rgb", "low")) {
		switch filepath.Ext(f) {
		case ".jpg":
			jpgs++
		case ".json":
			sidecars++
		}
	}
	assert.Equal(t, 36, jpgs)
	assert.Equal(t, 36, sidecars)

	sl, err := r.store.ReadSlice(slices[18])
	require.NoError(t, err)
	assert.Equal(t, 180.0, sl.Angle)
	assert.Len(t, sl.Points, frameW)
	for _, p := range sl.Points {
		assert.InDelta(t, 1.0, p.Z, 1e-6)
	}

	assert.Len(t, r.table.rotations, 72)
	assert.Equal(t, 0.0, r.table.rotations[0])
	assert.Equal(t, 350.0, r.table.rotations[35])
	assert.Equal(t, 0.0, r.table.rotations[36])
	assert.Equal(t, []string{"on", "off", "close"}, r.laser.events)
	assert.Equal(t, 1, r.cam.closed)
}

func TestRun_CaptureFailureSkipsAngle(t *testing.T) {
	r := newRig(t, []string{"low"}, 10)
	r.cam.failAt[180] = true
	sum := r.run(t)

	ps := sum.Poses[0]
	assert.Equal(t, 35, ps.Slices)
	assert.Equal(t, 35, ps.Images)
	assert.Equal(t, 2, ps.CaptureFailures)
	assert.False(t, sum.Complete())
	assert.False(t, r.fs.Exists(r.store.SlicePath("low", 180)))
	assert.True(t, r.fs.Exists(r.store.SlicePath("low", 190)))
	assert.Equal(t, 72, r.cam.captures)
}

func TestRun_LaserOffWhenEveryCaptureFails(t *testing.T) {
	r := newRig(t, []string{"low", "high"}, 90)
	r.cam.failAll = true

	var onDuringPhoto bool
	r.cfg.OnState = func(s State) {
		if s.Phase == PhasePhotogrammetry && r.laser.IsOn() {
			onDuringPhoto = true
		}
	}
	sum := r.run(t)

	require.Len(t, sum.Poses, 2)
	for _, ps := range sum.Poses {
		assert.Zero(t, ps.Slices)
		assert.Zero(t, ps.Images)
		assert.Equal(t, 8, ps.CaptureFailures)
	}
	assert.False(t, r.laser.IsOn())
	assert.False(t, onDuringPhoto)
	assert.Equal(t, []string{"on", "off", "on", "off", "close"}, r.laser.events)
}

func TestRun_LaserOnOnlyDuringLaserCaptures(t *testing.T) {
	r := newRig(t, []string{"low"}, 90)
	var states []string
	r.cam.onCapture = func() {
		states = append(states, map[bool]string{true: "on", false: "off"}[r.laser.IsOn()])
	}
	r.run(t)
	assert.Equal(t, []string{"on", "on", "on", "on", "off", "off", "off", "off"}, states)
}

func TestRun_SyncTimeoutContinues(t *testing.T) {
	r := newRig(t, []string{"low"}, 90)
	r.table.busy = true
	r.table.rotateErr = errors.New("connection refused")
	sum := r.run(t)

	ps := sum.Poses[0]
	assert.Equal(t, 4, ps.Slices)
	assert.Equal(t, 4, ps.Images)
	assert.Equal(t, 8, ps.DegradedSyncs)
}

func TestRun_CalibrationErrorSkipsLaserStage(t *testing.T) {
	r := newRig(t, []string{"low", "high"}, 90)
	good := pinholeModel(t)
	r.cfg.Calibration = func(pose string) (*triangulate.Model, error) {
		if pose == "low" {
			return nil, config.Invalidf("missing laser plane for %s", pose)
		}
		return good, nil
	}
	sum := r.run(t)

	low, high := sum.Poses[0], sum.Poses[1]
	assert.ErrorIs(t, low.CalibrationErr, config.ErrInvalid)
	assert.Zero(t, low.Slices)
	assert.Equal(t, 4, low.Images)
	assert.NoError(t, high.CalibrationErr)
	assert.Equal(t, 4, high.Slices)
	assert.Equal(t, 4, high.Images)
	assert.Equal(t, []string{"on", "off", "close"}, r.laser.events)
	assert.Len(t, r.table.rotations, 12)
}

func TestRun_CursorIsMonotonic(t *testing.T) {
	r := newRig(t, []string{"a", "b"}, 120)
	var seen []State
	r.cfg.OnState = func(s State) { seen = append(seen, s) }
	r.run(t)

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Compare(seen[i-1]), 0, "%s after %s", seen[i], seen[i-1])
	}
	assert.Equal(t, State{Phase: PhaseDone}, seen[len(seen)-1])
	assert.Contains(t, seen, State{Phase: PhasePhotogrammetry, PoseIndex: 1, AngleIndex: 2})
}

func TestState_Compare(t *testing.T) {
	idle := State{Phase: PhaseIdle}
	l00 := State{Phase: PhaseLaserDepth}
	l05 := State{Phase: PhaseLaserDepth, AngleIndex: 5}
	p01 := State{Phase: PhasePhotogrammetry, AngleIndex: 1}
	l10 := State{Phase: PhaseLaserDepth, PoseIndex: 1}
	done := State{Phase: PhaseDone}

	ordered := []State{idle, l00, l05, p01, l10, done}
	for i := 1; i < len(ordered); i++ {
		assert.Equal(t, -1, ordered[i-1].Compare(ordered[i]), "%s < %s", ordered[i-1], ordered[i])
		assert.Equal(t, 1, ordered[i].Compare(ordered[i-1]))
	}
	assert.Zero(t, l05.Compare(l05))
	assert.Equal(t, "LASER_DEPTH pose=0 angle=5", l05.String())
	assert.Equal(t, "DONE", done.String())
}

func TestRun_CancelBetweenPoses(t *testing.T) {
	r := newRig(t, []string{"low", "mid", "high"}, 90)
	ctx, cancel := context.WithCancel(context.Background())
	r.cfg.Confirm = func(_ context.Context, pose string) error {
		if pose == "mid" {
			cancel()
		}
		return nil
	}
	s, err := NewSession(r.cfg)
	require.NoError(t, err)
	sum, err := s.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	// mid had already passed its gate, so it runs to completion.
	require.Len(t, sum.Poses, 2)
	assert.Equal(t, 4, sum.Poses[1].Slices)
	assert.Equal(t, 4, sum.Poses[1].Images)
	assert.False(t, r.laser.IsOn())
	assert.Equal(t, 1, r.cam.closed)
	assert.Equal(t, "close", r.laser.events[len(r.laser.events)-1])
}

func TestRun_ConfirmError(t *testing.T) {
	r := newRig(t, []string{"low"}, 90)
	r.cfg.Confirm = func(context.Context, string) error { return errors.New("operator quit") }
	s, err := NewSession(r.cfg)
	require.NoError(t, err)
	sum, err := s.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, sum.Poses)
	assert.Empty(t, r.table.rotations)
	assert.Equal(t, 1, r.cam.closed)
}

func TestRun_AcquisitionFailure(t *testing.T) {
	r := newRig(t, []string{"low"}, 90)
	r.cfg.Laser = func(context.Context) (laser.Controller, error) {
		return nil, errors.New("port busy")
	}
	s, err := NewSession(r.cfg)
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrAcquire)
	assert.Equal(t, 1, r.cam.closed, "camera released when the laser cannot be opened")
	assert.Equal(t, PhaseIdle, s.State().Phase)

	r.cfg.Camera = func(context.Context) (camera.Device, error) { return nil, camera.ErrNoFrame }
	s, err = NewSession(r.cfg)
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.ErrorIs(t, err, ErrAcquire)
	assert.ErrorIs(t, err, camera.ErrNoFrame)
}

func TestRun_PersistFailureContinues(t *testing.T) {
	r := newRig(t, []string{"low"}, 90)
	r.fs.CreateError = errors.New("disk full")
	sum := r.run(t)

	ps := sum.Poses[0]
	assert.Zero(t, ps.Slices)
	assert.Zero(t, ps.Images)
	assert.Equal(t, 8, ps.PersistFailures)
	assert.Zero(t, ps.CaptureFailures)
}

func TestRun_PreviewAndLedger(t *testing.T) {
	r := newRig(t, []string{"low", "high"}, 90)
	r.cam.failAt[270] = true

	led, err := ledger.Open(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	ctx := context.Background()
	id, err := led.StartSession(ctx, ledger.Session{
		OutputDir:      "out",
		DegreesPerStep: 90,
		AnglesPerPose:  4,
		Poses:          []string{"low", "high"},
	})
	require.NoError(t, err)

	good := pinholeModel(t)
	r.cfg.Calibration = func(pose string) (*triangulate.Model, error) {
		if pose == "high" {
			return nil, config.Invalidf("no intrinsics")
		}
		return good, nil
	}
	r.cfg.Recorder = led
	r.cfg.SessionID = id
	r.cfg.Preview = preview.New(preview.Config{FS: r.fs})
	r.run(t)

	assert.True(t, r.fs.Exists(filepath.Join("out", "slices", "low", "slice_090.png")))
	assert.False(t, r.fs.Exists(filepath.Join("out", "slices", "low", "slice_270.png")))

	cov, err := led.Coverage(ctx, id)
	require.NoError(t, err)
	require.Len(t, cov, 4)

	assert.Equal(t, ledger.StageLaserDepth, cov[0].Stage)
	assert.Equal(t, 3, cov[0].Saved)
	assert.Equal(t, 1, cov[0].CaptureFailed)
	assert.Equal(t, []float64{270}, cov[0].MissingAngles)
	assert.Equal(t, 3*frameW, cov[0].Points)

	assert.Equal(t, ledger.StagePhotogrammetry, cov[1].Stage)
	assert.Equal(t, 3, cov[1].Saved)

	assert.Equal(t, "high", cov[2].Pose)
	assert.Contains(t, cov[2].CalibrationError, "no intrinsics")
	assert.Zero(t, cov[2].Saved)
	assert.Equal(t, 3, cov[3].Saved)
}

func TestNewSession_Validation(t *testing.T) {
	r := newRig(t, []string{"low"}, 90)
	base := r.cfg

	tests := []struct {
		name  string
		tweak func(*Config)
	}{
		{"no poses", func(c *Config) { c.Plan = config.Plan{} }},
		{"no camera", func(c *Config) { c.Camera = nil }},
		{"no laser", func(c *Config) { c.Laser = nil }},
		{"no turntable", func(c *Config) { c.Turntable = nil }},
		{"no extractor", func(c *Config) { c.Extractor = nil }},
		{"no calibration", func(c *Config) { c.Calibration = nil }},
		{"no store", func(c *Config) { c.Store = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.tweak(&cfg)
			_, err := NewSession(cfg)
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestFileCalibration(t *testing.T) {
	dir := t.TempDir()
	testutil.DefaultCalibration(t, dir, "low")
	sc := &config.SessionConfig{IntrinsicsDir: &dir, LaserPlanesDir: &dir}
	load := FileCalibration(sc, nil)

	m, err := load("low")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.Plane().Normal.Z, 1e-12)

	_, err = load("mid")
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestPrompt(t *testing.T) {
	var out strings.Builder
	confirm := Prompt(strings.NewReader("\nlast"), &out)
	require.NoError(t, confirm(context.Background(), "low"))
	assert.Contains(t, out.String(), `pose "low"`)
	require.NoError(t, confirm(context.Background(), "mid"))
	assert.Error(t, confirm(context.Background(), "high"))
}

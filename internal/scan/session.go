// Package scan sequences a multi-pose capture sweep: for every pose a
// laser depth stage producing triangulated slices, then a photogrammetry
// stage saving raw frames. Hardware and capture failures are absorbed so
// a session always covers as much of the plan as it can.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/laserscan/internal/camera"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/extract"
	"github.com/banshee-data/laserscan/internal/fsutil"
	"github.com/banshee-data/laserscan/internal/laser"
	"github.com/banshee-data/laserscan/internal/ledger"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/preview"
	"github.com/banshee-data/laserscan/internal/slicestore"
	"github.com/banshee-data/laserscan/internal/timeutil"
	"github.com/banshee-data/laserscan/internal/triangulate"
	"github.com/banshee-data/laserscan/internal/turntable"
)

// ErrAcquire is returned by Run when the camera or laser cannot be opened.
var ErrAcquire = errors.New("acquiring device")

// Turntable is the part of the turntable client the orchestrator drives.
type Turntable interface {
	RequestRotation(ctx context.Context, deg float64) error
	WaitUntilIdle(ctx context.Context, interval, timeout time.Duration) bool
}

var _ Turntable = (*turntable.Client)(nil)

// CalibrationLoader returns the triangulation model for a pose.
type CalibrationLoader func(pose string) (*triangulate.Model, error)

// FileCalibration loads a pose's intrinsics and laser plane from the
// directories named in cfg.
func FileCalibration(cfg *config.SessionConfig, fs fsutil.FileSystem) CalibrationLoader {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return func(pose string) (*triangulate.Model, error) {
		return triangulate.LoadFilesFS(fs, cfg.IntrinsicsPath(pose), cfg.LaserPlanePath(pose))
	}
}

// Recorder receives capture outcomes. *ledger.Ledger implements it.
type Recorder interface {
	RecordCapture(ctx context.Context, c ledger.Capture) error
	RecordCalibrationFailure(ctx context.Context, sessionID, pose string, cause error) error
}

// Config wires a Session. Plan, Camera, Laser, Turntable, Extractor,
// Calibration and Store are required.
type Config struct {
	Plan        config.Plan
	Camera      camera.Opener
	Laser       laser.Opener
	Turntable   Turntable
	Extractor   *extract.Extractor
	Calibration CalibrationLoader
	Store       *slicestore.Store

	Preview   *preview.Writer // optional PNG profile per slice
	Recorder  Recorder        // optional
	SessionID string          // passed to Recorder
	Confirm   ConfirmFunc     // default AutoConfirm

	PollInterval time.Duration // default 200ms
	SyncTimeout  time.Duration // default 30s
	Clock        timeutil.Clock
	Logger       monitoring.Logger

	// OnState is called after every cursor move.
	OnState func(State)
}

// PoseSummary reports what one pose produced.
type PoseSummary struct {
	Pose            string
	Planned         int
	Slices          int
	Images          int
	Points          int
	CaptureFailures int // laser and photogrammetry combined
	PersistFailures int
	DegradedSyncs   int
	CalibrationErr  error // laser stage skipped when set
}

// Summary is the result of a run.
type Summary struct {
	Poses []PoseSummary
}

// Complete reports whether every planned slice and image was written.
func (s Summary) Complete() bool {
	for _, p := range s.Poses {
		if p.CalibrationErr != nil || p.Slices < p.Planned || p.Images < p.Planned {
			return false
		}
	}
	return true
}

// Session runs one plan. It is not safe for concurrent use.
type Session struct {
	cfg   Config
	clock timeutil.Clock
	log   monitoring.Logger
	state State
}

// NewSession validates cfg and fills defaults.
func NewSession(cfg Config) (*Session, error) {
	switch {
	case len(cfg.Plan.Poses) == 0:
		return nil, config.Invalidf("scan plan has no poses")
	case cfg.Camera == nil:
		return nil, config.Invalidf("no camera opener")
	case cfg.Laser == nil:
		return nil, config.Invalidf("no laser opener")
	case cfg.Turntable == nil:
		return nil, config.Invalidf("no turntable")
	case cfg.Extractor == nil:
		return nil, config.Invalidf("no extractor")
	case cfg.Calibration == nil:
		return nil, config.Invalidf("no calibration loader")
	case cfg.Store == nil:
		return nil, config.Invalidf("no slice store")
	}
	if cfg.Confirm == nil {
		cfg.Confirm = AutoConfirm
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = turntable.DefaultPollInterval
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = turntable.DefaultWaitTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Session{
		cfg:   cfg,
		clock: clock,
		log:   monitoring.OrDiscard(cfg.Logger),
		state: State{Phase: PhaseIdle},
	}, nil
}

// State returns the current cursor.
func (s *Session) State() State { return s.state }

func (s *Session) advance(next State) {
	if next.Compare(s.state) < 0 {
		s.log.Opsf("error: refusing to move session cursor back from %s to %s", s.state, next)
		return
	}
	s.state = next
	s.log.Tracef("state %s", next)
	if s.cfg.OnState != nil {
		s.cfg.OnState(next)
	}
}

// Run executes the plan. The camera and laser are opened once and released
// on every exit path. ctx is consulted between poses only: a pose that has
// passed its confirmation gate runs both stages to completion. Run returns
// an error when a device cannot be acquired, confirmation fails, or ctx is
// done at a pose boundary; the summary covers the poses finished so far.
func (s *Session) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if err := ctx.Err(); err != nil {
		return sum, err
	}

	cam, err := s.cfg.Camera(ctx)
	if err != nil {
		s.log.Opsf("error: opening camera: %v", err)
		return sum, fmt.Errorf("%w: camera: %w", ErrAcquire, err)
	}
	defer func() {
		if err := cam.Close(); err != nil {
			s.log.Opsf("warning: releasing camera: %v", err)
		}
	}()

	las, err := s.cfg.Laser(ctx)
	if err != nil {
		s.log.Opsf("error: opening laser: %v", err)
		return sum, fmt.Errorf("%w: laser: %w", ErrAcquire, err)
	}
	defer func() {
		if err := las.Close(); err != nil {
			s.log.Opsf("warning: releasing laser: %v", err)
		}
	}()

	started := s.clock.Now()
	s.log.Diagf("scan started: %d poses, %d captures planned", len(s.cfg.Plan.Poses), s.cfg.Plan.TotalCaptures())

	for i, pose := range s.cfg.Plan.Poses {
		if err := ctx.Err(); err != nil {
			s.log.Opsf("warning: scan stopped before pose %s: %v", pose.ID, err)
			return sum, err
		}
		if err := s.cfg.Confirm(ctx, pose.ID); err != nil {
			s.log.Opsf("warning: scan stopped before pose %s: %v", pose.ID, err)
			return sum, err
		}

		stageCtx := context.WithoutCancel(ctx)
		ps := PoseSummary{Pose: pose.ID, Planned: len(pose.Angles)}
		s.laserStage(stageCtx, i, pose, cam, las, &ps)
		s.photoStage(stageCtx, i, pose, cam, &ps)
		sum.Poses = append(sum.Poses, ps)

		s.log.Diagf("pose %s done: %d/%d slices, %d/%d images, %d capture failures, %d degraded syncs",
			pose.ID, ps.Slices, ps.Planned, ps.Images, ps.Planned, ps.CaptureFailures, ps.DegradedSyncs)
	}

	s.advance(State{Phase: PhaseDone})
	s.log.Diagf("scan complete in %s", s.clock.Since(started).Round(time.Millisecond))
	return sum, nil
}

func (s *Session) laserStage(ctx context.Context, idx int, pose config.PosePlan, cam camera.Source, las laser.Controller, ps *PoseSummary) {
	s.advance(State{Phase: PhaseLaserDepth, PoseIndex: idx})

	model, err := s.cfg.Calibration(pose.ID)
	if err != nil {
		ps.CalibrationErr = err
		s.log.Opsf("error: pose %s: skipping laser stage: %v", pose.ID, err)
		if s.cfg.Recorder != nil {
			if rerr := s.cfg.Recorder.RecordCalibrationFailure(ctx, s.cfg.SessionID, pose.ID, err); rerr != nil {
				s.log.Opsf("warning: ledger: %v", rerr)
			}
		}
		return
	}
	model = model.WithLogger(s.log)

	if err := las.On(ctx); err != nil {
		s.log.Opsf("error: pose %s: laser on: %v", pose.ID, err)
	}
	defer func() {
		if err := las.Off(ctx); err != nil {
			s.log.Opsf("error: pose %s: laser off: %v", pose.ID, err)
		}
	}()

	for j, angle := range pose.Angles {
		s.advance(State{Phase: PhaseLaserDepth, PoseIndex: idx, AngleIndex: j})
		frame, degraded, ok := s.capture(ctx, cam, pose.ID, angle, ledger.StageLaserDepth, ps)
		if !ok {
			continue
		}

		obs := s.cfg.Extractor.Extract(frame.Image)
		sl := slicestore.Slice{
			Pose:      pose.ID,
			Angle:     angle,
			Timestamp: frame.Timestamp,
			Points:    model.ObservationToPoints(obs),
		}
		path, err := s.cfg.Store.WriteSlice(sl)
		if err != nil {
			ps.PersistFailures++
			s.log.Opsf("error: pose %s angle %g: saving slice: %v", pose.ID, angle, err)
			s.record(ctx, pose.ID, ledger.StageLaserDepth, angle, ledger.OutcomePersistFailed, 0, "", degraded, err.Error())
			continue
		}
		ps.Slices++
		ps.Points += len(sl.Points)
		s.log.Diagf("pose %s angle %g: %d points from %d samples -> %s", pose.ID, angle, len(sl.Points), len(obs), path)

		if s.cfg.Preview != nil {
			if err := s.cfg.Preview.WriteProfile(preview.PathFor(path), sl); err != nil {
				s.log.Opsf("warning: pose %s angle %g: preview: %v", pose.ID, angle, err)
			}
		}
		s.record(ctx, pose.ID, ledger.StageLaserDepth, angle, ledger.OutcomeSaved, len(sl.Points), path, degraded, "")
	}
}

func (s *Session) photoStage(ctx context.Context, idx int, pose config.PosePlan, cam camera.Source, ps *PoseSummary) {
	s.advance(State{Phase: PhasePhotogrammetry, PoseIndex: idx})

	for j, angle := range pose.Angles {
		s.advance(State{Phase: PhasePhotogrammetry, PoseIndex: idx, AngleIndex: j})
		frame, degraded, ok := s.capture(ctx, cam, pose.ID, angle, ledger.StagePhotogrammetry, ps)
		if !ok {
			continue
		}
		path, err := s.cfg.Store.WriteRGB(frame)
		if err != nil {
			ps.PersistFailures++
			s.log.Opsf("error: pose %s angle %g: saving image: %v", pose.ID, angle, err)
			s.record(ctx, pose.ID, ledger.StagePhotogrammetry, angle, ledger.OutcomePersistFailed, 0, "", degraded, err.Error())
			continue
		}
		ps.Images++
		s.log.Diagf("pose %s angle %g: image %dx%d -> %s", pose.ID, angle, frame.Width(), frame.Height(), path)
		s.record(ctx, pose.ID, ledger.StagePhotogrammetry, angle, ledger.OutcomeSaved, 0, path, degraded, "")
	}
}

// capture rotates, waits for the table and grabs one frame. ok is false
// when the angle must be skipped.
func (s *Session) capture(ctx context.Context, cam camera.Source, pose string, angle float64, stage string, ps *PoseSummary) (frame camera.Frame, degraded, ok bool) {
	if err := s.cfg.Turntable.RequestRotation(ctx, angle); err != nil {
		s.log.Opsf("warning: pose %s angle %g: rotate request: %v", pose, angle, err)
	}
	if !s.cfg.Turntable.WaitUntilIdle(ctx, s.cfg.PollInterval, s.cfg.SyncTimeout) {
		degraded = true
		ps.DegradedSyncs++
		s.log.Opsf("warning: pose %s angle %g: degraded sync, turntable not idle after %s", pose, angle, s.cfg.SyncTimeout)
	}

	frame, err := cam.Capture(ctx, pose, angle)
	if err != nil {
		ps.CaptureFailures++
		s.log.Opsf("error: pose %s angle %g: %s capture failed, skipping: %v", pose, angle, stage, err)
		s.record(ctx, pose, stage, angle, ledger.OutcomeCaptureFailed, 0, "", degraded, err.Error())
		return camera.Frame{}, degraded, false
	}
	frame.Pose = pose
	frame.Angle = angle
	if frame.Timestamp.IsZero() {
		frame.Timestamp = s.clock.Now()
	}
	return frame, degraded, true
}

func (s *Session) record(ctx context.Context, pose, stage string, angle float64, outcome string, points int, path string, degraded bool, detail string) {
	if s.cfg.Recorder == nil {
		return
	}
	err := s.cfg.Recorder.RecordCapture(ctx, ledger.Capture{
		SessionID:    s.cfg.SessionID,
		Pose:         pose,
		Stage:        stage,
		Angle:        angle,
		Outcome:      outcome,
		PointCount:   points,
		Path:         path,
		DegradedSync: degraded,
		Detail:       detail,
		RecordedAt:   s.clock.Now(),
	})
	if err != nil {
		s.log.Opsf("warning: ledger: %v", err)
	}
}

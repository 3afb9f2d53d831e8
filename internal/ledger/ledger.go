// Package ledger records every capture of a scan session in a sqlite
// database so incomplete poses can be found and recaptured later.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Stage names stored with each capture.
const (
	StageLaserDepth     = "laser_depth"
	StagePhotogrammetry = "photogrammetry"
)

// Capture outcomes.
const (
	OutcomeSaved         = "saved"
	OutcomeCaptureFailed = "capture_failed"
	OutcomePersistFailed = "persist_failed"
)

// Ledger wraps the sqlite handle.
type Ledger struct {
	*sql.DB
}

// Open opens (or creates) the ledger database at path and migrates it to
// the latest schema.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	l := &Ledger{db}
	if _, err := l.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if err := l.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// dsn adds the per-connection pragmas to path.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Session describes one scan run.
type Session struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time // zero while running or after a crash
	ConfigPath     string
	OutputDir      string
	DegreesPerStep float64
	AnglesPerPose  int
	Poses          []string
}

// Capture is one angle of one stage.
type Capture struct {
	SessionID    string
	Pose         string
	Stage        string
	Angle        float64
	Outcome      string
	PointCount   int
	Path         string
	DegradedSync bool
	Detail       string
	RecordedAt   time.Time
}

// StartSession inserts s with a fresh identifier, which is returned.
func (l *Ledger) StartSession(ctx context.Context, s Session) (string, error) {
	id := uuid.NewString()
	started := s.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := l.ExecContext(ctx, `
		INSERT INTO scan_sessions (session_id, started_unix_ns, config_path, output_dir, degrees_per_step, angles_per_pose, poses)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, started.UnixNano(), s.ConfigPath, s.OutputDir, s.DegreesPerStep, s.AnglesPerPose, strings.Join(s.Poses, ","),
	)
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// FinishSession stamps the session end time.
func (l *Ledger) FinishSession(ctx context.Context, id string, at time.Time) error {
	res, err := l.ExecContext(ctx, `UPDATE scan_sessions SET finished_unix_ns = ? WHERE session_id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("finishing session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// RecordCapture appends one capture outcome.
func (l *Ledger) RecordCapture(ctx context.Context, c Capture) error {
	recorded := c.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	degraded := 0
	if c.DegradedSync {
		degraded = 1
	}
	_, err := l.ExecContext(ctx, `
		INSERT INTO scan_captures (session_id, pose, stage, angle, outcome, point_count, path, degraded_sync, detail, recorded_unix_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.SessionID, c.Pose, c.Stage, c.Angle, c.Outcome, c.PointCount, c.Path, degraded, c.Detail, recorded.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("recording capture %s/%s/%g: %w", c.Pose, c.Stage, c.Angle, err)
	}
	return nil
}

// RecordCalibrationFailure notes that a pose's laser stage was skipped.
func (l *Ledger) RecordCalibrationFailure(ctx context.Context, sessionID, pose string, cause error) error {
	_, err := l.ExecContext(ctx, `
		INSERT OR REPLACE INTO scan_pose_calibration (session_id, pose, error) VALUES (?, ?, ?)`,
		sessionID, pose, cause.Error(),
	)
	if err != nil {
		return fmt.Errorf("recording calibration failure for %s: %w", pose, err)
	}
	return nil
}

// Sessions lists sessions, newest first.
func (l *Ledger) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := l.QueryContext(ctx, `
		SELECT session_id, started_unix_ns, finished_unix_ns, config_path, output_dir, degrees_per_step, angles_per_pose, poses
		FROM scan_sessions ORDER BY started_unix_ns DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			s        Session
			started  int64
			finished sql.NullInt64
			poses    string
		)
		if err := rows.Scan(&s.ID, &started, &finished, &s.ConfigPath, &s.OutputDir, &s.DegreesPerStep, &s.AnglesPerPose, &poses); err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(0, started)
		if finished.Valid {
			s.FinishedAt = time.Unix(0, finished.Int64)
		}
		if poses != "" {
			s.Poses = strings.Split(poses, ",")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Session returns one session by id. An empty id selects the newest.
func (l *Ledger) Session(ctx context.Context, id string) (Session, error) {
	sessions, err := l.Sessions(ctx)
	if err != nil {
		return Session{}, err
	}
	for _, s := range sessions {
		if id == "" || s.ID == id {
			return s, nil
		}
	}
	if id == "" {
		return Session{}, fmt.Errorf("ledger has no sessions: %w", sql.ErrNoRows)
	}
	return Session{}, fmt.Errorf("session %s: %w", id, sql.ErrNoRows)
}

// Captures returns a session's captures in recording order.
func (l *Ledger) Captures(ctx context.Context, sessionID string) ([]Capture, error) {
	rows, err := l.QueryContext(ctx, `
		SELECT session_id, pose, stage, angle, outcome, point_count, path, degraded_sync, detail, recorded_unix_ns
		FROM scan_captures WHERE session_id = ? ORDER BY capture_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Capture
	for rows.Next() {
		var (
			c        Capture
			degraded int
			recorded int64
		)
		if err := rows.Scan(&c.SessionID, &c.Pose, &c.Stage, &c.Angle, &c.Outcome, &c.PointCount, &c.Path, &degraded, &c.Detail, &recorded); err != nil {
			return nil, err
		}
		c.DegradedSync = degraded != 0
		c.RecordedAt = time.Unix(0, recorded)
		out = append(out, c)
	}
	return out, rows.Err()
}

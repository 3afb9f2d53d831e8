package camera

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/laserscan/internal/fsutil"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/timeutil"
)

// ReplayConfig configures a ReplaySource.
type ReplayConfig struct {
	Dir    string
	FS     fsutil.FileSystem // defaults to the OS filesystem
	Loop   bool              // restart from the first image when exhausted
	Clock  timeutil.Clock
	Logger monitoring.Logger
}

// ReplaySource plays back the images of a directory in lexical order, one
// per capture. It stands in for the camera when re-running a session
// offline.
type ReplaySource struct {
	dir   string
	fs    fsutil.FileSystem
	loop  bool
	clock timeutil.Clock
	log   monitoring.Logger

	mu    sync.Mutex
	files []string
	next  int
}

var replayExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// NewReplaySource lists cfg.Dir. An empty directory is an error.
func NewReplaySource(cfg ReplayConfig) (*ReplaySource, error) {
	fs := cfg.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	names, err := fs.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("listing replay directory: %w", err)
	}
	var files []string
	for _, n := range names {
		if replayExtensions[strings.ToLower(filepath.Ext(n))] {
			files = append(files, filepath.Join(cfg.Dir, n))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("replay directory %s has no images", cfg.Dir)
	}
	return &ReplaySource{
		dir:   cfg.Dir,
		fs:    fs,
		loop:  cfg.Loop,
		clock: clock,
		log:   monitoring.OrDiscard(cfg.Logger),
		files: files,
	}, nil
}

// OpenReplay returns an Opener for a ReplaySource.
func OpenReplay(cfg ReplayConfig) Opener {
	return func(context.Context) (Device, error) {
		s, err := NewReplaySource(cfg)
		if err != nil {
			return nil, err
		}
		s.log.Diagf("replaying %d frames from %s", len(s.files), s.dir)
		return s, nil
	}
}

// Len returns the number of images in the replay.
func (s *ReplaySource) Len() int { return len(s.files) }

// Capture decodes the next image.
func (s *ReplaySource) Capture(ctx context.Context, pose string, angle float64) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}
	s.mu.Lock()
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return Frame{}, fmt.Errorf("%w: replay of %s exhausted", ErrNoFrame, s.dir)
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrNoFrame, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: decoding %s: %w", ErrNoFrame, path, err)
	}
	s.log.Tracef("replayed %s pose=%s angle=%g", filepath.Base(path), pose, angle)
	return Frame{Image: img, Timestamp: s.clock.Now(), Pose: pose, Angle: angle}, nil
}

// Close releases the source.
func (s *ReplaySource) Close() error { return nil }

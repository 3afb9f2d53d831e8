package camera

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/timeutil"
)

// DefaultCaptureTimeout bounds a single snapshot request.
const DefaultCaptureTimeout = 5 * time.Second

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	URL        string // snapshot endpoint returning a JPEG or PNG body
	HTTPClient httputil.HTTPClient
	Timeout    time.Duration
	Clock      timeutil.Clock
	Logger     monitoring.Logger
}

// HTTPSource fetches still frames from a camera snapshot endpoint.
type HTTPSource struct {
	url     string
	http    httputil.HTTPClient
	timeout time.Duration
	clock   timeutil.Clock
	log     monitoring.Logger
}

// NewHTTPSource creates a snapshot source. Zero config values get defaults.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httputil.NewStandardClient(timeout)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HTTPSource{
		url:     cfg.URL,
		http:    hc,
		timeout: timeout,
		clock:   clock,
		log:     monitoring.OrDiscard(cfg.Logger),
	}
}

// Open returns an Opener yielding an HTTPSource for cfg. Opening probes
// nothing; the first capture reports an unreachable camera.
func Open(cfg HTTPConfig) Opener {
	return func(context.Context) (Device, error) {
		s := NewHTTPSource(cfg)
		s.log.Diagf("camera snapshot source %s", s.url)
		return s, nil
	}
}

// Capture fetches and decodes one snapshot.
func (s *HTTPSource) Capture(ctx context.Context, pose string, angle float64) (Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ts := s.clock.Now()
	resp, err := httputil.Get(ctx, s.http, s.url)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %s: %w", ErrNoFrame, s.url, err)
	}
	data, err := httputil.ReadBody(resp)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %s: %w", ErrNoFrame, s.url, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: decoding %d byte snapshot: %w", ErrNoFrame, len(data), err)
	}
	s.log.Tracef("captured %dx%d frame pose=%s angle=%g", img.Bounds().Dx(), img.Bounds().Dy(), pose, angle)
	return Frame{Image: img, Timestamp: ts, Pose: pose, Angle: angle}, nil
}

// Close releases the source.
func (s *HTTPSource) Close() error {
	s.log.Diagf("camera released")
	return nil
}

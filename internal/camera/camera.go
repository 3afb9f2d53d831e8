// Package camera defines the frame source contract used by a scan session
// and provides an HTTP snapshot source and a directory replay source.
package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"time"
)

// ErrNoFrame is wrapped by every failed capture.
var ErrNoFrame = errors.New("no frame captured")

// Frame is a single capture. It is consumed immediately and never retained
// by the session.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
	Pose      string
	Angle     float64
}

// Width returns the frame width in pixels.
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels.
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// Source captures one frame per call. Implementations bound each capture
// by their own device timeout.
type Source interface {
	Capture(ctx context.Context, pose string, angle float64) (Frame, error)
}

// Device is a Source holding an exclusive handle that must be released.
type Device interface {
	Source
	io.Closer
}

// Opener acquires a Device for the duration of a session.
type Opener func(ctx context.Context) (Device, error)

// Package monitoring provides the scanner's logging streams.
//
// Diagnostics are split the same way everywhere in the scanner:
//
//   - ops: actionable warnings, errors and data loss (skipped angles,
//     degraded turntable sync, failed writes). Messages start with
//     "error:" or "warning:".
//   - diag: lifecycle and per-angle progress.
//   - trace: high-frequency detail such as per-poll turntable state or
//     rays that miss the laser plane.
//
// A Logger is passed to each component at construction; there is no
// package-level logger.
package monitoring

import (
	"io"
	"log"
)

// Logger is the observability port handed to every scanner component.
type Logger interface {
	// Opsf logs to the ops stream (actionable warnings, errors, data loss).
	Opsf(format string, args ...interface{})
	// Diagf logs to the diag stream (lifecycle events, progress).
	Diagf(format string, args ...interface{})
	// Tracef logs to the trace stream (high-frequency telemetry).
	Tracef(format string, args ...interface{})
}

// LogWriters holds the io.Writers for each logging stream.
// A nil writer disables that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Streams implements Logger on top of three *log.Logger values.
type Streams struct {
	writers LogWriters
	ops     *log.Logger
	diag    *log.Logger
	trace   *log.Logger
}

// New builds a Streams logger whose lines carry a "[prefix] " tag.
func New(prefix string, w LogWriters) *Streams {
	tag := ""
	if prefix != "" {
		tag = "[" + prefix + "] "
	}
	return &Streams{
		writers: w,
		ops:     newLogger(tag, w.Ops),
		diag:    newLogger(tag, w.Diag),
		trace:   newLogger(tag, w.Trace),
	}
}

// With returns a logger for another component sharing the same writers.
func (s *Streams) With(prefix string) *Streams {
	return New(prefix, s.writers)
}

// newLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func (s *Streams) Opsf(format string, args ...interface{}) {
	if s != nil && s.ops != nil {
		s.ops.Printf(format, args...)
	}
}

func (s *Streams) Diagf(format string, args ...interface{}) {
	if s != nil && s.diag != nil {
		s.diag.Printf(format, args...)
	}
}

func (s *Streams) Tracef(format string, args ...interface{}) {
	if s != nil && s.trace != nil {
		s.trace.Printf(format, args...)
	}
}

type discard struct{}

func (discard) Opsf(string, ...interface{})   {}
func (discard) Diagf(string, ...interface{})  {}
func (discard) Tracef(string, ...interface{}) {}

// Discard is a Logger that drops everything.
var Discard Logger = discard{}

// OrDiscard returns l, or Discard when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard
	}
	return l
}

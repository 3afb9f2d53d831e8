// Package laser switches the line laser for the depth stage of a scan.
// A relay on a serial port is supported, plus a manual driver for rigs
// where the operator flips the switch.
package laser

import (
	"context"
	"io"
	"sync"

	"github.com/banshee-data/laserscan/internal/monitoring"
)

// Controller is an exclusively held laser handle. Off must be safe to call
// when the laser is already off; Close releases the handle.
type Controller interface {
	On(ctx context.Context) error
	Off(ctx context.Context) error
	IsOn() bool
	io.Closer
}

// Opener acquires a Controller for the duration of a session.
type Opener func(ctx context.Context) (Controller, error)

// Manual is a Controller with no hardware behind it. It only records state
// and tells the operator what to do.
type Manual struct {
	mu  sync.Mutex
	on  bool
	log monitoring.Logger
}

// NewManual returns a manual controller reporting on logger.
func NewManual(logger monitoring.Logger) *Manual {
	return &Manual{log: monitoring.OrDiscard(logger)}
}

// OpenManual returns an Opener for a Manual controller.
func OpenManual(logger monitoring.Logger) Opener {
	return func(context.Context) (Controller, error) {
		return NewManual(logger), nil
	}
}

func (m *Manual) On(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = true
	m.log.Diagf("laser turned ON")
	return nil
}

func (m *Manual) Off(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.on = false
	m.log.Diagf("laser turned OFF")
	return nil
}

func (m *Manual) IsOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

func (m *Manual) Close() error { return nil }

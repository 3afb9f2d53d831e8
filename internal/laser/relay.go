package laser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/laserscan/internal/monitoring"
)

// ErrClosed is returned by commands sent after Close.
var ErrClosed = errors.New("laser relay closed")

// Port is the part of a serial port the relay needs.
type Port interface {
	io.Writer
	io.Closer
}

// PortOpener opens the serial device at path.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerialPort opens a real serial port.
func OpenSerialPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// RelayConfig configures a SerialRelay.
type RelayConfig struct {
	Path       string
	Options    PortOptions
	OnCommand  string // written followed by a newline
	OffCommand string
	Opener     PortOpener // defaults to OpenSerialPort
	Logger     monitoring.Logger
}

// SerialRelay drives a relay board that accepts newline terminated
// commands on a serial line.
type SerialRelay struct {
	mu     sync.Mutex
	port   Port
	path   string
	onCmd  []byte
	offCmd []byte
	on     bool
	closed bool
	log    monitoring.Logger
}

// OpenRelay returns an Opener that opens the relay port with cfg.
func OpenRelay(cfg RelayConfig) Opener {
	return func(context.Context) (Controller, error) {
		return NewSerialRelay(cfg)
	}
}

// NewSerialRelay opens the port and returns a relay with the laser
// assumed off.
func NewSerialRelay(cfg RelayConfig) (*SerialRelay, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("laser relay port path is empty")
	}
	if cfg.OnCommand == "" || cfg.OffCommand == "" {
		return nil, fmt.Errorf("laser relay on/off commands must be set")
	}
	mode, err := cfg.Options.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("laser relay %s: %w", cfg.Path, err)
	}
	opener := cfg.Opener
	if opener == nil {
		opener = OpenSerialPort
	}
	port, err := opener(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("opening laser relay %s: %w", cfg.Path, err)
	}
	r := &SerialRelay{
		port:   port,
		path:   cfg.Path,
		onCmd:  []byte(cfg.OnCommand + "\n"),
		offCmd: []byte(cfg.OffCommand + "\n"),
		log:    monitoring.OrDiscard(cfg.Logger),
	}
	r.log.Diagf("laser relay open on %s at %d baud", cfg.Path, mode.BaudRate)
	return r, nil
}

// On switches the relay on.
func (r *SerialRelay) On(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.send(r.onCmd); err != nil {
		return err
	}
	r.on = true
	r.log.Diagf("laser turned ON")
	return nil
}

// Off switches the relay off.
func (r *SerialRelay) Off(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.send(r.offCmd); err != nil {
		return err
	}
	r.on = false
	r.log.Diagf("laser turned OFF")
	return nil
}

// IsOn reports the last commanded state.
func (r *SerialRelay) IsOn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}

// Close turns the laser off if it is still on, then closes the port.
func (r *SerialRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	var offErr error
	if r.on {
		if offErr = r.send(r.offCmd); offErr == nil {
			r.on = false
		}
	}
	r.closed = true
	return errors.Join(offErr, r.port.Close())
}

func (r *SerialRelay) send(cmd []byte) error {
	if r.closed {
		return ErrClosed
	}
	if _, err := r.port.Write(cmd); err != nil {
		return fmt.Errorf("writing %q to %s: %w", cmd, r.path, err)
	}
	return nil
}

package laser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{BaudRate: 115200, Parity: "even", StopBits: 2, DataBits: 7}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "E"}, opts)

	for _, bad := range []PortOptions{
		{DataBits: 9},
		{DataBits: 4},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 19200, StopBits: 2, Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 19200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{Parity: "X"}.SerialMode()
	assert.Error(t, err)
}

func TestSerialRelay_OnOff(t *testing.T) {
	port := &TestablePort{}
	var mode *serial.Mode
	ctrl, err := OpenRelay(RelayConfig{
		Path:       "/dev/ttyUSB0",
		Options:    PortOptions{BaudRate: 57600},
		OnCommand:  "L1",
		OffCommand: "L0",
		Opener:     port.Opener(&mode),
	})(context.Background())
	require.NoError(t, err)
	require.NotNil(t, mode)
	assert.Equal(t, 57600, mode.BaudRate)

	ctx := context.Background()
	assert.False(t, ctrl.IsOn())
	require.NoError(t, ctrl.On(ctx))
	assert.True(t, ctrl.IsOn())
	require.NoError(t, ctrl.Off(ctx))
	assert.False(t, ctrl.IsOn())
	require.NoError(t, ctrl.Close())

	assert.Equal(t, "L1\nL0\n", port.Written())
	assert.True(t, port.Closed)
	assert.ErrorIs(t, ctrl.On(ctx), ErrClosed)
	assert.NoError(t, ctrl.Close(), "second close is a no-op")
}

func TestSerialRelay_CloseTurnsOff(t *testing.T) {
	port := &TestablePort{}
	r, err := NewSerialRelay(RelayConfig{Path: "COM3", OnCommand: "ON", OffCommand: "OFF", Opener: port.Opener(nil)})
	require.NoError(t, err)

	require.NoError(t, r.On(context.Background()))
	require.NoError(t, r.Close())
	assert.Equal(t, "ON\nOFF\n", port.Written())
	assert.False(t, r.IsOn())
}

func TestSerialRelay_Errors(t *testing.T) {
	port := &TestablePort{}

	_, err := NewSerialRelay(RelayConfig{OnCommand: "1", OffCommand: "0", Opener: port.Opener(nil)})
	assert.ErrorContains(t, err, "path is empty")

	_, err = NewSerialRelay(RelayConfig{Path: "p", Opener: port.Opener(nil)})
	assert.ErrorContains(t, err, "commands")

	_, err = NewSerialRelay(RelayConfig{Path: "p", OnCommand: "1", OffCommand: "0", Options: PortOptions{DataBits: 12}})
	assert.ErrorContains(t, err, "data bits")

	failing := func(string, *serial.Mode) (Port, error) { return nil, errors.New("no such device") }
	_, err = NewSerialRelay(RelayConfig{Path: "p", OnCommand: "1", OffCommand: "0", Opener: failing})
	assert.ErrorContains(t, err, "no such device")

	r, err := NewSerialRelay(RelayConfig{Path: "p", OnCommand: "1", OffCommand: "0", Opener: port.Opener(nil)})
	require.NoError(t, err)
	port.WriteError = errors.New("io error")
	assert.ErrorContains(t, r.On(context.Background()), "io error")
	assert.False(t, r.IsOn(), "failed command leaves state unchanged")

	port.CloseError = errors.New("close failed")
	assert.ErrorContains(t, r.Close(), "close failed")
}

func TestManual(t *testing.T) {
	ctrl, err := OpenManual(nil)(context.Background())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, ctrl.On(ctx))
	assert.True(t, ctrl.IsOn())
	require.NoError(t, ctrl.Off(ctx))
	require.NoError(t, ctrl.Off(ctx))
	assert.False(t, ctrl.IsOn())
	assert.NoError(t, ctrl.Close())
}

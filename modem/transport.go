package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to a BGS2 modem.
//
// A Transport is assumed to be already connected and ready for use. Reads must
// block until data arrives, like a serial port does; the driver keeps exactly
// one goroutine reading from it.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a BGS2 modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens the modem over a local serial port.
type SerialDialer struct {
	// PortName is the device path, e.g. /dev/ttyUSB0 or COM3.
	PortName string
	// BaudRate is used when Mode is nil. Zero means 115200.
	BaudRate int
	// Mode overrides the whole line configuration.
	Mode *serial.Mode
}

// DefaultBaudRate is the BGS2 factory setting.
const DefaultBaudRate = 115200

// Dial opens the serial port. The port is configured 8N1 unless Mode is set.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("bgs2: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("bgs2: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	return port, nil
}

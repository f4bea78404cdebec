package modem

import (
	"context"
	"errors"
	"testing"

	"go.bug.st/serial"
	"go.uber.org/mock/gomock"
)

func TestSerialDialer(t *testing.T) {
	t.Run("Empty port name", func(t *testing.T) {
		transport, err := SerialDialer{}.Dial(context.Background())

		if err == nil || err.Error() != "bgs2: serial port name is required" {
			t.Errorf("unexpected error message: %v", err)
		}
		if transport != nil {
			t.Error("expected nil transport for empty port name")
		}
	})

	t.Run("Nil context", func(t *testing.T) {
		transport, err := SerialDialer{PortName: "/dev/ttyUSB0"}.Dial(nil)

		if err == nil || err.Error() != "bgs2: context is nil" {
			t.Errorf("unexpected error message: %v", err)
		}
		if transport != nil {
			t.Error("expected nil transport for nil context")
		}
	})

	t.Run("Canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		transport, err := SerialDialer{PortName: "/dev/nonexistent"}.Dial(ctx)

		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
		if transport != nil {
			t.Error("expected nil transport for canceled context")
		}
	})

	t.Run("Missing port", func(t *testing.T) {
		for name, dialer := range map[string]SerialDialer{
			"default mode": {PortName: "/dev/nonexistent"},
			"baud rate":    {PortName: "/dev/nonexistent", BaudRate: 9600},
			"explicit mode": {PortName: "/dev/nonexistent", Mode: &serial.Mode{
				BaudRate: 115200,
				Parity:   serial.NoParity,
				DataBits: 8,
				StopBits: serial.OneStopBit,
			}},
		} {
			t.Run(name, func(t *testing.T) {
				transport, err := dialer.Dial(context.Background())
				if err == nil {
					t.Fatal("expected error for non-existent port")
				}
				if transport != nil {
					t.Error("expected nil transport for non-existent port")
				}
			})
		}
	})
}

func TestMockDialer(t *testing.T) {
	ctrl := gomock.NewController(t)

	dialer := NewMockDialer(ctrl)
	transport := NewMockTransport(ctrl)
	var _ Dialer = dialer
	var _ Transport = transport

	dialErr := errors.New("dial failed")
	ctx := context.Background()
	gomock.InOrder(
		dialer.EXPECT().Dial(ctx).Return(transport, nil),
		dialer.EXPECT().Dial(ctx).Return(nil, dialErr),
	)

	got, err := dialer.Dial(ctx)
	if err != nil {
		t.Errorf("unexpected dial error: %v", err)
	}
	if got != transport {
		t.Error("expected mock transport to be returned")
	}

	got, err = dialer.Dial(ctx)
	if err != dialErr {
		t.Errorf("expected dial error, got: %v", err)
	}
	if got != nil {
		t.Error("expected nil transport on error")
	}
}

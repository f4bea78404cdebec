package modem_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/modem/modemtest"
)

// testBuilder returns a builder with timings shrunk for tests and no startup
// battery.
func testBuilder(dialer modem.Dialer) *modem.ConfigBuilder {
	return modem.NewConfigBuilder().
		WithDialer(dialer).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithEchoTimeout(time.Second).
		WithATTimeout(5 * time.Second).
		WithQuietPeriod(0).
		WithHandshakeDelay(0).
		WithStartupCommands([]string{})
}

// startModem dials dev through a mock dialer and starts the driver. The modem
// is closed when the test ends.
func startModem(t *testing.T, dev *modemtest.Device, configure ...func(*modem.ConfigBuilder)) *modem.Modem {
	t.Helper()
	m := newModem(t, dev, configure...)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error from Start(): %v", err)
	}
	return m
}

func newModem(t *testing.T, dev *modemtest.Device, configure ...func(*modem.ConfigBuilder)) *modem.Modem {
	t.Helper()
	ctrl := gomock.NewController(t)
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(dev, nil)

	b := testBuilder(dialer)
	for _, fn := range configure {
		fn(b)
	}
	config, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// waitEvent returns the first event of type T, skipping others.
func waitEvent[T modem.Event](t *testing.T, m *modem.Modem) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-m.Events():
			if want, ok := ev.(T); ok {
				return want
			}
		case <-timeout:
			var zero T
			t.Fatalf("expected %T event within timeout", zero)
			return zero
		}
	}
}

package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/bgs2/at"
)

// SIM states reported by +CPIN.
const (
	SIMReady = "READY"
	SIMPin   = "SIM PIN"
	SIMPuk   = "SIM PUK"
)

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = int(c.Timeout / c.Interval)
	}
	return c
}

// SIMStatus returns the +CPIN state, e.g. "READY" or "SIM PIN".
func (m *Modem) SIMStatus(ctx context.Context) (string, error) {
	values, err := m.query(ctx, "AT+CPIN?", "+CPIN")
	if err != nil {
		return "", err
	}
	return values[0], nil
}

// UnlockSIM enters pin when the SIM asks for one and waits until it reports
// ready. A SIM that is already ready is left alone.
func (m *Modem) UnlockSIM(ctx context.Context, pin string, poll PollConfig) error {
	status, err := m.SIMStatus(ctx)
	if err != nil {
		return fmt.Errorf("query SIM status: %w", err)
	}

	switch status {
	case SIMReady:
		return nil
	case SIMPin:
		if pin == "" {
			return ErrSIMPinRequired
		}
		if _, err := m.run(ctx, "AT+CPIN="+at.Quote(pin)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
		return m.waitForSIMReady(ctx, poll)
	default:
		return fmt.Errorf("unsupported SIM state: %q", status)
	}
}

// waitForSIMReady polls the SIM card status until it reports ready state.
// The SIM needs time to authenticate after the PIN is entered.
func (m *Modem) waitForSIMReady(ctx context.Context, poll PollConfig) error {
	poll = poll.withDefaults()

	ticker := time.NewTicker(poll.Interval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > poll.MaxRetries {
				return fmt.Errorf("SIM not ready after %d retries", poll.MaxRetries)
			}
			status, err := m.SIMStatus(ctx)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotRunning) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if status == SIMReady {
				return nil
			}
		}
	}
}

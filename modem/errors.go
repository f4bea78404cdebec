package modem

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when the Dialer hands back no Transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation attempted afterwards.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrAlreadyRunning is returned by Start when the background workers are
	// already active.
	ErrAlreadyRunning = errors.New("modem already running")

	// ErrNotRunning is returned when a command is issued before Start, or
	// after the workers stopped on their own (wrapping the reason).
	ErrNotRunning = errors.New("modem not running")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry with UnlockSIM.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrNoCommandPrefix is returned by Execute for command text that does not
	// carry the AT marker. Nothing is written to the transport.
	ErrNoCommandPrefix = errors.New("command lacks AT prefix")

	// ErrEchoTimeout is returned when the device does not echo a command
	// within the configured echo timeout.
	ErrEchoTimeout = errors.New("command echo not received")

	// ErrMalformedExchange is returned when the line following the echo is not
	// the blank separator that opens a result block.
	ErrMalformedExchange = errors.New("malformed command exchange")

	// ErrUnexpectedResponse is returned when a command succeeds but its
	// payload does not have the expected shape.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrOpenFailed is returned by Internet requests when the service profile
	// could not be opened at all.
	ErrOpenFailed = errors.New("internet service open failed")
)

// CommandError reports a command that the device answered with a terminal
// token other than OK, or with no recognised token at all.
type CommandError struct {
	Command string
	// Token is the terminal token, empty when none was recognised.
	Token string
	// Lines carries whatever payload preceded the token.
	Lines []string
}

func (e *CommandError) Error() string {
	token := e.Token
	if token == "" {
		token = "no result"
	}
	if len(e.Lines) == 0 {
		return fmt.Sprintf("command %q failed: %s", e.Command, token)
	}
	return fmt.Sprintf("command %q failed: %s (%s)", e.Command, token, strings.Join(e.Lines, "; "))
}

package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"i4.energy/across/bgs2/at"
)

// lineBuffer is the capacity of the channel between the transport reader and
// whichever component currently owns reads.
const lineBuffer = 256

// handshakeCommands are written raw before the workers start: verbose result
// codes, command echo on, and plain ERROR instead of +CME codes. Echo must be
// on because the executor frames every exchange on it.
var handshakeCommands = []string{"ATV1", "ATE1", "AT+CMEE=0"}

// Modem drives a Cinterion BGS2 modem over AT commands.
//
// A single goroutine reads the transport and turns bytes into lines. Who
// consumes those lines is explicit at every moment: the inbound handler while
// idle, the echo verifier while a command waits for its echo, and the command
// executor while it collects results. Lines that do not belong to a command
// are queued as unsolicited messages, decoded by the dispatcher, and delivered
// as typed values on Events.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger

	// mu guards closed, running, group and workCtx
	mu      sync.Mutex
	closed  bool
	running bool
	group   *errgroup.Group
	// workCtx ends when any worker stops; its cause is that worker's error
	workCtx context.Context

	// cmdMu serializes command exchanges; seq numbers them for logs
	cmdMu sync.Mutex
	seq   uint64

	// lines carries every token read off the wire
	lines chan string
	// readerDone is closed when the reader stops; readErr is set before
	readerDone chan struct{}
	readErr    error

	// echoReq hands a pending command to the echo verifier
	echoReq chan echoRequest
	// detach parks the inbound handler until the sent channel is closed
	detach chan chan struct{}

	urc    *urcQueue
	events chan Event

	// loopCtx controls the lifecycle of the background workers
	loopCtx context.Context
	// loopCancel stops them
	loopCancel context.CancelFunc
}

// New dials the modem and prepares the driver. No bytes are exchanged until
// Start. The workers live as long as ctx or until Close.
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	m := &Modem{
		transport:  transport,
		config:     config,
		logger:     config.logger.With("component", "modem"),
		lines:      make(chan string, lineBuffer),
		readerDone: make(chan struct{}),
		echoReq:    make(chan echoRequest),
		detach:     make(chan chan struct{}),
		urc:        newURCQueue(),
		events:     make(chan Event, config.eventBuffer),
	}

	// Prepare context for the workers (but don't start them yet)
	m.loopCtx, m.loopCancel = context.WithCancel(ctx)

	return m, nil
}

// Start performs the activation sequence: raw handshake, worker start-up, the
// startup command battery and, when a PIN is configured, SIM unlock. Startup
// command failures are logged and do not fail Start.
func (m *Modem) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrAlreadyClosed
	case m.running:
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	go m.readLoop(m.loopCtx)

	for _, cmd := range handshakeCommands {
		if _, err := m.transport.Write([]byte(cmd + at.CR)); err != nil {
			return fmt.Errorf("write %s: %w", cmd, err)
		}
		if err := sleepCtx(ctx, m.config.handshakeDelay); err != nil {
			return err
		}
	}
	m.drainLines()

	g, gctx := errgroup.WithContext(m.loopCtx)
	g.Go(func() error { return m.watchReader(gctx) })
	g.Go(func() error { return m.echoLoop(gctx) })
	g.Go(func() error { return m.dispatchLoop(gctx) })
	g.Go(func() error { return m.inboundLoop(gctx) })

	m.mu.Lock()
	m.group = g
	m.workCtx = gctx
	m.mu.Unlock()

	for _, cmd := range m.config.startup {
		if _, err := m.run(ctx, cmd); err != nil {
			m.logger.Warn("Startup command failed", "cmd", cmd, "error", err)
		}
	}

	if m.config.simPIN != "" {
		if err := m.UnlockSIM(ctx, m.config.simPIN, PollConfig{}); err != nil {
			return fmt.Errorf("unlock SIM: %w", err)
		}
	}

	m.logger.Info("Modem started", "startup_commands", len(m.config.startup))
	return nil
}

// Events returns the decoded unsolicited notifications. The channel is
// buffered; events are dropped with a warning when nobody keeps up.
func (m *Modem) Events() <-chan Event {
	return m.events
}

// Wait blocks until the workers stop and returns the first error that stopped
// them: the reader's error, or the context error after Close.
func (m *Modem) Wait() error {
	m.mu.Lock()
	g := m.group
	m.mu.Unlock()
	if g == nil {
		return ErrNotRunning
	}
	return g.Wait()
}

// Close shuts down the modem and releases all resources.
// It stops the workers, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	m.mu.Unlock()

	if m.loopCancel != nil {
		m.loopCancel()
	}

	if m.transport != nil {
		return m.transport.Close()
	}

	return nil
}

// readLoop is the only goroutine that reads the transport.
func (m *Modem) readLoop(ctx context.Context) {
	defer close(m.readerDone)

	scanner := bufio.NewScanner(m.transport)
	scanner.Buffer(make([]byte, 0, at.BufferQuantum), m.config.maxLineLength)
	scanner.Split(m.dropOversized(m.config.maxLineLength))

	for scanner.Scan() {
		line := scanner.Text()
		select {
		case m.lines <- line:
		case <-ctx.Done():
			m.readErr = ctx.Err()
			return
		}
	}

	err := scanner.Err()
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case err == nil:
		err = io.EOF
	}
	m.readErr = err
}

// dropOversized wraps at.Splitter so that a line reaching limit bytes without
// a terminator is discarded, up to and including its terminator, instead of
// failing the scanner.
func (m *Modem) dropOversized(limit int) bufio.SplitFunc {
	var dropped int
	return func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := at.Splitter(data, atEOF)
		if err != nil {
			return advance, token, err
		}
		if advance > 0 || token != nil {
			if dropped == 0 {
				return advance, token, nil
			}
			m.logger.Warn("Dropped oversized line", "bytes", dropped+len(token))
			dropped = 0
			return advance, nil, nil
		}
		if len(data) < limit {
			return 0, nil, nil
		}
		// keep a trailing CR, it may start the CRLF
		n := len(data)
		if data[n-1] == '\r' {
			n--
		}
		dropped += n
		return n, nil, nil
	}
}

func (m *Modem) watchReader(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.readerDone:
		if !errors.Is(m.readErr, context.Canceled) {
			m.logger.Error("Transport reader stopped", "error", m.readErr)
		}
		return m.readErr
	}
}

// nextLine returns the next line read off the wire. Lines buffered before the
// reader stopped are still handed out.
func (m *Modem) nextLine(ctx context.Context) (string, error) {
	select {
	case line := <-m.lines:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.readerDone:
		select {
		case line := <-m.lines:
			return line, nil
		default:
		}
		return "", fmt.Errorf("read line: %w", m.readErr)
	}
}

// pending reports whether lines are already waiting to be consumed.
func (m *Modem) pending() bool {
	return len(m.lines) > 0
}

func (m *Modem) drainLines() {
	for {
		select {
		case line := <-m.lines:
			m.logger.Debug("Discarding handshake output", "line", line)
		default:
			return
		}
	}
}

// inboundLoop owns reads while no command is in flight. Every non-empty line
// it sees is unsolicited.
func (m *Modem) inboundLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hold := <-m.detach:
			select {
			case <-hold:
			case <-ctx.Done():
				return ctx.Err()
			}
		case line := <-m.lines:
			if line != "" {
				m.urc.push(line)
			}
		}
	}
}

// detachInbound parks the inbound handler and returns the function that
// re-arms it.
func (m *Modem) detachInbound(ctx, work context.Context) (func(), error) {
	hold := make(chan struct{})
	select {
	case m.detach <- hold:
		return func() { close(hold) }, nil
	case <-work.Done():
		return nil, m.stopError(work)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stopError explains why the workers are gone: Close, or the worker error
// that stopped the group.
func (m *Modem) stopError(work context.Context) error {
	if m.loopCtx.Err() != nil {
		return ErrAlreadyClosed
	}
	return fmt.Errorf("%w: workers stopped: %w", ErrNotRunning, context.Cause(work))
}

func (m *Modem) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("Event channel full, dropping event", "kind", ev.Kind())
	}
}

// state reports the lifecycle flags and the worker context, nil until the
// workers run.
func (m *Modem) state() (closed bool, work context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed, m.workCtx
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"i4.energy/across/bgs2/at"
)

// Response is the outcome of one command exchange.
type Response struct {
	// OK is true when the result block ended with OK.
	OK bool
	// Token is the terminal token that closed the block, empty if none did.
	Token string
	// Lines is the payload with echo, separators and terminal token removed.
	Lines []string
}

type execOptions struct {
	body     *string
	trailing func(lines []string) []byte
}

// ExecOption customises a single Execute call.
type ExecOption func(*execOptions)

// WithBody sends body after the echo, terminated by Ctrl-Z, as required by
// prompt-driven commands such as AT+CMGS.
func WithBody(body string) ExecOption {
	return func(o *execOptions) {
		o.body = &body
	}
}

// WithTrailingWrite sends raw data once the first result lines have been read,
// as required by AT^SISW. fn sees those lines and returns the data to send.
func WithTrailingWrite(fn func(lines []string) []byte) ExecOption {
	return func(o *execOptions) {
		o.trailing = fn
	}
}

type echoRequest struct {
	cmd  string
	ctx  context.Context
	done chan error
}

// echoLoop confirms command echoes on request. Lines that are not the echo
// are unsolicited and go to the queue.
func (m *Modem) echoLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-m.echoReq:
			req.done <- m.verifyEcho(req)
		}
	}
}

func (m *Modem) verifyEcho(req echoRequest) error {
	for {
		line, err := m.nextLine(req.ctx)
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if strings.Contains(line, req.cmd) {
			return nil
		}
		m.logger.Debug("Unsolicited line while awaiting echo", "line", line)
		m.urc.push(line)
	}
}

// awaitEcho hands cmd to the echo verifier and waits at most the echo timeout.
func (m *Modem) awaitEcho(ctx, work context.Context, cmd string) error {
	echoCtx, cancel := context.WithTimeout(ctx, m.config.echoTimeout)
	defer cancel()

	req := echoRequest{cmd: cmd, ctx: echoCtx, done: make(chan error, 1)}
	select {
	case m.echoReq <- req:
	case <-work.Done():
		return m.stopError(work)
	case <-echoCtx.Done():
		return echoFailure(ctx, echoCtx.Err())
	}

	if err := <-req.done; err != nil {
		return echoFailure(ctx, err)
	}
	return nil
}

func echoFailure(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrEchoTimeout
	}
	return err
}

// Execute sends one AT command and collects its result block.
//
// A command the device answers with a terminal token other than OK yields a
// Response with OK=false and a nil error; the payload before the token is
// kept. Errors are reserved for exchanges that could not complete: missing AT
// prefix (nothing is written), closed or stopped driver, missing echo,
// malformed framing, transport failure or context expiry.
//
// Calls are serialized. When ctx has no deadline the configured AT timeout
// applies.
func (m *Modem) Execute(ctx context.Context, cmd string, opts ...ExecOption) (Response, error) {
	if !at.HasPrefix(cmd) {
		return Response{}, ErrNoCommandPrefix
	}
	closed, work := m.state()
	if closed {
		return Response{}, ErrAlreadyClosed
	}
	if work == nil {
		return Response{}, ErrNotRunning
	}
	if work.Err() != nil {
		return Response{}, m.stopError(work)
	}

	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Apply per-command timeout if context has none
	if _, ok := ctx.Deadline(); !ok && m.config.atTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.atTimeout)
		defer cancel()
	}

	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	m.seq++
	seq := m.seq

	release, err := m.detachInbound(ctx, work)
	if err != nil {
		return Response{}, err
	}
	defer release()
	// The device needs settling time after every exchange, failed ones too.
	// Only Close cuts it short.
	defer sleepCtx(m.loopCtx, m.config.quietPeriod)

	resp, err := m.exchange(ctx, work, cmd, o)
	if err != nil {
		m.logger.Debug("Command failed", "cmd", cmd, "seq", seq, "error", err)
		return Response{}, err
	}
	m.logger.Debug("Command completed", "cmd", cmd, "seq", seq, "ok", resp.OK, "token", resp.Token, "lines", len(resp.Lines))
	return resp, nil
}

func (m *Modem) exchange(ctx, work context.Context, cmd string, o execOptions) (Response, error) {
	if _, err := m.transport.Write([]byte(cmd + at.CR)); err != nil {
		return Response{}, fmt.Errorf("write command %q: %w", cmd, err)
	}

	if err := m.awaitEcho(ctx, work, cmd); err != nil {
		return Response{}, fmt.Errorf("echo of %q: %w", cmd, err)
	}

	if o.body != nil {
		if _, err := m.transport.Write([]byte(*o.body + at.CtrlZ)); err != nil {
			return Response{}, fmt.Errorf("write body of %q: %w", cmd, err)
		}
		for {
			line, err := m.nextLine(ctx)
			if err != nil {
				return Response{}, fmt.Errorf("body echo of %q: %w", cmd, err)
			}
			if strings.Contains(line, at.CtrlZ) {
				break
			}
		}
	}

	// The result block always opens with a blank separator
	sep, err := m.nextLine(ctx)
	if err != nil {
		return Response{}, err
	}
	if sep != "" {
		m.logger.Debug("Expected blank separator", "cmd", cmd, "line", sep)
		return Response{}, ErrMalformedExchange
	}

	var lines []string
	for {
		line, err := m.nextLine(ctx)
		if err != nil {
			return Response{}, err
		}
		lines = append(lines, line)
		if !m.pending() {
			break
		}
	}

	if o.trailing != nil {
		if data := o.trailing(lines); len(data) > 0 {
			if _, err := m.transport.Write(data); err != nil {
				return Response{}, fmt.Errorf("write data of %q: %w", cmd, err)
			}
		}
	}

	lines, err = m.scanTerminal(ctx, lines)
	if err != nil {
		return Response{}, err
	}
	return classify(lines), nil
}

// scanTerminal makes sure lines ends with a terminal token. It searches
// backwards down to a floor; without a hit it reads one more line and moves
// the floor past what was already searched. A token found before the last
// line cuts the block there and the lines after it become unsolicited.
func (m *Modem) scanTerminal(ctx context.Context, lines []string) ([]string, error) {
	floor := 0
	for {
		idx := -1
		for i := len(lines) - 1; i >= floor; i-- {
			if at.IsTerminal(lines[i]) {
				idx = i
				break
			}
		}

		switch {
		case idx == len(lines)-1:
			return lines, nil

		case idx < 0:
			floor = len(lines)
			line, err := m.nextLine(ctx)
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)

		default:
			for _, stray := range lines[idx+1:] {
				if stray == "" {
					continue
				}
				m.logger.Debug("Unsolicited line after result", "line", stray)
				m.urc.push(stray)
			}
			return lines[:idx+1], nil
		}
	}
}

// classify turns a block ending in a terminal token into a Response.
func classify(lines []string) Response {
	last := len(lines) - 1
	if last < 0 {
		return Response{}
	}
	token := lines[last]
	switch {
	case token == at.OK:
		payload := lines[:last]
		if n := len(payload); n > 0 && payload[n-1] == "" {
			payload = payload[:n-1]
		}
		return Response{OK: true, Token: token, Lines: payload}
	case at.IsTerminal(token):
		return Response{Token: token, Lines: lines[:last]}
	default:
		return Response{Lines: lines}
	}
}

// run executes cmd and converts a non-OK result into a *CommandError.
func (m *Modem) run(ctx context.Context, cmd string, opts ...ExecOption) ([]string, error) {
	resp, err := m.Execute(ctx, cmd, opts...)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &CommandError{Command: cmd, Token: resp.Token, Lines: resp.Lines}
	}
	return resp.Lines, nil
}

// query runs cmd and returns the values of the first payload line tagged tag.
func (m *Modem) query(ctx context.Context, cmd, tag string, opts ...ExecOption) ([]string, error) {
	lines, err := m.run(ctx, cmd, opts...)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if t, values, ok := at.SplitTag(line); ok && t == tag {
			return values, nil
		}
	}
	return nil, fmt.Errorf("%s: %w: %q", cmd, ErrUnexpectedResponse, lines)
}

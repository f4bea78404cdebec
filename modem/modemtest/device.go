// Package modemtest provides a scripted stand-in for a BGS2 modem on the far
// end of the serial line.
//
// A Device echoes every command it receives followed by a scripted reply.
// Unscripted commands are answered with OK. Tests hand the Device to the
// driver as its Transport and inspect what was written afterwards.
package modemtest

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"sync"
)

const (
	cr    = "\r"
	crlf  = "\r\n"
	ctrlZ = "\x1a"
)

// Reply is the device's answer to one command.
type Reply struct {
	// Response follows the echo, e.g. "\r\n+CSQ: 15,99\r\n\r\nOK\r\n".
	Response string
	// Body makes the device prompt for an inline body terminated by Ctrl-Z.
	// Response is sent once the body arrived.
	Body bool
	// Raw makes the device wait for that many raw bytes after Response and
	// send After once they arrived.
	Raw   int
	After string
	// NoEcho suppresses the echo.
	NoEcho bool
}

// OK replies with the payload lines followed by OK.
func OK(payload ...string) Reply {
	if len(payload) == 0 {
		return Reply{Response: crlf + "OK" + crlf}
	}
	return Reply{Response: crlf + strings.Join(payload, crlf) + crlf + crlf + "OK" + crlf}
}

// Error replies with a bare ERROR.
func Error() Reply {
	return Reply{Response: crlf + "ERROR" + crlf}
}

// Prompt replies to a command carrying an inline body.
func Prompt(payload ...string) Reply {
	r := OK(payload...)
	r.Body = true
	return r
}

// Accept answers AT^SISW: it reports n accepted bytes, waits for them and
// closes with OK. With n zero the OK follows at once.
func Accept(profile, n int) Reply {
	line := crlf + "^SISW: " + strconv.Itoa(profile) + "," + strconv.Itoa(n) + crlf
	if n <= 0 {
		return Reply{Response: line + crlf + "OK" + crlf}
	}
	return Reply{
		Response: line,
		Raw:      n,
		After:    crlf + "OK" + crlf,
	}
}

type mode int

const (
	modeCommand mode = iota
	modeBody
	modeRaw
)

// Device implements io.ReadWriteCloser.
type Device struct {
	mu      sync.Mutex
	script  map[string][]Reply
	in      []byte
	mode    mode
	waiting Reply
	rawLeft int
	rawBuf  []byte

	commands []string
	bodies   []string
	raw      [][]byte

	out     chan []byte
	unread  []byte
	done    chan struct{}
	closing sync.Once
}

var _ io.ReadWriteCloser = (*Device)(nil)

func New() *Device {
	return &Device{
		script: make(map[string][]Reply),
		out:    make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// On queues replies for cmd. They are used in order; the last one keeps
// answering once the others are spent.
func (d *Device) On(cmd string, replies ...Reply) *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script[cmd] = append(d.script[cmd], replies...)
	return d
}

// Emit sends raw bytes to the host as if the device produced them on its own.
func (d *Device) Emit(s string) {
	d.send([]byte(s))
}

// Commands returns every command line received so far, in order.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Count returns how often cmd was received.
func (d *Device) Count(cmd string) int {
	n := 0
	for _, c := range d.Commands() {
		if c == cmd {
			n++
		}
	}
	return n
}

// Bodies returns the inline bodies received, without Ctrl-Z.
func (d *Device) Bodies() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.bodies...)
}

// RawWrites returns the raw data blocks received after AT^SISW.
func (d *Device) RawWrites() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.raw))
	for i, b := range d.raw {
		out[i] = bytes.Clone(b)
	}
	return out
}

func (d *Device) Read(p []byte) (int, error) {
	if len(d.unread) == 0 {
		select {
		case b := <-d.out:
			d.unread = b
		case <-d.done:
			return 0, io.EOF
		}
	}
	n := copy(p, d.unread)
	d.unread = d.unread[n:]
	return n, nil
}

func (d *Device) Write(p []byte) (int, error) {
	select {
	case <-d.done:
		return 0, io.ErrClosedPipe
	default:
	}

	d.mu.Lock()
	d.in = append(d.in, p...)
	replies := d.process()
	d.mu.Unlock()

	for _, r := range replies {
		d.send([]byte(r))
	}
	return len(p), nil
}

func (d *Device) Close() error {
	d.closing.Do(func() { close(d.done) })
	return nil
}

func (d *Device) send(b []byte) {
	if len(b) == 0 {
		return
	}
	select {
	case d.out <- b:
	case <-d.done:
	}
}

// process consumes host bytes and returns what the device answers.
func (d *Device) process() []string {
	var replies []string
	for {
		switch d.mode {
		case modeCommand:
			i := bytes.IndexByte(d.in, '\r')
			if i < 0 {
				return replies
			}
			cmd := strings.TrimSpace(string(d.in[:i]))
			d.in = d.in[i+1:]
			if cmd == "" {
				continue
			}
			replies = append(replies, d.answer(cmd)...)

		case modeBody:
			i := bytes.IndexByte(d.in, ctrlZ[0])
			if i < 0 {
				return replies
			}
			body := string(d.in[:i])
			d.in = d.in[i+1:]
			d.bodies = append(d.bodies, body)
			d.mode = modeCommand
			replies = append(replies, body+ctrlZ+d.waiting.Response)

		case modeRaw:
			if len(d.in) == 0 {
				return replies
			}
			n := min(d.rawLeft, len(d.in))
			d.rawBuf = append(d.rawBuf, d.in[:n]...)
			d.in = d.in[n:]
			d.rawLeft -= n
			if d.rawLeft > 0 {
				return replies
			}
			d.raw = append(d.raw, d.rawBuf)
			d.rawBuf = nil
			d.mode = modeCommand
			replies = append(replies, d.waiting.After)
		}
	}
}

func (d *Device) answer(cmd string) []string {
	d.commands = append(d.commands, cmd)

	reply := OK()
	if queue := d.script[cmd]; len(queue) > 0 {
		reply = queue[0]
		if len(queue) > 1 {
			d.script[cmd] = queue[1:]
		}
	}

	echo := cmd + cr
	if reply.NoEcho {
		echo = ""
	}
	switch {
	case reply.Body:
		d.mode = modeBody
		d.waiting = reply
		return []string{echo + crlf + "> "}
	case reply.Raw > 0:
		d.mode = modeRaw
		d.rawLeft = reply.Raw
		d.waiting = reply
		return []string{echo + reply.Response}
	default:
		return []string{echo + reply.Response}
	}
}

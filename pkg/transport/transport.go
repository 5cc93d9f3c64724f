// Package transport owns the serial link to the stage controller and
// serializes every byte that goes over it.
//
// All commands, acknowledged or not, funnel through one writer goroutine,
// so wire order always equals arrival order at the transport.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/probelab/sonicstage/pkg/gcode"
)

// Errors returned (wrapped in *CommandError) by transport operations.
var (
	ErrClosed     = errors.New("transport closed")
	ErrAckTimeout = errors.New("acknowledgement timeout")
)

// CommandError names the command that failed on the wire and the underlying
// cause. The transport never retries; retry policy belongs to the caller.
type CommandError struct {
	Cmd string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("transport: %q: %v", e.Cmd, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Port is the minimal device handle the transport drives. *serial.Port
// satisfies it; tests inject an in-memory double.
type Port interface {
	io.ReadWriteCloser
}

// Config selects and opens the physical link.
type Config struct {
	// Port is the device path. Empty means auto-detect (see DetectPort).
	Port string
	// Baud defaults to 115200.
	Baud int
	// ResetDelay is how long to wait after opening before the MCU has
	// finished its power-on reset. Defaults to 2s.
	ResetDelay time.Duration
}

type result struct {
	lines []string
	err   error
}

type request struct {
	line    string
	ack     bool
	timeout time.Duration
	done    chan result
}

// Transport is the single owner of the serial link.
type Transport struct {
	port  Port
	reqCh chan request
	lines chan string
	quit  chan struct{}
}

// Open connects to the stage controller and starts the transport workers.
func Open(cfg Config) (*Transport, error) {
	name := cfg.Port
	if name == "" {
		detected, err := DetectPort()
		if err != nil {
			return nil, fmt.Errorf("detect port: %w", err)
		}
		name = detected
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	delay := cfg.ResetDelay
	if delay == 0 {
		delay = 2 * time.Second
	}
	time.Sleep(delay) // controller reboots when DTR toggles on open

	slog.Info("serial link up", "port", name, "baud", baud)
	return New(port), nil
}

// New wraps an already-open port. Used by Open and by tests.
func New(port Port) *Transport {
	t := &Transport{
		port:  port,
		reqCh: make(chan request),
		lines: make(chan string, 64),
		quit:  make(chan struct{}),
	}
	go t.readLoop()
	go t.writeLoop()
	return t
}

// Close tears down the workers and the port. In-flight requests fail with
// ErrClosed.
func (t *Transport) Close() error {
	select {
	case <-t.quit:
		return nil
	default:
	}
	close(t.quit)
	return t.port.Close()
}

// Send writes one command without waiting for the device to acknowledge it.
// It returns once the bytes are on the wire (or the write failed), keeping
// high-frequency motion responsive. A write failure surfaces as a
// *CommandError.
func (t *Transport) Send(cmd string) error {
	res, err := t.submit(context.Background(), request{
		line: cmd,
		done: make(chan result, 1),
	})
	if err != nil {
		return err
	}
	return res.err
}

// SendAwait writes one command and blocks until the device sends a
// recognized acknowledgement line or the timeout elapses. It returns every
// response line read, the acknowledgement included.
func (t *Transport) SendAwait(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	res, err := t.submit(ctx, request{
		line:    cmd,
		ack:     true,
		timeout: timeout,
		done:    make(chan result, 1),
	})
	if err != nil {
		return nil, err
	}
	return res.lines, res.err
}

func (t *Transport) submit(ctx context.Context, req request) (result, error) {
	select {
	case t.reqCh <- req:
	case <-t.quit:
		return result{}, &CommandError{Cmd: req.line, Err: ErrClosed}
	case <-ctx.Done():
		return result{}, &CommandError{Cmd: req.line, Err: ctx.Err()}
	}

	select {
	case res := <-req.done:
		return res, nil
	case <-t.quit:
		return result{}, &CommandError{Cmd: req.line, Err: ErrClosed}
	case <-ctx.Done():
		return result{}, &CommandError{Cmd: req.line, Err: ctx.Err()}
	}
}

// readLoop turns the byte stream into lines. It exits when the port closes.
func (t *Transport) readLoop() {
	scanner := bufio.NewScanner(t.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case t.lines <- line:
		case <-t.quit:
			return
		default:
			// Nobody is awaiting and the buffer is full: drop. The
			// firmware chatters ok lines for fire-and-forget moves.
		}
	}
	close(t.lines)
}

// writeLoop is the single writer. It serializes every command and, for
// acknowledged requests, collects the response before touching the next
// request.
func (t *Transport) writeLoop() {
	for {
		select {
		case <-t.quit:
			return
		case req := <-t.reqCh:
			req.done <- t.execute(req)
		}
	}
}

func (t *Transport) execute(req request) result {
	if req.ack {
		t.drainStale()
	}

	if _, err := t.port.Write([]byte(strings.TrimSpace(req.line) + "\n")); err != nil {
		return result{err: &CommandError{Cmd: req.line, Err: err}}
	}
	if !req.ack {
		return result{}
	}

	timeout := req.timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var lines []string
	for {
		select {
		case line, ok := <-t.lines:
			if !ok {
				return result{lines: lines, err: &CommandError{Cmd: req.line, Err: io.ErrUnexpectedEOF}}
			}
			lines = append(lines, line)
			if gcode.IsAck(line) {
				return result{lines: lines}
			}
		case <-timer.C:
			return result{lines: lines, err: &CommandError{Cmd: req.line, Err: ErrAckTimeout}}
		case <-t.quit:
			return result{lines: lines, err: &CommandError{Cmd: req.line, Err: ErrClosed}}
		}
	}
}

// drainStale discards buffered response lines left over from earlier
// fire-and-forget commands so they cannot masquerade as this command's
// acknowledgement.
func (t *Transport) drainStale() {
	for {
		select {
		case _, ok := <-t.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

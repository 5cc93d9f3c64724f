package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePort is an in-memory stand-in for the controller: it records every
// command line and answers according to a script.
type fakePort struct {
	mu     sync.Mutex
	writes []string
	script func(cmd string) []string
	failWr error

	pr *io.PipeReader
	pw *io.PipeWriter
}

func newFakePort(script func(cmd string) []string) *fakePort {
	pr, pw := io.Pipe()
	return &fakePort{script: script, pr: pr, pw: pw}
}

func (f *fakePort) Write(p []byte) (int, error) {
	if f.failWr != nil {
		return 0, f.failWr
	}
	cmd := strings.TrimSpace(string(p))
	f.mu.Lock()
	f.writes = append(f.writes, cmd)
	f.mu.Unlock()

	if f.script != nil {
		if lines := f.script(cmd); len(lines) > 0 {
			payload := strings.Join(lines, "\n") + "\n"
			go f.pw.Write([]byte(payload))
		}
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) { return f.pr.Read(p) }

func (f *fakePort) Close() error {
	f.pw.Close()
	return f.pr.Close()
}

func (f *fakePort) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func TestSendAwait_ReturnsResponseThroughAck(t *testing.T) {
	port := newFakePort(func(cmd string) []string {
		if cmd == "M114" {
			return []string{"X:1.00 Y:2.00 Z:3.00 E:0.00 Count X:80", "ok"}
		}
		return []string{"ok"}
	})
	tr := New(port)
	defer tr.Close()

	lines, err := tr.SendAwait(context.Background(), "M114", time.Second)
	if err != nil {
		t.Fatalf("SendAwait: %v", err)
	}
	if len(lines) != 2 || lines[1] != "ok" {
		t.Fatalf("unexpected response %v", lines)
	}
}

func TestSendAwait_Timeout(t *testing.T) {
	port := newFakePort(nil) // device stays silent
	tr := New(port)
	defer tr.Close()

	_, err := tr.SendAwait(context.Background(), "M400", 50*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("err = %v, want ErrAckTimeout", err)
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Cmd != "M400" {
		t.Fatalf("error does not name the command: %v", err)
	}
}

func TestSend_DoesNotWaitForDevice(t *testing.T) {
	port := newFakePort(nil) // silent device
	tr := New(port)
	defer tr.Close()

	done := make(chan error, 1)
	go func() { done <- tr.Send("G1 X0.100 F2400") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("fire-and-forget send blocked on a silent device")
	}
}

func TestSend_PreservesArrivalOrder(t *testing.T) {
	port := newFakePort(nil)
	tr := New(port)
	defer tr.Close()

	cmds := []string{"G91", "G1 X0.100 F2400", "G1 X0.100 F2400", "G90"}
	for _, cmd := range cmds {
		if err := tr.Send(cmd); err != nil {
			t.Fatalf("Send(%q): %v", cmd, err)
		}
	}

	got := port.Writes()
	if len(got) != len(cmds) {
		t.Fatalf("wrote %d commands, want %d", len(got), len(cmds))
	}
	for i, cmd := range cmds {
		if got[i] != cmd {
			t.Errorf("write[%d] = %q, want %q", i, got[i], cmd)
		}
	}
}

func TestSend_WriteErrorSurfaces(t *testing.T) {
	port := newFakePort(nil)
	port.failWr = fmt.Errorf("device unplugged")
	tr := New(port)
	defer tr.Close()

	err := tr.Send("G90")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("err = %v, want *CommandError", err)
	}
	if cmdErr.Cmd != "G90" {
		t.Errorf("Cmd = %q, want G90", cmdErr.Cmd)
	}
}

func TestStaleLinesDoNotAcknowledgeLaterCommand(t *testing.T) {
	// The device acks a fire-and-forget move late; the leftover ok must not
	// satisfy a subsequent acknowledged command.
	port := newFakePort(func(cmd string) []string {
		if cmd == "G1 X0.100 F2400" {
			return []string{"ok"}
		}
		return nil // M400 never answered
	})
	tr := New(port)
	defer tr.Close()

	if err := tr.Send("G1 X0.100 F2400"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the stale ok land in the buffer

	_, err := tr.SendAwait(context.Background(), "M400", 100*time.Millisecond)
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("stale ok consumed as acknowledgement: err = %v", err)
	}
}

func TestClose_FailsPendingSends(t *testing.T) {
	port := newFakePort(nil)
	tr := New(port)
	tr.Close()

	if err := tr.Send("G90"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if _, err := tr.SendAwait(context.Background(), "M114", time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestSendAwait_ContextCancel(t *testing.T) {
	port := newFakePort(nil)
	tr := New(port)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := tr.SendAwait(ctx, "M400", 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

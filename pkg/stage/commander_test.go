package stage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// fakeCommander records every command in arrival order and scripts
// acknowledged responses. It stands in for the transport in all stage
// tests.
type fakeCommander struct {
	mu     sync.Mutex
	writes []string

	// failSend returns an error for matching fire-and-forget commands.
	failSend func(cmd string) error
	// ack scripts SendAwait responses; nil means a bare ok.
	ack func(cmd string) ([]string, error)
}

func (f *fakeCommander) Send(cmd string) error {
	if f.failSend != nil {
		if err := f.failSend(cmd); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.writes = append(f.writes, cmd)
	f.mu.Unlock()
	return nil
}

func (f *fakeCommander) SendAwait(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	f.mu.Lock()
	f.writes = append(f.writes, cmd)
	f.mu.Unlock()
	if f.ack != nil {
		return f.ack(cmd)
	}
	return []string{"ok"}, nil
}

func (f *fakeCommander) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeCommander) Count(prefix string) int {
	n := 0
	for _, w := range f.Writes() {
		if strings.HasPrefix(w, prefix) {
			n++
		}
	}
	return n
}

// checkModePairing verifies the core protocol invariant: after a switch to
// relative mode, the next mode switch must be the restoring absolute one,
// never a second relative switch.
func checkModePairing(writes []string) error {
	relative := false
	for i, w := range writes {
		switch w {
		case "G91":
			if relative {
				return fmt.Errorf("write %d: G91 while already relative (no G90 between): %v", i, writes)
			}
			relative = true
		case "G90":
			relative = false
		}
	}
	return nil
}

func testConfig(dir string) *Config {
	cfg := DefaultConfig()
	cfg.RotationFile = dir + "/e_axis_position.txt"
	cfg.Safety = Safety{
		MaxStepMM:       20,
		MaxFeedMMPerMin: 4000,
		MaxHoldS:        30,
		MinTickMS:       1,
	}
	cfg.UIJog = JogTuning{FeedMMPerMin: 2400, TickMS: 5}
	cfg.KeyboardJog = JogTuning{FeedMMPerMin: 4000, TickMS: 5}
	return cfg
}

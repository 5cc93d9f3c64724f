package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/probelab/sonicstage/pkg/gcode"
)

// RotationStore persists the E-axis absolute position so restarts (and the
// separate recorder process) keep the same rotation reference. Format: a
// single decimal number in a text file.
type RotationStore struct {
	path     string
	fallback float64
}

func NewRotationStore(path string, fallback float64) *RotationStore {
	return &RotationStore{path: path, fallback: fallback}
}

// Load returns the persisted rotation, or the configured nominal value when
// no record exists or the record is corrupt. Corruption is logged, never
// fatal.
func (s *RotationStore) Load() float64 {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("rotation store unreadable, using default",
				"path", s.path, "default", s.fallback, "err", err)
		}
		return s.fallback
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		slog.Warn("rotation store corrupt, using default",
			"path", s.path, "default", s.fallback, "err", err)
		return s.fallback
	}
	return v
}

// Save writes the rotation value. Called after every successful E move.
func (s *RotationStore) Save(v float64) error {
	if err := os.WriteFile(s.path, []byte(fmt.Sprintf("%.6f", v)), 0644); err != nil {
		return fmt.Errorf("persist rotation: %w", err)
	}
	return nil
}

// Tracker issues position queries and caches the last parsed snapshot.
// The cache lets high-frequency UI polling stay off the serial link.
//
// Because continuous moves are fire-and-forget, a query landing mid-hold is
// point-in-time approximate; callers must not read it as the exact pose.
type Tracker struct {
	cmd      Commander
	interval time.Duration

	mu  sync.RWMutex
	pos gcode.Position
}

func NewTracker(cmd Commander, interval time.Duration) *Tracker {
	return &Tracker{cmd: cmd, interval: interval, pos: make(gcode.Position)}
}

// Seed records a coordinate without touching the device. Used at startup to
// carry the persisted rotation into the snapshot.
func (t *Tracker) Seed(axis gcode.Axis, v float64) {
	t.mu.Lock()
	t.pos[axis] = v
	t.mu.Unlock()
}

// Cached returns the last successful snapshot. Axes never resolved are
// absent.
func (t *Tracker) Cached() gcode.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pos.Clone()
}

// Query sends an acknowledged position query and merges the parsed result
// into the cache. Axes missing from the response keep their previous cached
// value rather than degrading to unknown.
func (t *Tracker) Query(ctx context.Context) (gcode.Position, error) {
	lines, err := t.cmd.SendAwait(ctx, gcode.QueryPosition, 3*time.Second)
	if err != nil {
		return nil, err
	}
	parsed := gcode.ParsePosition(lines)

	t.mu.Lock()
	for axis, v := range parsed {
		t.pos[axis] = v
	}
	snapshot := t.pos.Clone()
	t.mu.Unlock()
	return snapshot, nil
}

// Run refreshes the snapshot on a timer until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	if t.interval <= 0 {
		t.interval = time.Second
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Query(ctx); err != nil && ctx.Err() == nil {
				slog.Debug("position refresh failed", "err", err)
			}
		}
	}
}

package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/probelab/sonicstage/pkg/gcode"
)

// Scheduler runs continuous "hold-to-move" sessions for one source (the
// web UI or the keyboard listener). Each active session is a goroutine that
// owns its session state exclusively; the scheduler only tracks the
// registry and the stop signals.
//
// A session holds the mode guard from its switch to relative mode until the
// restoring switch back to absolute. Two sessions for different actions may
// be started concurrently; the later one waits for the guard inside its own
// goroutine and performs zero writes until it gets it.
type Scheduler struct {
	cmd    Commander
	guard  *ModeGuard
	limits Limits
	tuning JogTuning
	source Origin
	rot    *RotationStore
	errs   chan<- error
	eventf func(format string, args ...any)

	mu       sync.Mutex
	sessions map[Action]*session
	wg       sync.WaitGroup
}

// session is one active hold. Owned exclusively by its goroutine after
// Start; Stop only pokes the cancel func.
type session struct {
	action  Action
	feed    float64
	tick    time.Duration
	started time.Time
	cancel  context.CancelFunc
}

func NewScheduler(cmd Commander, guard *ModeGuard, limits Limits, tuning JogTuning, source Origin, rot *RotationStore, errs chan<- error, eventf func(string, ...any)) *Scheduler {
	if eventf == nil {
		eventf = func(format string, args ...any) {
			slog.Info(fmt.Sprintf(format, args...))
		}
	}
	return &Scheduler{
		cmd:      cmd,
		guard:    guard,
		limits:   limits,
		tuning:   tuning,
		source:   source,
		rot:      rot,
		errs:     errs,
		eventf:   eventf,
		sessions: make(map[Action]*session),
	}
}

// Start begins a continuous hold. Starting an action that is already
// running is a no-op. Zero feed or tick fall back to the variant's tuning,
// then everything is clamped.
func (s *Scheduler) Start(action Action, feed float64, tick time.Duration) error {
	if _, _, ok := action.Vector(); !ok {
		return fmt.Errorf("unknown action %q", action)
	}

	if feed <= 0 {
		feed = s.tuning.FeedMMPerMin
	}
	if clamped, adjusted := s.limits.ClampFeed(feed); adjusted {
		metricClampedInputs.Inc()
		feed = clamped
	}
	if tick <= 0 {
		tick = s.tuning.Tick()
	}
	if clamped, adjusted := s.limits.ClampTick(tick); adjusted {
		metricClampedInputs.Inc()
		tick = clamped
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, active := s.sessions[action]; active {
		return nil // idempotent start
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if s.limits.MaxHold > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.limits.MaxHold)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	sess := &session{
		action:  action,
		feed:    feed,
		tick:    tick,
		started: time.Now(),
		cancel:  cancel,
	}
	s.sessions[action] = sess
	metricSessionStarts.WithLabelValues(string(s.source)).Inc()

	s.wg.Add(1)
	go s.run(ctx, sess)
	return nil
}

// Stop signals the session for action to end. The loop observes the signal
// at its next tick boundary, never mid-write. Stopping an idle action is a
// no-op.
func (s *Scheduler) Stop(action Action) {
	s.mu.Lock()
	sess := s.sessions[action]
	s.mu.Unlock()
	if sess == nil {
		return
	}
	sess.cancel()
}

// Active reports the actions currently holding or awaiting a session.
func (s *Scheduler) Active() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Action, 0, len(s.sessions))
	for a := range s.sessions {
		out = append(out, a)
	}
	return out
}

// StopAll broadcasts stop to every session and waits, bounded by ctx, for
// their mode-restore sequences to finish. Used at process shutdown before
// the transport closes.
func (s *Scheduler) StopAll(ctx context.Context) error {
	s.mu.Lock()
	for _, sess := range s.sessions {
		sess.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s scheduler: sessions still restoring: %w", s.source, ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, sess *session) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.action)
		s.mu.Unlock()
		sess.cancel()
	}()

	actor := fmt.Sprintf("%s/%s", s.source, sess.action)
	axis, sign, _ := sess.action.Vector()

	if err := s.guard.Acquire(ctx, actor); err != nil {
		// Stopped (or watchdog fired) while still queued behind another
		// actor's hold. Nothing was written, nothing to restore.
		s.noteEnd(ctx, sess, "cancelled before start")
		return
	}

	if err := s.cmd.Send(gcode.RelativeMode); err != nil {
		metricTransportErrors.Inc()
		s.eventf("%s: mode switch failed: %v", actor, err)
		s.release(actor)
		return
	}

	// Feed is mm/min; one tick covers tick/60s minutes of travel.
	stepMM := sign * sess.feed / 60.0 * sess.tick.Seconds()
	var rotated float64

	ticker := time.NewTicker(sess.tick)
	defer ticker.Stop()

	slog.Info("continuous hold started",
		"source", s.source, "action", sess.action, "feed", sess.feed, "tick", sess.tick)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			if err := s.cmd.Send(gcode.Move(axis, stepMM, sess.feed)); err != nil {
				// A failing tick stops the session as an implicit stop;
				// other sessions are unaffected.
				metricTransportErrors.Inc()
				s.eventf("%s: tick failed, stopping: %v", actor, err)
				break loop
			}
			if axis == gcode.AxisE {
				rotated += stepMM
			}
		}
	}

	if s.tuning.QuickStop {
		if err := s.cmd.Send(gcode.QuickStop); err != nil {
			metricTransportErrors.Inc()
			s.eventf("%s: quick-stop failed: %v", actor, err)
		}
	}

	// Restore absolute mode before releasing the guard. If the restore
	// write fails the firmware may still be in relative mode: keep the
	// guard so no other actor moves, and escalate.
	if err := s.cmd.Send(gcode.AbsoluteMode); err != nil {
		metricTransportErrors.Inc()
		s.escalate(fmt.Errorf("%s: absolute-mode restore failed, guard withheld: %w", actor, err))
		return
	}

	// Persist while still holding the guard. Every E actor does its store
	// read-modify-write under the guard, so a save landing after the
	// handover would race the next actor's read.
	if rotated != 0 && s.rot != nil {
		if err := s.rot.Save(s.rot.Load() + rotated); err != nil {
			slog.Error("rotation persist failed", "action", sess.action, "err", err)
		}
	}
	s.release(actor)

	s.noteEnd(ctx, sess, "stopped")
}

func (s *Scheduler) noteEnd(ctx context.Context, sess *session, how string) {
	if ctx.Err() == context.DeadlineExceeded {
		metricWatchdogStops.Inc()
		s.eventf("%s %s: watchdog force-stop after %s", s.source, sess.action, s.limits.MaxHold)
		return
	}
	s.eventf("%s %s: %s after %s", s.source, sess.action, how, time.Since(sess.started).Round(time.Millisecond))
}

func (s *Scheduler) release(actor string) {
	if err := s.guard.Release(actor); err != nil {
		s.escalate(err)
	}
}

func (s *Scheduler) escalate(err error) {
	select {
	case s.errs <- err:
	default:
		slog.Error("error channel full", "err", err)
	}
}

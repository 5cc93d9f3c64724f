package stage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/probelab/sonicstage/pkg/gcode"
)

// Stage wires the motion components together and owns their lifecycles.
// The transport and the mode guard are the only shared mutable resources;
// everything else belongs to exactly one worker.
type Stage struct {
	cmd   Commander
	cfg   *Config
	guard *ModeGuard
	rot   *RotationStore
	track *Tracker
	steps *StepExecutor
	ui    *Scheduler
	kb    *Scheduler

	errs   chan error
	events chan string
	cancel context.CancelFunc
}

// New builds a stage around an open transport. Call Start before submitting
// motion.
func New(cfg *Config, cmd Commander) *Stage {
	s := &Stage{
		cmd:    cmd,
		cfg:    cfg,
		guard:  NewModeGuard(),
		rot:    NewRotationStore(cfg.RotationFile, cfg.RotationDefault),
		errs:   make(chan error, 8),
		events: make(chan string, 32),
	}
	s.track = NewTracker(cmd, time.Duration(cfg.PositionPollMS*float64(time.Millisecond)))
	s.steps = NewStepExecutor(cmd, s.guard, cfg, s.rot, s.track, s.errs)

	limits := cfg.Safety.Limits()
	s.ui = NewScheduler(cmd, s.guard, limits, cfg.UIJog, OriginUI, s.rot, s.errs, s.eventf)
	s.kb = NewScheduler(cmd, s.guard, limits, cfg.KeyboardJog, OriginKeyboard, s.rot, s.errs, s.eventf)
	return s
}

// Start launches the background workers: the step-queue drainer and the
// periodic position refresh. It also seeds the cached rotation from disk so
// the E pose is known before the first query.
func (s *Stage) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.track.Seed(gcode.AxisE, s.rot.Load())
	go s.steps.Run(ctx)
	go s.track.Run(ctx)
}

// SubmitStep enqueues one discrete jog click.
func (s *Stage) SubmitStep(req StepRequest) error {
	return s.steps.Submit(req)
}

// StartContinuous begins a UI hold-to-move session. Idempotent per action.
func (s *Stage) StartContinuous(action Action, feed float64, tick time.Duration) error {
	return s.ui.Start(action, feed, tick)
}

// StopContinuous ends a UI session; no-op when none is active.
func (s *Stage) StopContinuous(action Action) {
	s.ui.Stop(action)
}

// Keyboard returns the keyboard-driven scheduler, for the key listener
// collaborator.
func (s *Stage) Keyboard() *Scheduler { return s.kb }

// CachedPosition returns the last known pose without touching the link.
func (s *Stage) CachedPosition() gcode.Position { return s.track.Cached() }

// QueryPosition refreshes the pose over the link.
func (s *Stage) QueryPosition(ctx context.Context) (gcode.Position, error) {
	return s.track.Query(ctx)
}

// EmergencyStop fires the firmware emergency halt. It bypasses the guard on
// purpose: stopping beats modal consistency.
func (s *Stage) EmergencyStop() error {
	slog.Warn("emergency stop requested")
	return s.cmd.Send(gcode.EmergencyStop)
}

// Errors delivers failures severe enough that the process must react,
// notably a failed absolute-mode restore (the guard stays withheld).
func (s *Stage) Errors() <-chan error { return s.errs }

// Events delivers human-readable motion events for UIs, dropped when no
// one listens.
func (s *Stage) Events() <-chan string { return s.events }

func (s *Stage) eventf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Info(msg)
	select {
	case s.events <- msg:
	default:
	}
}

// Close broadcasts stop to every continuous session and waits, bounded by
// ctx, for their mode-restore sequences before the caller may close the
// transport.
func (s *Stage) Close(ctx context.Context) error {
	var firstErr error
	if err := s.ui.StopAll(ctx); err != nil {
		firstErr = err
	}
	if err := s.kb.StopAll(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.cancel != nil {
		s.cancel()
	}
	return firstErr
}

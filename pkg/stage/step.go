package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/probelab/sonicstage/pkg/gcode"
)

// ErrQueueFull is returned when single-step requests arrive faster than the
// worker can drain them.
var ErrQueueFull = errors.New("step queue full")

const stepActor = "single-step"

// StepExecutor turns discrete jog clicks into an ordered worklist drained
// by exactly one worker, so rapid clicks execute in submission order and
// never overlap each other's guard hold.
type StepExecutor struct {
	cmd    Commander
	guard  *ModeGuard
	limits Limits
	feeds  Feeds
	rot    *RotationStore
	track  *Tracker
	cold   bool

	queue chan StepRequest
	errs  chan<- error
}

func NewStepExecutor(cmd Commander, guard *ModeGuard, cfg *Config, rot *RotationStore, track *Tracker, errs chan<- error) *StepExecutor {
	return &StepExecutor{
		cmd:    cmd,
		guard:  guard,
		limits: cfg.Safety.Limits(),
		feeds:  cfg.Feeds,
		rot:    rot,
		track:  track,
		cold:   cfg.ColdExtrusion,
		queue:  make(chan StepRequest, 64),
		errs:   errs,
	}
}

// Submit validates, clamps and enqueues one request. Out-of-range deltas
// are clamped, not rejected.
func (e *StepExecutor) Submit(req StepRequest) error {
	if _, ok := gcode.ParseAxis(string(req.Axis)); !ok {
		return fmt.Errorf("invalid axis %q", req.Axis)
	}

	if clamped, adjusted := e.limits.ClampStep(req.Delta); adjusted {
		slog.Warn("step delta clamped", "axis", req.Axis, "requested", req.Delta, "clamped", clamped)
		metricClampedInputs.Inc()
		req.Delta = clamped
	}
	if req.Feed == 0 {
		if req.Axis == gcode.AxisE {
			req.Feed = e.feeds.Rotate
		} else {
			req.Feed = e.feeds.Jog
		}
	}
	if clamped, adjusted := e.limits.ClampFeed(req.Feed); adjusted {
		metricClampedInputs.Inc()
		req.Feed = clamped
	}

	select {
	case e.queue <- req:
		metricStepRequests.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the worklist until ctx is done. One worker only.
func (e *StepExecutor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.queue:
			if err := e.execute(ctx, req); err != nil && ctx.Err() == nil {
				slog.Error("step failed", "axis", req.Axis, "delta", req.Delta, "err", err)
			}
		}
	}
}

func (e *StepExecutor) execute(ctx context.Context, req StepRequest) error {
	if req.Axis == gcode.AxisE {
		return e.rotate(ctx, req)
	}
	return e.jog(ctx, req)
}

// jog performs one relative move under the guard: switch to relative, issue
// the delta, restore absolute, release.
func (e *StepExecutor) jog(ctx context.Context, req StepRequest) error {
	if err := e.guard.Acquire(ctx, stepActor); err != nil {
		return err
	}

	if err := e.cmd.Send(gcode.RelativeMode); err != nil {
		metricTransportErrors.Inc()
		e.releaseAfterRestore(nil)
		return err
	}

	moveErr := e.cmd.Send(gcode.Move(req.Axis, req.Delta, req.Feed))
	if moveErr != nil {
		metricTransportErrors.Inc()
	}

	restoreErr := e.cmd.Send(gcode.AbsoluteMode)
	e.releaseAfterRestore(restoreErr)
	if moveErr != nil {
		return moveErr
	}
	return restoreErr
}

// releaseAfterRestore releases the guard only when the firmware is known to
// be back in absolute mode. A failed restore leaves the guard held and
// escalates: un-restored modal state would corrupt all subsequent motion.
func (e *StepExecutor) releaseAfterRestore(restoreErr error) {
	if restoreErr != nil {
		metricTransportErrors.Inc()
		e.escalate(fmt.Errorf("step: absolute-mode restore failed, guard withheld: %w", restoreErr))
		return
	}
	if err := e.guard.Release(stepActor); err != nil {
		e.escalate(err)
	}
}

// rotate issues an absolute E move and persists the new rotation on
// success. It sends no mode switch itself, but still takes the guard: the
// absolute target must not land inside another actor's relative-mode
// window, and the store's read-modify-write must not race a continuous E
// session's persist.
func (e *StepExecutor) rotate(ctx context.Context, req StepRequest) error {
	if err := e.guard.Acquire(ctx, stepActor); err != nil {
		return err
	}
	defer func() {
		if err := e.guard.Release(stepActor); err != nil {
			e.escalate(err)
		}
	}()

	if e.cold {
		if err := e.cmd.Send(gcode.ColdExtrusion); err != nil {
			metricTransportErrors.Inc()
			return err
		}
	}

	target := e.rot.Load() + req.Delta
	if err := e.cmd.Send(gcode.Move(gcode.AxisE, target, req.Feed)); err != nil {
		metricTransportErrors.Inc()
		return err
	}

	if err := e.rot.Save(target); err != nil {
		return err
	}
	if e.track != nil {
		e.track.Seed(gcode.AxisE, target)
	}
	return nil
}

func (e *StepExecutor) escalate(err error) {
	select {
	case e.errs <- err:
	default:
		slog.Error("error channel full", "err", err)
	}
}

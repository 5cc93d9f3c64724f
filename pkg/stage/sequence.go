package stage

import (
	"context"
	"fmt"
	"time"

	"github.com/probelab/sonicstage/pkg/gcode"
)

// Timeouts for acknowledged sequence phases. Homing can take a while on the
// Z screw; the full-span scan traverse runs at the slow scan feed.
const (
	homeTimeout     = 30 * time.Second
	settleTimeout   = 15 * time.Second
	traverseTimeout = 90 * time.Second
)

// Init homes the linear axes, restores the persisted rotation, lifts clear
// of the bath and parks the probe at the centered init pose. Every phase is
// synced so a caller returning success knows the stage is really there.
func (s *Stage) Init(ctx context.Context) error {
	const actor = "init"
	if err := s.guard.Acquire(ctx, actor); err != nil {
		return err
	}
	defer s.guard.Release(actor)

	if err := s.preamble(); err != nil {
		return err
	}

	for _, axis := range []gcode.Axis{gcode.AxisX, gcode.AxisY, gcode.AxisZ} {
		if _, err := s.cmd.SendAwait(ctx, gcode.Home(axis), homeTimeout); err != nil {
			return fmt.Errorf("home %s: %w", axis, err)
		}
	}

	// Homing zeroed the logical E position; bring the firmware frame back
	// to the persisted rotation.
	rotation := s.rot.Load()
	if err := s.cmd.Send(gcode.Move(gcode.AxisE, rotation, s.cfg.Feeds.Rotate)); err != nil {
		return fmt.Errorf("restore rotation: %w", err)
	}
	s.track.Seed(gcode.AxisE, rotation)

	if err := s.cmd.Send(gcode.Feedrate(s.cfg.Feeds.Fast)); err != nil {
		return err
	}
	lift := gcode.Position{gcode.AxisX: 0, gcode.AxisY: 0, gcode.AxisZ: 10}
	if err := s.cmd.Send(gcode.MoveTo(lift, 0)); err != nil {
		return err
	}
	if err := s.finishMoves(ctx, settleTimeout); err != nil {
		return err
	}

	center := gcode.Position{
		gcode.AxisX: ClampTravel(s.cfg.Offsets.X+s.cfg.Travel.XMax/2, s.cfg.Travel.XMax),
		gcode.AxisY: ClampTravel(s.cfg.Offsets.Y+s.cfg.Travel.YMax/2, s.cfg.Travel.YMax),
		gcode.AxisZ: ClampTravel(s.cfg.Offsets.Z+s.cfg.Travel.ZMax/2, s.cfg.Travel.ZMax),
	}
	if err := s.cmd.Send(gcode.MoveTo(center, 0)); err != nil {
		return err
	}
	return s.finishMoves(ctx, settleTimeout)
}

// ScanStart parks X at the scan origin at the fast feed.
func (s *Stage) ScanStart(ctx context.Context) error {
	const actor = "scan-start"
	if err := s.guard.Acquire(ctx, actor); err != nil {
		return err
	}
	defer s.guard.Release(actor)

	if err := s.preamble(); err != nil {
		return err
	}
	if err := s.cmd.Send(gcode.Feedrate(s.cfg.Feeds.Fast)); err != nil {
		return err
	}
	if err := s.cmd.Send(gcode.Move(gcode.AxisX, 0, 0)); err != nil {
		return err
	}
	return s.finishMoves(ctx, settleTimeout)
}

// ScanTraverse sweeps X across the full travel at the scan feed while the
// recorder captures frames.
func (s *Stage) ScanTraverse(ctx context.Context) error {
	const actor = "scan-traverse"
	if err := s.guard.Acquire(ctx, actor); err != nil {
		return err
	}
	defer s.guard.Release(actor)

	if err := s.preamble(); err != nil {
		return err
	}
	if err := s.cmd.Send(gcode.Feedrate(s.cfg.Feeds.Scan)); err != nil {
		return err
	}
	if err := s.cmd.Send(gcode.Move(gcode.AxisX, s.cfg.Travel.XMax, 0)); err != nil {
		return err
	}
	return s.finishMoves(ctx, traverseTimeout)
}

// MoveAbsolute moves one axis to a clamped absolute target. E is never
// clamped; linear axes stay within [0, travel].
func (s *Stage) MoveAbsolute(ctx context.Context, axis gcode.Axis, target, feed float64) error {
	switch axis {
	case gcode.AxisX:
		target = ClampTravel(target, s.cfg.Travel.XMax)
	case gcode.AxisY:
		target = ClampTravel(target, s.cfg.Travel.YMax)
	case gcode.AxisZ:
		target = ClampTravel(target, s.cfg.Travel.ZMax)
	}
	if feed <= 0 {
		feed = s.cfg.Feeds.Fast
	}
	if clamped, adjusted := s.cfg.Safety.Limits().ClampFeed(feed); adjusted {
		metricClampedInputs.Inc()
		feed = clamped
	}

	actor := fmt.Sprintf("move-abs-%s", axis)
	if err := s.guard.Acquire(ctx, actor); err != nil {
		return err
	}
	defer s.guard.Release(actor)

	if err := s.preamble(); err != nil {
		return err
	}
	if err := s.cmd.Send(gcode.Move(axis, target, feed)); err != nil {
		return err
	}
	return s.finishMoves(ctx, settleTimeout)
}

// preamble pins the firmware to millimeters + absolute positioning. Safe to
// repeat; sequences assume the absolute rest state rather than trusting it.
func (s *Stage) preamble() error {
	if err := s.cmd.Send(gcode.Millimeters); err != nil {
		return err
	}
	if err := s.cmd.Send(gcode.AbsoluteMode); err != nil {
		return err
	}
	if s.cfg.ColdExtrusion {
		return s.cmd.Send(gcode.ColdExtrusion)
	}
	return nil
}

// finishMoves blocks until the firmware drained its motion queue.
func (s *Stage) finishMoves(ctx context.Context, timeout time.Duration) error {
	if _, err := s.cmd.SendAwait(ctx, gcode.FinishMoves, timeout); err != nil {
		return fmt.Errorf("wait for motion: %w", err)
	}
	return nil
}

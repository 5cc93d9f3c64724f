// Package stage arbitrates concurrent motion sources (discrete jog clicks,
// a hold-to-move web UI and keyboard holds) onto one serial command stream,
// keeping the firmware's positioning mode consistent at all times.
package stage

import (
	"context"
	"time"

	"github.com/probelab/sonicstage/pkg/gcode"
)

// Commander is the slice of the command transport the stage depends on.
// *transport.Transport implements it; tests substitute a recording double.
type Commander interface {
	// Send is fire-and-forget: bytes on the wire, no acknowledgement.
	Send(cmd string) error
	// SendAwait blocks for an acknowledged response or times out.
	SendAwait(ctx context.Context, cmd string, timeout time.Duration) ([]string, error)
}

// Origin tags which source produced a motion request.
type Origin string

const (
	OriginStep     Origin = "step"
	OriginUI       Origin = "ui"
	OriginKeyboard Origin = "keyboard"
)

// StepRequest is one discrete jog click: a signed delta on a single axis.
// For the E axis the delta advances the persisted rotation and is issued as
// an absolute target. Immutable once created.
type StepRequest struct {
	Axis   gcode.Axis
	Delta  float64
	Feed   float64 // mm/min; zero means the configured jog feed
	Origin Origin
}

// Action identifies one continuous hold: an axis plus a direction.
type Action string

const (
	ActionXPlus  Action = "X+"
	ActionXMinus Action = "X-"
	ActionYPlus  Action = "Y+"
	ActionYMinus Action = "Y-"
	ActionZPlus  Action = "Z+"
	ActionZMinus Action = "Z-"
	ActionRotCW  Action = "rot-cw"
	ActionRotCCW Action = "rot-ccw"
)

// Vector resolves an action to its axis and direction sign.
func (a Action) Vector() (gcode.Axis, float64, bool) {
	switch a {
	case ActionXPlus:
		return gcode.AxisX, +1, true
	case ActionXMinus:
		return gcode.AxisX, -1, true
	case ActionYPlus:
		return gcode.AxisY, +1, true
	case ActionYMinus:
		return gcode.AxisY, -1, true
	case ActionZPlus:
		return gcode.AxisZ, +1, true
	case ActionZMinus:
		return gcode.AxisZ, -1, true
	case ActionRotCW:
		return gcode.AxisE, +1, true
	case ActionRotCCW:
		return gcode.AxisE, -1, true
	}
	return "", 0, false
}

// Package gcode builds and parses the small ASCII command vocabulary the
// scan stage firmware understands.
package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Axis identifies one motion axis of the stage.
type Axis string

// The stage has three linear axes and a rotating probe axis driven through
// the extruder channel.
const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
	AxisE Axis = "E"
)

// AllAxes returns the axes in protocol order.
func AllAxes() []Axis {
	return []Axis{AxisX, AxisY, AxisZ, AxisE}
}

// Linear reports whether a is one of the linear travel axes.
func (a Axis) Linear() bool {
	return a == AxisX || a == AxisY || a == AxisZ
}

// ParseAxis maps a single-letter axis name to an Axis.
func ParseAxis(s string) (Axis, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "X":
		return AxisX, true
	case "Y":
		return AxisY, true
	case "Z":
		return AxisZ, true
	case "E":
		return AxisE, true
	}
	return "", false
}

// Fixed single-token commands.
const (
	AbsoluteMode  = "G90" // subsequent coordinates are targets
	RelativeMode  = "G91" // subsequent coordinates are deltas
	Millimeters   = "G21"
	QueryPosition = "M114"
	FinishMoves   = "M400" // firmware replies ok once motion drains
	QuickStop     = "M410"
	EmergencyStop = "M112"
	ColdExtrusion = "M302 P1" // allow E moves with a cold hotend
)

// Move formats a linear move on one axis. The value is a target in absolute
// mode or a delta in relative mode; feed is mm/min and omitted when zero.
func Move(axis Axis, value, feed float64) string {
	if feed <= 0 {
		return fmt.Sprintf("G0 %s%.3f", axis, value)
	}
	return fmt.Sprintf("G1 %s%.3f F%.0f", axis, value, feed)
}

// MoveTo formats a travel move to a multi-axis target, axes in protocol
// order. Feed is omitted when zero.
func MoveTo(target Position, feed float64) string {
	var b strings.Builder
	b.WriteString("G0")
	for _, axis := range AllAxes() {
		if v, ok := target[axis]; ok {
			fmt.Fprintf(&b, " %s%.3f", axis, v)
		}
	}
	if feed > 0 {
		fmt.Fprintf(&b, " F%.0f", feed)
	}
	return b.String()
}

// Home formats a homing command for one linear axis.
func Home(axis Axis) string {
	return fmt.Sprintf("G28 %s", axis)
}

// Feedrate formats a standalone feedrate change (mm/min).
func Feedrate(feed float64) string {
	return fmt.Sprintf("G0 F%.0f", feed)
}

// Position holds the last reported coordinate per axis, in millimeters.
// An axis absent from the map has never been resolved; callers must not
// conflate that with zero.
type Position map[Axis]float64

// Clone returns a copy of p.
func (p Position) Clone() Position {
	out := make(Position, len(p))
	for a, v := range p {
		out[a] = v
	}
	return out
}

// axis:value pairs as Marlin-class firmware prints them, e.g.
// "X:10.00 Y:0.00 Z:5.00 E:-1.50 Count X:800 ..."
var posRe = regexp.MustCompile(`\b([XYZE]):\s*(-?\d+\.?\d*)`)

// ParsePosition extracts per-axis coordinates from an M114 response. Only
// the first occurrence of each axis counts; the trailing stepper counts
// repeat the letters and are ignored. Axes the firmware did not report stay
// absent.
func ParsePosition(lines []string) Position {
	pos := make(Position)
	for _, line := range lines {
		for _, m := range posRe.FindAllStringSubmatch(line, -1) {
			axis := Axis(m[1])
			if _, seen := pos[axis]; seen {
				continue
			}
			v, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			pos[axis] = v
		}
		if len(pos) > 0 {
			break // counts follow on the same or later lines
		}
	}
	return pos
}

// IsAck reports whether a response line acknowledges command completion.
func IsAck(line string) bool {
	return strings.Contains(strings.ToLower(line), "ok")
}

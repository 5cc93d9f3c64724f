package stage

import (
	"math"
	"time"
)

// Limits holds the safety ceilings every motion source is validated
// against. Loaded once at startup, immutable afterwards.
type Limits struct {
	// MaxStepMM caps the distance of one discrete jog click.
	MaxStepMM float64
	// MaxFeedMMPerMin caps any requested feed rate.
	MaxFeedMMPerMin float64
	// MaxHold bounds a continuous session's lifetime; the watchdog
	// force-stops anything older.
	MaxHold time.Duration
	// MinTick is the fastest allowed continuous-move cadence.
	MinTick time.Duration
}

// ClampStep bounds a signed jog delta to the per-click ceiling, preserving
// direction. The second return reports whether the input was adjusted.
func (l Limits) ClampStep(requested float64) (float64, bool) {
	if l.MaxStepMM <= 0 || math.Abs(requested) <= l.MaxStepMM {
		return requested, false
	}
	return math.Copysign(l.MaxStepMM, requested), true
}

// ClampFeed bounds a feed rate (mm/min) to the configured ceiling.
func (l Limits) ClampFeed(requested float64) (float64, bool) {
	if l.MaxFeedMMPerMin <= 0 || requested <= l.MaxFeedMMPerMin {
		return requested, false
	}
	return l.MaxFeedMMPerMin, true
}

// ClampTick raises a tick interval to the configured floor.
func (l Limits) ClampTick(requested time.Duration) (time.Duration, bool) {
	if requested >= l.MinTick {
		return requested, false
	}
	return l.MinTick, true
}

// ClampTravel bounds an absolute linear-axis target to [0, max].
func ClampTravel(target, max float64) float64 {
	return math.Max(0, math.Min(max, target))
}

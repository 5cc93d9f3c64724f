package stage

import (
	"testing"
	"time"
)

func TestLimits_ClampStep(t *testing.T) {
	l := Limits{MaxStepMM: 20}

	tests := []struct {
		requested float64
		want      float64
		adjusted  bool
	}{
		{25.0, 20.0, true},
		{5.0, 5.0, false},
		{20.0, 20.0, false},
		{-25.0, -20.0, true}, // direction preserved
		{-5.0, -5.0, false},
	}

	for _, tt := range tests {
		got, adjusted := l.ClampStep(tt.requested)
		if got != tt.want || adjusted != tt.adjusted {
			t.Errorf("ClampStep(%v) = %v, %v; want %v, %v",
				tt.requested, got, adjusted, tt.want, tt.adjusted)
		}
	}
}

func TestLimits_ClampFeed(t *testing.T) {
	l := Limits{MaxFeedMMPerMin: 4000}

	if got, adjusted := l.ClampFeed(9000); got != 4000 || !adjusted {
		t.Errorf("ClampFeed(9000) = %v, %v", got, adjusted)
	}
	if got, adjusted := l.ClampFeed(2400); got != 2400 || adjusted {
		t.Errorf("ClampFeed(2400) = %v, %v", got, adjusted)
	}
}

func TestLimits_ClampTick(t *testing.T) {
	l := Limits{MinTick: 10 * time.Millisecond}

	if got, adjusted := l.ClampTick(2 * time.Millisecond); got != 10*time.Millisecond || !adjusted {
		t.Errorf("ClampTick(2ms) = %v, %v", got, adjusted)
	}
	if got, adjusted := l.ClampTick(50 * time.Millisecond); got != 50*time.Millisecond || adjusted {
		t.Errorf("ClampTick(50ms) = %v, %v", got, adjusted)
	}
}

func TestClampTravel(t *testing.T) {
	if got := ClampTravel(-3, 118); got != 0 {
		t.Errorf("ClampTravel(-3) = %v, want 0", got)
	}
	if got := ClampTravel(200, 118); got != 118 {
		t.Errorf("ClampTravel(200) = %v, want 118", got)
	}
	if got := ClampTravel(50, 118); got != 50 {
		t.Errorf("ClampTravel(50) = %v, want 50", got)
	}
}

package stage

import (
	"encoding/json"
	"os"
	"time"
)

const DefaultConfigFile = "sonicstage.json"

// Config is the process-wide configuration, read once at startup.
type Config struct {
	Port   string `json:"port"` // empty: auto-detect
	Baud   int    `json:"baud"`
	Listen string `json:"listen"`

	Travel  Travel  `json:"travel"`
	Offsets Offsets `json:"offsets"`
	Feeds   Feeds   `json:"feeds"`
	Safety  Safety  `json:"safety"`

	UIJog       JogTuning `json:"ui_jog"`
	KeyboardJog JogTuning `json:"keyboard_jog"`

	RotationFile    string  `json:"rotation_file"`
	RotationDefault float64 `json:"rotation_default"`

	// ColdExtrusion unlocks E-axis moves on firmware that refuses to turn
	// the rotation motor while the (nonexistent) hotend is cold.
	ColdExtrusion bool `json:"cold_extrusion"`

	// PositionPollMS is the cadence of the background position refresh.
	PositionPollMS float64 `json:"position_poll_ms"`
}

// Travel is the reachable span of each linear axis, in mm from home.
type Travel struct {
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
	ZMax float64 `json:"z_max"`
}

// Offsets align the probe tip with the tool position the firmware reports.
type Offsets struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Feeds are the preset feed rates, all mm/min.
type Feeds struct {
	Jog    float64 `json:"jog"`
	Fast   float64 `json:"fast"`
	Scan   float64 `json:"scan"`
	Rotate float64 `json:"rotate"`
}

// Safety mirrors Limits in config form.
type Safety struct {
	MaxStepMM       float64 `json:"max_step_mm"`
	MaxFeedMMPerMin float64 `json:"max_feed_mm_per_min"`
	MaxHoldS        float64 `json:"max_hold_s"`
	MinTickMS       float64 `json:"min_tick_ms"`
}

// Limits converts the config form to the runtime form.
func (s Safety) Limits() Limits {
	return Limits{
		MaxStepMM:       s.MaxStepMM,
		MaxFeedMMPerMin: s.MaxFeedMMPerMin,
		MaxHold:         time.Duration(s.MaxHoldS * float64(time.Second)),
		MinTick:         time.Duration(s.MinTickMS * float64(time.Millisecond)),
	}
}

// JogTuning is the default cadence of one continuous-move variant.
type JogTuning struct {
	FeedMMPerMin float64 `json:"feed_mm_per_min"`
	TickMS       float64 `json:"tick_ms"`
	// QuickStop makes the stop sequence issue a firmware quick-stop before
	// restoring absolute mode. Off by default.
	QuickStop bool `json:"quick_stop"`
}

// Tick returns the tick interval as a duration.
func (j JogTuning) Tick() time.Duration {
	return time.Duration(j.TickMS * float64(time.Millisecond))
}

// DefaultConfig returns the values the stage ships with.
func DefaultConfig() *Config {
	return &Config{
		Baud:   115200,
		Listen: ":5000",
		Travel: Travel{XMax: 118, YMax: 118, ZMax: 160},
		Offsets: Offsets{
			X: -5.5,
			Y: -5.5,
			Z: -70.0,
		},
		Feeds: Feeds{
			Jog:    2400,
			Fast:   1200,
			Scan:   90,
			Rotate: 300,
		},
		Safety: Safety{
			MaxStepMM:       20,
			MaxFeedMMPerMin: 4000,
			MaxHoldS:        30,
			MinTickMS:       10,
		},
		UIJog:       JogTuning{FeedMMPerMin: 2400, TickMS: 50},
		KeyboardJog: JogTuning{FeedMMPerMin: 4000, TickMS: 15},

		RotationFile:    "e_axis_position.txt",
		RotationDefault: 0,
		ColdExtrusion:   true,
		PositionPollMS:  1000,
	}
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

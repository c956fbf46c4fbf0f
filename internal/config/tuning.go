package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tuning holds the vehicle decision constants. Zero fields in a loaded
// file keep their compiled-in defaults.
type Tuning struct {
	// LookaheadFactor scales base speed into the forward distance within
	// which traffic lights are considered.
	LookaheadFactor float64 `yaml:"lookahead_factor"`

	// RedStopFactor and RedStopLengthFactor form the red-light stopping
	// threshold: base_speed*RedStopFactor + length*RedStopLengthFactor.
	RedStopFactor       float64 `yaml:"red_stop_factor"`
	RedStopLengthFactor float64 `yaml:"red_stop_length_factor"`

	// YellowStopFactor and YellowStopLengthFactor form the shorter
	// "cannot clear" threshold for yellow lights.
	YellowStopFactor       float64 `yaml:"yellow_stop_factor"`
	YellowStopLengthFactor float64 `yaml:"yellow_stop_length_factor"`

	// PastLineFactor scales vehicle length into the distance past the
	// stop line beyond which a vehicle no longer brakes.
	PastLineFactor float64 `yaml:"past_line_factor"`

	// FollowBufferFactor scales vehicle length into the gap kept behind
	// the vehicle ahead.
	FollowBufferFactor float64 `yaml:"follow_buffer_factor"`

	// Spawn interval bounds, in ticks.
	SpawnIntervalMin int `yaml:"spawn_interval_min"`
	SpawnIntervalMax int `yaml:"spawn_interval_max"`

	// Spawned base speed bounds, map units per tick.
	SpeedMin float64 `yaml:"speed_min"`
	SpeedMax float64 `yaml:"speed_max"`

	// Light cycle length bounds, in ticks.
	CycleMin int `yaml:"cycle_min"`
	CycleMax int `yaml:"cycle_max"`
}

// DefaultTuning returns the compiled-in decision constants.
func DefaultTuning() Tuning {
	return Tuning{
		LookaheadFactor:        20,
		RedStopFactor:          2.5,
		RedStopLengthFactor:    0.3,
		YellowStopFactor:       1.5,
		YellowStopLengthFactor: 0.1,
		PastLineFactor:         0.5,
		FollowBufferFactor:     0.15,
		SpawnIntervalMin:       45,
		SpawnIntervalMax:       90,
		SpeedMin:               1.8,
		SpeedMax:               3.8,
		CycleMin:               240,
		CycleMax:               360,
	}
}

// LoadTuning reads a YAML tuning file over the defaults. An empty path
// returns the defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("reading tuning file: %w", err)
	}

	var file Tuning
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return t, fmt.Errorf("parsing tuning file: %w", err)
	}
	t.merge(file)

	if err := t.validate(); err != nil {
		return t, err
	}
	return t, nil
}

func (t *Tuning) merge(o Tuning) {
	if o.LookaheadFactor > 0 {
		t.LookaheadFactor = o.LookaheadFactor
	}
	if o.RedStopFactor > 0 {
		t.RedStopFactor = o.RedStopFactor
	}
	if o.RedStopLengthFactor > 0 {
		t.RedStopLengthFactor = o.RedStopLengthFactor
	}
	if o.YellowStopFactor > 0 {
		t.YellowStopFactor = o.YellowStopFactor
	}
	if o.YellowStopLengthFactor > 0 {
		t.YellowStopLengthFactor = o.YellowStopLengthFactor
	}
	if o.PastLineFactor > 0 {
		t.PastLineFactor = o.PastLineFactor
	}
	if o.FollowBufferFactor > 0 {
		t.FollowBufferFactor = o.FollowBufferFactor
	}
	if o.SpawnIntervalMin > 0 {
		t.SpawnIntervalMin = o.SpawnIntervalMin
	}
	if o.SpawnIntervalMax > 0 {
		t.SpawnIntervalMax = o.SpawnIntervalMax
	}
	if o.SpeedMin > 0 {
		t.SpeedMin = o.SpeedMin
	}
	if o.SpeedMax > 0 {
		t.SpeedMax = o.SpeedMax
	}
	if o.CycleMin > 0 {
		t.CycleMin = o.CycleMin
	}
	if o.CycleMax > 0 {
		t.CycleMax = o.CycleMax
	}
}

func (t Tuning) validate() error {
	if t.SpawnIntervalMin > t.SpawnIntervalMax {
		return fmt.Errorf("spawn_interval_min %d exceeds spawn_interval_max %d", t.SpawnIntervalMin, t.SpawnIntervalMax)
	}
	if t.SpeedMin > t.SpeedMax {
		return fmt.Errorf("speed_min %v exceeds speed_max %v", t.SpeedMin, t.SpeedMax)
	}
	if t.CycleMin > t.CycleMax {
		return fmt.Errorf("cycle_min %d exceeds cycle_max %d", t.CycleMin, t.CycleMax)
	}
	return nil
}

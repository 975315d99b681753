// Package climate runs the home's thermostat: a mode-driven temperature
// state machine that follows a target setpoint, backs off when the
// energy meter reports peak load, and publishes readings for dashboards.
package climate

import (
	"fmt"
	"time"
)

// Config holds the climate module configuration.
type Config struct {
	// InitialTemp is the simulated indoor temperature at startup.
	InitialTemp float64 `yaml:"initialTemp" json:"initialTemp" toml:"initialTemp" env:"INITIAL_TEMP" default:"19"`

	// TargetTemp is the startup setpoint.
	TargetTemp float64 `yaml:"targetTemp" json:"targetTemp" toml:"targetTemp" env:"TARGET_TEMP" default:"21"`

	// Mode is the startup mode: off, heat, cool, or auto.
	Mode string `yaml:"mode" json:"mode" toml:"mode" env:"MODE" default:"auto"`

	// TickInterval is how often the simulation advances.
	TickInterval time.Duration `yaml:"tickInterval" json:"tickInterval" toml:"tickInterval" env:"TICK_INTERVAL" default:"30s"`

	// MinTarget and MaxTarget bound accepted setpoints.
	MinTarget float64 `yaml:"minTarget" json:"minTarget" toml:"minTarget" env:"MIN_TARGET" default:"5"`
	MaxTarget float64 `yaml:"maxTarget" json:"maxTarget" toml:"maxTarget" env:"MAX_TARGET" default:"35"`

	// PeakLoadWatts is the meter reading above which the thermostat
	// enters eco operation.
	PeakLoadWatts float64 `yaml:"peakLoadWatts" json:"peakLoadWatts" toml:"peakLoadWatts" env:"PEAK_LOAD_WATTS" default:"3500"`
}

// Validate runs after defaults are applied.
func (c *Config) Validate() error {
	if c.MinTarget >= c.MaxTarget {
		return fmt.Errorf("minTarget %.1f must be below maxTarget %.1f", c.MinTarget, c.MaxTarget)
	}
	if _, err := ParseMode(c.Mode); err != nil {
		return err
	}
	return nil
}

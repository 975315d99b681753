// Package energy simulates the home's power metering: per-circuit draw
// sampling, rolling aggregates, and live readings consumed by dependent
// modules such as climate.
package energy

import "time"

// Config holds the energy module configuration.
type Config struct {
	// SampleInterval is how often the meter takes a reading.
	SampleInterval time.Duration `yaml:"sampleInterval" json:"sampleInterval" toml:"sampleInterval" env:"SAMPLE_INTERVAL" default:"15s"`

	// WindowSize is how many samples the rolling aggregates cover.
	WindowSize int `yaml:"windowSize" json:"windowSize" toml:"windowSize" env:"WINDOW_SIZE" default:"240"`

	// BaseLoadWatts is the always-on draw of the home.
	BaseLoadWatts float64 `yaml:"baseLoadWatts" json:"baseLoadWatts" toml:"baseLoadWatts" env:"BASE_LOAD_WATTS" default:"120"`

	// Circuits names the measured circuits.
	Circuits []string `yaml:"circuits" json:"circuits" toml:"circuits"`
}

// Setup fills slice defaults the tag machinery cannot express.
func (c *Config) Setup() error {
	if len(c.Circuits) == 0 {
		c.Circuits = DefaultCircuits()
	}
	return nil
}

// DefaultCircuits are the circuits measured when none are configured.
func DefaultCircuits() []string {
	return []string{"kitchen", "living", "hvac", "garage"}
}

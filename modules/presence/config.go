package presence

import "time"

// Config holds settings for the presence module.
type Config struct {
	// TTL is how long a device stays present after its last heartbeat.
	TTL time.Duration `yaml:"ttl" json:"ttl" toml:"ttl" env:"TTL" default:"5m"`

	// SweepInterval is how often stale devices are marked away.
	SweepInterval time.Duration `yaml:"sweepInterval" json:"sweepInterval" toml:"sweepInterval" env:"SWEEP_INTERVAL" default:"30s"`

	// KnownDevices are tracked from startup, initially away.
	KnownDevices []string `yaml:"knownDevices" json:"knownDevices" toml:"knownDevices"`
}

// Setup fills slice defaults the tag machinery cannot express.
func (c *Config) Setup() error {
	if len(c.KnownDevices) == 0 {
		c.KnownDevices = DefaultKnownDevices()
	}
	return nil
}

// DefaultKnownDevices returns the devices tracked when no configuration
// overrides them.
func DefaultKnownDevices() []string {
	return []string{"phone-ash", "phone-guest", "tablet-kitchen"}
}

package irrigation

// ZoneConfig describes one irrigation zone and its watering schedule.
type ZoneConfig struct {
	// Name identifies the zone.
	Name string `yaml:"name" json:"name" toml:"name"`

	// Schedule is a standard five-field cron expression.
	Schedule string `yaml:"schedule" json:"schedule" toml:"schedule"`

	// DurationSeconds is how long the zone waters per run.
	DurationSeconds int `yaml:"durationSeconds" json:"durationSeconds" toml:"durationSeconds"`
}

// Config holds settings for the irrigation module.
type Config struct {
	// Zones are the irrigation zones managed at startup. Zones can be
	// added and removed at runtime through the gateway.
	Zones []ZoneConfig `yaml:"zones" json:"zones" toml:"zones"`
}

// Setup fills slice defaults the tag machinery cannot express.
func (c *Config) Setup() error {
	if len(c.Zones) == 0 {
		c.Zones = DefaultZones()
	}
	return nil
}

// DefaultZones returns the zones used when no configuration overrides
// them.
func DefaultZones() []ZoneConfig {
	return []ZoneConfig{
		{Name: "lawn", Schedule: "0 6 * * *", DurationSeconds: 600},
		{Name: "vegetable-beds", Schedule: "30 6 * * *", DurationSeconds: 900},
		{Name: "greenhouse", Schedule: "0 */4 * * *", DurationSeconds: 120},
	}
}

// Package lighting manages named lights and scene presets. Lights are
// switched through gateway mutations or realtime actions; every change
// is published to the lighting room for connected dashboards.
package lighting

// Config holds the lighting module configuration.
type Config struct {
	// Lights names the controllable lights.
	Lights []string `yaml:"lights" json:"lights" toml:"lights"`

	// DefaultBrightness is the brightness lights take when switched on
	// without an explicit level.
	DefaultBrightness int `yaml:"defaultBrightness" json:"defaultBrightness" toml:"defaultBrightness" env:"DEFAULT_BRIGHTNESS" default:"80"`
}

// Setup fills slice defaults the tag machinery cannot express.
func (c *Config) Setup() error {
	if len(c.Lights) == 0 {
		c.Lights = DefaultLights()
	}
	return nil
}

// DefaultLights are the lights present when none are configured.
func DefaultLights() []string {
	return []string{"hallway", "kitchen", "living", "bedroom"}
}

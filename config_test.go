package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashsolei/HomeySmartHome/feeders"
)

// sensorConfig exercises the tag machinery: scalar defaults, a required
// field, a derived slice, and a module-scoped env override.
type sensorConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL" default:"30s"`
	Retries  int           `yaml:"retries" env:"RETRIES" default:"3"`
	Endpoint string        `yaml:"endpoint" env:"ENDPOINT" default:"http://bridge.local"`
	Verbose  bool          `yaml:"verbose" env:"VERBOSE" default:"true"`
	Channels []string      `yaml:"channels"`
}

func (c *sensorConfig) Setup() error {
	if len(c.Channels) == 0 {
		c.Channels = []string{"zigbee", "zwave"}
	}
	return nil
}

func TestValidateConfigAppliesDefaults(t *testing.T) {
	cfg := &sensorConfig{Retries: 7}
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 7, cfg.Retries) // explicit value wins over the tag
	assert.Equal(t, "http://bridge.local", cfg.Endpoint)
	assert.True(t, cfg.Verbose)
}

func TestValidateConfigRequired(t *testing.T) {
	type hubConfig struct {
		Token string `yaml:"token" required:"true"`
	}

	err := ValidateConfig(&hubConfig{})
	require.ErrorIs(t, err, ErrConfigRequiredFieldMissing)
	assert.Contains(t, err.Error(), "Token")

	require.NoError(t, ValidateConfig(&hubConfig{Token: "secret"}))
}

func TestValidateConfigNestedStruct(t *testing.T) {
	type inner struct {
		Port int `yaml:"port" default:"8123"`
	}
	type outer struct {
		Name string `yaml:"name" default:"bridge"`
		Hub  inner  `yaml:"hub"`
	}

	cfg := &outer{}
	require.NoError(t, ValidateConfig(cfg))
	assert.Equal(t, "bridge", cfg.Name)
	assert.Equal(t, 8123, cfg.Hub.Port)
}

func TestValidateConfigBadDefault(t *testing.T) {
	type badConfig struct {
		Count int `yaml:"count" default:"plenty"`
	}
	err := ValidateConfig(&badConfig{})
	require.ErrorIs(t, err, ErrDefaultValueParseError)
}

func TestValidateConfigTargetErrors(t *testing.T) {
	assert.ErrorIs(t, ValidateConfig(nil), ErrConfigNil)
	assert.ErrorIs(t, ValidateConfig(sensorConfig{}), ErrConfigNotPointer)

	s := "not a struct"
	assert.ErrorIs(t, ValidateConfig(&s), ErrConfigNotStruct)
}

// boundedConfig checks that Validate runs after defaults are in place.
type boundedConfig struct {
	Floor   float64 `yaml:"floor" default:"5"`
	Ceiling float64 `yaml:"ceiling" default:"35"`
}

func (c *boundedConfig) Validate() error {
	if c.Floor >= c.Ceiling {
		return errors.New("floor must be below ceiling")
	}
	return nil
}

func TestValidateConfigRunsValidatorAfterDefaults(t *testing.T) {
	// Zero values pass only because the defaults are applied first.
	require.NoError(t, ValidateConfig(&boundedConfig{}))

	err := ValidateConfig(&boundedConfig{Floor: 40})
	require.ErrorIs(t, err, ErrConfigValidationFailed)
	assert.Contains(t, err.Error(), "floor must be below ceiling")
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func swapConfigFeeders(t *testing.T, replacement []Feeder) {
	t.Helper()
	previous := ConfigFeeders
	ConfigFeeders = replacement
	t.Cleanup(func() { ConfigFeeders = previous })
}

// configurableModule registers one config section during init.
type configurableModule struct {
	testModule
	section string
	config  *sensorConfig
}

func (m *configurableModule) RegisterConfig(app Application) error {
	app.RegisterConfigSection(m.section, NewStdConfigProvider(m.config))
	return nil
}

func TestInitFeedsSectionFromFile(t *testing.T) {
	path := writeConfigFile(t, `
sensor:
  interval: 45s
  endpoint: http://hub.local
`)
	swapConfigFeeders(t, []Feeder{feeders.NewYamlFeeder(path), feeders.NewEnvFeeder()})

	app, _ := newTestApp(t)
	m := &configurableModule{
		testModule: testModule{name: "sensor"},
		section:    "sensor",
		config:     &sensorConfig{},
	}
	require.NoError(t, app.RegisterModule(m))
	require.NoError(t, app.Init())

	requireState(t, app, "sensor", StateActive)

	// File values land in the registered struct; everything the file
	// omits falls back to tag defaults and Setup-derived slices.
	assert.Equal(t, 45*time.Second, m.config.Interval)
	assert.Equal(t, "http://hub.local", m.config.Endpoint)
	assert.Equal(t, 3, m.config.Retries)
	assert.Equal(t, []string{"zigbee", "zwave"}, m.config.Channels)
}

func TestInitModuleEnvOverridesSection(t *testing.T) {
	path := writeConfigFile(t, `
sensor:
  retries: 5
`)
	t.Setenv("HOMEY_SENSOR_RETRIES", "9")
	swapConfigFeeders(t, []Feeder{
		feeders.NewYamlFeeder(path),
		feeders.ModuleEnvFeeder{},
		feeders.NewEnvFeeder(),
	})

	app, _ := newTestApp(t)
	m := &configurableModule{
		testModule: testModule{name: "sensor"},
		section:    "sensor",
		config:     &sensorConfig{},
	}
	require.NoError(t, app.RegisterModule(m))
	require.NoError(t, app.Init())

	// The scoped env variable wins over the file value.
	assert.Equal(t, 9, m.config.Retries)
	assert.Equal(t, 30*time.Second, m.config.Interval)
}

func TestInitSectionFailureDegradesOwner(t *testing.T) {
	// A scalar where a mapping is expected fails the section feed.
	path := writeConfigFile(t, `
sensor: "not a mapping"
`)
	swapConfigFeeders(t, []Feeder{feeders.NewYamlFeeder(path)})

	app, logger := newTestApp(t)
	owner := &configurableModule{
		testModule: testModule{name: "sensor"},
		section:    "sensor",
		config:     &sensorConfig{},
	}
	bystander := &testModule{name: "bystander"}
	require.NoError(t, app.RegisterModule(owner))
	require.NoError(t, app.RegisterModule(bystander))

	// The bad section degrades its owning module, not the application.
	require.NoError(t, app.Init())
	requireState(t, app, "sensor", StateDegraded)
	requireState(t, app, "bystander", StateActive)
	assert.True(t, logger.contains("Config section failed to load"))
}

func TestInitUnownedSectionFailureAborts(t *testing.T) {
	path := writeConfigFile(t, `
rogue: "not a mapping"
`)
	swapConfigFeeders(t, []Feeder{feeders.NewYamlFeeder(path)})

	app, _ := newTestApp(t)
	// Registered outside any module's RegisterConfig, so no module owns it.
	app.RegisterConfigSection("rogue", NewStdConfigProvider(&sensorConfig{}))

	err := app.Init()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigSectionError)
}

func TestReloadConfigRefeedsSections(t *testing.T) {
	path := writeConfigFile(t, `
sensor:
  retries: 5
`)
	swapConfigFeeders(t, []Feeder{feeders.NewYamlFeeder(path)})

	app, logger := newTestApp(t)
	m := &configurableModule{
		testModule: testModule{name: "sensor"},
		section:    "sensor",
		config:     &sensorConfig{},
	}
	require.NoError(t, app.RegisterModule(m))
	require.NoError(t, app.Init())
	require.Equal(t, 5, m.config.Retries)

	require.NoError(t, os.WriteFile(path, []byte("sensor:\n  retries: 8\n"), 0o644))
	app.ReloadConfig(context.Background(), path)
	assert.Equal(t, 8, m.config.Retries)
	assert.True(t, logger.contains("Config reloaded"))

	// A broken rewrite keeps the previous values.
	require.NoError(t, os.WriteFile(path, []byte("sensor: broken\n"), 0o644))
	app.ReloadConfig(context.Background(), path)
	assert.Equal(t, 8, m.config.Retries)
	assert.True(t, logger.contains("keeping previous values"))
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfigFile(t, `
sensor:
  retries: 5
`)
	swapConfigFeeders(t, []Feeder{feeders.NewYamlFeeder(path)})

	app, logger := newTestApp(t)
	m := &configurableModule{
		testModule: testModule{name: "sensor"},
		section:    "sensor",
		config:     &sensorConfig{},
	}
	require.NoError(t, app.RegisterModule(m))
	require.NoError(t, app.Init())

	watcher, err := NewConfigWatcher(app, path)
	require.NoError(t, err)
	require.NoError(t, watcher.Start(context.Background()))
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("sensor:\n  retries: 11\n"), 0o644))

	// The reload log is the synchronization point; the config write
	// happens before it on the watcher goroutine.
	require.Eventually(t, func() bool {
		return logger.contains("Config reloaded")
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 11, m.config.Retries)

	watcher.Stop()
	watcher.Stop() // safe to repeat
}

func TestNewConfigWatcherValidation(t *testing.T) {
	app, _ := newTestApp(t)

	_, err := NewConfigWatcher(nil, "config.yaml")
	assert.ErrorIs(t, err, ErrApplicationNil)

	_, err = NewConfigWatcher(app)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNil)
}

package platform

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/golobby/config/v3"
)

// LoadAppConfigFunc is the function type for loading application configuration.
type LoadAppConfigFunc func(*StdApplication) error

// AppConfigLoader is the default implementation; tests replace it to
// exercise lifecycle behavior without touching real files.
var AppConfigLoader LoadAppConfigFunc = loadAppConfig

// ConfigProvider defines the interface for providing configuration objects.
type ConfigProvider interface {
	// GetConfig returns the configuration object
	GetConfig() any
}

// StdConfigProvider provides a standard implementation of ConfigProvider.
type StdConfigProvider struct {
	cfg any
}

// GetConfig returns the configuration object.
func (s *StdConfigProvider) GetConfig() any {
	return s.cfg
}

// NewStdConfigProvider creates a new standard configuration provider.
func NewStdConfigProvider(cfg any) *StdConfigProvider {
	return &StdConfigProvider{cfg: cfg}
}

// ConfigValidator is implemented by config structs that need semantic
// checks beyond tag-driven defaults and required fields.
type ConfigValidator interface {
	Validate() error
}

// ConfigSetup is implemented by config structs that derive additional
// state after being populated by feeders.
type ConfigSetup interface {
	Setup() error
}

// Config combines feeders with target structures. Plain targets receive
// the whole document; keyed targets receive one named section, fed via
// ComplexFeeder so file-scoped and section-scoped sources compose.
type Config struct {
	*config.Config
	StructKeys map[string]interface{}
}

// NewConfig creates a new configuration builder.
func NewConfig() *Config {
	return &Config{
		Config:     config.New(),
		StructKeys: make(map[string]interface{}),
	}
}

// AddStructKey adds a structure bound to a named section.
func (c *Config) AddStructKey(key string, target interface{}) *Config {
	c.StructKeys[key] = target
	return c
}

// Feed populates all targets, then applies defaults, validation, and setup
// to every keyed section.
func (c *Config) Feed() error {
	if err := c.Config.Feed(); err != nil {
		return fmt.Errorf("config feed error: %w", err)
	}

	for key, target := range c.StructKeys {
		for _, f := range c.Feeders {
			cf, ok := f.(ComplexFeeder)
			if !ok {
				continue
			}
			if err := cf.FeedKey(key, target); err != nil {
				return fmt.Errorf("%w: %w", ErrConfigFeederError, err)
			}
		}

		if err := ValidateConfig(target); err != nil {
			return fmt.Errorf("config validation error for %s: %w", key, err)
		}

		if setupable, ok := target.(ConfigSetup); ok {
			if err := setupable.Setup(); err != nil {
				return fmt.Errorf("%w for %s: %w", ErrConfigSetupError, key, err)
			}
		}
	}

	return nil
}

// loadAppConfig feeds the main config and every registered section.
// The main config failing is fatal; a section failing is recorded against
// its owning module so the orchestrator can degrade that module instead
// of aborting startup.
func loadAppConfig(app *StdApplication) error {
	if app == nil {
		return ErrApplicationNil
	}
	if len(ConfigFeeders) == 0 {
		app.logger.Info("No config feeders defined, skipping config loading")
		return nil
	}

	if err := feedMainConfig(app); err != nil {
		return err
	}

	for sectionKey, provider := range app.ConfigSections() {
		if err := feedSectionConfig(app, sectionKey, provider); err != nil {
			app.logger.Error("Config section failed to load", "section", sectionKey, "error", err)
			app.recordSectionError(sectionKey, fmt.Errorf("%w %s: %w", ErrConfigSectionError, sectionKey, err))
		}
	}

	return nil
}

func feedMainConfig(app *StdApplication) error {
	if app.cfgProvider == nil {
		return nil
	}
	mainCfg := app.cfgProvider.GetConfig()
	if mainCfg == nil {
		app.logger.Warn("Main config is nil, skipping main config loading")
		return nil
	}

	tempCfg, info, err := createTempConfig(mainCfg)
	if err != nil {
		return fmt.Errorf("failed to prepare main config: %w", err)
	}

	cfgBuilder := NewConfig()
	for _, feeder := range ConfigFeeders {
		cfgBuilder.AddFeeder(feeder)
	}
	cfgBuilder.AddStruct(tempCfg)
	if err = cfgBuilder.Feed(); err != nil {
		return err
	}
	if err = ValidateConfig(tempCfg); err != nil {
		return fmt.Errorf("main config invalid: %w", err)
	}

	applyConfigUpdate(app, "", info)
	return nil
}

func feedSectionConfig(app *StdApplication, sectionKey string, provider ConfigProvider) error {
	if provider == nil {
		return ErrConfigProviderNil
	}
	sectionCfg := provider.GetConfig()
	if sectionCfg == nil {
		return ErrConfigNil
	}

	tempCfg, info, err := createTempConfig(sectionCfg)
	if err != nil {
		return err
	}

	cfgBuilder := NewConfig()
	for _, feeder := range ConfigFeeders {
		cfgBuilder.AddFeeder(feeder)
	}
	cfgBuilder.AddStructKey(sectionKey, tempCfg)
	if err = cfgBuilder.Feed(); err != nil {
		return err
	}

	applyConfigUpdate(app, sectionKey, info)
	return nil
}

type configInfo struct {
	originalVal reflect.Value
	tempVal     reflect.Value
	isPtr       bool
}

// createTempConfig builds a fresh instance of the config's type so feeders
// never mutate the live config until the whole feed succeeds.
func createTempConfig(cfg any) (interface{}, configInfo, error) {
	if cfg == nil {
		return nil, configInfo{}, ErrConfigNil
	}

	cfgValue := reflect.ValueOf(cfg)
	isPtr := cfgValue.Kind() == reflect.Ptr

	var targetType reflect.Type
	if isPtr {
		if cfgValue.IsNil() {
			return nil, configInfo{}, ErrConfigNilPointer
		}
		targetType = cfgValue.Elem().Type()
	} else {
		targetType = cfgValue.Type()
	}

	tempCfgValue := reflect.New(targetType)
	return tempCfgValue.Interface(), configInfo{
		originalVal: cfgValue,
		tempVal:     tempCfgValue,
		isPtr:       isPtr,
	}, nil
}

func applyConfigUpdate(app *StdApplication, sectionKey string, info configInfo) {
	if info.isPtr {
		info.originalVal.Elem().Set(info.tempVal.Elem())
		return
	}
	// Non-pointer configs cannot be updated in place; swap the provider.
	if sectionKey == "" {
		app.cfgProvider = NewStdConfigProvider(info.tempVal.Elem().Interface())
		return
	}
	app.cfgMu.Lock()
	app.cfgSections[sectionKey] = NewStdConfigProvider(info.tempVal.Elem().Interface())
	app.cfgMu.Unlock()
}

// ValidateConfig applies `default` tags to zero-valued fields, enforces
// `required` tags, and finally runs the struct's own Validate method when
// it implements ConfigValidator.
func ValidateConfig(cfg any) error {
	if cfg == nil {
		return ErrConfigNil
	}

	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return ErrConfigNotPointer
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return ErrConfigNotStruct
	}

	if err := applyDefaultsAndRequired(rv); err != nil {
		return err
	}

	if validator, ok := cfg.(ConfigValidator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrConfigValidationFailed, err)
		}
	}
	return nil
}

func applyDefaultsAndRequired(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		if field.Kind() == reflect.Struct && fieldType.Type != reflect.TypeOf(time.Time{}) {
			if err := applyDefaultsAndRequired(field); err != nil {
				return fmt.Errorf("field '%s': %w", fieldType.Name, err)
			}
			continue
		}

		if defaultVal, ok := fieldType.Tag.Lookup("default"); ok && field.IsZero() {
			if err := setDefaultValue(field, defaultVal); err != nil {
				return fmt.Errorf("field '%s': %w", fieldType.Name, err)
			}
		}

		if req, ok := fieldType.Tag.Lookup("required"); ok && req == "true" && field.IsZero() {
			return fmt.Errorf("%w: %s", ErrConfigRequiredFieldMissing, fieldType.Name)
		}
	}
	return nil
}

func setDefaultValue(field reflect.Value, defaultVal string) error {
	if !field.CanSet() {
		return nil
	}

	// time.Duration fields carry human-readable defaults like "30s".
	if field.Type() == reflect.TypeOf(time.Duration(0)) {
		d, err := time.ParseDuration(defaultVal)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefaultValueParseError, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(defaultVal)
	case reflect.Bool:
		b, err := strconv.ParseBool(defaultVal)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefaultValueParseError, err)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(defaultVal, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefaultValueParseError, err)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(defaultVal, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefaultValueParseError, err)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(defaultVal, 64)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDefaultValueParseError, err)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTypeForDefault, field.Kind())
	}
	return nil
}

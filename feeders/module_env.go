package feeders

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// ErrEnvInvalidStructure indicates the target is not a pointer to a struct.
var ErrEnvInvalidStructure = errors.New("env: target must be a pointer to a struct")

// ErrEnvFieldNotSettable indicates a tagged field cannot be assigned.
var ErrEnvFieldNotSettable = errors.New("env: field cannot be set")

// ModuleEnvFeeder reads environment variables scoped to a single module's
// config section. For the "irrigation" section and a field tagged
// `env:"INTERVAL"`, the variable HOMEY_IRRIGATION_INTERVAL is consulted.
// This lets operators override one module's settings without touching the
// shared config file. Built with an explicit prefix it feeds whole
// structures; the zero value derives its scope from the section key and
// participates only in keyed feeds.
type ModuleEnvFeeder struct {
	Prefix string
}

// NewModuleEnvFeeder creates a feeder for HOMEY_<MODULE>_* variables.
func NewModuleEnvFeeder(moduleID string) ModuleEnvFeeder {
	return ModuleEnvFeeder{Prefix: "HOMEY_" + strings.ToUpper(moduleID)}
}

// Feed reads scoped environment variables into the structure's tagged
// fields. Without a prefix there is no scope, so feeding a whole
// structure is a no-op.
func (f ModuleEnvFeeder) Feed(structure interface{}) error {
	if f.Prefix == "" {
		return nil
	}
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	return f.feedStruct(rv.Elem())
}

// FeedKey feeds one named config section, deriving the HOMEY_<KEY> scope
// when the feeder was built without an explicit prefix.
func (f ModuleEnvFeeder) FeedKey(key string, target interface{}) error {
	scoped := f
	if scoped.Prefix == "" {
		scoped.Prefix = "HOMEY_" + strings.ToUpper(key)
	}
	return scoped.Feed(target)
}

func (f ModuleEnvFeeder) feedStruct(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		if field.Kind() == reflect.Struct {
			if err := f.feedStruct(field); err != nil {
				return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
			}
			continue
		}
		if field.Kind() == reflect.Pointer && !field.IsZero() && field.Elem().Kind() == reflect.Struct {
			if err := f.feedStruct(field.Elem()); err != nil {
				return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
			}
			continue
		}

		envTag, exists := fieldType.Tag.Lookup("env")
		if !exists {
			continue
		}
		envValue := os.Getenv(f.Prefix + "_" + strings.ToUpper(envTag))
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

// setFieldValue converts the string value to the field's type and assigns it.
func setFieldValue(field reflect.Value, strValue string) error {
	convertedValue, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	if !field.CanSet() {
		return ErrEnvFieldNotSettable
	}
	field.Set(reflect.ValueOf(convertedValue))
	return nil
}

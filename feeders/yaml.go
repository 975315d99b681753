// Package feeders provides configuration feeders for reading settings from
// environment variables and YAML, TOML, JSON, and .env files. Feeders are
// applied in registration order, so later sources override earlier ones.
package feeders

import (
	"fmt"

	"github.com/golobby/config/v3/pkg/feeder"
	"gopkg.in/yaml.v3"
)

// YamlFeeder reads configuration from a YAML file.
type YamlFeeder struct {
	feeder.Yaml
}

// NewYamlFeeder creates a YamlFeeder for the given file path.
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{feeder.Yaml{Path: filePath}}
}

// FeedKey reads the YAML file and populates target from one top-level key.
// A missing key is not an error; the target keeps its current values.
func (y YamlFeeder) FeedKey(key string, target interface{}) error {
	var allData map[string]interface{}
	if err := y.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read YAML: %w", err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	// Remarshal the subtree so nested maps land in typed struct fields.
	valueBytes, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err = yaml.Unmarshal(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}

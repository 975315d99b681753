package feeders

import (
	"encoding/json"
	"fmt"

	"github.com/golobby/config/v3/pkg/feeder"
)

// JSONFeeder reads configuration from a JSON file.
type JSONFeeder struct {
	feeder.Json
}

// NewJSONFeeder creates a JSONFeeder for the given file path.
func NewJSONFeeder(filePath string) JSONFeeder {
	return JSONFeeder{feeder.Json{Path: filePath}}
}

// FeedKey reads the JSON file and populates target from one top-level key.
// A missing key is not an error; the target keeps its current values.
func (j JSONFeeder) FeedKey(key string, target interface{}) error {
	var allData map[string]interface{}
	if err := j.Feed(&allData); err != nil {
		return fmt.Errorf("failed to read JSON: %w", err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	if err = json.Unmarshal(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal value to target: %w", err)
	}
	return nil
}

package platform

import (
	"github.com/golobby/config/v3"

	"github.com/ashsolei/HomeySmartHome/feeders"
)

// ConfigFeeders is the default ordered set of configuration sources.
// The daemon replaces this with file feeders pointing at its config file;
// the environment feeder stays last so env vars win over file values.
var ConfigFeeders = []Feeder{
	feeders.EnvFeeder{},
}

// Feeder reads configuration values into a target structure.
type Feeder = config.Feeder

// ComplexFeeder extends Feeder with the ability to populate one named
// section of a larger document, which is how per-module config sections
// are carved out of the shared config file.
type ComplexFeeder interface {
	Feeder
	FeedKey(string, interface{}) error
}

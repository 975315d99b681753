package feeders

import "github.com/golobby/config/v3/pkg/feeder"

// EnvFeeder reads configuration from environment variables using the
// `env` struct tag.
type EnvFeeder = feeder.Env

// NewEnvFeeder creates a new EnvFeeder.
func NewEnvFeeder() EnvFeeder {
	return EnvFeeder{}
}

// DotEnvFeeder reads configuration from a .env file.
type DotEnvFeeder = feeder.DotEnv

// NewDotEnvFeeder creates a DotEnvFeeder for the given file path.
func NewDotEnvFeeder(filePath string) DotEnvFeeder {
	return DotEnvFeeder{Path: filePath}
}

// Package gateway exposes the platform over HTTP: module data endpoints,
// health and readiness probes, Prometheus metrics, and the websocket
// entry point of the realtime broker. Every module-bound request passes
// a fixed pipeline of validation, sanitization, and rate limiting before
// it is dispatched.
package gateway

import "time"

// Config holds the gateway configuration.
type Config struct {
	// Host is the interface the server binds.
	Host string `yaml:"host" json:"host" toml:"host" env:"HOST" default:"0.0.0.0"`

	// Port is the listen port.
	Port int `yaml:"port" json:"port" toml:"port" env:"PORT" default:"8080"`

	// ReadHeaderTimeout bounds request header reads. Body and write
	// deadlines stay unset because the realtime upgrade shares this
	// listener and hijacked connections keep whatever deadline was
	// armed before the upgrade.
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" json:"readHeaderTimeout" toml:"readHeaderTimeout" env:"READ_HEADER_TIMEOUT" default:"10s"`

	// IdleTimeout closes keep-alive connections with no traffic.
	IdleTimeout time.Duration `yaml:"idleTimeout" json:"idleTimeout" toml:"idleTimeout" env:"IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown on Stop.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout" toml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT" default:"30s"`

	// MaxBodyBytes caps request bodies. Bodies of exactly this size
	// pass; one byte more is rejected with 413.
	MaxBodyBytes int64 `yaml:"maxBodyBytes" json:"maxBodyBytes" toml:"maxBodyBytes" env:"MAX_BODY_BYTES" default:"1048576"`

	// RateLimit is the per-client request budget in requests per second
	// for the module data endpoints.
	RateLimit float64 `yaml:"rateLimit" json:"rateLimit" toml:"rateLimit" env:"RATE_LIMIT" default:"25"`

	// RateBurst is the per-client burst allowance.
	RateBurst int `yaml:"rateBurst" json:"rateBurst" toml:"rateBurst" env:"RATE_BURST" default:"50"`

	// ClientHeader names the header carrying the caller's API key.
	// Callers without it are keyed by remote address.
	ClientHeader string `yaml:"clientHeader" json:"clientHeader" toml:"clientHeader" env:"CLIENT_HEADER" default:"X-Homey-Client"`

	// AllowedOrigins lists origins allowed by CORS. "*" allows all.
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins" toml:"allowedOrigins"`
}

// Setup fills slice defaults the tag machinery cannot express.
func (c *Config) Setup() error {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	return nil
}

package feeders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFeederFeedKey(t *testing.T) {
	path := writeTempConfig(t, "home.json", `{
  "bridge": {
    "host": "hub.local",
    "port": 8123,
    "debug": true,
    "radio": {"channel": 25, "band": "2.4GHz"}
  },
  "notes": "unrelated"
}`)

	var cfg bridgeSettings
	require.NoError(t, NewJSONFeeder(path).FeedKey("bridge", &cfg))

	assert.Equal(t, "hub.local", cfg.Host)
	assert.Equal(t, 8123, cfg.Port)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "2.4GHz", cfg.Radio.Band)
}

func TestJSONFeederFeedKeyMissingKey(t *testing.T) {
	path := writeTempConfig(t, "home.json", `{"climate": {"targetTemp": 21.5}}`)

	cfg := bridgeSettings{Host: "fallback.local"}
	require.NoError(t, NewJSONFeeder(path).FeedKey("bridge", &cfg))
	assert.Equal(t, "fallback.local", cfg.Host)
}

package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModuleLoggerInjectsModuleKey(t *testing.T) {
	inner := &mockLogger{}
	logger := NewModuleLogger(inner, "irrigation")

	logger.Info("Zone started", "zone", "drip")
	logger.Warn("Zone skipped")
	logger.Error("Zone failed", "error", "valve stuck")
	logger.Debug("Tick")

	// The module key lands ahead of the caller's own pairs.
	assert.True(t, inner.contains("INFO Zone started [module irrigation zone drip]"))
	assert.True(t, inner.contains("WARN Zone skipped [module irrigation]"))
	assert.True(t, inner.contains("ERROR Zone failed [module irrigation error valve stuck]"))
	assert.True(t, inner.contains("DEBUG Tick [module irrigation]"))
}

func TestNewModuleLoggerNilInner(t *testing.T) {
	assert.Nil(t, NewModuleLogger(nil, "energy"))
}

package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type meterService struct{ circuit string }

func (s *meterService) Circuit() string { return s.circuit }

type bridgeService struct{ addr string }

func TestTypedServiceAccessors(t *testing.T) {
	app, _ := newTestApp(t)

	RegisterService(app, "meter", &meterService{circuit: "kitchen"})
	RegisterService(app, "bridge", &bridgeService{addr: "10.0.0.2"})

	meter, ok := GetService[meterService](app, "meter")
	require.True(t, ok)
	assert.Equal(t, "kitchen", meter.Circuit())

	bridge, ok := GetService[bridgeService](app, "bridge")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", bridge.addr)

	// A lookup under the wrong concrete type misses instead of panicking.
	_, ok = GetService[bridgeService](app, "meter")
	assert.False(t, ok)

	_, ok = GetService[meterService](app, "ghost")
	assert.False(t, ok)
}

func TestTypedAccessorsShareRegistryWithNamedAPI(t *testing.T) {
	app, _ := newTestApp(t)

	svc := &meterService{circuit: "garage"}
	require.NoError(t, app.RegisterService("meter", svc))

	// Both access paths read the same underlying registry.
	got, ok := GetService[meterService](app, "meter")
	require.True(t, ok)
	assert.Same(t, svc, got)
}

package climate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tickTime = time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"off", "heat", "cool", "auto"} {
		mode, err := ParseMode(valid)
		require.NoError(t, err)
		assert.Equal(t, Mode(valid), mode)
	}

	_, err := ParseMode("ventilate")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestThermostatSetTarget(t *testing.T) {
	th := NewThermostat(19, 21, ModeAuto, 5, 35)

	require.NoError(t, th.SetTarget(23.5))
	assert.Equal(t, 23.5, th.State().TargetTemp)

	err := th.SetTarget(40)
	assert.ErrorIs(t, err, ErrTargetOutOfRange)
	assert.Contains(t, err.Error(), "not in [5.0, 35.0]")

	assert.ErrorIs(t, th.SetTarget(2), ErrTargetOutOfRange)
	assert.Equal(t, 23.5, th.State().TargetTemp, "rejected target leaves setpoint unchanged")
}

func TestThermostatHeatsTowardTarget(t *testing.T) {
	th := NewThermostat(19, 21, ModeHeat, 5, 35)

	state := th.Tick(tickTime)
	assert.Equal(t, 19.5, state.CurrentTemp)
	assert.True(t, state.Heating)
	assert.False(t, state.Cooling)
	assert.Equal(t, tickTime, state.UpdatedAt)

	for i := 0; i < 3; i++ {
		state = th.Tick(tickTime.Add(time.Duration(i+1) * time.Minute))
	}
	assert.Equal(t, 21.0, state.CurrentTemp)
	assert.False(t, state.Heating, "idle once the setpoint is reached")
}

func TestThermostatHeatModeNeverCools(t *testing.T) {
	th := NewThermostat(23, 21, ModeHeat, 5, 35)

	state := th.Tick(tickTime)
	assert.Equal(t, 23.0, state.CurrentTemp)
	assert.False(t, state.Heating)
	assert.False(t, state.Cooling)
}

func TestThermostatCoolsTowardTarget(t *testing.T) {
	th := NewThermostat(25, 22, ModeCool, 5, 35)

	state := th.Tick(tickTime)
	assert.Equal(t, 24.5, state.CurrentTemp)
	assert.True(t, state.Cooling)
	assert.False(t, state.Heating)
}

func TestThermostatCoolModeNeverHeats(t *testing.T) {
	th := NewThermostat(18, 21, ModeCool, 5, 35)

	state := th.Tick(tickTime)
	assert.Equal(t, 18.0, state.CurrentTemp)
	assert.False(t, state.Heating)
	assert.False(t, state.Cooling)
}

func TestThermostatAutoTracksBothDirections(t *testing.T) {
	warm := NewThermostat(23, 21, ModeAuto, 5, 35)
	assert.Equal(t, 22.5, warm.Tick(tickTime).CurrentTemp)

	cold := NewThermostat(19, 21, ModeAuto, 5, 35)
	assert.Equal(t, 19.5, cold.Tick(tickTime).CurrentTemp)
}

func TestThermostatOffDriftsToAmbient(t *testing.T) {
	th := NewThermostat(19, 21, ModeOff, 5, 35)

	state := th.Tick(tickTime)
	assert.Equal(t, 18.5, state.CurrentTemp)
	assert.False(t, state.Heating)
	assert.False(t, state.Cooling)
}

func TestThermostatEcoHalvesRate(t *testing.T) {
	th := NewThermostat(19, 21, ModeHeat, 5, 35)
	th.SetEco(true)

	state := th.Tick(tickTime)
	assert.True(t, state.EcoActive)
	assert.Equal(t, 19.3, state.CurrentTemp)

	th.SetEco(false)
	state = th.Tick(tickTime.Add(time.Minute))
	assert.False(t, state.EcoActive)
	assert.Equal(t, 19.8, state.CurrentTemp)
}

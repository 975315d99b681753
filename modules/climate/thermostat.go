package climate

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Mode is the thermostat operating mode.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeHeat Mode = "heat"
	ModeCool Mode = "cool"
	ModeAuto Mode = "auto"
)

// Thermostat errors.
var (
	ErrTargetOutOfRange = errors.New("target temperature out of range")
	ErrUnknownMode      = errors.New("unknown thermostat mode")
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModeHeat, ModeCool, ModeAuto:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// State is the externally visible thermostat state.
type State struct {
	Mode        Mode      `json:"mode"`
	TargetTemp  float64   `json:"targetTemp"`
	CurrentTemp float64   `json:"currentTemp"`
	Heating     bool      `json:"heating"`
	Cooling     bool      `json:"cooling"`
	EcoActive   bool      `json:"ecoActive"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ambientTemp is where the indoor temperature drifts with everything off.
const ambientTemp = 16.0

// Thermostat is the temperature state machine. Ticks move the current
// temperature toward the setpoint at a rate halved under eco operation.
type Thermostat struct {
	mu        sync.RWMutex
	state     State
	minTarget float64
	maxTarget float64
}

// NewThermostat creates a thermostat with the given starting state.
func NewThermostat(initialTemp, target float64, mode Mode, minTarget, maxTarget float64) *Thermostat {
	return &Thermostat{
		state: State{
			Mode:        mode,
			TargetTemp:  target,
			CurrentTemp: initialTemp,
			UpdatedAt:   time.Now(),
		},
		minTarget: minTarget,
		maxTarget: maxTarget,
	}
}

// State returns a copy of the current state.
func (t *Thermostat) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// SetTarget updates the setpoint within the configured bounds.
func (t *Thermostat) SetTarget(target float64) error {
	if target < t.minTarget || target > t.maxTarget {
		return fmt.Errorf("%w: %.1f not in [%.1f, %.1f]",
			ErrTargetOutOfRange, target, t.minTarget, t.maxTarget)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TargetTemp = target
	t.state.UpdatedAt = time.Now()
	return nil
}

// SetMode switches the operating mode.
func (t *Thermostat) SetMode(mode Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Mode = mode
	t.state.UpdatedAt = time.Now()
}

// SetEco toggles eco operation, usually driven by the energy meter.
func (t *Thermostat) SetEco(active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.EcoActive = active
}

// Tick advances the simulation one step and returns the new state.
func (t *Thermostat) Tick(now time.Time) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate := 0.5
	if t.state.EcoActive {
		rate = 0.25
	}

	target := t.state.TargetTemp
	switch t.state.Mode {
	case ModeOff:
		target = ambientTemp
	case ModeHeat:
		if t.state.CurrentTemp >= t.state.TargetTemp {
			target = t.state.CurrentTemp
		}
	case ModeCool:
		if t.state.CurrentTemp <= t.state.TargetTemp {
			target = t.state.CurrentTemp
		}
	}

	diff := target - t.state.CurrentTemp
	step := math.Copysign(math.Min(math.Abs(diff), rate), diff)
	t.state.CurrentTemp = math.Round((t.state.CurrentTemp+step)*10) / 10

	t.state.Heating = t.state.Mode != ModeOff && t.state.CurrentTemp < target
	t.state.Cooling = t.state.Mode != ModeOff && t.state.CurrentTemp > target
	t.state.UpdatedAt = now
	return t.state
}

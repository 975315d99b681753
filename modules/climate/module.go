package climate

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ModuleName is the unique identifier for the climate module.
const ModuleName = "climate"

// ServiceName is the name of the thermostat service.
const ServiceName = "climate.thermostat"

const (
	namespaceName = "devices"
	roomName      = "climate"
)

// DrawReader is the slice of the energy meter the thermostat reads.
type DrawReader interface {
	CurrentDraw() float64
}

// Publisher is the slice of the realtime broker this module publishes
// through.
type Publisher interface {
	PublishDelta(ctx context.Context, namespace, room, event string, payload any) error
	PublishState(ctx context.Context, namespace, room string, state any) error
}

// ClimateModule runs the thermostat simulation. It depends on the
// energy module: sustained peak draw switches the thermostat into eco
// operation until load falls again.
type ClimateModule struct {
	name       string
	config     *Config
	logger     platform.Logger
	app        platform.Application
	thermostat *Thermostat
	draw       DrawReader
	publisher  Publisher

	mu       sync.Mutex
	cancel   context.CancelFunc
	lastTick time.Time
}

var _ platform.Module = (*ClimateModule)(nil)

// NewClimateModule creates a new instance of the climate module.
func NewClimateModule() *ClimateModule {
	return &ClimateModule{name: ModuleName}
}

// Name returns the name of this module.
func (m *ClimateModule) Name() string {
	return m.name
}

// Description returns display metadata for registry listings.
func (m *ClimateModule) Description() platform.ModuleDescription {
	return platform.ModuleDescription{
		DisplayName: "Climate Control",
		Category:    "devices",
	}
}

// Dependencies declares that climate initializes after the energy
// module so its meter service is available.
func (m *ClimateModule) Dependencies() []string {
	return []string{"energy"}
}

// RegisterConfig registers the module's configuration section.
func (m *ClimateModule) RegisterConfig(app platform.Application) error {
	defaultConfig := &Config{
		InitialTemp:   19,
		TargetTemp:    21,
		Mode:          string(ModeAuto),
		TickInterval:  30 * time.Second,
		MinTarget:     5,
		MaxTarget:     35,
		PeakLoadWatts: 3500,
	}
	app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(defaultConfig))
	return nil
}

// Constructor returns a dependency injection function that wires in the
// energy meter before Init runs.
func (m *ClimateModule) Constructor() platform.ModuleConstructor {
	return func(_ platform.Application, services map[string]any) (platform.Module, error) {
		draw, ok := services["energy.meter"].(DrawReader)
		if !ok {
			return nil, fmt.Errorf("%w: energy.meter for %s",
				platform.ErrRequiredServiceNotFound, ModuleName)
		}
		m.draw = draw
		return m, nil
	}
}

// Init builds the thermostat from configuration.
func (m *ClimateModule) Init(app platform.Application) error {
	m.app = app
	m.logger = platform.NewModuleLogger(app.Logger(), m.Name())

	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	cfg, ok := cp.GetConfig().(*Config)
	if !ok {
		return fmt.Errorf("invalid config section type for '%s'", m.Name())
	}

	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return fmt.Errorf("invalid climate mode in config: %w", err)
	}

	m.config = cfg
	m.thermostat = NewThermostat(cfg.InitialTemp, cfg.TargetTemp, mode, cfg.MinTarget, cfg.MaxTarget)

	m.logger.Info("Climate module initialized",
		"mode", mode, "target", cfg.TargetTemp, "tickInterval", cfg.TickInterval)
	return nil
}

// Start begins the simulation loop and publishes the opening state so
// the climate room has a snapshot before the first tick.
func (m *ClimateModule) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	var publisher Publisher
	if err := m.app.GetService("realtime.broker", &publisher); err == nil {
		m.publisher = publisher
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.lastTick = time.Now()

	if m.publisher != nil {
		if err := m.publisher.PublishState(loopCtx, namespaceName, roomName, m.thermostat.State()); err != nil {
			m.logger.Debug("Failed to publish climate state", "error", err)
		}
	}

	go m.run(loopCtx)
	return nil
}

// Stop halts the simulation loop.
func (m *ClimateModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}

func (m *ClimateModule) run(ctx context.Context) {
	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.tick(ctx, now)
		}
	}
}

func (m *ClimateModule) tick(ctx context.Context, now time.Time) {
	m.thermostat.SetEco(m.draw.CurrentDraw() > m.config.PeakLoadWatts)
	state := m.thermostat.Tick(now)

	m.mu.Lock()
	m.lastTick = now
	m.mu.Unlock()

	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishDelta(ctx, namespaceName, roomName, "climate:reading", state); err != nil {
		m.logger.Debug("Failed to publish climate reading", "error", err)
	}
}

// Data returns the thermostat state.
func (m *ClimateModule) Data(ctx context.Context) (any, error) {
	return m.thermostat.State(), nil
}

// UpdateData applies setpoint and mode changes. Unknown fields are
// ignored; out-of-range values are rejected with the thermostat's own
// message.
func (m *ClimateModule) UpdateData(ctx context.Context, input any) (any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable input", platform.ErrValidation)
	}
	var req struct {
		TargetTemp *float64 `json:"targetTemp"`
		Mode       *string  `json:"mode"`
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
	}
	if req.TargetTemp == nil && req.Mode == nil {
		return nil, fmt.Errorf("%w: no recognized fields (targetTemp, mode)", platform.ErrValidation)
	}

	if req.Mode != nil {
		mode, err := ParseMode(*req.Mode)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
		}
		m.thermostat.SetMode(mode)
	}
	if req.TargetTemp != nil {
		if err := m.thermostat.SetTarget(*req.TargetTemp); err != nil {
			return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
		}
	}

	state := m.thermostat.State()
	if m.publisher != nil {
		if err := m.publisher.PublishDelta(ctx, namespaceName, roomName, "climate:setpoint", state); err != nil {
			m.logger.Debug("Failed to publish setpoint change", "error", err)
		}
	}
	return state, nil
}

// Status reports simulation liveness for the platform aggregator.
func (m *ClimateModule) Status(ctx context.Context) (platform.ModuleStatus, error) {
	m.mu.Lock()
	lastTick := m.lastTick
	running := m.cancel != nil
	m.mu.Unlock()

	if running && !lastTick.IsZero() && time.Since(lastTick) > 3*m.config.TickInterval {
		return platform.ModuleStatus{
			Status:  platform.HealthStatusDegraded,
			Message: "climate simulation stalled",
			Details: map[string]any{"lastTick": lastTick},
		}, nil
	}

	state := m.thermostat.State()
	return platform.ModuleStatus{
		Status: platform.HealthStatusHealthy,
		Details: map[string]any{
			"mode":        state.Mode,
			"currentTemp": state.CurrentTemp,
			"ecoActive":   state.EcoActive,
		},
	}, nil
}

// ProvidesServices declares the services offered by this module.
func (m *ClimateModule) ProvidesServices() []platform.ServiceProvider {
	return []platform.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Thermostat state and setpoint control",
			Instance:    m.thermostat,
		},
	}
}

// RequiresServices declares the services required by this module.
func (m *ClimateModule) RequiresServices() []platform.ServiceDependency {
	return []platform.ServiceDependency{
		{
			Name:               "energy.meter",
			Required:           true,
			MatchByInterface:   true,
			SatisfiesInterface: reflect.TypeOf((*DrawReader)(nil)).Elem(),
		},
	}
}

package irrigation

import (
	"context"
	"encoding/json"
	"fmt"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ModuleName is the unique identifier for the irrigation module.
const ModuleName = "irrigation"

// ServiceName is the name of the irrigation engine service.
const ServiceName = "irrigation.engine"

const (
	namespaceName = "devices"
	roomName      = "irrigation"
)

// Actions accepted over the realtime broker.
const (
	ActionRun  = "run"
	ActionStop = "stop"
	ActionList = "list"
)

// Publisher is the slice of the realtime broker this module publishes
// through.
type Publisher interface {
	PublishDelta(ctx context.Context, namespace, room, event string, payload any) error
	PublishState(ctx context.Context, namespace, room string, state any) error
}

// IrrigationModule waters garden zones on cron schedules and lets the
// gateway manage zones at runtime.
type IrrigationModule struct {
	name      string
	config    *Config
	logger    platform.Logger
	app       platform.Application
	engine    *Engine
	publisher Publisher
}

var _ platform.Module = (*IrrigationModule)(nil)

// NewIrrigationModule creates a new instance of the irrigation module.
func NewIrrigationModule() *IrrigationModule {
	return &IrrigationModule{name: ModuleName}
}

// Name returns the name of this module.
func (m *IrrigationModule) Name() string {
	return m.name
}

// Description returns display metadata for registry listings.
func (m *IrrigationModule) Description() platform.ModuleDescription {
	return platform.ModuleDescription{
		DisplayName: "Irrigation",
		Category:    "devices",
	}
}

// RegisterConfig registers the module's configuration section.
func (m *IrrigationModule) RegisterConfig(app platform.Application) error {
	defaultConfig := &Config{Zones: DefaultZones()}
	app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init builds the engine and registers the configured zones. A zone
// with an invalid schedule fails initialization.
func (m *IrrigationModule) Init(app platform.Application) error {
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
	m.config = cfg
	m.engine = NewEngine()
	for _, zone := range cfg.Zones {
		if _, err := m.engine.Upsert(zone); err != nil {
			return fmt.Errorf("failed to register zone: %w", err)
		}
	}

	m.logger.Info("Irrigation module initialized", "zones", len(cfg.Zones))
	return nil
}

// Start wires the broker and begins firing schedules.
func (m *IrrigationModule) Start(ctx context.Context) error {
	var publisher Publisher
	if err := m.app.GetService("realtime.broker", &publisher); err == nil {
		m.publisher = publisher
	}
	m.engine.SetOnChange(func(zone Zone) {
		m.publishZone(context.Background(), zone)
	})

	if m.publisher != nil {
		state := map[string]any{"zones": m.engine.Zones()}
		if err := m.publisher.PublishState(ctx, namespaceName, roomName, state); err != nil {
			m.logger.Debug("Failed to publish irrigation state", "error", err)
		}
	}

	m.engine.Start()
	return nil
}

// Stop halts the schedule runner and any active watering.
func (m *IrrigationModule) Stop(ctx context.Context) error {
	return m.engine.Stop(ctx)
}

func (m *IrrigationModule) publishZone(ctx context.Context, zone Zone) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.PublishDelta(ctx, namespaceName, roomName, "irrigation:zone", zone)
	if err != nil {
		m.logger.Debug("Failed to publish zone change", "zone", zone.Name, "error", err)
	}
}

// zoneRequest is the shared mutation shape for gateway updates and
// realtime actions.
type zoneRequest struct {
	Name            string `json:"name"`
	Zone            string `json:"zone"`
	Schedule        string `json:"schedule"`
	DurationSeconds int    `json:"durationSeconds"`
	Remove          bool   `json:"remove"`
}

func (r zoneRequest) zoneName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Zone
}

// Data returns every zone with its schedule and next run time.
func (m *IrrigationModule) Data(ctx context.Context) (any, error) {
	return map[string]any{"zones": m.engine.Zones()}, nil
}

// UpdateData upserts a zone, or removes one when remove is set.
func (m *IrrigationModule) UpdateData(ctx context.Context, input any) (any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable input", platform.ErrValidation)
	}
	var req zoneRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
	}

	if req.Remove {
		name := req.zoneName()
		if err := m.engine.Remove(name); err != nil {
			return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
		}
		m.logger.Info("Zone removed", "zone", name)
		if m.publisher != nil {
			payload := map[string]any{"name": name, "removed": true}
			if err := m.publisher.PublishDelta(ctx, namespaceName, roomName, "irrigation:zone-removed", payload); err != nil {
				m.logger.Debug("Failed to publish zone removal", "zone", name, "error", err)
			}
		}
		return map[string]any{"zones": m.engine.Zones()}, nil
	}

	zone, err := m.engine.Upsert(ZoneConfig{
		Name:            req.zoneName(),
		Schedule:        req.Schedule,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
	}
	m.logger.Info("Zone configured", "zone", zone.Name, "schedule", zone.Schedule)
	m.publishZone(ctx, zone)
	return zone, nil
}

// HandleAction processes realtime actions.
func (m *IrrigationModule) HandleAction(ctx context.Context, action string, payload []byte) (any, error) {
	switch action {
	case ActionRun, ActionStop:
		var req zoneRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
			}
		}
		name := req.zoneName()
		if name == "" {
			return nil, fmt.Errorf("%w: zone is required", platform.ErrValidation)
		}
		var (
			zone Zone
			err  error
		)
		if action == ActionRun {
			zone, err = m.engine.RunZone(name)
		} else {
			zone, err = m.engine.StopZone(name)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
		}
		return zone, nil
	case ActionList:
		return m.Data(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", platform.ErrValidation, action)
	}
}

// Status reports schedule runner health for the platform aggregator.
func (m *IrrigationModule) Status(ctx context.Context) (platform.ModuleStatus, error) {
	details := map[string]any{
		"zones":    len(m.engine.Zones()),
		"watering": m.engine.Watering(),
	}
	if !m.engine.Started() {
		return platform.ModuleStatus{
			Status:  platform.HealthStatusUnhealthy,
			Message: "schedule runner not running",
			Details: details,
		}, nil
	}
	return platform.ModuleStatus{
		Status:  platform.HealthStatusHealthy,
		Details: details,
	}, nil
}

// ProvidesServices declares the services offered by this module.
func (m *IrrigationModule) ProvidesServices() []platform.ServiceProvider {
	return []platform.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Cron driven zone watering",
			Instance:    m.engine,
		},
	}
}

// RequiresServices declares the services required by this module.
func (m *IrrigationModule) RequiresServices() []platform.ServiceDependency {
	return nil
}

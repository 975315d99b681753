package lighting

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ModuleName is the unique identifier for the lighting module.
const ModuleName = "lighting"

// ServiceName is the name of the light controller service.
const ServiceName = "lighting.controller"

const (
	namespaceName = "devices"
	roomName      = "lighting"
)

// Actions accepted over the realtime broker.
const (
	ActionSet   = "set"
	ActionScene = "scene"
	ActionList  = "list"
)

// Publisher is the slice of the realtime broker this module publishes
// through.
type Publisher interface {
	PublishDelta(ctx context.Context, namespace, room, event string, payload any) error
	PublishState(ctx context.Context, namespace, room string, state any) error
}

// LightingModule exposes light control through gateway mutations and
// realtime actions.
type LightingModule struct {
	name       string
	config     *Config
	logger     platform.Logger
	app        platform.Application
	controller *Controller
	publisher  Publisher
}

var _ platform.Module = (*LightingModule)(nil)

// NewLightingModule creates a new instance of the lighting module.
func NewLightingModule() *LightingModule {
	return &LightingModule{name: ModuleName}
}

// Name returns the name of this module.
func (m *LightingModule) Name() string {
	return m.name
}

// Description returns display metadata for registry listings.
func (m *LightingModule) Description() platform.ModuleDescription {
	return platform.ModuleDescription{
		DisplayName: "Lighting",
		Category:    "devices",
	}
}

// RegisterConfig registers the module's configuration section.
func (m *LightingModule) RegisterConfig(app platform.Application) error {
	defaultConfig := &Config{
		Lights:            DefaultLights(),
		DefaultBrightness: 80,
	}
	app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init builds the controller from configuration.
func (m *LightingModule) Init(app platform.Application) error {
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
	m.controller = NewController(cfg.Lights, cfg.DefaultBrightness)

	m.logger.Info("Lighting module initialized", "lights", len(cfg.Lights))
	return nil
}

// Start resolves the broker and publishes the opening light state.
func (m *LightingModule) Start(ctx context.Context) error {
	var publisher Publisher
	if err := m.app.GetService("realtime.broker", &publisher); err == nil {
		m.publisher = publisher
	}
	if m.publisher != nil {
		if err := m.publisher.PublishState(ctx, namespaceName, roomName, m.stateView()); err != nil {
			m.logger.Debug("Failed to publish lighting state", "error", err)
		}
	}
	return nil
}

func (m *LightingModule) stateView() map[string]any {
	scenes := m.controller.Scenes()
	sort.Strings(scenes)
	return map[string]any{
		"lights": m.controller.Lights(),
		"scenes": scenes,
	}
}

func (m *LightingModule) publish(ctx context.Context, event string, payload any) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishDelta(ctx, namespaceName, roomName, event, payload); err != nil {
		m.logger.Debug("Failed to publish lighting change", "event", event, "error", err)
	}
}

// setRequest is the shared mutation shape for gateway updates and
// realtime set actions.
type setRequest struct {
	Light      string `json:"light"`
	On         *bool  `json:"on"`
	Brightness *int   `json:"brightness"`
	Scene      string `json:"scene"`
}

func (m *LightingModule) applySet(ctx context.Context, req setRequest) (any, error) {
	if req.Scene != "" {
		lights, err := m.controller.ApplyScene(req.Scene)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
		}
		m.publish(ctx, "lighting:scene", map[string]any{"scene": req.Scene, "lights": lights})
		return lights, nil
	}

	if req.Light == "" {
		return nil, fmt.Errorf("%w: light or scene is required", platform.ErrValidation)
	}
	light, err := m.controller.Set(req.Light, req.On, req.Brightness)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
	}
	m.publish(ctx, "lighting:set", light)
	return light, nil
}

// Data returns all lights and the available scenes.
func (m *LightingModule) Data(ctx context.Context) (any, error) {
	return m.stateView(), nil
}

// UpdateData switches one light or applies a scene.
func (m *LightingModule) UpdateData(ctx context.Context, input any) (any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable input", platform.ErrValidation)
	}
	var req setRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
	}
	return m.applySet(ctx, req)
}

// HandleAction processes realtime actions. The returned value travels
// back to the publishing client unmodified.
func (m *LightingModule) HandleAction(ctx context.Context, action string, payload []byte) (any, error) {
	switch action {
	case ActionSet, ActionScene:
		var req setRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
			}
		}
		return m.applySet(ctx, req)
	case ActionList:
		return m.stateView(), nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", platform.ErrValidation, action)
	}
}

// Status reports controller health for the platform aggregator.
func (m *LightingModule) Status(ctx context.Context) (platform.ModuleStatus, error) {
	lights := m.controller.Lights()
	on := 0
	for _, light := range lights {
		if light.On {
			on++
		}
	}
	return platform.ModuleStatus{
		Status: platform.HealthStatusHealthy,
		Details: map[string]any{
			"lights": len(lights),
			"on":     on,
		},
	}, nil
}

// ProvidesServices declares the services offered by this module.
func (m *LightingModule) ProvidesServices() []platform.ServiceProvider {
	return []platform.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Light and scene control",
			Instance:    m.controller,
		},
	}
}

// RequiresServices declares the services required by this module.
func (m *LightingModule) RequiresServices() []platform.ServiceDependency {
	return nil
}

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ModuleName is the unique identifier for the presence module.
const ModuleName = "presence"

// ServiceName is the name of the presence tracker service.
const ServiceName = "presence.tracker"

const namespaceName = "presence"

// Actions accepted over the realtime broker.
const (
	ActionHeartbeat = "heartbeat"
	ActionAway      = "away"
	ActionList      = "list"
)

// Publisher is the slice of the realtime broker this module publishes
// through.
type Publisher interface {
	PublishDelta(ctx context.Context, namespace, room, event string, payload any) error
	PublishState(ctx context.Context, namespace, room string, state any) error
}

// PresenceModule tracks which household devices are home based on
// heartbeats, expiring silent devices to away.
type PresenceModule struct {
	name      string
	config    *Config
	logger    platform.Logger
	app       platform.Application
	tracker   *Tracker
	publisher Publisher

	mu        sync.Mutex
	cancel    context.CancelFunc
	lastSweep time.Time
}

var _ platform.Module = (*PresenceModule)(nil)

// NewPresenceModule creates a new instance of the presence module.
func NewPresenceModule() *PresenceModule {
	return &PresenceModule{name: ModuleName}
}

// Name returns the name of this module.
func (m *PresenceModule) Name() string {
	return m.name
}

// Description returns display metadata for registry listings.
func (m *PresenceModule) Description() platform.ModuleDescription {
	return platform.ModuleDescription{
		DisplayName: "Presence",
		Category:    "occupancy",
	}
}

// RegisterConfig registers the module's configuration section.
func (m *PresenceModule) RegisterConfig(app platform.Application) error {
	defaultConfig := &Config{
		TTL:           5 * time.Minute,
		SweepInterval: 30 * time.Second,
		KnownDevices:  DefaultKnownDevices(),
	}
	app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init builds the tracker from configuration.
func (m *PresenceModule) Init(app platform.Application) error {
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
	m.tracker = NewTracker(cfg.TTL, cfg.KnownDevices)

	m.logger.Info("Presence module initialized",
		"devices", len(cfg.KnownDevices), "ttl", cfg.TTL)
	return nil
}

// Start begins the background sweep loop.
func (m *PresenceModule) Start(ctx context.Context) error {
	var publisher Publisher
	if err := m.app.GetService("realtime.broker", &publisher); err == nil {
		m.publisher = publisher
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.lastSweep = time.Now()
	m.mu.Unlock()

	if m.publisher != nil {
		state := map[string]any{"devices": m.tracker.Devices(), "home": m.tracker.Home()}
		if err := m.publisher.PublishState(ctx, namespaceName, "", state); err != nil {
			m.logger.Debug("Failed to publish presence state", "error", err)
		}
	}

	go m.run(loopCtx)
	return nil
}

// Stop halts the sweep loop.
func (m *PresenceModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
	return nil
}

func (m *PresenceModule) run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepOnce(ctx, now)
		}
	}
}

func (m *PresenceModule) sweepOnce(ctx context.Context, now time.Time) {
	changed := m.tracker.Sweep(now)
	m.mu.Lock()
	m.lastSweep = now
	m.mu.Unlock()

	for _, device := range changed {
		m.logger.Info("Device timed out", "device", device.Device)
		m.publishChange(ctx, device)
	}
}

func (m *PresenceModule) publishChange(ctx context.Context, device DevicePresence) {
	if m.publisher == nil {
		return
	}
	err := m.publisher.PublishDelta(ctx, namespaceName, "", "presence:changed", device)
	if err != nil {
		m.logger.Debug("Failed to publish presence change", "device", device.Device, "error", err)
	}
}

// heartbeatRequest is the shared mutation shape for gateway updates and
// realtime actions.
type heartbeatRequest struct {
	Device  string `json:"device"`
	Present *bool  `json:"present"`
}

func (m *PresenceModule) applyHeartbeat(ctx context.Context, req heartbeatRequest) (any, error) {
	if req.Device == "" {
		return nil, fmt.Errorf("%w: device is required", platform.ErrValidation)
	}

	now := time.Now()
	var (
		device  DevicePresence
		changed bool
	)
	if req.Present != nil && !*req.Present {
		device, changed = m.tracker.MarkAway(req.Device, now)
	} else {
		device, changed = m.tracker.Heartbeat(req.Device, now)
	}
	if changed {
		m.publishChange(ctx, device)
	}
	return device, nil
}

// Data returns every tracked device with its presence state.
func (m *PresenceModule) Data(ctx context.Context) (any, error) {
	return map[string]any{
		"devices": m.tracker.Devices(),
		"home":    m.tracker.Home(),
	}, nil
}

// UpdateData records a heartbeat, or marks a device away when present
// is false.
func (m *PresenceModule) UpdateData(ctx context.Context, input any) (any, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable input", platform.ErrValidation)
	}
	var req heartbeatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
	}
	return m.applyHeartbeat(ctx, req)
}

// HandleAction processes realtime actions.
func (m *PresenceModule) HandleAction(ctx context.Context, action string, payload []byte) (any, error) {
	switch action {
	case ActionHeartbeat, ActionAway:
		var req heartbeatRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, fmt.Errorf("%w: %s", platform.ErrValidation, err.Error())
			}
		}
		if action == ActionAway {
			away := false
			req.Present = &away
		}
		return m.applyHeartbeat(ctx, req)
	case ActionList:
		return m.Data(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", platform.ErrValidation, action)
	}
}

// Status reports sweep liveness for the platform aggregator.
func (m *PresenceModule) Status(ctx context.Context) (platform.ModuleStatus, error) {
	m.mu.Lock()
	lastSweep := m.lastSweep
	running := m.cancel != nil
	m.mu.Unlock()

	details := map[string]any{
		"tracked": len(m.tracker.Devices()),
		"home":    m.tracker.Home(),
	}
	if running && time.Since(lastSweep) > 3*m.config.SweepInterval {
		return platform.ModuleStatus{
			Status:  platform.HealthStatusDegraded,
			Message: "presence sweep stalled",
			Details: details,
		}, nil
	}
	return platform.ModuleStatus{
		Status:  platform.HealthStatusHealthy,
		Details: details,
	}, nil
}

// ProvidesServices declares the services offered by this module.
func (m *PresenceModule) ProvidesServices() []platform.ServiceProvider {
	return []platform.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Device presence tracking",
			Instance:    m.tracker,
		},
	}
}

// RequiresServices declares the services required by this module.
func (m *PresenceModule) RequiresServices() []platform.ServiceDependency {
	return nil
}

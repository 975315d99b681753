package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ModuleName is the unique identifier for the realtime module.
const ModuleName = "realtime"

// ServiceName is the name of the broker service.
const ServiceName = "realtime.broker"

// TransportServiceName is the name of the websocket transport service.
const TransportServiceName = "realtime.transport"

// RealtimeModule runs the broadcast broker and its websocket transport
// as a platform module. Other modules obtain the broker through the
// service registry to publish state and deltas; the gateway mounts the
// transport under its realtime routes.
type RealtimeModule struct {
	name      string
	config    *Config
	logger    platform.Logger
	broker    *Broker
	transport *Transport
	subject   platform.Subject
}

// NewRealtimeModule creates a new instance of the realtime module.
func NewRealtimeModule() *RealtimeModule {
	return &RealtimeModule{name: ModuleName}
}

// Name returns the name of this module.
func (m *RealtimeModule) Name() string {
	return m.name
}

// Description returns display metadata for registry listings.
func (m *RealtimeModule) Description() platform.ModuleDescription {
	return platform.ModuleDescription{
		DisplayName: "Realtime Broker",
		Category:    "system",
	}
}

// RegisterConfig registers the module's configuration section.
func (m *RealtimeModule) RegisterConfig(app platform.Application) error {
	defaultConfig := &Config{
		Namespaces:          DefaultNamespaces(),
		BufferSize:          64,
		DeliveryMode:        DeliveryModeDrop,
		PublishBlockTimeout: 50 * time.Millisecond,
		MaxPayloadBytes:     1 << 20,
		InboundRate:         10,
		InboundBurst:        10,
	}
	app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init builds the broker from configuration and attaches it to the
// application's action dispatch and event emission.
func (m *RealtimeModule) Init(app platform.Application) error {
	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	cfg, ok := cp.GetConfig().(*Config)
	if !ok {
		return fmt.Errorf("invalid config section type for '%s'", m.Name())
	}

	m.config = cfg
	m.logger = platform.NewModuleLogger(app.Logger(), m.Name())
	m.broker = NewBroker(cfg, m.logger, app.Metrics())
	m.broker.SetDispatcher(app)
	if subject, ok := app.(platform.Subject); ok {
		m.subject = subject
		m.broker.SetEventSubject(subject)
	}
	m.transport = NewTransport(m.broker, m.logger)

	m.logger.Info("Realtime module initialized",
		"namespaces", m.broker.Namespaces(), "deliveryMode", cfg.DeliveryMode)
	return nil
}

// Start begins accepting subscriptions and publishes.
func (m *RealtimeModule) Start(ctx context.Context) error {
	return m.broker.Start(ctx)
}

// Stop closes every subscription and stops the broker.
func (m *RealtimeModule) Stop(ctx context.Context) error {
	return m.broker.Stop(ctx)
}

// Broker exposes the running broker for in-process callers.
func (m *RealtimeModule) Broker() *Broker {
	return m.broker
}

// Transport exposes the websocket transport for route mounting.
func (m *RealtimeModule) Transport() *Transport {
	return m.transport
}

// Status reports broker health for the platform aggregator.
func (m *RealtimeModule) Status(ctx context.Context) (platform.ModuleStatus, error) {
	if m.broker == nil || !m.broker.started() {
		return platform.ModuleStatus{
			Status:  platform.HealthStatusUnhealthy,
			Message: "broker not running",
		}, nil
	}
	delivered, dropped := m.broker.Stats()
	return platform.ModuleStatus{
		Status: platform.HealthStatusHealthy,
		Details: map[string]any{
			"subscriptions": m.broker.TotalSubscriptions(),
			"delivered":     delivered,
			"dropped":       dropped,
		},
	}, nil
}

// ProvidesServices declares the services offered by this module.
func (m *RealtimeModule) ProvidesServices() []platform.ServiceProvider {
	return []platform.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Namespace and room broadcast broker",
			Instance:    m.broker,
		},
		{
			Name:        TransportServiceName,
			Description: "Websocket transport for realtime subscriptions",
			Instance:    m.transport,
		},
	}
}

// RequiresServices declares the services required by this module.
func (m *RealtimeModule) RequiresServices() []platform.ServiceDependency {
	return nil
}

// RegisterObservers subscribes the module to platform lifecycle events
// so dashboards on the system namespace see them live.
func (m *RealtimeModule) RegisterObservers(subject platform.Subject) error {
	return subject.RegisterObserver(m,
		platform.EventTypeModuleInitialized,
		platform.EventTypeModuleStarted,
		platform.EventTypeModuleDegraded,
		platform.EventTypeModuleDestroyed,
		platform.EventTypeConfigChanged,
		platform.EventTypeHealthEvaluated,
	)
}

// EmitEvent publishes a module-authored event through the application.
func (m *RealtimeModule) EmitEvent(ctx context.Context, event platform.CloudEvent) error {
	if m.subject == nil {
		return ErrNoSubject
	}
	return m.subject.NotifyObservers(ctx, event)
}

// OnEvent bridges an observed platform event into the system namespace
// as a delta. Events arriving before the broker runs are dropped.
func (m *RealtimeModule) OnEvent(ctx context.Context, event platform.CloudEvent) error {
	if m.broker == nil || !m.broker.started() || !m.broker.HasNamespace(systemNamespace) {
		return nil
	}
	var payload json.RawMessage
	if data := event.Data(); len(data) > 0 {
		payload = json.RawMessage(data)
	}
	return m.broker.PublishDelta(ctx, systemNamespace, "", event.Type(), payload)
}

// ObserverID identifies this module in observer registrations.
func (m *RealtimeModule) ObserverID() string {
	return ModuleName
}

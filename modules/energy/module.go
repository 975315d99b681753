package energy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ModuleName is the unique identifier for the energy module.
const ModuleName = "energy"

// ServiceName is the name of the meter service consumed by dependent
// modules.
const ServiceName = "energy.meter"

const namespaceName = "energy"

// Publisher is the slice of the realtime broker this module publishes
// through.
type Publisher interface {
	PublishDelta(ctx context.Context, namespace, room, event string, payload any) error
}

// EnergyModule samples the home's power draw on a fixed interval,
// exports per-circuit gauges, and publishes readings to the energy
// namespace.
type EnergyModule struct {
	name       string
	config     *Config
	logger     platform.Logger
	app        platform.Application
	meter      *Meter
	publisher  Publisher
	wattsGauge *prometheus.GaugeVec
	kwhCounter prometheus.Counter

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ platform.Module = (*EnergyModule)(nil)

// NewEnergyModule creates a new instance of the energy module.
func NewEnergyModule() *EnergyModule {
	return &EnergyModule{name: ModuleName}
}

// Name returns the name of this module.
func (m *EnergyModule) Name() string {
	return m.name
}

// Description returns display metadata for registry listings.
func (m *EnergyModule) Description() platform.ModuleDescription {
	return platform.ModuleDescription{
		DisplayName: "Energy Meter",
		Category:    "devices",
	}
}

// RegisterConfig registers the module's configuration section.
func (m *EnergyModule) RegisterConfig(app platform.Application) error {
	defaultConfig := &Config{
		SampleInterval: 15 * time.Second,
		WindowSize:     240,
		BaseLoadWatts:  120,
		Circuits:       DefaultCircuits(),
	}
	app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(defaultConfig))
	return nil
}

// Init builds the meter and registers the Prometheus collectors on the
// platform registry.
func (m *EnergyModule) Init(app platform.Application) error {
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
	m.meter = NewMeter(cfg.BaseLoadWatts, cfg.Circuits, cfg.WindowSize)

	if err := m.registerCollectors(app.Metrics().Registry()); err != nil {
		return err
	}

	m.logger.Info("Energy module initialized",
		"circuits", len(cfg.Circuits), "sampleInterval", cfg.SampleInterval)
	return nil
}

// registerCollectors attaches the energy collectors, reusing existing
// ones when the module re-initializes after recovery.
func (m *EnergyModule) registerCollectors(registry *prometheus.Registry) error {
	watts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "homey_energy_watts",
		Help: "Most recent sampled draw per circuit.",
	}, []string{"circuit"})
	if err := registry.Register(watts); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("registering energy gauge: %w", err)
		}
		watts = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	m.wattsGauge = watts

	kwh := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "homey_energy_kwh_total",
		Help: "Cumulative energy consumption in kWh.",
	})
	if err := registry.Register(kwh); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return fmt.Errorf("registering energy counter: %w", err)
		}
		kwh = are.ExistingCollector.(prometheus.Counter)
	}
	m.kwhCounter = kwh
	return nil
}

// Start resolves the broker and begins the sampling loop. The first
// sample is taken immediately so readings are available right away.
func (m *EnergyModule) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	// The broker is optional; without it readings stay local.
	var publisher Publisher
	if err := m.app.GetService("realtime.broker", &publisher); err == nil {
		m.publisher = publisher
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.sampleOnce(loopCtx, time.Now())
	go m.run(loopCtx)
	return nil
}

// Stop halts the sampling loop.
func (m *EnergyModule) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return nil
}

func (m *EnergyModule) run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sampleOnce(ctx, now)
		}
	}
}

func (m *EnergyModule) sampleOnce(ctx context.Context, now time.Time) {
	reading, kwhDelta := m.meter.Sample(now)
	for circuit, draw := range reading.Circuits {
		m.wattsGauge.WithLabelValues(circuit).Set(draw)
	}
	if kwhDelta > 0 {
		m.kwhCounter.Add(kwhDelta)
	}

	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishDelta(ctx, namespaceName, "", "energy:reading", reading); err != nil {
		m.logger.Debug("Failed to publish energy reading", "error", err)
	}
}

// Data returns the rolling aggregates.
func (m *EnergyModule) Data(ctx context.Context) (any, error) {
	return m.meter.Snapshot(), nil
}

// UpdateData rejects mutations; meter readings are observations.
func (m *EnergyModule) UpdateData(ctx context.Context, input any) (any, error) {
	return nil, fmt.Errorf("%w: energy readings are read-only", platform.ErrValidation)
}

// Status reports meter liveness for the platform aggregator.
func (m *EnergyModule) Status(ctx context.Context) (platform.ModuleStatus, error) {
	snap := m.meter.Snapshot()
	if !snap.LastSample.IsZero() && time.Since(snap.LastSample) > 3*m.config.SampleInterval {
		return platform.ModuleStatus{
			Status:  platform.HealthStatusDegraded,
			Message: "meter sampling stalled",
			Details: map[string]any{"lastSample": snap.LastSample},
		}, nil
	}
	return platform.ModuleStatus{
		Status: platform.HealthStatusHealthy,
		Details: map[string]any{
			"samples":      snap.Samples,
			"currentWatts": snap.CurrentWatts,
		},
	}, nil
}

// ProvidesServices declares the services offered by this module.
func (m *EnergyModule) ProvidesServices() []platform.ServiceProvider {
	return []platform.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "Live power draw readings and rolling aggregates",
			Instance:    m.meter,
		},
	}
}

// RequiresServices declares the services required by this module.
func (m *EnergyModule) RequiresServices() []platform.ServiceDependency {
	return nil
}

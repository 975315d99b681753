package platform

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// AppRegistry exposes the service registry for the generic helpers.
type AppRegistry interface {
	SvcRegistry() ServiceRegistry
}

// Application is the platform container seen by modules. It owns the module
// registry, configuration sections, the service registry, and the lifecycle
// orchestration that moves modules between states.
type Application interface {
	ConfigProvider() ConfigProvider
	SvcRegistry() ServiceRegistry
	RegisterModule(module Module) error
	RegisterConfigSection(section string, cp ConfigProvider)
	ConfigSections() map[string]ConfigProvider
	GetConfigSection(section string) (ConfigProvider, error)
	RegisterService(name string, service any) error
	GetService(name string, target any) error
	Modules() *Registry
	Init() error
	Start() error
	Stop() error
	Run() error
	Destroy(ctx context.Context, moduleID string) error
	ModuleData(ctx context.Context, moduleID string) (any, error)
	UpdateModuleData(ctx context.Context, moduleID string, input any) (any, error)
	DispatchAction(ctx context.Context, moduleID, action string, payload []byte) (any, error)
	Health() *HealthAggregator
	Metrics() *Metrics
	Logger() Logger
}

// observerRegistration holds information about a registered observer.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

// StdApplication is the standard Application implementation.
// It implements Subject as well, so any component can observe lifecycle,
// config, and health events as CloudEvents.
type StdApplication struct {
	cfgProvider ConfigProvider
	cfgMu       sync.RWMutex
	cfgSections map[string]ConfigProvider

	svcMu       sync.RWMutex
	svcRegistry ServiceRegistry

	registry *Registry
	logger   Logger
	health   *HealthAggregator
	metrics  *Metrics

	observerMu sync.RWMutex
	observers  map[string]*observerRegistration

	// sectionOwners maps config sections to the module that registered
	// them so a failed section degrades its module instead of the app.
	sectionOwners map[string]string
	sectionErrors map[string]error

	lifecycleMu sync.Mutex
	initialized bool
	started     bool
	initOrder   []string
	ctx         context.Context
	cancel      context.CancelFunc

	initTimeout      time.Duration
	initWorkers      int
	recoveryEnabled  bool
	recoveryInterval time.Duration
}

// NewStdApplication creates a new application instance with the default
// 30 second initialization window and one init worker per execution unit.
func NewStdApplication(cp ConfigProvider, logger Logger, opts ...Option) Application {
	app := &StdApplication{
		cfgProvider:      cp,
		cfgSections:      make(map[string]ConfigProvider),
		svcRegistry:      make(ServiceRegistry),
		registry:         NewRegistry(),
		logger:           logger,
		observers:        make(map[string]*observerRegistration),
		sectionOwners:    make(map[string]string),
		sectionErrors:    make(map[string]error),
		initTimeout:      30 * time.Second,
		initWorkers:      runtime.GOMAXPROCS(0),
		recoveryInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(app)
	}
	app.metrics = NewMetrics()
	app.health = NewHealthAggregator(app.registry, app.metrics, logger)
	app.svcRegistry["metrics"] = app.metrics
	app.svcRegistry["health.aggregator"] = app.health
	return app
}

// Option adjusts application construction.
type Option func(*StdApplication)

// WithInitTimeout sets the global window for module initialization.
// Modules still initializing when it elapses are marked degraded and
// startup proceeds without them.
func WithInitTimeout(d time.Duration) Option {
	return func(app *StdApplication) {
		if d > 0 {
			app.initTimeout = d
		}
	}
}

// WithInitWorkers bounds how many modules initialize concurrently within
// a dependency batch.
func WithInitWorkers(n int) Option {
	return func(app *StdApplication) {
		if n > 0 {
			app.initWorkers = n
		}
	}
}

// WithDegradedRecovery enables the background loop that retries degraded
// modules with exponential backoff.
func WithDegradedRecovery(interval time.Duration) Option {
	return func(app *StdApplication) {
		app.recoveryEnabled = true
		if interval > 0 {
			app.recoveryInterval = interval
		}
	}
}

// ConfigProvider retrieves the application config provider.
func (app *StdApplication) ConfigProvider() ConfigProvider {
	return app.cfgProvider
}

// SvcRegistry retrieves the service registry.
func (app *StdApplication) SvcRegistry() ServiceRegistry {
	return app.svcRegistry
}

// Modules returns the module registry.
func (app *StdApplication) Modules() *Registry {
	return app.registry
}

// Health returns the health aggregator.
func (app *StdApplication) Health() *HealthAggregator {
	return app.health
}

// Metrics returns the platform metrics collectors.
func (app *StdApplication) Metrics() *Metrics {
	return app.metrics
}

// Logger returns the application logger.
func (app *StdApplication) Logger() Logger {
	return app.logger
}

// RegisterModule adds a module to the registry in the Unloaded state and
// announces it to observers.
func (app *StdApplication) RegisterModule(module Module) error {
	if err := app.registry.Register(module); err != nil {
		return err
	}
	app.logger.Debug("Registered module", "module", module.Name())
	app.emitEvent(context.Background(), EventTypeModuleRegistered, map[string]interface{}{
		"moduleId": module.Name(),
	}, nil)
	return nil
}

// RegisterConfigSection registers a configuration section with the application.
func (app *StdApplication) RegisterConfigSection(section string, cp ConfigProvider) {
	app.cfgMu.Lock()
	defer app.cfgMu.Unlock()
	app.cfgSections[section] = cp
}

// ConfigSections retrieves all registered configuration sections.
func (app *StdApplication) ConfigSections() map[string]ConfigProvider {
	app.cfgMu.RLock()
	defer app.cfgMu.RUnlock()
	sections := make(map[string]ConfigProvider, len(app.cfgSections))
	for k, v := range app.cfgSections {
		sections[k] = v
	}
	return sections
}

// GetConfigSection retrieves a configuration section.
func (app *StdApplication) GetConfigSection(section string) (ConfigProvider, error) {
	app.cfgMu.RLock()
	defer app.cfgMu.RUnlock()
	cp, exists := app.cfgSections[section]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConfigSectionNotFound, section)
	}
	return cp, nil
}

// RegisterService adds a service with duplicate detection. Safe to call
// from concurrently initializing modules.
func (app *StdApplication) RegisterService(name string, service any) error {
	app.svcMu.Lock()
	defer app.svcMu.Unlock()

	if _, exists := app.svcRegistry[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, name)
	}

	app.svcRegistry[name] = service
	app.logger.Debug("Registered service", "name", name, "type", reflect.TypeOf(service))
	return nil
}

// GetService retrieves a service and assigns it to target, matching by
// name first and then by interface or type compatibility.
func (app *StdApplication) GetService(name string, target any) error {
	app.svcMu.RLock()
	service, exists := app.svcRegistry[name]
	app.svcMu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return ErrTargetNotPointer
	}
	if !targetValue.Elem().IsValid() {
		return ErrTargetValueInvalid
	}

	serviceType := reflect.TypeOf(service)
	targetType := targetValue.Elem().Type()

	// Case 1: Target is an interface that the service implements
	if targetType.Kind() == reflect.Interface && serviceType.Implements(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	}

	// Case 2: Target is a struct with embedded interfaces
	if targetType.Kind() == reflect.Struct {
		for i := 0; i < targetType.NumField(); i++ {
			field := targetType.Field(i)
			if field.Type.Kind() == reflect.Interface && serviceType.Implements(field.Type) {
				fieldValue := targetValue.Elem().Field(i)
				if fieldValue.CanSet() {
					fieldValue.Set(reflect.ValueOf(service))
					return nil
				}
			}
		}
	}

	// Case 3: Direct assignment or pointer dereference
	if serviceType.AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	} else if serviceType.Kind() == reflect.Ptr && serviceType.Elem().AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service).Elem())
		return nil
	}

	return fmt.Errorf("%w: service '%s' of type %s cannot be assigned to %s",
		ErrServiceIncompatible, name, serviceType, targetType)
}

// recordSectionError notes a config section that failed to feed.
func (app *StdApplication) recordSectionError(section string, err error) {
	app.cfgMu.Lock()
	defer app.cfgMu.Unlock()
	app.sectionErrors[section] = err
}

// injectServices resolves a module's required services and, when the module
// supports constructor injection, rebuilds it with those services.
func (app *StdApplication) injectServices(module Module) (Module, error) {
	requiredServices := make(map[string]any)
	for _, dep := range module.(ServiceAware).RequiresServices() {
		var service any
		var serviceFound bool
		var serviceName string

		if dep.MatchByInterface && dep.SatisfiesInterface != nil && dep.SatisfiesInterface.Kind() == reflect.Interface {
			// Find the first service implementing the required interface.
			app.svcMu.RLock()
			for name, svc := range app.svcRegistry {
				if svc == nil {
					continue
				}
				svcType := reflect.TypeOf(svc)
				if svcType.Implements(dep.SatisfiesInterface) ||
					(svcType.Kind() == reflect.Ptr && svcType.Elem().Implements(dep.SatisfiesInterface)) {
					service = svc
					serviceFound = true
					serviceName = name
					break
				}
			}
			app.svcMu.RUnlock()
			if serviceFound {
				app.logger.Debug("Found service by interface match",
					"interface", dep.SatisfiesInterface,
					"service", serviceName,
					"module", module.Name())
			}
		} else if dep.Name != "" {
			app.svcMu.RLock()
			service, serviceFound = app.svcRegistry[dep.Name]
			app.svcMu.RUnlock()
			serviceName = dep.Name
		}

		if serviceFound {
			if valid, err := checkServiceCompatibility(service, dep); !valid {
				return nil, fmt.Errorf("failed to inject service '%s': %w", serviceName, err)
			}
			// Constructors look services up under the declared
			// dependency name even when resolution went by interface.
			key := dep.Name
			if key == "" {
				key = serviceName
			}
			requiredServices[key] = service
		} else if dep.Required {
			if dep.MatchByInterface {
				return nil, fmt.Errorf("%w: no service found implementing interface %v for %s",
					ErrRequiredServiceNotFound, dep.SatisfiesInterface, module.Name())
			}
			return nil, fmt.Errorf("%w: %s for %s",
				ErrRequiredServiceNotFound, dep.Name, module.Name())
		}
	}

	if withConstructor, ok := module.(Constructable); ok {
		constructor := withConstructor.Constructor()
		newModule, err := constructor(app, requiredServices)
		if err != nil {
			return nil, fmt.Errorf("failed to construct module '%s': %w", module.Name(), err)
		}
		app.registry.replaceModule(module.Name(), newModule)
		module = newModule
	}

	return module, nil
}

// checkServiceCompatibility checks if a service satisfies the dependency requirements.
func checkServiceCompatibility(service any, dep ServiceDependency) (bool, error) {
	if service == nil {
		return false, fmt.Errorf("%w: %s", ErrServiceNil, dep.Name)
	}

	serviceType := reflect.TypeOf(service)

	if dep.Type != nil && !serviceType.AssignableTo(dep.Type) {
		return false, fmt.Errorf("%w: service '%s' of type %s doesn't satisfy required type %s",
			ErrServiceWrongType, dep.Name, serviceType, dep.Type)
	}

	if dep.SatisfiesInterface != nil && dep.SatisfiesInterface.Kind() == reflect.Interface {
		if serviceType.Implements(dep.SatisfiesInterface) ||
			(serviceType.Kind() == reflect.Ptr && serviceType.Elem().Implements(dep.SatisfiesInterface)) {
			return true, nil
		}
		return false, fmt.Errorf("%w: service '%s' of type %s doesn't satisfy required interface %s",
			ErrServiceWrongInterface, dep.Name, serviceType, dep.SatisfiesInterface)
	}

	return true, nil
}

// instanceImplements reports whether the value or its pointee implements
// the given interface type.
func instanceImplements(instance any, iface reflect.Type) bool {
	if instance == nil || iface == nil || iface.Kind() != reflect.Interface {
		return false
	}
	t := reflect.TypeOf(instance)
	return t.Implements(iface) || (t.Kind() == reflect.Ptr && t.Elem().Implements(iface))
}

// RegisterObserver adds an observer, optionally filtered by event type.
func (app *StdApplication) RegisterObserver(observer Observer, eventTypes ...string) error {
	app.observerMu.Lock()
	defer app.observerMu.Unlock()

	eventTypeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	app.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}

	app.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. Idempotent.
func (app *StdApplication) UnregisterObserver(observer Observer) error {
	app.observerMu.Lock()
	defer app.observerMu.Unlock()

	if _, exists := app.observers[observer.ObserverID()]; exists {
		delete(app.observers, observer.ObserverID())
		app.logger.Debug("Observer unregistered", "observerID", observer.ObserverID())
	}
	return nil
}

// NotifyObservers delivers a CloudEvent to every interested observer.
// Each observer runs in its own goroutine; a panicking or failing observer
// is logged and never affects the others or the caller.
func (app *StdApplication) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := ValidateCloudEvent(event); err != nil {
		app.logger.Error("Invalid CloudEvent", "eventType", event.Type(), "error", err)
		return err
	}

	app.observerMu.RLock()
	defer app.observerMu.RUnlock()

	for _, registration := range app.observers {
		registration := registration

		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}

		go func() {
			defer func() {
				if r := recover(); r != nil {
					app.logger.Error("Observer panicked", "observerID", registration.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()

			if err := registration.observer.OnEvent(ctx, event); err != nil {
				app.logger.Error("Observer error", "observerID", registration.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}

	return nil
}

// GetObservers returns information about currently registered observers.
func (app *StdApplication) GetObservers() []ObserverInfo {
	app.observerMu.RLock()
	defer app.observerMu.RUnlock()

	info := make([]ObserverInfo, 0, len(app.observers))
	for _, registration := range app.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}
		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}
	return info
}

// emitEvent builds and publishes a platform CloudEvent without blocking
// the calling lifecycle operation.
func (app *StdApplication) emitEvent(ctx context.Context, eventType string, data interface{}, metadata map[string]interface{}) {
	event := NewCloudEvent(eventType, "application", data, metadata)
	go func() {
		if err := app.NotifyObservers(ctx, event); err != nil {
			app.logger.Error("Failed to notify observers", "event", eventType, "error", err)
		}
	}()
}

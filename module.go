// Package platform provides the orchestration core of the HomeySmartHome
// server: a module registry, a dependency-aware lifecycle orchestrator,
// aggregated health and metrics, and the service wiring that connects
// smart-home modules to the realtime broker and the HTTP gateway.
//
// Applications are composed of independent modules. Each module implements
// the Module interface and can opt into additional capabilities such as
// Configurable, DependencyAware, ServiceAware, Startable, StatusReporter,
// and DataAccessor. The orchestrator resolves the dependency graph,
// initializes independent modules in parallel batches, and keeps modules
// that fail isolated in a degraded state rather than aborting startup.
//
// Basic usage:
//
//	app := platform.NewStdApplication(configProvider, logger)
//	app.RegisterModule(irrigation.NewModule())
//	if err := app.Run(); err != nil {
//		log.Fatal(err)
//	}
package platform

import "context"

// Module represents a registrable component in the application.
// All modules must implement this interface to be managed by the platform.
//
// A module is the basic building block of the smart-home server. It
// encapsulates one device domain or system capability and interacts with
// other modules through the application's service registry and
// configuration system, never by direct reference.
type Module interface {
	// Name returns the unique identifier for this module.
	// The name is used for dependency resolution, service registration,
	// health attribution, and gateway routing. It must be unique within
	// the application.
	//
	// Example: "irrigation", "climate", "lighting", "energy"
	Name() string

	// Init initializes the module with the application context.
	// It is called during application initialization after all modules
	// have been registered and their configurations loaded.
	//
	// Init should validate configuration, initialize internal state, and
	// prepare for Start() to be called. It runs in dependency order:
	// modules that depend on others are initialized after their
	// dependencies, and independent modules may be initialized
	// concurrently.
	Init(app Application) error
}

// Configurable is an interface for modules that carry configuration.
// Modules implementing it register configuration sections with the
// application, which feeds them from files and the environment before
// Init runs.
type Configurable interface {
	// RegisterConfig registers configuration requirements with the
	// application. Called during initialization before Init().
	//
	// Example:
	//
	//	func (m *Module) RegisterConfig(app Application) error {
	//		m.config = &Config{}
	//		app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(m.config))
	//		return nil
	//	}
	RegisterConfig(app Application) error
}

// DependencyAware is an interface for modules that depend on other modules.
// The orchestrator uses this information to batch initialization: a module
// initializes only after every listed dependency has become active.
//
// Dependencies are resolved by module name and must be exact matches.
// Circular dependencies cause initialization to fail before any module runs.
type DependencyAware interface {
	// Dependencies returns names of other modules this module depends on.
	// The returned slice must contain the exact names returned by the
	// Name() method of the dependency modules.
	//
	// Example:
	//
	//	func (m *ClimateModule) Dependencies() []string {
	//		return []string{"energy"}
	//	}
	Dependencies() []string
}

// ServiceAware is an interface for modules that provide or consume services.
// Services enable loose coupling: modules share functionality through the
// application's service registry instead of importing each other.
type ServiceAware interface {
	// ProvidesServices returns the services this module contributes.
	// They are registered in the application's service registry after the
	// module initializes, making them available to later batches.
	ProvidesServices() []ServiceProvider

	// RequiresServices returns the services this module needs. Services
	// can be matched by name or by interface; interface matching finds
	// any registered service implementing the given interface.
	RequiresServices() []ServiceDependency
}

// Startable is an interface for modules that perform runtime startup after
// initialization, such as opening listeners or launching background loops.
type Startable interface {
	// Start begins the module's runtime operations. It is called after
	// every module has initialized, in dependency order. The provided
	// context is the application's lifecycle context; when it is
	// cancelled the module should wind down gracefully.
	Start(ctx context.Context) error
}

// Stoppable is an interface for modules that need cleanup during shutdown.
type Stoppable interface {
	// Stop performs graceful shutdown. It is called in reverse dependency
	// order (dependents stop before their dependencies) with a context
	// that carries the shutdown deadline.
	Stop(ctx context.Context) error
}

// StatusReporter is an interface for modules that expose their own health.
// The health aggregator polls every StatusReporter on a fixed interval and
// folds the answers into the platform-wide health snapshot. A module that
// does not implement StatusReporter is judged healthy purely by its
// lifecycle state.
type StatusReporter interface {
	// Status returns the module's self-reported condition. The call is
	// bounded by the context deadline; exceeding it marks the module
	// degraded for that evaluation cycle. Status must be safe to call
	// concurrently with the module's normal operation.
	Status(ctx context.Context) (ModuleStatus, error)
}

// DataAccessor is an interface for modules that expose state through the
// gateway's module data endpoints. Implementing it makes the module
// addressable via GET and mutation requests on /api/v1/{module}.
type DataAccessor interface {
	// Data returns the module's current externally visible state.
	Data(ctx context.Context) (any, error)

	// UpdateData applies a state mutation and returns the resulting
	// state. Input arrives validated and sanitized by the gateway;
	// domain-level rejection is still the module's responsibility and
	// surfaces to the caller with the module's own message.
	UpdateData(ctx context.Context, input any) (any, error)
}

// ActionHandler is an interface for modules that accept realtime actions
// published on a broker namespace. The acknowledgement returned to the
// publishing client carries exactly the value or error produced here.
type ActionHandler interface {
	// HandleAction processes one action payload and returns the result
	// delivered in the acknowledgement.
	HandleAction(ctx context.Context, action string, payload []byte) (any, error)
}

// Constructable is an interface for modules that support constructor-based
// dependency injection. The orchestrator rebuilds such modules with their
// required services passed to the constructor instead of injecting fields.
type Constructable interface {
	// Constructor returns the function used to construct this module with
	// its resolved services.
	Constructor() ModuleConstructor
}

// ModuleConstructor is a function type that creates module instances with
// dependency injection. The services map contains every service the module
// declared as a requirement, keyed by service name.
type ModuleConstructor func(app Application, services map[string]any) (Module, error)

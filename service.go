package platform

import "reflect"

// ServiceProvider declares a service contributed by a module.
type ServiceProvider struct {
	// Name uniquely identifies the service in the registry.
	Name string

	// Description documents what the service offers.
	Description string

	// Instance is the service implementation registered for consumers.
	Instance any
}

// ServiceDependency declares a service a module needs before it can
// initialize. Dependencies resolve by name, or by interface when
// MatchByInterface is set.
type ServiceDependency struct {
	// Name of the service to look up (ignored for interface matching).
	Name string

	// Required makes initialization fail when the service is absent.
	Required bool

	// Type is the concrete type the service must be assignable to, if known.
	Type reflect.Type

	// SatisfiesInterface is the interface the service must implement.
	SatisfiesInterface reflect.Type

	// MatchByInterface selects interface-based resolution: the first
	// registered service implementing SatisfiesInterface is injected.
	MatchByInterface bool
}

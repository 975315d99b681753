package platform

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// Observer defines the interface for objects that want to be notified of
// platform events. Observers register with Subjects and receive CloudEvents
// when lifecycle transitions, config changes, or health evaluations occur.
type Observer interface {
	// OnEvent is called when a matching event occurs. Observers should
	// return quickly; slow work belongs in the observer's own goroutine.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration
	// tracking and debugging.
	ObserverID() string
}

// Subject is implemented by event emitters. The application is the primary
// subject; the realtime broker registers as an observer to bridge platform
// events onto dashboard namespaces.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered to specific
	// event types. An empty filter receives every event.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to all interested observers
	// without blocking the caller on any single observer.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes one registered observer.
type ObserverInfo struct {
	// ID is the unique identifier of the observer
	ID string `json:"id"`

	// EventTypes are the event types this observer is subscribed to.
	// Empty slice means all events.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt indicates when the observer was registered
	RegisteredAt time.Time `json:"registeredAt"`
}

// EventType constants for platform events, in CloudEvents reverse domain
// notation. Modules emit their own vocabulary under com.homey.<module>.*.
const (
	// Module lifecycle events
	EventTypeModuleRegistered  = "com.homey.module.registered"
	EventTypeModuleInitialized = "com.homey.module.initialized"
	EventTypeModuleStarted     = "com.homey.module.started"
	EventTypeModuleStopped     = "com.homey.module.stopped"
	EventTypeModuleDegraded    = "com.homey.module.degraded"
	EventTypeModuleDestroyed   = "com.homey.module.destroyed"

	// Service lifecycle events
	EventTypeServiceRegistered = "com.homey.service.registered"

	// Configuration events
	EventTypeConfigLoaded  = "com.homey.config.loaded"
	EventTypeConfigChanged = "com.homey.config.changed"

	// Application lifecycle events
	EventTypeApplicationStarted = "com.homey.application.started"
	EventTypeApplicationStopped = "com.homey.application.stopped"
	EventTypeApplicationFailed  = "com.homey.application.failed"

	// Health events
	EventTypeHealthEvaluated = "com.homey.health.evaluated"
)

// ObservableModule is an optional interface for modules that participate
// in the observer pattern, both emitting events and subscribing to others'.
type ObservableModule interface {
	Module

	// RegisterObservers is called during initialization so the module can
	// subscribe to events it cares about. The subject is the application.
	RegisterObservers(subject Subject) error

	// EmitEvent lets the module publish its own CloudEvents, typically by
	// delegating to the application's NotifyObservers.
	EmitEvent(ctx context.Context, event cloudevents.Event) error
}

// FunctionalObserver wraps a handler function as an Observer, for cases
// where defining a struct is overkill.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by the given function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements Observer by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer by returning the observer ID.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}

// NewCloudEvent creates a properly formatted CloudEvent with a
// time-ordered id, the given type and source, JSON-encoded data, and any
// metadata attached as extensions.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID returns a UUIDv7 so event ids sort by emission time,
// falling back to v4 if v7 generation fails.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent checks an event against the CloudEvents specification.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}

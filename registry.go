package platform

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// ModuleState represents where a module sits in its lifecycle.
// Transitions are driven exclusively by the lifecycle orchestrator;
// modules never change their own registry state.
type ModuleState int

const (
	// StateUnloaded indicates the module is registered but has not
	// started initializing yet.
	StateUnloaded ModuleState = iota

	// StateInitializing indicates the module's Init is in flight.
	StateInitializing

	// StateActive indicates the module initialized successfully and is
	// serving. Only active modules receive gateway and broker dispatch.
	StateActive

	// StateDegraded indicates the module failed to initialize, timed
	// out, or reported itself unhealthy. The rest of the platform keeps
	// running; the module is excluded from readiness until it recovers.
	StateDegraded

	// StateDestroyed indicates the module was torn down. The registry
	// retains the descriptor so the module's last known state remains
	// queryable instead of silently vanishing.
	StateDestroyed
)

// String returns the string representation of the module state.
func (s ModuleState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its lowercase name.
func (s ModuleState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsTerminalFailure returns true for states that exclude the module from
// request dispatch.
func (s ModuleState) IsTerminalFailure() bool {
	return s == StateDegraded || s == StateDestroyed
}

// ModuleDescription carries the optional display metadata a module can
// attach to its registry entry.
type ModuleDescription struct {
	// DisplayName is the human-readable name shown in listings.
	DisplayName string `json:"displayName"`

	// Category groups related modules (e.g. "devices", "automation").
	Category string `json:"category"`

	// Config exposes non-sensitive configuration metadata in listings.
	Config map[string]any `json:"config,omitempty"`
}

// Describable is an optional interface for modules that provide display
// metadata. Modules without it get their id as display name and the
// "general" category.
type Describable interface {
	Description() ModuleDescription
}

// ModuleDescriptor is the registry's public view of one module.
// Descriptors are value copies; mutating a returned descriptor does not
// affect the registry.
type ModuleDescriptor struct {
	// ID is the module's unique identifier, taken from Module.Name().
	ID string `json:"id"`

	// DisplayName is the human-readable name.
	DisplayName string `json:"displayName"`

	// Category groups related modules.
	Category string `json:"category"`

	// Config holds non-sensitive configuration metadata.
	Config map[string]any `json:"config,omitempty"`

	// State is the module's current lifecycle state.
	State ModuleState `json:"state"`

	// RegisteredAt is when the module entered the registry.
	RegisteredAt time.Time `json:"registeredAt"`

	// LastTransition is when the state last changed.
	LastTransition time.Time `json:"lastTransition"`
}

type registryEntry struct {
	descriptor ModuleDescriptor
	module     Module
}

// Registry tracks every registered module and its lifecycle state.
// All access is safe for concurrent use. Iteration order is insertion
// order, and reads return copies so callers can never observe a
// half-applied transition.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   []string
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register adds a module in the Unloaded state. Registering an id that
// already exists fails with ErrDuplicateModule and leaves the existing
// entry and the insertion order untouched.
func (r *Registry) Register(module Module) error {
	if module == nil {
		return ErrModuleNil
	}
	id := module.Name()
	if id == "" {
		return ErrModuleIDEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, id)
	}

	desc := ModuleDescriptor{
		ID:             id,
		DisplayName:    id,
		Category:       "general",
		State:          StateUnloaded,
		RegisteredAt:   time.Now(),
		LastTransition: time.Now(),
	}
	if d, ok := module.(Describable); ok {
		info := d.Description()
		if info.DisplayName != "" {
			desc.DisplayName = info.DisplayName
		}
		if info.Category != "" {
			desc.Category = info.Category
		}
		if len(info.Config) > 0 {
			desc.Config = copyConfigMap(info.Config)
		}
	}

	r.entries[id] = &registryEntry{descriptor: desc, module: module}
	r.order = append(r.order, id)
	return nil
}

// Get returns a copy of the descriptor for the given module id.
// Destroyed modules remain queryable with their terminal state.
func (r *Registry) Get(id string) (ModuleDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return ModuleDescriptor{}, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return entry.descriptor.clone(), nil
}

// List returns descriptors for every registered module in insertion order.
// The returned slice is a snapshot; later registrations or transitions do
// not alter it.
func (r *Registry) List() []ModuleDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModuleDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].descriptor.clone())
	}
	return out
}

// Count returns the number of registered modules, including destroyed ones.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// CountInState returns how many modules are currently in the given state.
func (r *Registry) CountInState(state ModuleState) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entry := range r.entries {
		if entry.descriptor.State == state {
			n++
		}
	}
	return n
}

// modules returns a snapshot of the live module instances keyed by id.
func (r *Registry) modules() map[string]Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Module, len(r.entries))
	for id, entry := range r.entries {
		out[id] = entry.module
	}
	return out
}

// ids returns the module ids in insertion order.
func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// module returns the live module instance for dispatch.
func (r *Registry) module(id string) (Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return entry.module, nil
}

// state returns the current lifecycle state without copying the descriptor.
func (r *Registry) state(id string) (ModuleState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[id]
	if !exists {
		return StateUnloaded, fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	return entry.descriptor.State, nil
}

// setState transitions a module to the given state. Only the lifecycle
// orchestrator calls this.
func (r *Registry) setState(id string, state ModuleState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrModuleNotFound, id)
	}
	if entry.descriptor.State != state {
		entry.descriptor.State = state
		entry.descriptor.LastTransition = time.Now()
	}
	return nil
}

// setStateIf transitions a module only when it currently sits in the
// expected state. The initialization deadline and late-finishing init
// goroutines race on the same entry; the compare-and-set decides which
// transition wins.
func (r *Registry) setStateIf(id string, from, to ModuleState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[id]
	if !exists || entry.descriptor.State != from {
		return false
	}
	entry.descriptor.State = to
	entry.descriptor.LastTransition = time.Now()
	return true
}

// replaceModule swaps the live instance after constructor injection
// rebuilt the module. The descriptor and its state are untouched.
func (r *Registry) replaceModule(id string, module Module) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[id]; exists {
		entry.module = module
	}
}

func (d ModuleDescriptor) clone() ModuleDescriptor {
	out := d
	out.Config = copyConfigMap(d.Config)
	return out
}

func copyConfigMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

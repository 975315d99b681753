package platform

import (
	"encoding/json"
	"time"
)

// HealthStatus represents the health of a module or of the platform as a
// whole. The zero value is Unknown.
type HealthStatus int

const (
	// HealthStatusUnknown indicates the status could not be determined,
	// typically because a check has not run yet or failed to execute.
	HealthStatusUnknown HealthStatus = iota

	// HealthStatusHealthy indicates the component is operating normally.
	HealthStatusHealthy

	// HealthStatusDegraded indicates the component is operational but
	// impaired; non-critical functionality may be unavailable.
	HealthStatusDegraded

	// HealthStatusUnhealthy indicates the component is not functioning
	// and cannot serve requests reliably.
	HealthStatusUnhealthy
)

func (s HealthStatus) String() string {
	switch s {
	case HealthStatusHealthy:
		return "healthy"
	case HealthStatusDegraded:
		return "degraded"
	case HealthStatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// IsHealthy returns true if the status represents a healthy state.
func (s HealthStatus) IsHealthy() bool {
	return s == HealthStatusHealthy
}

// MarshalJSON renders the status as its lowercase name.
func (s HealthStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ModuleStatus is what a StatusReporter module returns when polled. The
// aggregator folds these into the platform-wide health view.
type ModuleStatus struct {
	// Status is the health state the module reports for itself.
	Status HealthStatus `json:"status"`

	// Message provides human-readable detail about the status. Keep it
	// concise; it surfaces in health endpoints and logs.
	Message string `json:"message,omitempty"`

	// Details carries structured diagnostic data such as device counts
	// or queue depths.
	Details map[string]any `json:"details,omitempty"`
}

// ErrorRecord is one entry in a module's bounded error history.
type ErrorRecord struct {
	// Time is when the error was recorded.
	Time time.Time `json:"time"`

	// Message is the error text.
	Message string `json:"message"`
}

// HealthSnapshot is the per-module view the aggregator maintains between
// polls.
type HealthSnapshot struct {
	// ModuleID identifies the module this snapshot describes.
	ModuleID string `json:"moduleId"`

	// State is the module's lifecycle state at the last evaluation.
	State ModuleState `json:"state"`

	// Active reports whether the module was in the Active state.
	Active bool `json:"active"`

	// Status is the health status derived from the module's own report
	// and its lifecycle state.
	Status HealthStatus `json:"status"`

	// Message is the module's own status message, or the failure reason
	// when the check itself failed.
	Message string `json:"message,omitempty"`

	// LastCheck is when the module was last evaluated.
	LastCheck time.Time `json:"lastCheck"`

	// Errors is the module's recent error history, newest last.
	Errors []ErrorRecord `json:"errors,omitempty"`
}

// AggregatedHealth is the platform-wide result of one evaluation pass.
type AggregatedHealth struct {
	// Health is the worst status across every module.
	Health HealthStatus `json:"health"`

	// Ready reports whether every module has left the Initializing
	// state. Degraded and destroyed modules do not block readiness.
	Ready bool `json:"ready"`

	// Modules holds the per-module snapshots in registration order.
	Modules []HealthSnapshot `json:"modules"`

	// GeneratedAt is when this evaluation completed.
	GeneratedAt time.Time `json:"generatedAt"`
}

// worstStatus returns the worse of two statuses.
// Hierarchy: healthy < degraded < unhealthy < unknown.
func worstStatus(a, b HealthStatus) HealthStatus {
	priority := map[HealthStatus]int{
		HealthStatusHealthy:   0,
		HealthStatusDegraded:  1,
		HealthStatusUnhealthy: 2,
		HealthStatusUnknown:   3,
	}
	if priority[a] >= priority[b] {
		return a
	}
	return b
}

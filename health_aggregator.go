package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultHealthPollInterval = 30 * time.Second
	defaultHealthCheckTimeout = 5 * time.Second

	// maxErrorHistory bounds the per-module error log kept between polls.
	maxErrorHistory = 16
)

// HealthAggregatorConfig tunes the evaluation loop.
type HealthAggregatorConfig struct {
	// PollInterval is how often all modules are evaluated. Default: 30s.
	PollInterval time.Duration

	// CheckTimeout bounds each individual StatusReporter call. Default: 5s.
	CheckTimeout time.Duration
}

// HealthAggregator polls every registered module on a fixed interval and
// folds the results into a platform-wide health view. A module that
// panics, errors, or exceeds the per-call timeout yields a degraded or
// unhealthy snapshot; evaluation itself never fails.
type HealthAggregator struct {
	registry *Registry
	metrics  *Metrics
	logger   Logger

	pollInterval time.Duration
	checkTimeout time.Duration

	mu        sync.RWMutex
	subject   Subject
	errors    map[string][]ErrorRecord
	last      AggregatedHealth
	evaluated bool

	cancel  context.CancelFunc
	running bool
}

// NewHealthAggregator creates an aggregator with default intervals.
func NewHealthAggregator(registry *Registry, metrics *Metrics, logger Logger) *HealthAggregator {
	return NewHealthAggregatorWithConfig(registry, metrics, logger, HealthAggregatorConfig{})
}

// NewHealthAggregatorWithConfig creates an aggregator with custom intervals.
func NewHealthAggregatorWithConfig(registry *Registry, metrics *Metrics, logger Logger, config HealthAggregatorConfig) *HealthAggregator {
	if config.PollInterval <= 0 {
		config.PollInterval = defaultHealthPollInterval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = defaultHealthCheckTimeout
	}
	return &HealthAggregator{
		registry:     registry,
		metrics:      metrics,
		logger:       logger,
		pollInterval: config.PollInterval,
		checkTimeout: config.CheckTimeout,
		errors:       make(map[string][]ErrorRecord),
	}
}

// SetEventSubject sets the subject health.evaluated events are published
// through.
func (h *HealthAggregator) SetEventSubject(subject Subject) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subject = subject
}

// RecordError appends an error to the module's bounded history, evicting
// the oldest entry when full.
func (h *HealthAggregator) RecordError(moduleID string, err error) {
	if err == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	history := append(h.errors[moduleID], ErrorRecord{Time: time.Now(), Message: err.Error()})
	if len(history) > maxErrorHistory {
		history = history[len(history)-maxErrorHistory:]
	}
	h.errors[moduleID] = history
}

// errorHistory returns a copy of the module's recorded errors, newest last.
func (h *HealthAggregator) errorHistory(moduleID string) []ErrorRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	history := h.errors[moduleID]
	if len(history) == 0 {
		return nil
	}
	out := make([]ErrorRecord, len(history))
	copy(out, history)
	return out
}

// Ready reports readiness directly from the registry so the transition is
// visible immediately after initialization, not on the next poll. Degraded
// and destroyed modules do not block readiness.
func (h *HealthAggregator) Ready() bool {
	for _, desc := range h.registry.List() {
		if desc.State == StateUnloaded || desc.State == StateInitializing {
			return false
		}
	}
	return true
}

// Last returns the most recent evaluation result and whether one has
// completed yet.
func (h *HealthAggregator) Last() (AggregatedHealth, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.evaluated
}

// Start launches the poll loop. An evaluation runs immediately and then on
// every interval until the context is cancelled or Stop is called.
func (h *HealthAggregator) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true
	h.mu.Unlock()

	go h.run(loopCtx)
}

// Stop halts the poll loop. Safe to call more than once.
func (h *HealthAggregator) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	h.cancel()
	h.running = false
}

func (h *HealthAggregator) run(ctx context.Context) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	h.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Collect(ctx)
		}
	}
}

// Collect evaluates every module now, updates the cached result, refreshes
// gauges, and emits a health.evaluated event.
func (h *HealthAggregator) Collect(ctx context.Context) AggregatedHealth {
	descriptors := h.registry.List()
	reports := h.collectReports(ctx, descriptors)

	now := time.Now()
	overall := HealthStatusHealthy
	ready := true
	active := 0
	snapshots := make([]HealthSnapshot, 0, len(descriptors))

	for _, desc := range descriptors {
		snapshot := reports[desc.ID]
		snapshot.ModuleID = desc.ID
		snapshot.State = desc.State
		snapshot.Active = desc.State == StateActive
		snapshot.LastCheck = now
		snapshot.Errors = h.errorHistory(desc.ID)
		snapshots = append(snapshots, snapshot)

		switch desc.State {
		case StateUnloaded, StateInitializing:
			ready = false
		case StateActive:
			active++
		}
		// Destroyed modules stay visible but no longer count against
		// overall health.
		if desc.State != StateDestroyed {
			overall = worstStatus(overall, snapshot.Status)
		}

		h.metrics.SetModuleUp(desc.ID, desc.State == StateActive)
	}
	h.metrics.SetModulesActive(active)

	result := AggregatedHealth{
		Health:      overall,
		Ready:       ready,
		Modules:     snapshots,
		GeneratedAt: now,
	}

	h.mu.Lock()
	h.last = result
	h.evaluated = true
	subject := h.subject
	h.mu.Unlock()

	if subject != nil {
		event := NewCloudEvent(EventTypeHealthEvaluated, "health-aggregator", map[string]interface{}{
			"health":  overall.String(),
			"ready":   ready,
			"modules": len(snapshots),
		}, nil)
		go func() {
			if err := subject.NotifyObservers(context.Background(), event); err != nil {
				h.logger.Warn("Failed to publish health event", "error", err)
			}
		}()
	}

	return result
}

// collectReports polls active StatusReporter modules concurrently and
// derives statuses for everything else from lifecycle state alone.
func (h *HealthAggregator) collectReports(ctx context.Context, descriptors []ModuleDescriptor) map[string]HealthSnapshot {
	reports := make(map[string]HealthSnapshot, len(descriptors))
	type checkResult struct {
		id       string
		snapshot HealthSnapshot
	}
	results := make(chan checkResult)
	pending := 0

	for _, desc := range descriptors {
		switch desc.State {
		case StateActive:
			module, err := h.registry.module(desc.ID)
			if err != nil {
				reports[desc.ID] = HealthSnapshot{Status: HealthStatusUnknown, Message: err.Error()}
				continue
			}
			reporter, ok := module.(StatusReporter)
			if !ok {
				reports[desc.ID] = HealthSnapshot{Status: HealthStatusHealthy}
				continue
			}
			pending++
			go func(id string, reporter StatusReporter) {
				results <- checkResult{id: id, snapshot: h.checkModule(ctx, id, reporter)}
			}(desc.ID, reporter)
		case StateDegraded:
			reports[desc.ID] = HealthSnapshot{Status: HealthStatusDegraded, Message: "module degraded"}
		case StateDestroyed:
			reports[desc.ID] = HealthSnapshot{Status: HealthStatusUnknown, Message: "module destroyed"}
		default:
			reports[desc.ID] = HealthSnapshot{Status: HealthStatusUnknown}
		}
	}

	for i := 0; i < pending; i++ {
		result := <-results
		reports[result.id] = result.snapshot
	}
	return reports
}

// checkModule runs one StatusReporter call under the per-check timeout,
// converting panics and errors into snapshots instead of letting them
// escape the evaluation.
func (h *HealthAggregator) checkModule(ctx context.Context, moduleID string, reporter StatusReporter) (snapshot HealthSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("status check panicked: %v", r)
			h.RecordError(moduleID, err)
			snapshot = HealthSnapshot{Status: HealthStatusUnhealthy, Message: err.Error()}
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()

	h.metrics.IncHealthChecks()

	done := make(chan HealthSnapshot, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("status check panicked: %v", r)
				h.RecordError(moduleID, err)
				done <- HealthSnapshot{Status: HealthStatusUnhealthy, Message: err.Error()}
			}
		}()
		status, err := reporter.Status(checkCtx)
		if err != nil {
			h.RecordError(moduleID, err)
			done <- HealthSnapshot{Status: HealthStatusDegraded, Message: fmt.Sprintf("status check failed: %v", err)}
			return
		}
		reported := status.Status
		if reported == HealthStatusUnknown {
			reported = HealthStatusHealthy
		}
		done <- HealthSnapshot{Status: reported, Message: status.Message}
	}()

	select {
	case snapshot = <-done:
		return snapshot
	case <-checkCtx.Done():
		err := fmt.Errorf("status check timed out after %s", h.checkTimeout)
		h.RecordError(moduleID, err)
		h.logger.Warn("Module status check timed out", "module", moduleID, "timeout", h.checkTimeout)
		return HealthSnapshot{Status: HealthStatusDegraded, Message: err.Error()}
	}
}

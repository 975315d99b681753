package platform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
)

const shutdownTimeout = 30 * time.Second

// Init brings every registered module up. Modules whose dependencies are
// all satisfied initialize concurrently in batches on a bounded worker
// pool; a module that fails, panics, or outlives the global window is
// marked degraded and isolated while its siblings proceed. Only graph
// errors (cycles, missing dependencies) and unattributable config
// failures abort initialization.
func (app *StdApplication) Init() error {
	app.lifecycleMu.Lock()
	defer app.lifecycleMu.Unlock()
	if app.initialized {
		return nil
	}

	app.registerModuleConfigs()

	if err := AppConfigLoader(app); err != nil {
		return fmt.Errorf("failed to load app config: %w", err)
	}
	if err := app.attributeSectionErrors(); err != nil {
		return err
	}
	app.emitEvent(context.Background(), EventTypeConfigLoaded, nil, nil)

	graph, order, err := app.resolveDependencies()
	if err != nil {
		return fmt.Errorf("failed to resolve dependencies: %w", err)
	}
	app.initOrder = order

	app.runInitBatches(computeBatches(graph, app.registry.ids()))

	active := app.registry.CountInState(StateActive)
	degraded := app.registry.CountInState(StateDegraded)
	app.metrics.SetModulesActive(active)
	app.logger.Info("Module initialization complete", "active", active, "degraded", degraded)

	app.initialized = true
	return nil
}

// registerModuleConfigs runs RegisterConfig on every Configurable module,
// tracking which config sections each module owns. A module whose config
// registration fails is degraded immediately and skipped during init.
func (app *StdApplication) registerModuleConfigs() {
	for id, module := range app.registry.modules() {
		configurable, ok := module.(Configurable)
		if !ok {
			continue
		}

		before := app.sectionKeys()
		if err := configurable.RegisterConfig(app); err != nil {
			app.degradeModule(id, fmt.Errorf("config registration failed: %w", err))
			continue
		}
		for _, section := range app.sectionKeys() {
			if !slices.Contains(before, section) {
				app.sectionOwners[section] = id
			}
		}
	}
}

func (app *StdApplication) sectionKeys() []string {
	app.cfgMu.RLock()
	defer app.cfgMu.RUnlock()
	keys := make([]string, 0, len(app.cfgSections))
	for k := range app.cfgSections {
		keys = append(keys, k)
	}
	return keys
}

// attributeSectionErrors degrades modules whose config sections failed to
// feed. A failed section with no owning module is an application-level
// config error and aborts startup.
func (app *StdApplication) attributeSectionErrors() error {
	app.cfgMu.RLock()
	failed := make(map[string]error, len(app.sectionErrors))
	for section, err := range app.sectionErrors {
		failed[section] = err
	}
	app.cfgMu.RUnlock()

	for section, err := range failed {
		owner, owned := app.sectionOwners[section]
		if !owned {
			return err
		}
		app.degradeModule(owner, err)
	}
	return nil
}

// resolveDependencies builds the module dependency graph, augments it with
// implicit service-based edges, and returns it with a topological order.
func (app *StdApplication) resolveDependencies() (map[string][]string, []string, error) {
	modules := app.registry.modules()

	graph := make(map[string][]string)
	for id, module := range modules {
		if da, ok := module.(DependencyAware); ok {
			graph[id] = da.Dependencies()
		} else {
			graph[id] = nil
		}
	}

	app.addImplicitDependencies(graph, modules)

	var result []string
	visited := make(map[string]bool)
	temp := make(map[string]bool)

	var visit func(string) error
	visit = func(node string) error {
		if temp[node] {
			return fmt.Errorf("%w: %s", ErrCircularDependency, node)
		}
		if visited[node] {
			return nil
		}
		temp[node] = true

		for _, dep := range graph[node] {
			if _, exists := modules[dep]; !exists {
				return fmt.Errorf("%w: %s depends on non-existent module %s",
					ErrModuleDependencyMissing, node, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		visited[node] = true
		temp[node] = false
		result = append(result, node)
		return nil
	}

	// Visit in insertion order so the resulting order is deterministic.
	for _, node := range app.registry.ids() {
		if !visited[node] {
			if err := visit(node); err != nil {
				return nil, nil, err
			}
		}
	}

	app.logger.Debug("Module initialization order", "order", result)
	return graph, result, nil
}

// addImplicitDependencies adds graph edges from service consumers to the
// modules providing those services, so providers always initialize first
// even when no explicit dependency was declared.
func (app *StdApplication) addImplicitDependencies(graph map[string][]string, modules map[string]Module) {
	serviceProviders := make(map[string]string)
	for moduleID, module := range modules {
		if sa, ok := module.(ServiceAware); ok {
			for _, provider := range sa.ProvidesServices() {
				serviceProviders[provider.Name] = moduleID
			}
		}
	}

	for consumerID, module := range modules {
		sa, ok := module.(ServiceAware)
		if !ok {
			continue
		}
		for _, dep := range sa.RequiresServices() {
			if !dep.Required {
				continue
			}

			providerID := ""
			if dep.Name != "" && !dep.MatchByInterface {
				providerID = serviceProviders[dep.Name]
			} else if dep.MatchByInterface && dep.SatisfiesInterface != nil {
				// Find a provider whose declared service implements the interface.
				for provID, provModule := range modules {
					provAware, okSA := provModule.(ServiceAware)
					if !okSA {
						continue
					}
					for _, provider := range provAware.ProvidesServices() {
						if provider.Instance == nil {
							continue
						}
						if instanceImplements(provider.Instance, dep.SatisfiesInterface) {
							providerID = provID
							break
						}
					}
					if providerID != "" {
						break
					}
				}
			}

			if providerID == "" || providerID == consumerID {
				continue
			}
			if !slices.Contains(graph[consumerID], providerID) {
				graph[consumerID] = append(graph[consumerID], providerID)
				app.logger.Debug("Added implicit dependency due to service requirement",
					"consumer", consumerID, "provider", providerID, "service", dep.Name)
			}
		}
	}
}

// computeBatches groups modules into dependency waves: wave n holds every
// module whose longest dependency chain has length n. Modules within a
// wave have no edges between them and may initialize concurrently.
func computeBatches(graph map[string][]string, insertionOrder []string) [][]string {
	depth := make(map[string]int, len(graph))

	var depthOf func(string, map[string]bool) int
	depthOf = func(node string, onPath map[string]bool) int {
		if d, done := depth[node]; done {
			return d
		}
		if onPath[node] {
			// Cycles are rejected by resolveDependencies before batching.
			return 0
		}
		onPath[node] = true
		d := 0
		for _, dep := range graph[node] {
			if dd := depthOf(dep, onPath) + 1; dd > d {
				d = dd
			}
		}
		delete(onPath, node)
		depth[node] = d
		return d
	}

	maxDepth := 0
	for node := range graph {
		if d := depthOf(node, map[string]bool{}); d > maxDepth {
			maxDepth = d
		}
	}

	batches := make([][]string, maxDepth+1)
	for _, node := range insertionOrder {
		if _, exists := graph[node]; !exists {
			continue
		}
		d := depth[node]
		batches[d] = append(batches[d], node)
	}
	return batches
}

// runInitBatches drives batched parallel initialization under the global
// timeout. Expired or unreached modules are degraded, never left in
// Initializing.
func (app *StdApplication) runInitBatches(batches [][]string) {
	ctx, cancel := context.WithTimeout(context.Background(), app.initTimeout)
	defer cancel()

	pool, err := ants.NewPool(app.initWorkers)
	if err != nil {
		// Pool construction only fails on invalid sizes; fall back to
		// serial initialization rather than refusing to start.
		app.logger.Error("Init worker pool unavailable, initializing serially", "error", err)
		pool = nil
	} else {
		defer pool.Release()
	}

	for _, batch := range batches {
		if ctx.Err() != nil {
			app.expireModules(batch)
			continue
		}

		var wg sync.WaitGroup
		for _, id := range batch {
			if !app.dependenciesActive(id) {
				app.degradeModule(id, fmt.Errorf("%w: dependency unavailable", ErrModuleDegraded))
				continue
			}
			if !app.registry.setStateIf(id, StateUnloaded, StateInitializing) {
				continue
			}

			id := id
			task := func() {
				defer wg.Done()
				app.completeInit(ctx, id, app.runModuleInit(ctx, id))
			}

			wg.Add(1)
			if pool != nil {
				if submitErr := pool.Submit(task); submitErr != nil {
					wg.Done()
					if app.registry.setStateIf(id, StateInitializing, StateDegraded) {
						app.noteDegraded(id, fmt.Errorf("init dispatch failed: %w", submitErr))
					}
				}
			} else {
				task()
			}
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			app.expireModules(batch)
			// Let stragglers log their late results without blocking startup.
			go func() { <-done }()
		}
	}
}

// dependenciesActive reports whether every declared dependency of the
// module is in the Active state.
func (app *StdApplication) dependenciesActive(id string) bool {
	module, err := app.registry.module(id)
	if err != nil {
		return false
	}
	da, ok := module.(DependencyAware)
	if !ok {
		return true
	}
	for _, dep := range da.Dependencies() {
		state, stateErr := app.registry.state(dep)
		if stateErr != nil || state != StateActive {
			return false
		}
	}
	return true
}

// runModuleInit performs service injection, Init, and service registration
// for one module. A panicking module is converted into an error so the
// rest of the batch is unaffected.
func (app *StdApplication) runModuleInit(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: init panicked: %v", ErrOperationFailed, r)
		}
	}()

	module, err := app.registry.module(id)
	if err != nil {
		return err
	}

	if _, ok := module.(ServiceAware); ok {
		module, err = app.injectServices(module)
		if err != nil {
			return err
		}
	}

	if err = module.Init(app); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w after %s", ErrInitTimeout, app.initTimeout)
	}

	if sa, ok := module.(ServiceAware); ok {
		for _, svc := range sa.ProvidesServices() {
			if err = app.RegisterService(svc.Name, svc.Instance); err != nil {
				return fmt.Errorf("failed to register service: %w", err)
			}
		}
	}

	if om, ok := module.(ObservableModule); ok {
		if err = om.RegisterObservers(app); err != nil {
			app.logger.Warn("Module observer registration failed", "module", id, "error", err)
		}
	}

	return nil
}

// completeInit promotes or degrades a module after its init attempt. The
// compare-and-set loses against the deadline handler for late finishers,
// whose results are logged and discarded.
func (app *StdApplication) completeInit(ctx context.Context, id string, initErr error) {
	if initErr != nil {
		if app.registry.setStateIf(id, StateInitializing, StateDegraded) {
			app.noteDegraded(id, initErr)
		}
		return
	}

	if app.registry.setStateIf(id, StateInitializing, StateActive) {
		app.metrics.SetModuleUp(id, true)
		app.logger.Info("Initialized module", "module", id)
		app.emitEvent(ctx, EventTypeModuleInitialized, map[string]interface{}{
			"moduleId": id,
		}, nil)
		return
	}
	app.logger.Warn("Module initialized after deadline, result ignored", "module", id)
}

// expireModules degrades every module in the batch that has not reached a
// terminal state by the time the initialization window closed.
func (app *StdApplication) expireModules(batch []string) {
	for _, id := range batch {
		expired := app.registry.setStateIf(id, StateInitializing, StateDegraded) ||
			app.registry.setStateIf(id, StateUnloaded, StateDegraded)
		if expired {
			app.noteDegraded(id, fmt.Errorf("%w after %s", ErrInitTimeout, app.initTimeout))
		}
	}
}

// degradeModule force-transitions a module to Degraded and records why.
func (app *StdApplication) degradeModule(id string, cause error) {
	if err := app.registry.setState(id, StateDegraded); err != nil {
		return
	}
	app.noteDegraded(id, cause)
}

func (app *StdApplication) noteDegraded(id string, cause error) {
	app.metrics.SetModuleUp(id, false)
	app.health.RecordError(id, cause)
	app.logger.Error("Module degraded", "module", id, "error", cause)
	app.emitEvent(context.Background(), EventTypeModuleDegraded, map[string]interface{}{
		"moduleId": id,
		"reason":   cause.Error(),
	}, nil)
}

// Start begins runtime operation: active Startable modules start in
// dependency order, then health polling and the degraded-recovery loop.
// A module failing to start is degraded and skipped, not fatal.
func (app *StdApplication) Start() error {
	app.lifecycleMu.Lock()
	defer app.lifecycleMu.Unlock()
	if !app.initialized {
		return ErrApplicationNotInitialized
	}
	if app.started {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.ctx = ctx
	app.cancel = cancel

	for _, id := range app.initOrder {
		state, err := app.registry.state(id)
		if err != nil || state != StateActive {
			continue
		}
		module, err := app.registry.module(id)
		if err != nil {
			continue
		}
		startable, ok := module.(Startable)
		if !ok {
			continue
		}

		app.logger.Info("Starting module", "module", id)
		if err := app.runModuleStart(ctx, id, startable); err != nil {
			app.registry.setStateIf(id, StateActive, StateDegraded)
			app.noteDegraded(id, fmt.Errorf("start failed: %w", err))
			continue
		}
		app.emitEvent(ctx, EventTypeModuleStarted, map[string]interface{}{"moduleId": id}, nil)
	}

	app.health.Start(ctx)
	if app.recoveryEnabled {
		go app.runRecovery(ctx)
	}

	app.started = true
	app.metrics.SetModulesActive(app.registry.CountInState(StateActive))
	app.emitEvent(ctx, EventTypeApplicationStarted, nil, nil)
	return nil
}

func (app *StdApplication) runModuleStart(ctx context.Context, id string, startable Startable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: start of %s panicked: %v", ErrOperationFailed, id, r)
		}
	}()
	return startable.Start(ctx)
}

// Stop tears the application down: modules are destroyed in reverse
// dependency order under the shutdown timeout, health polling stops, and
// the lifecycle context is cancelled.
func (app *StdApplication) Stop() error {
	app.lifecycleMu.Lock()
	defer app.lifecycleMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	order := make([]string, len(app.initOrder))
	copy(order, app.initOrder)
	slices.Reverse(order)

	var lastErr error
	for _, id := range order {
		if err := app.destroyModule(ctx, id); err != nil && !errors.Is(err, ErrModuleNotFound) {
			lastErr = err
		}
	}

	app.health.Stop()
	if app.cancel != nil {
		app.cancel()
	}
	app.started = false
	app.emitEvent(context.Background(), EventTypeApplicationStopped, nil, nil)
	return lastErr
}

// Run initializes and starts the application, then blocks until SIGINT or
// SIGTERM arrives and shuts down.
func (app *StdApplication) Run() error {
	if err := app.Init(); err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	app.logger.Info("Received signal, shutting down", "signal", sig)

	return app.Stop()
}

// Destroy tears down a single module. Destroying an already-destroyed
// module is a no-op success; the registry keeps the descriptor so its
// terminal state stays visible.
func (app *StdApplication) Destroy(ctx context.Context, moduleID string) error {
	state, err := app.registry.state(moduleID)
	if err != nil {
		return err
	}
	if state == StateDestroyed {
		return nil
	}
	return app.destroyModule(ctx, moduleID)
}

func (app *StdApplication) destroyModule(ctx context.Context, id string) error {
	state, err := app.registry.state(id)
	if err != nil {
		return err
	}
	if state == StateDestroyed {
		return nil
	}

	module, err := app.registry.module(id)
	if err != nil {
		return err
	}

	if stoppable, ok := module.(Stoppable); ok && (state == StateActive || state == StateDegraded) {
		app.logger.Info("Stopping module", "module", id)
		if stopErr := app.runModuleStop(ctx, stoppable); stopErr != nil {
			// Teardown converges on Destroyed even when cleanup misbehaves.
			app.logger.Error("Error stopping module", "module", id, "error", stopErr)
			app.health.RecordError(id, stopErr)
		}
	}

	if setErr := app.registry.setState(id, StateDestroyed); setErr != nil {
		return setErr
	}
	app.metrics.SetModuleUp(id, false)
	app.metrics.SetModulesActive(app.registry.CountInState(StateActive))
	app.emitEvent(ctx, EventTypeModuleDestroyed, map[string]interface{}{"moduleId": id}, nil)
	return nil
}

func (app *StdApplication) runModuleStop(ctx context.Context, stoppable Stoppable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: stop panicked: %v", ErrOperationFailed, r)
		}
	}()
	return stoppable.Stop(ctx)
}

// ModuleData reads a module's externally visible state through its
// DataAccessor capability.
func (app *StdApplication) ModuleData(ctx context.Context, moduleID string) (any, error) {
	module, err := app.dispatchableModule(moduleID)
	if err != nil {
		return nil, err
	}
	accessor, ok := module.(DataAccessor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataNotSupported, moduleID)
	}

	result, err := app.safeData(ctx, accessor)
	if err != nil {
		return nil, wrapModuleError(err)
	}
	return result, nil
}

// UpdateModuleData applies a mutation through the module's DataAccessor.
func (app *StdApplication) UpdateModuleData(ctx context.Context, moduleID string, input any) (any, error) {
	module, err := app.dispatchableModule(moduleID)
	if err != nil {
		return nil, err
	}
	accessor, ok := module.(DataAccessor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataNotSupported, moduleID)
	}

	result, err := app.safeUpdate(ctx, accessor, input)
	if err != nil {
		return nil, wrapModuleError(err)
	}
	return result, nil
}

// DispatchAction routes a realtime action to the module's ActionHandler.
// The returned value travels back to the publishing client unchanged. A
// module destroyed while the action was in flight yields an operation
// failure rather than a stale acknowledgement.
func (app *StdApplication) DispatchAction(ctx context.Context, moduleID, action string, payload []byte) (any, error) {
	module, err := app.dispatchableModule(moduleID)
	if err != nil {
		return nil, err
	}
	handler, ok := module.(ActionHandler)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoActionHandler, moduleID)
	}

	result, err := app.safeAction(ctx, handler, action, payload)

	if state, stateErr := app.registry.state(moduleID); stateErr == nil && state == StateDestroyed {
		return nil, fmt.Errorf("%w: module %s destroyed during action", ErrOperationFailed, moduleID)
	}
	if err != nil {
		return nil, wrapModuleError(err)
	}
	return result, nil
}

// dispatchableModule fetches a module for request dispatch, rejecting
// modules that are not in the Active state.
func (app *StdApplication) dispatchableModule(moduleID string) (Module, error) {
	state, err := app.registry.state(moduleID)
	if err != nil {
		return nil, err
	}
	switch state {
	case StateActive:
	case StateDestroyed:
		return nil, fmt.Errorf("%w: %s", ErrModuleDestroyed, moduleID)
	case StateDegraded:
		return nil, fmt.Errorf("%w: %s", ErrModuleDegraded, moduleID)
	case StateUnloaded, StateInitializing:
		return nil, fmt.Errorf("%w: %s", ErrModuleNotActive, moduleID)
	}
	return app.registry.module(moduleID)
}

func (app *StdApplication) safeData(ctx context.Context, accessor DataAccessor) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: data handler panicked: %v", ErrOperationFailed, r)
		}
	}()
	return accessor.Data(ctx)
}

func (app *StdApplication) safeUpdate(ctx context.Context, accessor DataAccessor, input any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: update handler panicked: %v", ErrOperationFailed, r)
		}
	}()
	return accessor.UpdateData(ctx, input)
}

func (app *StdApplication) safeAction(ctx context.Context, handler ActionHandler, action string, payload []byte) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: action handler panicked: %v", ErrOperationFailed, r)
		}
	}()
	return handler.HandleAction(ctx, action, payload)
}

// wrapModuleError preserves platform sentinels raised by modules and folds
// everything else into an operation failure carrying the module's message.
func wrapModuleError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrModuleNotFound),
		errors.Is(err, ErrDuplicateModule),
		errors.Is(err, ErrDataNotSupported),
		errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrOperationFailed):
		return err
	default:
		return fmt.Errorf("%w: %s", ErrOperationFailed, err.Error())
	}
}

// runRecovery periodically retries degraded modules with exponential
// backoff, promoting them back to Active when an attempt succeeds.
func (app *StdApplication) runRecovery(ctx context.Context) {
	type attempt struct {
		policy *backoff.ExponentialBackOff
		nextAt time.Time
	}
	attempts := make(map[string]*attempt)

	ticker := time.NewTicker(app.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, desc := range app.registry.List() {
			if desc.State != StateDegraded {
				delete(attempts, desc.ID)
				continue
			}

			entry, tracked := attempts[desc.ID]
			if !tracked {
				policy := backoff.NewExponentialBackOff()
				policy.InitialInterval = app.recoveryInterval
				policy.MaxElapsedTime = 0
				entry = &attempt{policy: policy}
				attempts[desc.ID] = entry
			}
			if time.Now().Before(entry.nextAt) {
				continue
			}

			if !app.registry.setStateIf(desc.ID, StateDegraded, StateInitializing) {
				continue
			}
			app.logger.Info("Retrying degraded module", "module", desc.ID)

			if err := app.runModuleInit(ctx, desc.ID); err != nil {
				app.registry.setStateIf(desc.ID, StateInitializing, StateDegraded)
				entry.nextAt = time.Now().Add(entry.policy.NextBackOff())
				app.logger.Warn("Module recovery attempt failed", "module", desc.ID, "error", err)
				continue
			}

			app.completeInit(ctx, desc.ID, nil)
			app.metrics.SetModulesActive(app.registry.CountInState(StateActive))
			delete(attempts, desc.ID)
		}
	}
}

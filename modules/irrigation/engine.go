package irrigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrZoneUnknown is returned when a zone name is not registered.
	ErrZoneUnknown = errors.New("unknown irrigation zone")
	// ErrZoneName is returned when a zone is configured without a name.
	ErrZoneName = errors.New("zone name is required")
	// ErrZoneDuration is returned when a zone duration is not positive.
	ErrZoneDuration = errors.New("zone duration must be positive")
)

// Zone is the reported state of one irrigation zone.
type Zone struct {
	Name            string     `json:"name"`
	Schedule        string     `json:"schedule"`
	DurationSeconds int        `json:"durationSeconds"`
	Watering        bool       `json:"watering"`
	LastRun         *time.Time `json:"lastRun,omitempty"`
	NextRun         *time.Time `json:"nextRun,omitempty"`
}

type zoneState struct {
	config   ZoneConfig
	schedule cron.Schedule
	watering bool
	lastRun  time.Time
	timer    *time.Timer
}

// WateringFunc receives a zone snapshot whenever watering starts or
// stops.
type WateringFunc func(zone Zone)

// Engine waters zones on cron schedules. Each run lasts the zone's
// configured duration and ends on its own timer.
type Engine struct {
	mu          sync.RWMutex
	zones       map[string]*zoneState
	order       []string
	cronRunner  *cron.Cron
	cronEntries map[string]cron.EntryID
	onChange    WateringFunc
	started     bool
}

// NewEngine creates an engine with no zones registered.
func NewEngine() *Engine {
	return &Engine{
		zones:       make(map[string]*zoneState),
		cronRunner:  cron.New(),
		cronEntries: make(map[string]cron.EntryID),
	}
}

// SetOnChange installs the watering transition callback. It must be set
// before Start.
func (e *Engine) SetOnChange(fn WateringFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// Start begins firing zone schedules.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.cronRunner.Start()
	e.started = true
}

// Stop cancels active runs and waits for in-flight cron callbacks.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	for _, state := range e.zones {
		if state.timer != nil {
			state.timer.Stop()
			state.timer = nil
		}
		state.watering = false
	}
	e.mu.Unlock()

	cronCtx := e.cronRunner.Stop()
	select {
	case <-cronCtx.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("irrigation shutdown timed out: %w", ctx.Err())
	}
}

// Started reports whether the schedule runner is active.
func (e *Engine) Started() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// Upsert adds a zone or replaces an existing zone's schedule and
// duration. A replaced zone keeps any run already in progress.
func (e *Engine) Upsert(cfg ZoneConfig) (Zone, error) {
	if cfg.Name == "" {
		return Zone{}, ErrZoneName
	}
	if cfg.DurationSeconds <= 0 {
		return Zone{}, fmt.Errorf("%w: zone %q", ErrZoneDuration, cfg.Name)
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return Zone{}, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.zones[cfg.Name]
	if !exists {
		state = &zoneState{}
		e.zones[cfg.Name] = state
		e.order = append(e.order, cfg.Name)
	}
	state.config = cfg
	state.schedule = schedule

	if entryID, ok := e.cronEntries[cfg.Name]; ok {
		e.cronRunner.Remove(entryID)
		delete(e.cronEntries, cfg.Name)
	}
	name := cfg.Name
	entryID, err := e.cronRunner.AddFunc(cfg.Schedule, func() {
		if _, err := e.RunZone(name); err != nil {
			// The zone was removed between firing and running.
			return
		}
	})
	if err != nil {
		return Zone{}, fmt.Errorf("failed to schedule zone %q: %w", cfg.Name, err)
	}
	e.cronEntries[cfg.Name] = entryID

	return e.zoneView(state), nil
}

// Remove deletes a zone, stopping any active run without a transition
// callback.
func (e *Engine) Remove(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, exists := e.zones[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrZoneUnknown, name)
	}
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	if entryID, ok := e.cronEntries[name]; ok {
		e.cronRunner.Remove(entryID)
		delete(e.cronEntries, name)
	}
	delete(e.zones, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// RunZone starts watering a zone now. A zone already watering keeps its
// current run.
func (e *Engine) RunZone(name string) (Zone, error) {
	e.mu.Lock()
	state, exists := e.zones[name]
	if !exists {
		e.mu.Unlock()
		return Zone{}, fmt.Errorf("%w: %s", ErrZoneUnknown, name)
	}
	if state.watering {
		view := e.zoneView(state)
		e.mu.Unlock()
		return view, nil
	}
	state.watering = true
	state.lastRun = time.Now()
	duration := time.Duration(state.config.DurationSeconds) * time.Second
	state.timer = time.AfterFunc(duration, func() {
		_, _ = e.StopZone(name)
	})
	view := e.zoneView(state)
	onChange := e.onChange
	e.mu.Unlock()

	if onChange != nil {
		onChange(view)
	}
	return view, nil
}

// StopZone ends a zone's run early. Stopping an idle zone is a no-op.
func (e *Engine) StopZone(name string) (Zone, error) {
	e.mu.Lock()
	state, exists := e.zones[name]
	if !exists {
		e.mu.Unlock()
		return Zone{}, fmt.Errorf("%w: %s", ErrZoneUnknown, name)
	}
	if !state.watering {
		view := e.zoneView(state)
		e.mu.Unlock()
		return view, nil
	}
	state.watering = false
	if state.timer != nil {
		state.timer.Stop()
		state.timer = nil
	}
	view := e.zoneView(state)
	onChange := e.onChange
	e.mu.Unlock()

	if onChange != nil {
		onChange(view)
	}
	return view, nil
}

// Zone returns one zone's state.
func (e *Engine) Zone(name string) (Zone, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, exists := e.zones[name]
	if !exists {
		return Zone{}, fmt.Errorf("%w: %s", ErrZoneUnknown, name)
	}
	return e.zoneView(state), nil
}

// Zones returns all zones in the order they were added.
func (e *Engine) Zones() []Zone {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Zone, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.zoneView(e.zones[name]))
	}
	return out
}

// Watering reports how many zones are currently running.
func (e *Engine) Watering() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, state := range e.zones {
		if state.watering {
			count++
		}
	}
	return count
}

// zoneView builds a snapshot. Callers must hold at least a read lock.
func (e *Engine) zoneView(state *zoneState) Zone {
	zone := Zone{
		Name:            state.config.Name,
		Schedule:        state.config.Schedule,
		DurationSeconds: state.config.DurationSeconds,
		Watering:        state.watering,
	}
	if !state.lastRun.IsZero() {
		last := state.lastRun
		zone.LastRun = &last
	}
	if state.schedule != nil {
		next := state.schedule.Next(time.Now())
		zone.NextRun = &next
	}
	return zone
}

package presence

import (
	"sync"
	"time"
)

// DevicePresence is the reported state of one tracked device.
type DevicePresence struct {
	Device   string    `json:"device"`
	Present  bool      `json:"present"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

type deviceState struct {
	present  bool
	lastSeen time.Time
}

// Tracker keeps per-device presence derived from heartbeats. Devices
// fall back to away once their last heartbeat ages past the TTL.
type Tracker struct {
	mu      sync.RWMutex
	ttl     time.Duration
	devices map[string]*deviceState
	order   []string
}

// NewTracker creates a tracker pre-seeded with the known devices, all
// initially away.
func NewTracker(ttl time.Duration, known []string) *Tracker {
	t := &Tracker{
		ttl:     ttl,
		devices: make(map[string]*deviceState, len(known)),
	}
	for _, name := range known {
		if name == "" {
			continue
		}
		if _, exists := t.devices[name]; exists {
			continue
		}
		t.devices[name] = &deviceState{}
		t.order = append(t.order, name)
	}
	return t
}

// Heartbeat records that a device was seen. It reports whether the
// device transitioned to present. Unknown devices are added on their
// first heartbeat.
func (t *Tracker) Heartbeat(device string, now time.Time) (DevicePresence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.devices[device]
	if !exists {
		state = &deviceState{}
		t.devices[device] = state
		t.order = append(t.order, device)
	}
	changed := !state.present
	state.present = true
	state.lastSeen = now
	return DevicePresence{Device: device, Present: true, LastSeen: now}, changed
}

// MarkAway explicitly flips a device to away. It reports whether the
// device was present before.
func (t *Tracker) MarkAway(device string, now time.Time) (DevicePresence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, exists := t.devices[device]
	if !exists {
		state = &deviceState{}
		t.devices[device] = state
		t.order = append(t.order, device)
	}
	changed := state.present
	state.present = false
	return DevicePresence{Device: device, Present: false, LastSeen: state.lastSeen}, changed
}

// Sweep marks devices away whose last heartbeat is older than the TTL
// and returns the devices that changed.
func (t *Tracker) Sweep(now time.Time) []DevicePresence {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []DevicePresence
	for _, name := range t.order {
		state := t.devices[name]
		if !state.present {
			continue
		}
		if now.Sub(state.lastSeen) <= t.ttl {
			continue
		}
		state.present = false
		changed = append(changed, DevicePresence{Device: name, Present: false, LastSeen: state.lastSeen})
	}
	return changed
}

// Devices returns all tracked devices in the order they appeared.
func (t *Tracker) Devices() []DevicePresence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]DevicePresence, 0, len(t.order))
	for _, name := range t.order {
		state := t.devices[name]
		out = append(out, DevicePresence{Device: name, Present: state.present, LastSeen: state.lastSeen})
	}
	return out
}

// Home reports how many devices are currently present.
func (t *Tracker) Home() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, state := range t.devices {
		if state.present {
			count++
		}
	}
	return count
}

package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platform "github.com/ashsolei/HomeySmartHome"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type published struct {
	kind      string
	namespace string
	room      string
	event     string
	payload   any
}

type fakePublisher struct {
	mu      sync.Mutex
	entries []published
}

func (p *fakePublisher) PublishDelta(_ context.Context, namespace, room, event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, published{kind: "delta", namespace: namespace, room: room, event: event, payload: payload})
	return nil
}

func (p *fakePublisher) PublishState(_ context.Context, namespace, room string, state any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, published{kind: "state", namespace: namespace, room: room, payload: state})
	return nil
}

func (p *fakePublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.entries...)
}

func newPresenceApp(t *testing.T) (*PresenceModule, *platform.StdApplication) {
	t.Helper()
	app, ok := platform.NewStdApplication(platform.NewStdConfigProvider(&struct{}{}), nopLogger{}).(*platform.StdApplication)
	require.True(t, ok)

	m := NewPresenceModule()
	require.NoError(t, app.RegisterModule(m))
	require.NoError(t, app.Init())
	return m, app
}

func TestPresenceModuleInit(t *testing.T) {
	m, app := newPresenceApp(t)

	desc, err := app.Modules().Get(ModuleName)
	require.NoError(t, err)
	assert.Equal(t, platform.StateActive, desc.State)
	assert.Equal(t, "Presence", desc.DisplayName)
	assert.Equal(t, "occupancy", desc.Category)

	var tracker *Tracker
	require.NoError(t, app.GetService(ServiceName, &tracker))
	assert.Same(t, m.tracker, tracker)

	data, err := m.Data(context.Background())
	require.NoError(t, err)
	view, ok := data.(map[string]any)
	require.True(t, ok)
	assert.Len(t, view["devices"], 3)
	assert.Equal(t, 0, view["home"])
}

func TestPresenceModuleUpdateData(t *testing.T) {
	m, _ := newPresenceApp(t)

	result, err := m.UpdateData(context.Background(), map[string]any{"device": "phone-ash"})
	require.NoError(t, err)
	device, ok := result.(DevicePresence)
	require.True(t, ok)
	assert.True(t, device.Present)
	assert.Equal(t, "phone-ash", device.Device)

	result, err = m.UpdateData(context.Background(), map[string]any{"device": "phone-ash", "present": false})
	require.NoError(t, err)
	assert.False(t, result.(DevicePresence).Present)

	result, err = m.UpdateData(context.Background(), map[string]any{"device": "phone-ash", "present": true})
	require.NoError(t, err)
	assert.True(t, result.(DevicePresence).Present)

	_, err = m.UpdateData(context.Background(), map[string]any{"present": true})
	require.ErrorIs(t, err, platform.ErrValidation)
	assert.Contains(t, err.Error(), "device is required")

	_, err = m.UpdateData(context.Background(), make(chan int))
	require.ErrorIs(t, err, platform.ErrValidation)
	assert.Contains(t, err.Error(), "unreadable input")
}

func TestPresenceModuleHandleAction(t *testing.T) {
	m, _ := newPresenceApp(t)

	result, err := m.HandleAction(context.Background(), ActionHeartbeat, []byte(`{"device":"tablet-kitchen"}`))
	require.NoError(t, err)
	assert.True(t, result.(DevicePresence).Present)

	// The away action overrides any present flag in the payload.
	result, err = m.HandleAction(context.Background(), ActionAway, []byte(`{"device":"tablet-kitchen","present":true}`))
	require.NoError(t, err)
	assert.False(t, result.(DevicePresence).Present)

	result, err = m.HandleAction(context.Background(), ActionList, nil)
	require.NoError(t, err)
	view, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, view, "devices")
	assert.Contains(t, view, "home")

	_, err = m.HandleAction(context.Background(), ActionHeartbeat, nil)
	require.ErrorIs(t, err, platform.ErrValidation)
	assert.Contains(t, err.Error(), "device is required")

	_, err = m.HandleAction(context.Background(), ActionHeartbeat, []byte(`{"device":5}`))
	require.ErrorIs(t, err, platform.ErrValidation)

	_, err = m.HandleAction(context.Background(), "locate", nil)
	require.ErrorIs(t, err, platform.ErrValidation)
	assert.Contains(t, err.Error(), `unknown action "locate"`)
}

func TestPresenceModulePublishesTransitions(t *testing.T) {
	m, _ := newPresenceApp(t)
	publisher := &fakePublisher{}
	m.publisher = publisher

	_, err := m.UpdateData(context.Background(), map[string]any{"device": "phone-guest"})
	require.NoError(t, err)

	// A repeat heartbeat is not a transition.
	_, err = m.UpdateData(context.Background(), map[string]any{"device": "phone-guest"})
	require.NoError(t, err)

	_, err = m.UpdateData(context.Background(), map[string]any{"device": "phone-guest", "present": false})
	require.NoError(t, err)

	entries := publisher.all()
	require.Len(t, entries, 2)
	assert.Equal(t, "presence:changed", entries[0].event)
	assert.Equal(t, "presence", entries[0].namespace)
	assert.Equal(t, "", entries[0].room, "presence publishes to the namespace root")
	assert.True(t, entries[0].payload.(DevicePresence).Present)
	assert.False(t, entries[1].payload.(DevicePresence).Present)
}

func TestPresenceModuleSweepPublishes(t *testing.T) {
	m, _ := newPresenceApp(t)
	publisher := &fakePublisher{}
	m.publisher = publisher

	now := time.Now()
	_, _ = m.tracker.Heartbeat("phone-ash", now.Add(-10*time.Minute))
	m.sweepOnce(context.Background(), now)

	entries := publisher.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "presence:changed", entries[0].event)
	device, ok := entries[0].payload.(DevicePresence)
	require.True(t, ok)
	assert.Equal(t, "phone-ash", device.Device)
	assert.False(t, device.Present)
}

func TestPresenceModuleStartStop(t *testing.T) {
	m, app := newPresenceApp(t)
	publisher := &fakePublisher{}
	require.NoError(t, app.RegisterService("realtime.broker", publisher))

	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	entries := publisher.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "state", entries[0].kind)
	assert.Equal(t, "presence", entries[0].namespace)

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestPresenceModuleStatus(t *testing.T) {
	m, _ := newPresenceApp(t)

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, platform.HealthStatusHealthy, status.Status)
	assert.Equal(t, 3, status.Details["tracked"])
	assert.Equal(t, 0, status.Details["home"])

	// A running loop whose last sweep is three intervals old is stalled.
	m.mu.Lock()
	m.cancel = func() {}
	m.lastSweep = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	status, err = m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, platform.HealthStatusDegraded, status.Status)
	assert.Equal(t, "presence sweep stalled", status.Message)
}

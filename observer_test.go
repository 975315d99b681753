package platform

import (
	"context"
	"errors"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chanObserver(id string) (Observer, chan cloudevents.Event) {
	events := make(chan cloudevents.Event, 8)
	observer := NewFunctionalObserver(id, func(_ context.Context, event cloudevents.Event) error {
		events <- event
		return nil
	})
	return observer, events
}

func waitForEvent(t *testing.T, events chan cloudevents.Event) cloudevents.Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return cloudevents.Event{}
	}
}

func TestFunctionalObserver(t *testing.T) {
	called := false
	observer := NewFunctionalObserver("probe", func(context.Context, cloudevents.Event) error {
		called = true
		return nil
	})

	assert.Equal(t, "probe", observer.ObserverID())
	require.NoError(t, observer.OnEvent(context.Background(), NewCloudEvent("com.homey.test.ping", "test", nil, nil)))
	assert.True(t, called)
}

func TestNotifyObserversDeliversToAll(t *testing.T) {
	app, _ := newTestApp(t)

	first, firstEvents := chanObserver("first")
	second, secondEvents := chanObserver("second")
	require.NoError(t, app.RegisterObserver(first))
	require.NoError(t, app.RegisterObserver(second))

	event := NewCloudEvent("com.homey.test.ping", "test", map[string]any{"n": 1}, nil)
	require.NoError(t, app.NotifyObservers(context.Background(), event))

	assert.Equal(t, "com.homey.test.ping", waitForEvent(t, firstEvents).Type())
	assert.Equal(t, "com.homey.test.ping", waitForEvent(t, secondEvents).Type())
}

func TestNotifyObserversFiltersByEventType(t *testing.T) {
	app, _ := newTestApp(t)

	filtered, filteredEvents := chanObserver("filtered")
	catchAll, catchAllEvents := chanObserver("catch-all")
	require.NoError(t, app.RegisterObserver(filtered, "com.homey.test.match"))
	require.NoError(t, app.RegisterObserver(catchAll))

	miss := NewCloudEvent("com.homey.test.miss", "test", nil, nil)
	require.NoError(t, app.NotifyObservers(context.Background(), miss))
	// The catch-all delivery doubles as the fence: the filtered observer
	// was skipped synchronously, so its channel stays empty.
	assert.Equal(t, "com.homey.test.miss", waitForEvent(t, catchAllEvents).Type())
	assert.Empty(t, filteredEvents)

	match := NewCloudEvent("com.homey.test.match", "test", nil, nil)
	require.NoError(t, app.NotifyObservers(context.Background(), match))
	assert.Equal(t, "com.homey.test.match", waitForEvent(t, filteredEvents).Type())
}

func TestUnregisterObserver(t *testing.T) {
	app, _ := newTestApp(t)

	gone, goneEvents := chanObserver("gone")
	stays, staysEvents := chanObserver("stays")
	require.NoError(t, app.RegisterObserver(gone))
	require.NoError(t, app.RegisterObserver(stays))

	require.NoError(t, app.UnregisterObserver(gone))
	require.NoError(t, app.UnregisterObserver(gone)) // idempotent

	require.NoError(t, app.NotifyObservers(context.Background(), NewCloudEvent("com.homey.test.ping", "test", nil, nil)))

	waitForEvent(t, staysEvents)
	assert.Empty(t, goneEvents)
}

func TestNotifyObserversRejectsInvalidEvent(t *testing.T) {
	app, logger := newTestApp(t)

	observer, events := chanObserver("probe")
	require.NoError(t, app.RegisterObserver(observer))

	// Missing id, source, and type fails CloudEvents validation.
	invalid := cloudevents.NewEvent()
	err := app.NotifyObservers(context.Background(), invalid)
	require.Error(t, err)
	assert.True(t, logger.contains("Invalid CloudEvent"))
	assert.Empty(t, events)
}

func TestNotifyObserversIsolatesPanics(t *testing.T) {
	app, logger := newTestApp(t)

	panicky := NewFunctionalObserver("panicky", func(context.Context, cloudevents.Event) error {
		panic("observer exploded")
	})
	steady, steadyEvents := chanObserver("steady")
	require.NoError(t, app.RegisterObserver(panicky))
	require.NoError(t, app.RegisterObserver(steady))

	require.NoError(t, app.NotifyObservers(context.Background(), NewCloudEvent("com.homey.test.ping", "test", nil, nil)))

	waitForEvent(t, steadyEvents)
	require.Eventually(t, func() bool {
		return logger.contains("Observer panicked")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifyObserversLogsObserverErrors(t *testing.T) {
	app, logger := newTestApp(t)

	failing := NewFunctionalObserver("failing", func(context.Context, cloudevents.Event) error {
		return errors.New("sink unavailable")
	})
	require.NoError(t, app.RegisterObserver(failing))

	require.NoError(t, app.NotifyObservers(context.Background(), NewCloudEvent("com.homey.test.ping", "test", nil, nil)))

	require.Eventually(t, func() bool {
		return logger.contains("sink unavailable")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotifyObserversBackfillsEventTime(t *testing.T) {
	app, _ := newTestApp(t)

	observer, events := chanObserver("probe")
	require.NoError(t, app.RegisterObserver(observer))

	event := cloudevents.NewEvent()
	event.SetID("fixed-id")
	event.SetSource("test")
	event.SetType("com.homey.test.ping")

	require.NoError(t, app.NotifyObservers(context.Background(), event))
	delivered := waitForEvent(t, events)
	assert.False(t, delivered.Time().IsZero())
}

func TestGetObservers(t *testing.T) {
	app, _ := newTestApp(t)

	observer, _ := chanObserver("probe")
	require.NoError(t, app.RegisterObserver(observer, EventTypeModuleDegraded))

	infos := app.GetObservers()
	require.Len(t, infos, 1)
	assert.Equal(t, "probe", infos[0].ID)
	assert.Equal(t, []string{EventTypeModuleDegraded}, infos[0].EventTypes)
	assert.False(t, infos[0].RegisteredAt.IsZero())
}

func TestLifecycleEventsReachObservers(t *testing.T) {
	app, _ := newTestApp(t)

	observer, events := chanObserver("lifecycle-probe")
	require.NoError(t, app.RegisterObserver(observer, EventTypeModuleInitialized))

	require.NoError(t, app.RegisterModule(&lifecycleModule{name: "energy"}))
	require.NoError(t, app.Init())

	event := waitForEvent(t, events)
	assert.Equal(t, EventTypeModuleInitialized, event.Type())
	assert.Equal(t, "application", event.Source())

	var payload map[string]any
	require.NoError(t, event.DataAs(&payload))
	assert.Equal(t, "energy", payload["moduleId"])
}

func TestNewCloudEvent(t *testing.T) {
	event := NewCloudEvent("com.homey.test.ping", "test-source", map[string]any{"value": 42}, map[string]any{"room": "kitchen"})

	require.NoError(t, ValidateCloudEvent(event))
	assert.Equal(t, "com.homey.test.ping", event.Type())
	assert.Equal(t, "test-source", event.Source())
	assert.False(t, event.Time().IsZero())

	_, err := uuid.Parse(event.ID())
	assert.NoError(t, err)

	var payload map[string]any
	require.NoError(t, event.DataAs(&payload))
	assert.EqualValues(t, 42, payload["value"])

	assert.Equal(t, "kitchen", event.Extensions()["room"])
}

func TestValidateCloudEventFailure(t *testing.T) {
	event := cloudevents.NewEvent()
	event.SetID("event-1") // type and source left unset
	err := ValidateCloudEvent(event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CloudEvent validation failed")
}

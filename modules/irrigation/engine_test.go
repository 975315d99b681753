package irrigation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testZone waters long enough that its end timer never fires during a
// test.
func testZone(name string) ZoneConfig {
	return ZoneConfig{Name: name, Schedule: "0 6 * * *", DurationSeconds: 600}
}

type zoneRecorder struct {
	mu    sync.Mutex
	zones []Zone
}

func (r *zoneRecorder) record(zone Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones = append(r.zones, zone)
}

func (r *zoneRecorder) all() []Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Zone(nil), r.zones...)
}

func TestEngineUpsertValidation(t *testing.T) {
	e := NewEngine()

	_, err := e.Upsert(ZoneConfig{Schedule: "0 6 * * *", DurationSeconds: 60})
	require.ErrorIs(t, err, ErrZoneName)

	_, err = e.Upsert(ZoneConfig{Name: "lawn", Schedule: "0 6 * * *", DurationSeconds: 0})
	require.ErrorIs(t, err, ErrZoneDuration)
	assert.Contains(t, err.Error(), `"lawn"`)

	_, err = e.Upsert(ZoneConfig{Name: "lawn", Schedule: "0 6 * * *", DurationSeconds: -5})
	require.ErrorIs(t, err, ErrZoneDuration)

	_, err = e.Upsert(ZoneConfig{Name: "lawn", Schedule: "whenever", DurationSeconds: 60})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")

	assert.Empty(t, e.Zones(), "rejected zones are not registered")
}

func TestEngineUpsertAddsAndReplaces(t *testing.T) {
	e := NewEngine()

	zone, err := e.Upsert(testZone("lawn"))
	require.NoError(t, err)
	assert.Equal(t, "lawn", zone.Name)
	assert.Equal(t, "0 6 * * *", zone.Schedule)
	assert.Equal(t, 600, zone.DurationSeconds)
	assert.False(t, zone.Watering)
	assert.Nil(t, zone.LastRun)
	require.NotNil(t, zone.NextRun)
	assert.True(t, zone.NextRun.After(time.Now()))

	_, err = e.Upsert(testZone("beds"))
	require.NoError(t, err)

	zone, err = e.Upsert(ZoneConfig{Name: "lawn", Schedule: "30 7 * * *", DurationSeconds: 300})
	require.NoError(t, err)
	assert.Equal(t, 300, zone.DurationSeconds)

	zones := e.Zones()
	require.Len(t, zones, 2)
	assert.Equal(t, "lawn", zones[0].Name, "replacing keeps the original position")
	assert.Equal(t, "beds", zones[1].Name)
	assert.Equal(t, "30 7 * * *", zones[0].Schedule)
}

func TestEngineUpsertKeepsRunInProgress(t *testing.T) {
	e := NewEngine()
	_, err := e.Upsert(testZone("lawn"))
	require.NoError(t, err)

	_, err = e.RunZone("lawn")
	require.NoError(t, err)

	zone, err := e.Upsert(ZoneConfig{Name: "lawn", Schedule: "30 7 * * *", DurationSeconds: 120})
	require.NoError(t, err)
	assert.True(t, zone.Watering)

	_, err = e.StopZone("lawn")
	require.NoError(t, err)
}

func TestEngineRunAndStopZone(t *testing.T) {
	e := NewEngine()
	_, err := e.Upsert(testZone("lawn"))
	require.NoError(t, err)

	zone, err := e.RunZone("lawn")
	require.NoError(t, err)
	assert.True(t, zone.Watering)
	require.NotNil(t, zone.LastRun)
	assert.Equal(t, 1, e.Watering())

	again, err := e.RunZone("lawn")
	require.NoError(t, err)
	assert.True(t, again.Watering)
	assert.Equal(t, *zone.LastRun, *again.LastRun, "a running zone keeps its current run")

	zone, err = e.StopZone("lawn")
	require.NoError(t, err)
	assert.False(t, zone.Watering)
	assert.Equal(t, 0, e.Watering())

	zone, err = e.StopZone("lawn")
	require.NoError(t, err)
	assert.False(t, zone.Watering, "stopping an idle zone is a no-op")

	_, err = e.RunZone("ghost")
	require.ErrorIs(t, err, ErrZoneUnknown)
	_, err = e.StopZone("ghost")
	require.ErrorIs(t, err, ErrZoneUnknown)
	_, err = e.Zone("ghost")
	require.ErrorIs(t, err, ErrZoneUnknown)
}

func TestEngineCallbacksFireOnTransitions(t *testing.T) {
	e := NewEngine()
	recorder := &zoneRecorder{}
	e.SetOnChange(recorder.record)

	_, err := e.Upsert(testZone("lawn"))
	require.NoError(t, err)

	_, err = e.RunZone("lawn")
	require.NoError(t, err)
	_, err = e.RunZone("lawn")
	require.NoError(t, err)
	_, err = e.StopZone("lawn")
	require.NoError(t, err)
	_, err = e.StopZone("lawn")
	require.NoError(t, err)

	zones := recorder.all()
	require.Len(t, zones, 2, "only transitions invoke the callback")
	assert.True(t, zones[0].Watering)
	assert.False(t, zones[1].Watering)
}

func TestEngineTimerEndsRun(t *testing.T) {
	e := NewEngine()
	ch := make(chan Zone, 4)
	e.SetOnChange(func(zone Zone) { ch <- zone })

	_, err := e.Upsert(ZoneConfig{Name: "drip", Schedule: "0 6 * * *", DurationSeconds: 1})
	require.NoError(t, err)

	_, err = e.RunZone("drip")
	require.NoError(t, err)

	started := waitZone(t, ch)
	assert.True(t, started.Watering)

	ended := waitZone(t, ch)
	assert.False(t, ended.Watering, "the run ends on its own timer")
	assert.Equal(t, 0, e.Watering())
}

func waitZone(t *testing.T, ch <-chan Zone) Zone {
	t.Helper()
	select {
	case zone := <-ch:
		return zone
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a zone transition")
		return Zone{}
	}
}

func TestEngineRemove(t *testing.T) {
	e := NewEngine()
	recorder := &zoneRecorder{}
	e.SetOnChange(recorder.record)

	_, err := e.Upsert(testZone("lawn"))
	require.NoError(t, err)
	_, err = e.Upsert(testZone("beds"))
	require.NoError(t, err)

	_, err = e.RunZone("lawn")
	require.NoError(t, err)

	require.NoError(t, e.Remove("lawn"))
	assert.Equal(t, 0, e.Watering(), "removal cancels the active run")
	assert.Len(t, recorder.all(), 1, "removal does not fire a transition callback")

	zones := e.Zones()
	require.Len(t, zones, 1)
	assert.Equal(t, "beds", zones[0].Name)

	_, err = e.Zone("lawn")
	require.ErrorIs(t, err, ErrZoneUnknown)
	require.ErrorIs(t, e.Remove("lawn"), ErrZoneUnknown)
}

func TestEngineStartStop(t *testing.T) {
	e := NewEngine()
	_, err := e.Upsert(testZone("lawn"))
	require.NoError(t, err)

	assert.False(t, e.Started())
	e.Start()
	assert.True(t, e.Started())
	e.Start()
	assert.True(t, e.Started(), "starting twice is harmless")

	_, err = e.RunZone("lawn")
	require.NoError(t, err)

	require.NoError(t, e.Stop(context.Background()))
	assert.False(t, e.Started())
	assert.Equal(t, 0, e.Watering(), "shutdown ends active runs")

	require.NoError(t, e.Stop(context.Background()), "stopping an idle engine is a no-op")
}

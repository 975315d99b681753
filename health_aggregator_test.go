package platform

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// healthModule reports a scripted status when polled.
type healthModule struct {
	testModule
	statusFn func(ctx context.Context) (ModuleStatus, error)
}

var _ StatusReporter = (*healthModule)(nil)

func (m *healthModule) Status(ctx context.Context) (ModuleStatus, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx)
	}
	return ModuleStatus{Status: HealthStatusHealthy}, nil
}

func newAggregatorFixture(t *testing.T, config HealthAggregatorConfig) (*HealthAggregator, *Registry, *mockLogger) {
	t.Helper()
	reg := NewRegistry()
	logger := &mockLogger{}
	agg := NewHealthAggregatorWithConfig(reg, NewMetrics(), logger, config)
	return agg, reg, logger
}

func registerInState(t *testing.T, reg *Registry, m Module, state ModuleState) {
	t.Helper()
	require.NoError(t, reg.Register(m))
	if state != StateUnloaded {
		require.NoError(t, reg.setState(m.Name(), state))
	}
}

func snapshotFor(t *testing.T, result AggregatedHealth, id string) HealthSnapshot {
	t.Helper()
	for _, snapshot := range result.Modules {
		if snapshot.ModuleID == id {
			return snapshot
		}
	}
	t.Fatalf("no snapshot for module %s", id)
	return HealthSnapshot{}
}

func TestWorstStatus(t *testing.T) {
	cases := []struct {
		a, b, want HealthStatus
	}{
		{HealthStatusHealthy, HealthStatusHealthy, HealthStatusHealthy},
		{HealthStatusHealthy, HealthStatusDegraded, HealthStatusDegraded},
		{HealthStatusDegraded, HealthStatusUnhealthy, HealthStatusUnhealthy},
		{HealthStatusUnhealthy, HealthStatusUnknown, HealthStatusUnknown},
		{HealthStatusUnknown, HealthStatusHealthy, HealthStatusUnknown},
		{HealthStatusDegraded, HealthStatusHealthy, HealthStatusDegraded},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_vs_%s", tc.a, tc.b), func(t *testing.T) {
			assert.Equal(t, tc.want, worstStatus(tc.a, tc.b))
			assert.Equal(t, tc.want, worstStatus(tc.b, tc.a))
		})
	}
}

func TestCollectFoldsWorstStatus(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})

	registerInState(t, reg, &healthModule{testModule: testModule{name: "energy"}}, StateActive)
	registerInState(t, reg, &testModule{name: "climate"}, StateDegraded)
	registerInState(t, reg, &testModule{name: "retired"}, StateDestroyed)

	result := agg.Collect(context.Background())

	assert.Equal(t, HealthStatusHealthy, snapshotFor(t, result, "energy").Status)
	assert.Equal(t, HealthStatusDegraded, snapshotFor(t, result, "climate").Status)
	assert.Equal(t, HealthStatusUnknown, snapshotFor(t, result, "retired").Status)

	// The destroyed module stays visible but its Unknown status does not
	// drag the overall result below the degraded sibling.
	assert.Equal(t, HealthStatusDegraded, result.Health)
	assert.True(t, result.Ready)
	assert.False(t, result.GeneratedAt.IsZero())
}

func TestCollectUnloadedModuleBlocksReadiness(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})

	registerInState(t, reg, &healthModule{testModule: testModule{name: "energy"}}, StateActive)
	registerInState(t, reg, &testModule{name: "pending"}, StateUnloaded)

	result := agg.Collect(context.Background())

	assert.False(t, result.Ready)
	assert.Equal(t, HealthStatusUnknown, result.Health)
}

func TestCollectActiveNonReporterIsHealthy(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})

	registerInState(t, reg, &testModule{name: "silent"}, StateActive)

	result := agg.Collect(context.Background())
	assert.Equal(t, HealthStatusHealthy, snapshotFor(t, result, "silent").Status)
	assert.Equal(t, HealthStatusHealthy, result.Health)
}

func TestCollectReporterStatuses(t *testing.T) {
	cases := []struct {
		name       string
		status     ModuleStatus
		err        error
		wantStatus HealthStatus
		wantInMsg  string
	}{
		{
			name:       "unhealthy report",
			status:     ModuleStatus{Status: HealthStatusUnhealthy, Message: "breaker tripped"},
			wantStatus: HealthStatusUnhealthy,
			wantInMsg:  "breaker tripped",
		},
		{
			name:       "unknown promoted to healthy",
			status:     ModuleStatus{},
			wantStatus: HealthStatusHealthy,
		},
		{
			name:       "check error degrades",
			err:        errors.New("bridge offline"),
			wantStatus: HealthStatusDegraded,
			wantInMsg:  "status check failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})
			m := &healthModule{
				testModule: testModule{name: "reporter"},
				statusFn: func(context.Context) (ModuleStatus, error) {
					return tc.status, tc.err
				},
			}
			registerInState(t, reg, m, StateActive)

			result := agg.Collect(context.Background())
			snapshot := snapshotFor(t, result, "reporter")
			assert.Equal(t, tc.wantStatus, snapshot.Status)
			if tc.wantInMsg != "" {
				assert.Contains(t, snapshot.Message, tc.wantInMsg)
			}
		})
	}
}

func TestCollectCheckTimeout(t *testing.T) {
	agg, reg, logger := newAggregatorFixture(t, HealthAggregatorConfig{CheckTimeout: 50 * time.Millisecond})

	m := &healthModule{
		testModule: testModule{name: "stuck"},
		statusFn: func(ctx context.Context) (ModuleStatus, error) {
			<-ctx.Done()
			return ModuleStatus{Status: HealthStatusHealthy}, nil
		},
	}
	registerInState(t, reg, m, StateActive)

	result := agg.Collect(context.Background())
	snapshot := snapshotFor(t, result, "stuck")

	assert.Equal(t, HealthStatusDegraded, snapshot.Status)
	assert.Contains(t, snapshot.Message, "status check timed out")
	assert.True(t, logger.contains("Module status check timed out"))
}

func TestCollectPanickingReporterIsUnhealthy(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})

	m := &healthModule{
		testModule: testModule{name: "crashy"},
		statusFn: func(context.Context) (ModuleStatus, error) {
			panic("sensor table nil")
		},
	}
	registerInState(t, reg, m, StateActive)

	result := agg.Collect(context.Background())
	snapshot := snapshotFor(t, result, "crashy")

	assert.Equal(t, HealthStatusUnhealthy, snapshot.Status)
	assert.Contains(t, snapshot.Message, "status check panicked")
	assert.Equal(t, HealthStatusUnhealthy, result.Health)
}

func TestRecordErrorBoundedHistory(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})
	registerInState(t, reg, &testModule{name: "noisy"}, StateDegraded)

	agg.RecordError("noisy", nil)
	for i := 0; i < maxErrorHistory+4; i++ {
		agg.RecordError("noisy", fmt.Errorf("fault %d", i))
	}

	history := agg.errorHistory("noisy")
	require.Len(t, history, maxErrorHistory)

	// Oldest entries are evicted; the newest entry is last.
	assert.Equal(t, "fault 4", history[0].Message)
	assert.Equal(t, fmt.Sprintf("fault %d", maxErrorHistory+3), history[len(history)-1].Message)

	result := agg.Collect(context.Background())
	assert.Len(t, snapshotFor(t, result, "noisy").Errors, maxErrorHistory)
}

func TestReady(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})

	// No modules at all is a ready platform.
	assert.True(t, agg.Ready())

	registerInState(t, reg, &testModule{name: "a"}, StateActive)
	registerInState(t, reg, &testModule{name: "b"}, StateDegraded)
	registerInState(t, reg, &testModule{name: "c"}, StateDestroyed)
	assert.True(t, agg.Ready())

	registerInState(t, reg, &testModule{name: "d"}, StateInitializing)
	assert.False(t, agg.Ready())

	require.NoError(t, reg.setState("d", StateActive))
	assert.True(t, agg.Ready())
}

func TestLastBeforeAnyEvaluation(t *testing.T) {
	agg, _, _ := newAggregatorFixture(t, HealthAggregatorConfig{})

	_, evaluated := agg.Last()
	assert.False(t, evaluated)
}

func TestPollLoopEvaluatesRepeatedly(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{PollInterval: 20 * time.Millisecond})
	registerInState(t, reg, &testModule{name: "a"}, StateActive)

	agg.Start(context.Background())
	defer agg.Stop()

	var first time.Time
	require.Eventually(t, func() bool {
		result, evaluated := agg.Last()
		if evaluated {
			first = result.GeneratedAt
		}
		return evaluated
	}, time.Second, 5*time.Millisecond)

	// A later poll replaces the cached result.
	require.Eventually(t, func() bool {
		result, _ := agg.Last()
		return result.GeneratedAt.After(first)
	}, time.Second, 5*time.Millisecond)

	agg.Stop()
	agg.Stop() // safe to repeat
}

func TestCollectPublishesHealthEvent(t *testing.T) {
	agg, reg, _ := newAggregatorFixture(t, HealthAggregatorConfig{})
	registerInState(t, reg, &testModule{name: "a"}, StateActive)

	events := make(chan cloudevents.Event, 1)
	agg.SetEventSubject(&captureSubject{events: events})

	agg.Collect(context.Background())

	select {
	case event := <-events:
		assert.Equal(t, EventTypeHealthEvaluated, event.Type())
		assert.Equal(t, "health-aggregator", event.Source())
	case <-time.After(time.Second):
		t.Fatal("health event was not published")
	}
}

// captureSubject funnels notified events into a channel.
type captureSubject struct {
	events chan cloudevents.Event
}

func (s *captureSubject) RegisterObserver(Observer, ...string) error { return nil }
func (s *captureSubject) UnregisterObserver(Observer) error          { return nil }
func (s *captureSubject) GetObservers() []ObserverInfo               { return nil }

func (s *captureSubject) NotifyObservers(_ context.Context, event cloudevents.Event) error {
	s.events <- event
	return nil
}

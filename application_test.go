package platform

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger records every entry so tests can assert on log output.
type mockLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *mockLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fmt.Sprintf("%s %s %v", level, msg, args))
}

func (l *mockLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args...) }
func (l *mockLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *mockLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

func (l *mockLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if strings.Contains(entry, substr) {
			return true
		}
	}
	return false
}

// testModule is the minimal Module used across the platform tests.
type testModule struct {
	name string
}

func (m *testModule) Name() string               { return m.name }
func (m *testModule) Init(app Application) error { return nil }

func newTestApp(t *testing.T) (*StdApplication, *mockLogger) {
	t.Helper()
	logger := &mockLogger{}
	app := NewStdApplication(NewStdConfigProvider(&struct{}{}), logger)
	return app.(*StdApplication), logger
}

func TestRegisterModule(t *testing.T) {
	app, _ := newTestApp(t)

	require.NoError(t, app.RegisterModule(&testModule{name: "alpha"}))
	assert.Equal(t, 1, app.Modules().Count())

	desc, err := app.Modules().Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, StateUnloaded, desc.State)
}

func TestRegisterModuleDuplicate(t *testing.T) {
	app, _ := newTestApp(t)

	require.NoError(t, app.RegisterModule(&testModule{name: "alpha"}))
	err := app.RegisterModule(&testModule{name: "alpha"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateModule)
	assert.Equal(t, 1, app.Modules().Count())
}

func TestRegisterAndGetService(t *testing.T) {
	app, _ := newTestApp(t)

	type greeter interface{ Name() string }
	svc := &testModule{name: "svc"}
	require.NoError(t, app.RegisterService("greeter", svc))

	err := app.RegisterService("greeter", svc)
	assert.ErrorIs(t, err, ErrServiceAlreadyRegistered)

	var byIface greeter
	require.NoError(t, app.GetService("greeter", &byIface))
	assert.Equal(t, "svc", byIface.Name())

	var byPtr *testModule
	require.NoError(t, app.GetService("greeter", &byPtr))
	assert.Same(t, svc, byPtr)

	var wrong int
	err = app.GetService("greeter", &wrong)
	assert.ErrorIs(t, err, ErrServiceIncompatible)

	err = app.GetService("missing", &byIface)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	err = app.GetService("greeter", byPtr)
	assert.ErrorIs(t, err, ErrTargetNotPointer)
}

func TestGetConfigSection(t *testing.T) {
	app, _ := newTestApp(t)

	cp := NewStdConfigProvider(&struct{ Value string }{Value: "x"})
	app.RegisterConfigSection("demo", cp)

	got, err := app.GetConfigSection("demo")
	require.NoError(t, err)
	assert.Same(t, cp, got)

	_, err = app.GetConfigSection("missing")
	assert.ErrorIs(t, err, ErrConfigSectionNotFound)
}

// serviceProviderModule provides one named service after Init.
type serviceProviderModule struct {
	testModule
	serviceName string
	instance    any
}

func (m *serviceProviderModule) ProvidesServices() []ServiceProvider {
	return []ServiceProvider{{Name: m.serviceName, Instance: m.instance}}
}

func (m *serviceProviderModule) RequiresServices() []ServiceDependency { return nil }

var _ ServiceAware = (*serviceProviderModule)(nil)

// constructedModule records the services its constructor received.
type constructedModule struct {
	testModule
	deps     []ServiceDependency
	received map[string]any
}

func (m *constructedModule) ProvidesServices() []ServiceProvider   { return nil }
func (m *constructedModule) RequiresServices() []ServiceDependency { return m.deps }

func (m *constructedModule) Constructor() ModuleConstructor {
	return func(app Application, services map[string]any) (Module, error) {
		m.received = services
		return m, nil
	}
}

type namedThing interface{ Name() string }

func TestConstructorInjectionByName(t *testing.T) {
	app, _ := newTestApp(t)

	instance := &testModule{name: "the-service"}
	provider := &serviceProviderModule{
		testModule:  testModule{name: "provider"},
		serviceName: "thing",
		instance:    instance,
	}
	consumer := &constructedModule{
		testModule: testModule{name: "consumer"},
		deps:       []ServiceDependency{{Name: "thing", Required: true}},
	}

	require.NoError(t, app.RegisterModule(provider))
	require.NoError(t, app.RegisterModule(consumer))
	require.NoError(t, app.Init())

	require.NotNil(t, consumer.received)
	assert.Same(t, instance, consumer.received["thing"])

	for _, id := range []string{"provider", "consumer"} {
		desc, err := app.Modules().Get(id)
		require.NoError(t, err)
		assert.Equal(t, StateActive, desc.State, "module %s", id)
	}
}

func TestConstructorInjectionByInterface(t *testing.T) {
	app, _ := newTestApp(t)

	instance := &testModule{name: "the-service"}
	provider := &serviceProviderModule{
		testModule:  testModule{name: "provider"},
		serviceName: "thing",
		instance:    instance,
	}
	consumer := &constructedModule{
		testModule: testModule{name: "consumer"},
		deps: []ServiceDependency{{
			Name:               "thing",
			Required:           true,
			MatchByInterface:   true,
			SatisfiesInterface: reflect.TypeOf((*namedThing)(nil)).Elem(),
		}},
	}

	require.NoError(t, app.RegisterModule(provider))
	require.NoError(t, app.RegisterModule(consumer))
	require.NoError(t, app.Init())

	require.NotNil(t, consumer.received)
	// Interface matches are still keyed under the declared dependency name.
	assert.Same(t, instance, consumer.received["thing"])
}

func TestMissingRequiredServiceDegradesConsumer(t *testing.T) {
	app, logger := newTestApp(t)

	consumer := &constructedModule{
		testModule: testModule{name: "consumer"},
		deps:       []ServiceDependency{{Name: "absent", Required: true}},
	}
	require.NoError(t, app.RegisterModule(consumer))
	require.NoError(t, app.Init())

	desc, err := app.Modules().Get("consumer")
	require.NoError(t, err)
	assert.Equal(t, StateDegraded, desc.State)
	assert.True(t, logger.contains("Module degraded"))
}

func TestImplicitDependencyOrdersProviderFirst(t *testing.T) {
	app, _ := newTestApp(t)

	var order []string
	var mu sync.Mutex
	note := func(id string) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	provider := &recordingModule{name: "provider", onInit: note}
	provider.provides = []ServiceProvider{{Name: "shared", Instance: &struct{ X int }{}}}
	consumer := &recordingModule{name: "consumer", onInit: note}
	consumer.requires = []ServiceDependency{{Name: "shared", Required: true}}

	// Registered consumer-first; the service edge must still order the
	// provider's init ahead of the consumer's.
	require.NoError(t, app.RegisterModule(consumer))
	require.NoError(t, app.RegisterModule(provider))
	require.NoError(t, app.Init())

	require.Equal(t, []string{"provider", "consumer"}, order)
}

// recordingModule notes its own init and exposes scripted services.
type recordingModule struct {
	name     string
	onInit   func(id string)
	provides []ServiceProvider
	requires []ServiceDependency
}

func (m *recordingModule) Name() string { return m.name }

func (m *recordingModule) Init(app Application) error {
	if m.onInit != nil {
		m.onInit(m.name)
	}
	return nil
}

func (m *recordingModule) ProvidesServices() []ServiceProvider   { return m.provides }
func (m *recordingModule) RequiresServices() []ServiceDependency { return m.requires }

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ModuleName is the unique identifier for the gateway module.
const ModuleName = "gateway"

// ServiceName is the name of the gateway service.
const ServiceName = "gateway.server"

// Gateway errors.
var (
	// ErrServerNotStarted is returned when stopping a server that never started.
	ErrServerNotStarted = errors.New("server not started")

	// ErrServerStartTimeout is returned when the listener does not come up in time.
	ErrServerStartTimeout = errors.New("context cancelled while waiting for server to start")

	// ErrUpgraderMissing is returned when no realtime transport service is available.
	ErrUpgraderMissing = errors.New("no realtime upgrader service available")
)

// RealtimeUpgrader is the websocket entry point the gateway mounts
// under /rt/{namespace}. The realtime module's transport satisfies it.
type RealtimeUpgrader interface {
	ServeWS(namespace string, w http.ResponseWriter, r *http.Request)
}

// GatewayModule serves the platform's HTTP surface. It owns the router,
// the request pipeline, and the server lifecycle.
type GatewayModule struct {
	config    *Config
	app       platform.Application
	logger    platform.Logger
	metrics   *platform.Metrics
	router    *chi.Mux
	server    *http.Server
	limiter   *clientLimiter
	validator *validator
	upgrader  RealtimeUpgrader
	subject   platform.Subject
	started   bool
}

var _ platform.Module = (*GatewayModule)(nil)

// NewGatewayModule creates a new instance of the gateway module.
func NewGatewayModule() *GatewayModule {
	return &GatewayModule{}
}

// Name returns the name of this module.
func (m *GatewayModule) Name() string {
	return ModuleName
}

// Description returns display metadata for registry listings.
func (m *GatewayModule) Description() platform.ModuleDescription {
	return platform.ModuleDescription{
		DisplayName: "HTTP Gateway",
		Category:    "system",
	}
}

// Dependencies declares that the gateway initializes after the realtime
// module so its transport service is registered first.
func (m *GatewayModule) Dependencies() []string {
	return []string{"realtime"}
}

// RegisterConfig registers the module's configuration section.
func (m *GatewayModule) RegisterConfig(app platform.Application) error {
	defaultConfig := &Config{
		Host:              "0.0.0.0",
		Port:              8080,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		MaxBodyBytes:      1 << 20,
		RateLimit:         25,
		RateBurst:         50,
		ClientHeader:      "X-Homey-Client",
		AllowedOrigins:    []string{"*"},
	}
	app.RegisterConfigSection(m.Name(), platform.NewStdConfigProvider(defaultConfig))
	return nil
}

// Constructor returns a dependency injection function that wires in the
// realtime transport before Init runs.
func (m *GatewayModule) Constructor() platform.ModuleConstructor {
	return func(_ platform.Application, services map[string]any) (platform.Module, error) {
		upgrader, ok := services["realtime.transport"].(RealtimeUpgrader)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUpgraderMissing, "realtime.transport")
		}
		m.upgrader = upgrader
		return m, nil
	}
}

// Init loads configuration, compiles the request schemas, and builds
// the router. The server itself starts listening in Start.
func (m *GatewayModule) Init(app platform.Application) error {
	m.app = app
	m.logger = platform.NewModuleLogger(app.Logger(), m.Name())
	m.metrics = app.Metrics()

	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	cfg, ok := cp.GetConfig().(*Config)
	if !ok {
		return fmt.Errorf("invalid config section type for '%s'", m.Name())
	}
	m.config = cfg

	m.validator, err = newValidator()
	if err != nil {
		return fmt.Errorf("building request validator: %w", err)
	}
	m.limiter = newClientLimiter(cfg.RateLimit, cfg.RateBurst)
	if subject, ok := app.(platform.Subject); ok {
		m.subject = subject
	}
	m.router = m.buildRouter()

	m.logger.Info("Gateway module initialized",
		"host", cfg.Host, "port", cfg.Port, "rateLimit", cfg.RateLimit)
	return nil
}

// buildRouter assembles the chi router with the platform middleware
// chain and the route table.
func (m *GatewayModule) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(m.requestLogger())
	r.Use(middleware.Recoverer)
	r.Use(m.corsMiddleware())

	r.Get("/health", m.handleHealth)
	r.Get("/ready", m.handleReady)
	r.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(m.metrics.Registry(), promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/modules", m.handleListModules)
		r.Route("/{module}", func(r chi.Router) {
			r.Get("/", m.handleModuleData)
			r.Post("/", m.handleModuleUpdate)
			r.Put("/", m.handleModuleUpdate)
			r.Patch("/", m.handleModuleUpdate)
			r.Post("/actions/{action}", m.handleModuleAction)
		})
	})

	if m.upgrader != nil {
		r.Get("/rt/{namespace}", m.handleRealtime)
	}

	return r
}

// Handler exposes the assembled router. Tests drive it directly without
// a listening server.
func (m *GatewayModule) Handler() http.Handler {
	return m.router
}

// Start begins listening and probes the listener until it accepts
// connections or the context deadline passes.
func (m *GatewayModule) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)
	m.server = &http.Server{
		Addr:              addr,
		Handler:           m.router,
		ReadHeaderTimeout: m.config.ReadHeaderTimeout,
		IdleTimeout:       m.config.IdleTimeout,
	}

	go func() {
		m.logger.Info("Starting HTTP server", "address", addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("HTTP server error", "error", err)
		}
	}()

	timeout := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	check := func() error {
		var dialer net.Dialer
		conn, err := dialer.DialContext(checkCtx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dialing server: %w", err)
		}
		if closeErr := conn.Close(); closeErr != nil {
			m.logger.Warn("Failed to close probe connection", "error", closeErr)
		}
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	startTime := time.Now()
	for {
		err := check()
		if err == nil {
			break
		}
		if time.Since(startTime) > timeout {
			return fmt.Errorf("failed to start HTTP server within timeout: %w", err)
		}
		select {
		case <-checkCtx.Done():
			return ErrServerStartTimeout
		case <-ticker.C:
		}
	}

	m.started = true
	m.emitEvent(ctx, EventTypeServerStarted, map[string]interface{}{
		"address": addr,
	})
	m.logger.Info("HTTP server started successfully", "address", addr)
	return nil
}

// Stop shuts the server down gracefully within the configured timeout.
func (m *GatewayModule) Stop(ctx context.Context) error {
	if m.server == nil || !m.started {
		return ErrServerNotStarted
	}

	m.logger.Info("Stopping HTTP server", "timeout", m.config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}

	m.started = false
	m.emitEvent(ctx, EventTypeServerStopped, nil)
	m.logger.Info("HTTP server stopped successfully")
	return nil
}

// Status reports server health for the platform aggregator.
func (m *GatewayModule) Status(ctx context.Context) (platform.ModuleStatus, error) {
	if !m.started {
		return platform.ModuleStatus{
			Status:  platform.HealthStatusUnhealthy,
			Message: "server not running",
		}, nil
	}
	return platform.ModuleStatus{
		Status: platform.HealthStatusHealthy,
		Details: map[string]any{
			"address": m.server.Addr,
		},
	}, nil
}

// ProvidesServices declares the services offered by this module.
func (m *GatewayModule) ProvidesServices() []platform.ServiceProvider {
	return []platform.ServiceProvider{
		{
			Name:        ServiceName,
			Description: "HTTP gateway for module data, health, and realtime upgrade",
			Instance:    m,
		},
		{
			Name:        "gateway.router",
			Description: "Underlying chi router",
			Instance:    m.router,
		},
	}
}

// RequiresServices declares the services required by this module.
func (m *GatewayModule) RequiresServices() []platform.ServiceDependency {
	return []platform.ServiceDependency{
		{
			Name:               "realtime.transport",
			Required:           true,
			MatchByInterface:   true,
			SatisfiesInterface: reflect.TypeOf((*RealtimeUpgrader)(nil)).Elem(),
		},
	}
}

// requestLogger logs one line per completed request with the request id
// assigned by the RequestID middleware.
func (m *GatewayModule) requestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			m.logger.Debug("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"requestId", middleware.GetReqID(r.Context()))
		})
	}
}

// corsMiddleware applies the configured CORS policy and answers
// preflight requests.
func (m *GatewayModule) corsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, allowedOrigin := range m.config.AllowedOrigins {
				if allowedOrigin == "*" || allowedOrigin == origin {
					allowed = true
					break
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, "+m.config.ClientHeader)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (m *GatewayModule) emitEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	if m.subject == nil {
		return
	}
	event := platform.NewCloudEvent(eventType, "gateway-module", data, nil)
	go func() {
		if err := m.subject.NotifyObservers(ctx, event); err != nil {
			m.logger.Debug("Failed to emit event", "type", eventType, "error", err)
		}
	}()
}

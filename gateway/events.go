package gateway

// Event types emitted by the gateway module through the application's
// observer bus.
const (
	// EventTypeServerStarted is emitted when the HTTP server is
	// listening and accepting connections.
	EventTypeServerStarted = "com.homey.gateway.server.started"

	// EventTypeServerStopped is emitted after graceful shutdown.
	EventTypeServerStopped = "com.homey.gateway.server.stopped"

	// EventTypeRequestRejected is emitted when a request is refused by
	// the rate limiter.
	EventTypeRequestRejected = "com.homey.gateway.request.rejected"
)

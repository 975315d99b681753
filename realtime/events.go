package realtime

// Event type constants for realtime broker events.
// Following CloudEvents reverse domain notation.
const (
	// Client events
	EventTypeClientConnected    = "com.homey.realtime.client.connected"
	EventTypeClientDisconnected = "com.homey.realtime.client.disconnected"

	// Room events
	EventTypeRoomCreated   = "com.homey.realtime.room.created"
	EventTypeRoomDestroyed = "com.homey.realtime.room.destroyed"

	// Broker lifecycle events
	EventTypeBrokerStarted = "com.homey.realtime.broker.started"
	EventTypeBrokerStopped = "com.homey.realtime.broker.stopped"
)

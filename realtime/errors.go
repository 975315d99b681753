package realtime

import "errors"

var (
	// ErrBrokerNotStarted is returned when publishing or subscribing
	// before Start or after Stop.
	ErrBrokerNotStarted = errors.New("realtime broker not started")

	// ErrNamespaceUnknown is returned for namespaces absent from the
	// configured set.
	ErrNamespaceUnknown = errors.New("unknown namespace")

	// ErrPayloadTooLarge is returned when a published payload exceeds
	// the configured cap.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrSubscriptionClosed is returned when operating on a subscription
	// after disconnect.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrSubscriptionUnknown is returned when a subscription ID does not
	// resolve.
	ErrSubscriptionUnknown = errors.New("unknown subscription")

	// ErrNoDispatcher is returned for actions when no dispatcher is
	// wired to the broker.
	ErrNoDispatcher = errors.New("no action dispatcher configured")

	// ErrRoomNameEmpty is returned for join and leave calls without a
	// room name.
	ErrRoomNameEmpty = errors.New("room name cannot be empty")

	// ErrNoSubject is returned when emitting events without an attached
	// event subject.
	ErrNoSubject = errors.New("no event subject attached")
)

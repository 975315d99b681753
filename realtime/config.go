// Package realtime provides the namespace/room broadcast layer of the
// platform. Modules publish retained state and ordered deltas into rooms;
// remote clients subscribe over websockets, receive an authoritative
// snapshot on join, and send actions that round-trip through the owning
// module.
package realtime

import "time"

// Config holds the realtime broker configuration.
type Config struct {
	// Namespaces lists the channels clients may connect to. Namespaces
	// are fixed for the process lifetime; rooms inside them come and go
	// with their members.
	Namespaces []string `yaml:"namespaces" json:"namespaces" toml:"namespaces"`

	// BufferSize is the per-subscriber outbound queue length.
	BufferSize int `yaml:"bufferSize" json:"bufferSize" toml:"bufferSize" env:"BUFFER_SIZE" default:"64"`

	// DeliveryMode controls what happens when a subscriber's queue is
	// full: "drop" discards the message, "block" waits for space, and
	// "timeout" waits up to PublishBlockTimeout.
	DeliveryMode string `yaml:"deliveryMode" json:"deliveryMode" toml:"deliveryMode" env:"DELIVERY_MODE" default:"drop"`

	// PublishBlockTimeout bounds the wait in "timeout" delivery mode.
	PublishBlockTimeout time.Duration `yaml:"publishBlockTimeout" json:"publishBlockTimeout" toml:"publishBlockTimeout" env:"PUBLISH_BLOCK_TIMEOUT" default:"50ms"`

	// MaxPayloadBytes caps a single published payload. Payloads of
	// exactly this size pass; one byte more is rejected.
	MaxPayloadBytes int `yaml:"maxPayloadBytes" json:"maxPayloadBytes" toml:"maxPayloadBytes" env:"MAX_PAYLOAD_BYTES" default:"1048576"`

	// InboundRate is the per-connection budget of client frames per
	// second. Frames beyond the budget are dropped with a warning.
	InboundRate float64 `yaml:"inboundRate" json:"inboundRate" toml:"inboundRate" env:"INBOUND_RATE" default:"10"`

	// InboundBurst is the token-bucket burst for inbound frames.
	InboundBurst int `yaml:"inboundBurst" json:"inboundBurst" toml:"inboundBurst" env:"INBOUND_BURST" default:"10"`
}

const (
	// DeliveryModeDrop discards messages for slow subscribers.
	DeliveryModeDrop = "drop"
	// DeliveryModeBlock waits until the subscriber has queue space.
	DeliveryModeBlock = "block"
	// DeliveryModeTimeout waits up to PublishBlockTimeout, then drops.
	DeliveryModeTimeout = "timeout"
)

// systemNamespace carries platform lifecycle events bridged from the
// observer bus.
const systemNamespace = "system"

// DefaultNamespaces are the channels registered when no configuration is
// provided: one per platform feature area.
func DefaultNamespaces() []string {
	return []string{"devices", "flows", "energy", "presence", "system"}
}

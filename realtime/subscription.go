package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Message types delivered to subscribers.
const (
	// MessageTypeState is the full snapshot sent on connect and join.
	MessageTypeState = "state"
	// MessageTypeUpdate is an incremental delta.
	MessageTypeUpdate = "update"
)

// Message is one unit delivered to a subscriber's queue. Snapshots and
// deltas for a given room arrive in publish order.
type Message struct {
	Type      string          `json:"type"`
	Namespace string          `json:"namespace"`
	Room      string          `json:"room,omitempty"`
	Event     string          `json:"event,omitempty"`
	Seq       uint64          `json:"seq"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Subscription is one connected client's attachment to a namespace. It
// belongs to exactly one namespace; room membership within it is tracked
// per subscription.
type Subscription struct {
	id        string
	clientID  string
	namespace string

	outbound chan Message
	done     chan struct{}

	mu     sync.Mutex
	rooms  map[string]bool
	closed bool

	lastActivity atomic.Int64
}

func newSubscription(id, clientID, namespace string, bufferSize int) *Subscription {
	s := &Subscription{
		id:        id,
		clientID:  clientID,
		namespace: namespace,
		outbound:  make(chan Message, bufferSize),
		done:      make(chan struct{}),
		rooms:     make(map[string]bool),
	}
	s.touch()
	return s
}

// ID returns the unique subscription identifier.
func (s *Subscription) ID() string { return s.id }

// ClientID returns the client identity the subscription was opened with.
func (s *Subscription) ClientID() string { return s.clientID }

// Namespace returns the namespace this subscription is attached to.
func (s *Subscription) Namespace() string { return s.namespace }

// C returns the ordered outbound message queue. The channel is never
// closed; receivers should select against Done.
func (s *Subscription) C() <-chan Message { return s.outbound }

// Done is closed when the subscription disconnects.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Rooms returns the rooms this subscription is currently joined to.
func (s *Subscription) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// LastActivity returns when the subscription last sent or received.
func (s *Subscription) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Subscription) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Subscription) addRoom(room string) {
	s.mu.Lock()
	s.rooms[room] = true
	s.mu.Unlock()
}

func (s *Subscription) removeRoom(room string) {
	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

func (s *Subscription) inRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[room]
}

// close marks the subscription terminated. Idempotent.
func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// deliver enqueues a message according to the delivery mode, reporting
// whether it was accepted. Queued order is the delivery order.
func (s *Subscription) deliver(ctx context.Context, msg Message, mode string, blockTimeout time.Duration) bool {
	if s.isClosed() {
		return false
	}

	switch mode {
	case DeliveryModeBlock:
		select {
		case s.outbound <- msg:
			return true
		case <-s.done:
			return false
		case <-ctx.Done():
			return false
		}
	case DeliveryModeTimeout:
		if blockTimeout <= 0 {
			select {
			case s.outbound <- msg:
				return true
			default:
				return false
			}
		}
		deadline := time.NewTimer(blockTimeout)
		defer func() {
			if !deadline.Stop() {
				select {
				case <-deadline.C:
				default:
				}
			}
		}()
		select {
		case s.outbound <- msg:
			return true
		case <-deadline.C:
			return false
		case <-s.done:
			return false
		case <-ctx.Done():
			return false
		}
	default: // DeliveryModeDrop
		select {
		case s.outbound <- msg:
			return true
		default:
			return false
		}
	}
}

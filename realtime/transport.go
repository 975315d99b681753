package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	platform "github.com/ashsolei/HomeySmartHome"
)

const maxDecodeErrorsPerConn = 3

// Frame types clients send.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
	frameAction      = "action"
)

// Frame types the server sends. Delivery frames reuse the message
// types from the broker (state, update).
const (
	frameAck   = "ack"
	frameError = "error"
)

// wsFrame is the single envelope used in both directions. Unused fields
// are omitted per frame type.
type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Room      string          `json:"room,omitempty"`
	Module    string          `json:"module,omitempty"`
	Action    string          `json:"action,omitempty"`
	Event     string          `json:"event,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ackEnvelope struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// wsPeer serializes concurrent frame writes onto one connection: the
// delivery pump and the request/reply paths share it.
type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// Transport serves the websocket surface of the broker. One connection
// maps to one subscription on one namespace.
type Transport struct {
	broker *Broker
	logger platform.Logger
}

// NewTransport creates a websocket transport over the broker.
func NewTransport(broker *Broker, logger platform.Logger) *Transport {
	return &Transport{broker: broker, logger: logger}
}

// ServeWS upgrades the request into a subscription on the named
// namespace. The router owns path parsing and hands the namespace in.
func (t *Transport) ServeWS(namespaceName string, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !t.broker.HasNamespace(namespaceName) {
		http.Error(w, "unknown namespace", http.StatusNotFound)
		return
	}

	clientID := r.Header.Get("X-Homey-Client")
	if clientID == "" {
		clientID = r.RemoteAddr
	}

	handler := websocket.Handler(func(conn *websocket.Conn) {
		t.handleConn(conn, namespaceName, clientID)
	})
	handler.ServeHTTP(w, r)
}

func (t *Transport) handleConn(conn *websocket.Conn, namespaceName, clientID string) {
	defer func() {
		_ = conn.Close()
	}()

	peer := newWSPeer(json.NewEncoder(conn))
	ctx := conn.Request().Context()

	sub, err := t.broker.Connect(ctx, namespaceName, clientID)
	if err != nil {
		_ = writeWSError(peer, "", wsErrorCode(err), err.Error())
		return
	}
	defer t.broker.Disconnect(sub)

	// Delivery pump: the subscription queue is already in per-scope
	// order, so writing sequentially preserves it on the wire.
	go func() {
		for {
			select {
			case msg := <-sub.C():
				frame := wsFrame{
					Type:    msg.Type,
					Room:    msg.Room,
					Event:   msg.Event,
					Seq:     msg.Seq,
					Payload: msg.Data,
				}
				if err := peer.writeFrame(frame); err != nil {
					t.broker.Disconnect(sub)
					return
				}
			case <-sub.Done():
				return
			}
		}
	}()

	limiter := rate.NewLimiter(rate.Limit(t.broker.config.InboundRate), t.broker.config.InboundBurst)
	decoder := json.NewDecoder(conn)
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if sub.isClosed() {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0
		sub.touch()

		if len(frame.Payload) > t.broker.config.MaxPayloadBytes {
			_ = writeWSError(peer, frame.RequestID, "PAYLOAD_TOO_LARGE", "payload too large")
			continue
		}

		// Inbound throttle: frames beyond the per-second budget are
		// dropped with a warning, never queued.
		if !limiter.Allow() {
			if t.broker.metrics != nil {
				t.broker.metrics.IncDropped()
			}
			t.logger.Warn("Throttled inbound realtime frame",
				"client", clientID, "namespace", namespaceName, "type", frame.Type)
			_ = writeWSError(peer, frame.RequestID, "RATE_LIMITED", "inbound rate limit exceeded")
			continue
		}

		switch frame.Type {
		case frameSubscribe:
			t.handleSubscribe(ctx, peer, sub, frame)
		case frameUnsubscribe:
			t.handleUnsubscribe(ctx, peer, sub, frame)
		case framePublish:
			t.handlePublish(ctx, peer, sub, frame)
		case frameAction:
			t.handleAction(ctx, peer, sub, frame)
		default:
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT",
				fmt.Sprintf("unsupported frame type %q", frame.Type))
		}
	}
}

func (t *Transport) handleSubscribe(ctx context.Context, peer *wsPeer, sub *Subscription, frame wsFrame) {
	if err := t.broker.Join(ctx, sub, frame.Room); err != nil {
		_ = writeWSError(peer, frame.RequestID, wsErrorCode(err), err.Error())
		return
	}
	_ = peer.writeFrame(wsFrame{
		Type:      frameAck,
		RequestID: frame.RequestID,
		Room:      frame.Room,
		Payload:   mustJSON(ackEnvelope{Status: "ok"}),
	})
}

func (t *Transport) handleUnsubscribe(ctx context.Context, peer *wsPeer, sub *Subscription, frame wsFrame) {
	if err := t.broker.Leave(ctx, sub, frame.Room); err != nil {
		_ = writeWSError(peer, frame.RequestID, wsErrorCode(err), err.Error())
		return
	}
	_ = peer.writeFrame(wsFrame{
		Type:      frameAck,
		RequestID: frame.RequestID,
		Room:      frame.Room,
		Payload:   mustJSON(ackEnvelope{Status: "ok"}),
	})
}

func (t *Transport) handlePublish(ctx context.Context, peer *wsPeer, sub *Subscription, frame wsFrame) {
	if err := t.broker.PublishDelta(ctx, sub.Namespace(), frame.Room, frame.Event, frame.Payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, wsErrorCode(err), err.Error())
		return
	}
	_ = peer.writeFrame(wsFrame{
		Type:      frameAck,
		RequestID: frame.RequestID,
		Room:      frame.Room,
		Payload:   mustJSON(ackEnvelope{Status: "ok"}),
	})
}

// handleAction round-trips a request to the owning module. The ack
// carries the module's result exactly as produced; failures surface to
// this caller only.
func (t *Transport) handleAction(ctx context.Context, peer *wsPeer, sub *Subscription, frame wsFrame) {
	if frame.Module == "" || frame.Action == "" {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "module and action are required")
		return
	}

	result, err := t.broker.PublishAction(ctx, sub.Namespace(), frame.Module, frame.Action, frame.Payload)
	if err != nil {
		_ = writeWSError(peer, frame.RequestID, wsErrorCode(err), err.Error())
		return
	}

	_ = peer.writeFrame(wsFrame{
		Type:      frameAck,
		RequestID: frame.RequestID,
		Module:    frame.Module,
		Action:    frame.Action,
		Payload:   mustJSON(ackEnvelope{Status: "ok", Result: mustJSON(result)}),
	})
}

func writeWSError(peer *wsPeer, requestID, code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      frameError,
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{Error: wsError{
			Code:    code,
			Message: message,
		}}),
	})
}

// wsErrorCode maps broker and platform errors to wire codes.
func wsErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return "PAYLOAD_TOO_LARGE"
	case errors.Is(err, ErrNamespaceUnknown):
		return "UNKNOWN_NAMESPACE"
	case errors.Is(err, ErrRoomNameEmpty), errors.Is(err, platform.ErrValidation):
		return "INVALID_ARGUMENT"
	case errors.Is(err, platform.ErrModuleNotFound):
		return "NOT_FOUND"
	case errors.Is(err, platform.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, platform.ErrNoActionHandler):
		return "NOT_SUPPORTED"
	case errors.Is(err, ErrBrokerNotStarted), errors.Is(err, ErrSubscriptionClosed):
		return "UNAVAILABLE"
	default:
		return "OPERATION_FAILED"
	}
}

func mustJSON(v any) json.RawMessage {
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}

package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/valyala/bytebufferpool"

	platform "github.com/ashsolei/HomeySmartHome"
)

// ActionDispatcher routes a client action to the module that owns it and
// returns the module's result unmodified. The platform application
// satisfies this.
type ActionDispatcher interface {
	DispatchAction(ctx context.Context, moduleID, action string, payload []byte) (any, error)
}

// Broker is the in-memory namespace/room engine. Namespaces are fixed at
// construction; rooms are membership sets created on first join and
// destroyed when their last member leaves, while each room's retained
// state outlives its membership so late joiners always receive an
// authoritative snapshot.
type Broker struct {
	config  *Config
	logger  platform.Logger
	metrics *platform.Metrics

	namespaces map[string]*namespace
	subs       cmap.ConcurrentMap[string, *Subscription]

	dispatcher ActionDispatcher
	subject    platform.Subject

	mu        sync.RWMutex
	isStarted bool
	ctx       context.Context
	cancel    context.CancelFunc

	deliveredCount uint64
	droppedCount   uint64
}

// namespace holds one channel's membership, rooms, and retained views.
// Its mutex serializes every publish and membership change inside the
// namespace, which is what makes per-scope delivery order deterministic.
type namespace struct {
	name string

	mu        sync.Mutex
	members   map[string]*Subscription
	broadcast *scopeState
	rooms     map[string]*room
	roomViews map[string]*scopeState
}

// scopeState is the retained materialized view of one scope, fed by
// published snapshots and deltas.
type scopeState struct {
	seq   uint64
	state map[string]json.RawMessage
}

// room is a live membership set. The retained view lives in the
// namespace's roomViews so it survives the room being emptied.
type room struct {
	name    string
	members map[string]*Subscription
}

// NewBroker creates a broker for the configured namespaces.
func NewBroker(config *Config, logger platform.Logger, metrics *platform.Metrics) *Broker {
	if config == nil {
		config = &Config{}
	}
	if len(config.Namespaces) == 0 {
		config.Namespaces = DefaultNamespaces()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.MaxPayloadBytes <= 0 {
		config.MaxPayloadBytes = 1 << 20
	}
	if config.InboundRate <= 0 {
		config.InboundRate = 10
	}
	if config.InboundBurst <= 0 {
		config.InboundBurst = 10
	}
	if config.DeliveryMode == "" {
		config.DeliveryMode = DeliveryModeDrop
	}

	namespaces := make(map[string]*namespace, len(config.Namespaces))
	for _, name := range config.Namespaces {
		namespaces[name] = &namespace{
			name:      name,
			members:   make(map[string]*Subscription),
			broadcast: newScopeState(),
			rooms:     make(map[string]*room),
			roomViews: make(map[string]*scopeState),
		}
	}

	return &Broker{
		config:     config,
		logger:     logger,
		metrics:    metrics,
		namespaces: namespaces,
		subs:       cmap.New[*Subscription](),
	}
}

func newScopeState() *scopeState {
	return &scopeState{state: make(map[string]json.RawMessage)}
}

// SetDispatcher wires the action round-trip target.
func (b *Broker) SetDispatcher(dispatcher ActionDispatcher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatcher = dispatcher
}

// SetEventSubject sets the subject broker lifecycle events are published
// through.
func (b *Broker) SetEventSubject(subject platform.Subject) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subject = subject
}

// Start makes the broker accept connections and publishes.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isStarted {
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.isStarted = true
	b.emitEvent(b.ctx, EventTypeBrokerStarted, map[string]interface{}{
		"namespaces": len(b.namespaces),
	})
	return nil
}

// Stop disconnects every subscription and refuses further publishes.
func (b *Broker) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.isStarted {
		b.mu.Unlock()
		return nil
	}
	b.isStarted = false
	cancel := b.cancel
	b.mu.Unlock()

	for item := range b.subs.IterBuffered() {
		b.disconnect(item.Val)
	}
	if cancel != nil {
		cancel()
	}
	b.emitEvent(ctx, EventTypeBrokerStopped, nil)
	return nil
}

func (b *Broker) started() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isStarted
}

// Namespaces returns the configured namespace names, sorted.
func (b *Broker) Namespaces() []string {
	names := make([]string, 0, len(b.namespaces))
	for name := range b.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasNamespace reports whether the namespace is configured.
func (b *Broker) HasNamespace(name string) bool {
	_, ok := b.namespaces[name]
	return ok
}

// SubscriberCount returns how many subscriptions a namespace has.
func (b *Broker) SubscriberCount(namespaceName string) int {
	ns, ok := b.namespaces[namespaceName]
	if !ok {
		return 0
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return len(ns.members)
}

// TotalSubscriptions returns the number of open subscriptions.
func (b *Broker) TotalSubscriptions() int {
	return b.subs.Count()
}

// Subscription resolves an open subscription by ID.
func (b *Broker) Subscription(id string) (*Subscription, error) {
	sub, ok := b.subs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionUnknown, id)
	}
	return sub, nil
}

// Connect opens a subscription on a namespace. The first message queued
// is always a full state snapshot of the namespace, so every subscriber
// catches up regardless of join time.
func (b *Broker) Connect(ctx context.Context, namespaceName, clientID string) (*Subscription, error) {
	if !b.started() {
		return nil, ErrBrokerNotStarted
	}
	ns, ok := b.namespaces[namespaceName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceUnknown, namespaceName)
	}

	sub := newSubscription(uuid.New().String(), clientID, namespaceName, b.config.BufferSize)

	ns.mu.Lock()
	ns.members[sub.id] = sub
	snapshot := Message{
		Type:      MessageTypeState,
		Namespace: namespaceName,
		Seq:       ns.broadcast.seq,
		Data:      encodeState(ns.broadcast.state),
	}
	b.send(ctx, sub, snapshot)
	ns.mu.Unlock()

	b.subs.Set(sub.id, sub)
	if b.metrics != nil {
		b.metrics.SubscriptionOpened()
	}
	b.emitEvent(ctx, EventTypeClientConnected, map[string]interface{}{
		"subscriptionId": sub.id,
		"clientId":       clientID,
		"namespace":      namespaceName,
	})
	return sub, nil
}

// Disconnect closes a subscription and removes it from its namespace and
// rooms. Idempotent.
func (b *Broker) Disconnect(sub *Subscription) {
	if sub == nil {
		return
	}
	b.disconnect(sub)
}

func (b *Broker) disconnect(sub *Subscription) {
	if !sub.close() {
		return
	}

	ns := b.namespaces[sub.namespace]
	if ns != nil {
		ns.mu.Lock()
		delete(ns.members, sub.id)
		for _, roomName := range sub.Rooms() {
			b.removeFromRoomLocked(ns, roomName, sub)
		}
		ns.mu.Unlock()
	}

	b.subs.Remove(sub.id)
	if b.metrics != nil {
		b.metrics.SubscriptionClosed()
	}
	b.emitEvent(context.Background(), EventTypeClientDisconnected, map[string]interface{}{
		"subscriptionId": sub.id,
		"clientId":       sub.clientID,
		"namespace":      sub.namespace,
	})
}

// Join adds the subscription to a room, creating it on first join. The
// room's retained snapshot is queued before any delta published after the
// join, reflecting everything published so far.
func (b *Broker) Join(ctx context.Context, sub *Subscription, roomName string) error {
	if !b.started() {
		return ErrBrokerNotStarted
	}
	if sub == nil || sub.isClosed() {
		return ErrSubscriptionClosed
	}
	if roomName == "" {
		return ErrRoomNameEmpty
	}
	ns := b.namespaces[sub.namespace]
	if ns == nil {
		return fmt.Errorf("%w: %s", ErrNamespaceUnknown, sub.namespace)
	}

	ns.mu.Lock()
	rm, exists := ns.rooms[roomName]
	if !exists {
		rm = &room{name: roomName, members: make(map[string]*Subscription)}
		ns.rooms[roomName] = rm
	}
	rm.members[sub.id] = sub
	sub.addRoom(roomName)

	view := ns.roomViews[roomName]
	if view == nil {
		view = newScopeState()
		ns.roomViews[roomName] = view
	}
	snapshot := Message{
		Type:      MessageTypeState,
		Namespace: sub.namespace,
		Room:      roomName,
		Seq:       view.seq,
		Data:      encodeState(view.state),
	}
	b.send(ctx, sub, snapshot)
	ns.mu.Unlock()

	sub.touch()
	if !exists {
		b.emitEvent(ctx, EventTypeRoomCreated, map[string]interface{}{
			"namespace": sub.namespace,
			"room":      roomName,
		})
	}
	return nil
}

// Leave removes the subscription from a room. The emptied room is
// destroyed; its retained view is kept for future joiners.
func (b *Broker) Leave(ctx context.Context, sub *Subscription, roomName string) error {
	if sub == nil {
		return ErrSubscriptionClosed
	}
	if roomName == "" {
		return ErrRoomNameEmpty
	}
	ns := b.namespaces[sub.namespace]
	if ns == nil {
		return fmt.Errorf("%w: %s", ErrNamespaceUnknown, sub.namespace)
	}

	ns.mu.Lock()
	destroyed := b.removeFromRoomLocked(ns, roomName, sub)
	ns.mu.Unlock()

	sub.touch()
	if destroyed {
		b.emitEvent(ctx, EventTypeRoomDestroyed, map[string]interface{}{
			"namespace": sub.namespace,
			"room":      roomName,
		})
	}
	return nil
}

func (b *Broker) removeFromRoomLocked(ns *namespace, roomName string, sub *Subscription) bool {
	sub.removeRoom(roomName)
	rm, ok := ns.rooms[roomName]
	if !ok {
		return false
	}
	delete(rm.members, sub.id)
	if len(rm.members) > 0 {
		return false
	}
	delete(ns.rooms, roomName)
	return true
}

// PublishState replaces a scope's retained state and pushes the fresh
// snapshot to current members. An empty room name targets the namespace
// broadcast scope.
func (b *Broker) PublishState(ctx context.Context, namespaceName, roomName string, state any) error {
	if !b.started() {
		return ErrBrokerNotStarted
	}
	ns, ok := b.namespaces[namespaceName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceUnknown, namespaceName)
	}
	raw, err := b.encodePayload(state)
	if err != nil {
		return err
	}

	ns.mu.Lock()
	scope, members := ns.scopeFor(roomName)
	scope.replace(raw)
	scope.seq++
	msg := Message{
		Type:      MessageTypeState,
		Namespace: namespaceName,
		Room:      roomName,
		Seq:       scope.seq,
		Data:      encodeState(scope.state),
	}
	b.fanOut(ctx, members, msg)
	ns.mu.Unlock()
	return nil
}

// PublishDelta merges an incremental update into a scope's retained state
// and delivers it to current members in publish order. An empty room name
// broadcasts to the whole namespace.
func (b *Broker) PublishDelta(ctx context.Context, namespaceName, roomName, event string, payload any) error {
	if !b.started() {
		return ErrBrokerNotStarted
	}
	ns, ok := b.namespaces[namespaceName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNamespaceUnknown, namespaceName)
	}
	raw, err := b.encodePayload(payload)
	if err != nil {
		return err
	}

	ns.mu.Lock()
	scope, members := ns.scopeFor(roomName)
	scope.merge(event, raw)
	scope.seq++
	msg := Message{
		Type:      MessageTypeUpdate,
		Namespace: namespaceName,
		Room:      roomName,
		Event:     event,
		Seq:       scope.seq,
		Data:      raw,
	}
	b.fanOut(ctx, members, msg)
	ns.mu.Unlock()
	return nil
}

// PublishAction routes an action to the owning module and returns the
// module's result untouched. Failures surface to the caller only; nothing
// is broadcast.
func (b *Broker) PublishAction(ctx context.Context, namespaceName, moduleID, action string, payload []byte) (any, error) {
	if !b.started() {
		return nil, ErrBrokerNotStarted
	}
	if _, ok := b.namespaces[namespaceName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceUnknown, namespaceName)
	}
	if len(payload) > b.config.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(payload), b.config.MaxPayloadBytes)
	}

	b.mu.RLock()
	dispatcher := b.dispatcher
	b.mu.RUnlock()
	if dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	return dispatcher.DispatchAction(ctx, moduleID, action, payload)
}

// Stats returns delivered and dropped message counts.
func (b *Broker) Stats() (delivered, dropped uint64) {
	return atomic.LoadUint64(&b.deliveredCount), atomic.LoadUint64(&b.droppedCount)
}

// scopeFor resolves the retained view and live membership for a room
// name, the empty name meaning the namespace broadcast scope. Callers
// hold ns.mu.
func (ns *namespace) scopeFor(roomName string) (*scopeState, map[string]*Subscription) {
	if roomName == "" {
		return ns.broadcast, ns.members
	}
	view := ns.roomViews[roomName]
	if view == nil {
		view = newScopeState()
		ns.roomViews[roomName] = view
	}
	if rm, ok := ns.rooms[roomName]; ok {
		return view, rm.members
	}
	return view, nil
}

// replace swaps the retained view for a freshly published full state.
func (s *scopeState) replace(raw json.RawMessage) {
	next := make(map[string]json.RawMessage)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		for k, v := range fields {
			next[k] = v
		}
	} else {
		next["state"] = raw
	}
	s.state = next
}

// merge folds a delta into the retained view: object payloads merge key
// by key, anything else is stored under the event name.
func (s *scopeState) merge(event string, raw json.RawMessage) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		for k, v := range fields {
			s.state[k] = v
		}
		return
	}
	key := event
	if key == "" {
		key = "value"
	}
	s.state[key] = raw
}

// fanOut queues a message for every member. Callers hold ns.mu, which is
// what serializes publishes into each subscriber's queue in order.
func (b *Broker) fanOut(ctx context.Context, members map[string]*Subscription, msg Message) {
	for _, sub := range members {
		b.send(ctx, sub, msg)
	}
}

func (b *Broker) send(ctx context.Context, sub *Subscription, msg Message) {
	if sub.deliver(ctx, msg, b.config.DeliveryMode, b.config.PublishBlockTimeout) {
		atomic.AddUint64(&b.deliveredCount, 1)
		if b.metrics != nil && msg.Type == MessageTypeUpdate {
			b.metrics.AddDeltas(1)
		}
		return
	}
	atomic.AddUint64(&b.droppedCount, 1)
	if b.metrics != nil {
		b.metrics.IncDropped()
	}
	if b.logger != nil {
		b.logger.Warn("Dropped realtime message for slow subscriber",
			"subscription", sub.id, "namespace", msg.Namespace, "room", msg.Room, "type", msg.Type)
	}
}

// encodePayload marshals a payload once and enforces the size cap. A
// payload of exactly the cap passes; one byte more is rejected.
func (b *Broker) encodePayload(payload any) (json.RawMessage, error) {
	var raw json.RawMessage
	switch v := payload.(type) {
	case nil:
		raw = json.RawMessage("null")
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		buf := bytebufferpool.Get()
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			bytebufferpool.Put(buf)
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		raw = make(json.RawMessage, buf.Len())
		copy(raw, buf.B)
		raw = bytes.TrimSpace(raw)
		bytebufferpool.Put(buf)
	}

	if len(raw) > b.config.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, len(raw), b.config.MaxPayloadBytes)
	}
	return raw, nil
}

// encodeState renders a retained view as a JSON object. Callers hold the
// namespace mutex.
func encodeState(state map[string]json.RawMessage) json.RawMessage {
	if len(state) == 0 {
		return json.RawMessage(`{}`)
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(state); err != nil {
		return json.RawMessage(`{}`)
	}
	out := make(json.RawMessage, buf.Len())
	copy(out, buf.B)
	return bytes.TrimSpace(out)
}

func (b *Broker) emitEvent(ctx context.Context, eventType string, data map[string]interface{}) {
	b.mu.RLock()
	subject := b.subject
	b.mu.RUnlock()
	if subject == nil {
		return
	}
	event := platform.NewCloudEvent(eventType, "realtime-broker", data, nil)
	go func() {
		if err := subject.NotifyObservers(ctx, event); err != nil && b.logger != nil {
			b.logger.Debug("Failed to emit realtime event", "type", eventType, "error", err)
		}
	}()
}

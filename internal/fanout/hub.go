package fanout

import (
	"encoding/json"
	"sync"

	"carebridge.org/internal/obs"
)

// Subscriber is a live connection handle the hub can push to. Connection
// implements it; tests substitute fakes.
type Subscriber interface {
	ID() string
	UserID() string
	Send(payload []byte) error
}

// Relay forwards room publishes to room members connected on other service
// instances. Optional; nil means single-instance operation. excludeUserID
// travels with the frame so remote hubs apply the same delivery exclusion
// as the originating one.
type Relay interface {
	Forward(room string, payload []byte, excludeUserID string)
}

// Hub holds the mapping from room key to the set of currently-subscribed
// connections. It is the only component that reasons about live connections:
// durability for messages comes from the message log, never from here.
type Hub struct {
	mu        sync.RWMutex
	rooms     map[string]map[string]Subscriber // room key -> connection id -> connection
	connRooms map[string]map[string]struct{}   // connection id -> set of room keys
	conns     map[string]Subscriber

	relay Relay
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:     make(map[string]map[string]Subscriber),
		connRooms: make(map[string]map[string]struct{}),
		conns:     make(map[string]Subscriber),
	}
}

// SetRelay installs the cross-instance relay. Call before serving traffic.
func (h *Hub) SetRelay(r Relay) { h.relay = r }

// Attach registers a connection and joins it to its user room.
func (h *Hub) Attach(conn Subscriber) {
	h.mu.Lock()
	h.conns[conn.ID()] = conn
	h.connRooms[conn.ID()] = make(map[string]struct{})
	h.mu.Unlock()

	h.Join(UserRoom(conn.UserID()), conn)
	obs.WSConnected()
}

// Detach removes a connection from every room it joined.
func (h *Hub) Detach(conn Subscriber) {
	h.mu.Lock()
	if _, ok := h.conns[conn.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.ID())
	for room := range h.connRooms[conn.ID()] {
		h.leaveLocked(room, conn.ID())
	}
	delete(h.connRooms, conn.ID())
	h.mu.Unlock()
	obs.WSDisconnected()
}

// Join adds the connection to a room. Rejoining is idempotent.
func (h *Hub) Join(room string, conn Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID()]; !ok {
		return
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]Subscriber)
		h.rooms[room] = members
	}
	members[conn.ID()] = conn
	h.connRooms[conn.ID()][room] = struct{}{}
}

// Leave removes the connection from a room.
func (h *Hub) Leave(room string, conn Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, conn.ID())
}

// PublishMessage fans a receive_message event out to every connection in the
// conversation room, including the sender's own other connections so
// multi-tab clients stay in sync.
func (h *Hub) PublishMessage(conversationID string, evt MessageEvent) error {
	evt.Event = EventReceiveMessage
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	h.publish(ChatRoom(conversationID), payload, "")
	return nil
}

// PublishTyping fans a user_typing event out to all other connections in the
// room. Typing signals are never echoed back to any of the typist's own
// connections.
func (h *Hub) PublishTyping(conversationID, userID string, isTyping bool) error {
	payload, err := json.Marshal(TypingEvent{
		Event:          EventUserTyping,
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return err
	}
	h.publish(ChatRoom(conversationID), payload, userID)
	return nil
}

// NotifyUser pushes a payload to all of a user's connections.
func (h *Hub) NotifyUser(userID string, payload []byte) int {
	return h.publish(UserRoom(userID), payload, "")
}

// Deliver writes a payload to local members of a room without relaying it
// again. The relay calls this for frames arriving from other instances;
// excludeUserID carries the originating hub's exclusion, so typing events
// do not echo to the typist's connections here either.
func (h *Hub) Deliver(room string, payload []byte, excludeUserID string) {
	h.deliverLocal(room, payload, excludeUserID)
}

// Close terminates all tracked connections and clears hub state.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]Subscriber, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.rooms = make(map[string]map[string]Subscriber)
	h.connRooms = make(map[string]map[string]struct{})
	h.conns = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, conn := range conns {
		if closer, ok := conn.(interface{ Close(int, string) }); ok {
			closer.Close(1001, "hub shutdown")
		}
		obs.WSDisconnected()
	}
}

func (h *Hub) publish(room string, payload []byte, excludeUserID string) int {
	delivered := h.deliverLocal(room, payload, excludeUserID)
	if h.relay != nil {
		h.relay.Forward(room, payload, excludeUserID)
	}
	return delivered
}

func (h *Hub) deliverLocal(room string, payload []byte, excludeUserID string) int {
	h.mu.RLock()
	members := h.rooms[room]
	targets := make([]Subscriber, 0, len(members))
	for _, conn := range members {
		if excludeUserID != "" && conn.UserID() == excludeUserID {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			dropped++
			continue
		}
		delivered++
	}
	obs.FanoutDelivered(delivered)
	if dropped > 0 {
		obs.FanoutDropped(dropped)
	}
	return delivered
}

func (h *Hub) leaveLocked(room, connID string) {
	members := h.rooms[room]
	if members == nil {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
	if rooms, ok := h.connRooms[connID]; ok {
		delete(rooms, room)
	}
}

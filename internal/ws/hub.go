package ws

import (
	"context"
	"encoding/json"
	"sync"

	"chat-engine/internal/logging"
	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

// ConnLookup finds the live connection of a user.
type ConnLookup interface {
	ConnectionFor(userID string) (string, bool)
}

// Hub tracks live clients and the session channels they are subscribed to. Sends never
// block: a client whose buffer is full is dropped.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	channels map[string]map[string]*Client
	// identified connections per user
	byUser   map[string]map[string]*Client
	presence ConnLookup

	// lifecycle runs on its own goroutine; callers may hold other locks while dropping.
	lifecycle func(ctx context.Context, event string, info ConnInfo, reason string)
}

// NewHub creates an empty hub.
func NewHub(presence ConnLookup) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		channels:  make(map[string]map[string]*Client),
		byUser:    make(map[string]map[string]*Client),
		presence:  presence,
		lifecycle: publishLifecycle,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes c from every channel and closes its send buffer. It reports false
// if c was already gone.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return false
	}
	for sessionID := range c.subs {
		h.removeLocked(c, sessionID)
	}
	if conns, ok := h.byUser[c.UserID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	delete(h.clients, c.ID)
	c.closed = true
	close(c.send)
	return true
}

// BindUser makes c reachable through SubscribeUser and UnsubscribeUser.
func (h *Hub) BindUser(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	conns, ok := h.byUser[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.byUser[c.UserID] = conns
	}
	conns[c.ID] = c
}

// Subscribe adds c to the session channel. Authorization is the caller's job.
func (h *Hub) Subscribe(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}

	h.subscribeLocked(c, sessionID)
}

func (h *Hub) Unsubscribe(c *Client, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c, sessionID)
}

// Subscriptions lists the channels c belongs to.
func (h *Hub) Subscriptions(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) PublishToSession(sessionID string, event models.ChatEvent) {
	payload, ok := encode(event)
	if !ok {
		return
	}

	h.mu.RLock()
	var slow []*Client
	for _, c := range h.channels[sessionID] {
		if !h.trySendLocked(c, payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropAll(slow)
}

func (h *Hub) PublishToUser(userID string, event models.ChatEvent) {
	c, ok := h.clientFor(userID)
	if !ok {
		return
	}
	h.Send(c, event)
}

// SubscribeUser joins every identified connection of the user to the channel.
func (h *Hub) SubscribeUser(userID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.byUser[userID] {
		if !c.closed {
			h.subscribeLocked(c, sessionID)
		}
	}
}

// UnsubscribeUser removes every connection of the user from the channel.
func (h *Hub) UnsubscribeUser(userID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.channels[sessionID] {
		if c.UserID == userID {
			h.removeLocked(c, sessionID)
		}
	}
}

// DropSession empties a channel after its session was deleted.
func (h *Hub) DropSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.channels[sessionID] {
		delete(c.subs, sessionID)
	}
	delete(h.channels, sessionID)
}

// BroadcastAll sends event to every connected client.
func (h *Hub) BroadcastAll(event models.ChatEvent) {
	payload, ok := encode(event)
	if !ok {
		return
	}

	h.mu.RLock()
	var slow []*Client
	for _, c := range h.clients {
		if !h.trySendLocked(c, payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	h.dropAll(slow)
}

// Send delivers v to a single client, typically a reply.
func (h *Hub) Send(c *Client, v interface{}) {
	payload, ok := encode(v)
	if !ok {
		return
	}

	h.mu.RLock()
	delivered := h.trySendLocked(c, payload)
	h.mu.RUnlock()
	if !delivered {
		h.dropAll([]*Client{c})
	}
}

func (h *Hub) clientFor(userID string) (*Client, bool) {
	if h.presence == nil {
		return nil, false
	}
	connID, ok := h.presence.ConnectionFor(userID)
	if !ok {
		return nil, false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

// trySendLocked must run under mu so the buffer cannot be closed mid-send. A closed
// client counts as delivered; there is nothing left to drop.
func (h *Hub) trySendLocked(c *Client, payload []byte) bool {
	if c.closed {
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (h *Hub) dropAll(clients []*Client) {
	for _, c := range clients {
		if h.Unregister(c) {
			observability.IncWSDropped()
			logging.L().Warn().Str(logging.FieldConnID, c.ID).Str(logging.FieldUserID, c.UserID).Msg("dropping slow websocket client")
			go h.lifecycle(context.Background(), "ws_dropped", c.Info, "send buffer full")
		}
	}
}

func (h *Hub) subscribeLocked(c *Client, sessionID string) {
	members, ok := h.channels[sessionID]
	if !ok {
		members = make(map[string]*Client)
		h.channels[sessionID] = members
	}
	members[c.ID] = c
	c.subs[sessionID] = struct{}{}
}

func (h *Hub) removeLocked(c *Client, sessionID string) {
	delete(c.subs, sessionID)
	if members, ok := h.channels[sessionID]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.channels, sessionID)
		}
	}
}

func encode(v interface{}) ([]byte, bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.L().Error().Err(err).Msg("encode websocket payload")
		return nil, false
	}
	return payload, true
}

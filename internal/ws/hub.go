// Package ws pushes newly appended messages to WebSocket listeners. It is
// an addition to polling: clients still advance their cursor from what
// they receive and can always catch up with a poll.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/christopherjohns/pollchat/internal/message"
	"github.com/christopherjohns/pollchat/internal/room"
	"github.com/christopherjohns/pollchat/internal/storage"
)

// Envelope is the JSON structure sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// roomFeed is one backend subscription shared by every listener in a room.
type roomFeed struct {
	roomID  string
	clients map[*Client]struct{}
	sub     storage.Subscription
}

// Hub groups listeners by room and relays the room's pub/sub channel to
// them. The first listener in a room subscribes; the last one to leave
// closes the subscription.
type Hub struct {
	backend storage.Backend
	conns   *ConnManager

	mu     sync.Mutex
	rooms  map[string]*roomFeed
	closed bool
}

// NewHub creates a Hub that subscribes on backend.
func NewHub(backend storage.Backend, opts ...ConnManagerOption) *Hub {
	return &Hub{
		backend: backend,
		conns:   NewConnManager(opts...),
		rooms:   make(map[string]*roomFeed),
	}
}

// ConnMgr returns the connection manager for this hub.
func (h *Hub) ConnMgr() *ConnManager {
	return h.conns
}

// addClient registers c and joins it to its room's feed. The returned
// context is cancelled when the client is removed.
func (h *Hub) addClient(ctx context.Context, c *Client) (context.Context, error) {
	connCtx := h.conns.Add(c)
	if connCtx.Err() != nil {
		return connCtx, nil
	}

	h.mu.Lock()
	if feed := h.rooms[c.roomID]; feed != nil {
		feed.clients[c] = struct{}{}
		h.mu.Unlock()
		return connCtx, nil
	}
	h.mu.Unlock()

	// Subscribing is a backend round trip; other rooms must not wait on it.
	sub, err := h.backend.Subscribe(ctx, room.Channel(c.roomID))
	if err != nil {
		h.conns.Remove(c)
		return nil, fmt.Errorf("subscribe to room %q: %w", c.roomID, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.Close()
		h.conns.Remove(c)
		return connCtx, nil
	}
	feed := h.rooms[c.roomID]
	if feed == nil {
		feed = &roomFeed{
			roomID:  c.roomID,
			clients: make(map[*Client]struct{}),
			sub:     sub,
		}
		h.rooms[c.roomID] = feed
		go h.relay(feed)
		sub = nil
	}
	feed.clients[c] = struct{}{}
	h.mu.Unlock()

	// Another listener installed the room's feed first.
	if sub != nil {
		sub.Close()
	}
	return connCtx, nil
}

// removeClient unregisters c, closing the room's subscription if c was
// the last listener.
func (h *Hub) removeClient(c *Client) {
	h.conns.Remove(c)

	h.mu.Lock()
	feed, ok := h.rooms[c.roomID]
	var last bool
	if ok {
		delete(feed.clients, c)
		if len(feed.clients) == 0 {
			delete(h.rooms, c.roomID)
			last = true
		}
	}
	h.mu.Unlock()

	if last {
		feed.sub.Close()
	}
}

// relay forwards every payload on the feed's subscription until it closes.
func (h *Hub) relay(feed *roomFeed) {
	for raw := range feed.sub.Messages() {
		m, err := message.Decode(raw)
		if err != nil {
			log.Printf("ws: dropping undecodable payload in room %q: %v", feed.roomID, err)
			continue
		}
		h.broadcast(feed, m)
	}
}

func (h *Hub) broadcast(feed *roomFeed, m *message.Message) {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("ws: failed to marshal message: %v", err)
		return
	}
	env, err := json.Marshal(Envelope{Type: "chat", Payload: data})
	if err != nil {
		log.Printf("ws: failed to marshal envelope: %v", err)
		return
	}

	h.mu.Lock()
	targets := make([]*Client, 0, len(feed.clients))
	for c := range feed.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.conns.Send(c, env)
	}
}

// ClientCount returns the number of listeners in a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if feed, ok := h.rooms[roomID]; ok {
		return len(feed.clients)
	}
	return 0
}

// RoomCount returns the number of rooms with an open subscription.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Shutdown closes every connection and subscription.
func (h *Hub) Shutdown() {
	h.conns.Shutdown()

	h.mu.Lock()
	h.closed = true
	feeds := h.rooms
	h.rooms = make(map[string]*roomFeed)
	h.mu.Unlock()

	for _, feed := range feeds {
		feed.sub.Close()
	}
}

package ws

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const (
	// sendBufferSize is the number of messages that can be queued per client.
	sendBufferSize = 16

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second
)

// Client is one connected stream listener.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	id     string
	roomID string
}

// ConnStats holds point-in-time connection statistics.
type ConnStats struct {
	Active          int
	MaxConns        int
	Rejected        int64
	DroppedMessages int64
}

// ConnManager tracks active stream connections. Each client gets a
// buffered send channel drained by its own write pump; a client that
// falls behind loses messages rather than stalling the room.
type ConnManager struct {
	mu       sync.Mutex
	clients  map[*Client]context.CancelFunc
	closed   bool
	maxConns int

	rejected        atomic.Int64
	droppedMessages atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns sets the maximum number of concurrent connections.
// A value of 0 means unlimited (default).
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// NewConnManager creates a connection manager.
func NewConnManager(opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		clients: make(map[*Client]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// Add registers a client and starts its write pump. The returned context
// is cancelled when the client is removed or the manager shuts down. If
// the manager is closed or full the connection is closed and the context
// is already cancelled.
func (cm *ConnManager) Add(c *Client) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return cancelledContext()
	}
	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.rejected.Add(1)
		c.conn.Close(websocket.StatusTryAgainLater, "server at capacity")
		return cancelledContext()
	}

	c.send = make(chan []byte, sendBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	cm.clients[c] = cancel
	go cm.writePump(ctx, c)
	return ctx
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Remove stops a client's write pump. Removing twice is a no-op.
func (cm *ConnManager) Remove(c *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cancel, ok := cm.clients[c]; ok {
		delete(cm.clients, c)
		cancel()
		close(c.send)
	}
}

// Send queues data for the client. It returns false if the client is not
// registered or its buffer is full.
func (cm *ConnManager) Send(c *Client, data []byte) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		cm.droppedMessages.Add(1)
		log.Printf("ws: send buffer full for client %s, dropping message", c.id)
		return false
	}
}

// Count returns the number of active connections.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns point-in-time connection statistics.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	cm.mu.Unlock()
	return ConnStats{
		Active:          active,
		MaxConns:        cm.maxConns,
		Rejected:        cm.rejected.Load(),
		DroppedMessages: cm.droppedMessages.Load(),
	}
}

// Shutdown closes every connection with StatusGoingAway and rejects new ones.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	clients := cm.clients
	cm.clients = make(map[*Client]context.CancelFunc)
	for c, cancel := range clients {
		cancel()
		close(c.send)
	}
	cm.mu.Unlock()

	for c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// writePump writes queued messages until ctx is cancelled or the send
// channel is closed.
func (cm *ConnManager) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				log.Printf("ws: write to client %s failed: %v", c.id, err)
				return
			}
		}
	}
}

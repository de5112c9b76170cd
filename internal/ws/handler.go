package ws

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"

	"github.com/christopherjohns/pollchat/internal/room"
	"nhooyr.io/websocket"
)

// Handler upgrades GET /api/stream?room=... to a WebSocket that receives
// every message appended to the room from then on.
type Handler struct {
	hub *Hub
}

// NewHandler creates a Handler on hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP rejects a missing room before upgrading, then holds the
// connection open until the client goes away or the hub shuts down.
// Anything the client sends is discarded.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if err := room.Validate(roomID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		log.Printf("ws: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{
		conn:   conn,
		id:     generateClientID(),
		roomID: roomID,
	}

	connCtx, err := h.hub.addClient(r.Context(), client)
	if err != nil {
		log.Printf("ws: %v", err)
		conn.Close(websocket.StatusInternalError, "backend unavailable")
		return
	}
	defer h.hub.removeClient(client)

	readCtx := conn.CloseRead(context.Background())
	select {
	case <-readCtx.Done():
	case <-connCtx.Done():
	case <-r.Context().Done():
	}
}

func generateClientID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

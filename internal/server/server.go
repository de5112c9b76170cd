// Package server exposes the message store and identity registry as a
// JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/christopherjohns/pollchat/internal/message"
	"github.com/christopherjohns/pollchat/internal/ratelimit"
	"github.com/christopherjohns/pollchat/internal/room"
	"github.com/christopherjohns/pollchat/internal/storage"
	"github.com/christopherjohns/pollchat/internal/user"
	"github.com/christopherjohns/pollchat/internal/ws"
)

// maxBodyBytes caps JSON request bodies on the write endpoints.
const maxBodyBytes = 16 << 10

// Server is the HTTP server for the chat API.
type Server struct {
	addr     string
	mux      *http.ServeMux
	http     *http.Server
	backend  storage.Backend
	messages message.MessageStore
	users    *user.Registry
	limiter  *ratelimit.SendLimiter
	hub      *ws.Hub
	done     chan struct{}
}

type options struct {
	capacity       int
	rateMax        int
	rateWindow     time.Duration
	maxStreamConns int
}

// Option configures a Server.
type Option func(*options)

// WithCapacity sets the number of messages retained per room.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithRateLimit allows max sends per window per client address.
func WithRateLimit(max int, window time.Duration) Option {
	return func(o *options) {
		o.rateMax = max
		o.rateWindow = window
	}
}

// WithMaxStreamConns caps concurrent stream connections.
func WithMaxStreamConns(n int) Option {
	return func(o *options) { o.maxStreamConns = n }
}

// New creates a Server listening on addr, storing everything on backend.
func New(addr string, backend storage.Backend, opts ...Option) *Server {
	o := options{capacity: message.DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		addr:     addr,
		mux:      http.NewServeMux(),
		backend:  backend,
		messages: message.NewStore(backend, message.WithCapacity(o.capacity)),
		users:    user.NewRegistry(backend),
		limiter:  ratelimit.NewSendLimiter(o.rateMax, o.rateWindow),
		hub:      ws.NewHub(backend, ws.WithMaxConns(o.maxStreamConns)),
		done:     make(chan struct{}),
	}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Run() error {
	go s.pruneLoop()
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes stream connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.hub.Shutdown()
	return s.http.Shutdown(ctx)
}

func (s *Server) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/messages", s.handleGetMessages)
	s.mux.HandleFunc("POST /api/send-message", s.handleSendMessage)
	s.mux.HandleFunc("POST /api/set-username", s.handleSetUsername)
	s.mux.HandleFunc("GET /api/username", s.handleGetUsername)
	s.mux.Handle("GET /api/stream", ws.NewHandler(s.hub))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Ping(r.Context()); err != nil {
		log.Printf("server: health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var cursor int64
	if v := q.Get("lastTimestamp"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lastTimestamp must be an integer")
			return
		}
		cursor = n
	}

	msgs, err := s.messages.GetSince(r.Context(), q.Get("room"), cursor)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type sendMessageRequest struct {
	Room      string `json:"room"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(ratelimit.ClientKey(r)) {
		writeError(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}

	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	err := s.messages.Append(r.Context(), req.Room, message.Message{
		Sender:    req.Sender,
		Message:   req.Message,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// decodeBody reads at most maxBodyBytes of JSON into v, writing the error
// response itself when it fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}

type setUsernameRequest struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type setUsernameResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
}

func (s *Server) handleSetUsername(w http.ResponseWriter, r *http.Request) {
	var req setUsernameRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id := user.NewIdentity()
	if err := s.users.SetName(r.Context(), req.Room, id, req.Username); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setUsernameResponse{Success: true, UserID: id})
}

func (s *Server) handleGetUsername(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name, err := s.users.GetName(r.Context(), q.Get("room"), q.Get("userId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": name})
}

// writeStoreError maps core errors to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, room.ErrMissingID), errors.Is(err, message.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		log.Printf("server: %v", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		log.Printf("server: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: failed to encode response: %v", err)
	}
}

// Package ratelimit throttles message sends per client address.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// SendLimiter counts sends per client address within a sliding window.
type SendLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewSendLimiter allows max sends per window for each client. A max or
// window of zero disables limiting.
func NewSendLimiter(max int, window time.Duration) *SendLimiter {
	return &SendLimiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow reports whether client may send now, recording the send if so.
func (l *SendLimiter) Allow(client string) bool {
	if l.max <= 0 || l.window <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	valid := l.entries[client][:0]
	for _, t := range l.entries[client] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.max {
		l.entries[client] = valid
		return false
	}
	l.entries[client] = append(valid, now)
	return true
}

// Prune drops clients with no sends inside the window.
func (l *SendLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for client, times := range l.entries {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.entries, client)
		}
	}
}

// Clients returns the number of tracked clients.
func (l *SendLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ClientKey returns the address a request is limited by.
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

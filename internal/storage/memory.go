package storage

import (
	"context"
	"log"
	"sync"
)

// subscriptionBuffer is the number of payloads that can be queued per
// subscriber before new ones are dropped.
const subscriptionBuffer = 64

// MemoryBackend keeps lists, hashes and subscribers in process memory.
// Each method is individually atomic, like a single Redis command.
type MemoryBackend struct {
	mu     sync.RWMutex
	lists  map[string][]string
	hashes map[string]map[string]string
	subs   map[string]map[*memorySubscription]struct{}
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		lists:  make(map[string][]string),
		hashes: make(map[string]map[string]string),
		subs:   make(map[string]map[*memorySubscription]struct{}),
	}
}

// PushFront inserts value at the head of the list.
func (b *MemoryBackend) PushFront(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("lpush", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.lists[key]
	list = append(list, "")
	copy(list[1:], list)
	list[0] = value
	b.lists[key] = list
	return nil
}

// Trim keeps the first keep elements of the list.
func (b *MemoryBackend) Trim(ctx context.Context, key string, keep int64) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ltrim", err)
	}
	if keep <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.lists[key]
	if int64(len(list)) > keep {
		b.lists[key] = list[:keep:keep]
	}
	return nil
}

// Range returns a copy of the list, head first.
func (b *MemoryBackend) Range(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("lrange", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.lists[key]
	result := make([]string, len(list))
	copy(result, list)
	return result, nil
}

// HSet sets field in the hash.
func (b *MemoryBackend) HSet(ctx context.Context, key, field, value string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("hset", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.hashes[key]
	if h == nil {
		h = make(map[string]string)
		b.hashes[key] = h
	}
	h[field] = value
	return nil
}

// HGet reads field from the hash.
func (b *MemoryBackend) HGet(ctx context.Context, key, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, unavailable("hget", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.hashes[key][field]
	return v, ok, nil
}

// Publish queues payload on every subscriber of channel. A subscriber
// whose buffer is full misses the payload.
func (b *MemoryBackend) Publish(ctx context.Context, channel, payload string) error {
	if err := ctx.Err(); err != nil {
		return unavailable("publish", err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[channel] {
		select {
		case s.out <- payload:
		default:
			log.Printf("memory: subscriber buffer full on %q, dropping payload", channel)
		}
	}
	return nil
}

// Subscribe registers a subscriber on channel.
func (b *MemoryBackend) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("subscribe", err)
	}
	s := &memorySubscription{
		backend: b,
		channel: channel,
		out:     make(chan string, subscriptionBuffer),
	}
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySubscription]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Ping always succeeds unless ctx is done.
func (b *MemoryBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

type memorySubscription struct {
	backend *MemoryBackend
	channel string
	out     chan string
	closed  bool
}

func (s *memorySubscription) Messages() <-chan string {
	return s.out
}

// Close unregisters the subscriber. It holds the backend lock so that no
// Publish can send on the closed channel.
func (s *memorySubscription) Close() error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	subs := b.subs[s.channel]
	delete(subs, s)
	if len(subs) == 0 {
		delete(b.subs, s.channel)
	}
	close(s.out)
	return nil
}

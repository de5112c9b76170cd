// Package message implements the per-room bounded message log and the
// timestamp-cursor sync protocol on top of a storage.Backend.
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/christopherjohns/pollchat/internal/room"
	"github.com/christopherjohns/pollchat/internal/storage"
)

// DefaultCapacity is the number of messages retained per room.
const DefaultCapacity = 100

// MessageStore is the interface transport adapters use.
type MessageStore interface {
	Append(ctx context.Context, roomID string, msg Message) error
	ReadAll(ctx context.Context, roomID string) ([]*Message, error)
	GetSince(ctx context.Context, roomID string, cursor int64) ([]*Message, error)
}

// Store keeps a bounded, newest-first log per room.
//
// Append pushes and then trims as two separate backend calls. Between the
// two a concurrent reader may see more than capacity messages, and two
// interleaved appends may trim a message another reader still expected.
// Readers tolerate both. There is no lock: concurrent writers to a room
// race at the backend.
type Store struct {
	backend  storage.Backend
	capacity int64
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets how many messages are retained per room.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = int64(n)
		}
	}
}

// NewStore creates a Store on backend.
func NewStore(backend storage.Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		capacity: DefaultCapacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append inserts msg at the head of the room's log and trims the log to
// capacity. A non-positive timestamp is replaced with the current time.
// Only a failed push fails the append; a failed trim or publish is logged,
// since the message is already stored and the next append trims again.
func (s *Store) Append(ctx context.Context, roomID string, msg Message) error {
	if err := room.Validate(roomID); err != nil {
		return err
	}
	if msg.Timestamp <= 0 {
		msg.Timestamp = s.now().UnixMilli()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	key := room.MessagesKey(roomID)
	if err := s.backend.PushFront(ctx, key, string(data)); err != nil {
		return fmt.Errorf("append to room %q: %w", roomID, err)
	}
	if err := s.backend.Trim(ctx, key, s.capacity); err != nil {
		log.Printf("message: failed to trim room %q: %v", roomID, err)
	}
	if err := s.backend.Publish(ctx, room.Channel(roomID), string(data)); err != nil {
		log.Printf("message: failed to publish to room %q: %v", roomID, err)
	}
	return nil
}

// ReadAll returns every retained message in the room. Callers must not
// rely on the order. Records that fail to decode are logged and skipped.
func (s *Store) ReadAll(ctx context.Context, roomID string) ([]*Message, error) {
	if err := room.Validate(roomID); err != nil {
		return nil, err
	}

	vals, err := s.backend.Range(ctx, room.MessagesKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("read room %q: %w", roomID, err)
	}

	now := s.now()
	msgs := make([]*Message, 0, len(vals))
	for _, v := range vals {
		m, err := decodeWithDefaults(v, now)
		if err != nil {
			log.Printf("message: dropping undecodable record in room %q: %v: %q", roomID, err, v)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

package message

import (
	"context"
	"errors"
)

// ErrInvalidCursor is returned for a negative cursor.
var ErrInvalidCursor = errors.New("cursor must be non-negative")

// GetSince returns the room's messages with a timestamp strictly greater
// than cursor, in no particular order. It never blocks waiting for new
// messages; an empty result is normal.
func (s *Store) GetSince(ctx context.Context, roomID string, cursor int64) ([]*Message, error) {
	if cursor < 0 {
		return nil, ErrInvalidCursor
	}
	msgs, err := s.ReadAll(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return Since(msgs, cursor), nil
}

// Since filters msgs to those newer than cursor.
func Since(msgs []*Message, cursor int64) []*Message {
	result := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Timestamp > cursor {
			result = append(result, m)
		}
	}
	return result
}

// Cursor is the highest timestamp a client has been delivered. The zero
// value requests the whole retained history.
//
// A client that falls more than a full log behind silently misses the
// evicted messages. A message that arrives late with a timestamp at or
// below the cursor, including one tied with the newest delivered message,
// is never delivered.
type Cursor int64

// Advance returns the cursor after msgs were delivered: the largest
// timestamp among them, or c itself if msgs is empty. It never decreases.
func (c Cursor) Advance(msgs []*Message) Cursor {
	next := c
	for _, m := range msgs {
		if Cursor(m.Timestamp) > next {
			next = Cursor(m.Timestamp)
		}
	}
	return next
}

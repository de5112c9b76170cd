// Package room holds the key layout for rooms. Rooms are implicit: a room
// exists once something is written under its keys and is never destroyed.
package room

import (
	"errors"
	"strings"
)

// ErrMissingID is returned when an operation is attempted without a room.
var ErrMissingID = errors.New("room is required")

// Validate rejects an empty or blank room ID.
func Validate(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	return nil
}

// MessagesKey returns the list key holding a room's message log.
func MessagesKey(id string) string {
	return "chat:" + id
}

// UsersKey returns the hash key mapping identities to display names.
func UsersKey(id string) string {
	return "users:" + id
}

// Channel returns the pub/sub channel new messages are published on.
func Channel(id string) string {
	return id
}

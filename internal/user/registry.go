// Package user maps per-session identities to display names, per room.
package user

import (
	"context"
	"fmt"

	"github.com/christopherjohns/pollchat/internal/room"
	"github.com/christopherjohns/pollchat/internal/storage"
)

// AnonymousName is returned for an identity that never set a name.
const AnonymousName = "Anonymous"

// Registry stores display names in one hash per room. Names are not
// unique and the latest SetName for an identity wins.
type Registry struct {
	backend storage.Backend
}

// NewRegistry creates a Registry on backend.
func NewRegistry(backend storage.Backend) *Registry {
	return &Registry{backend: backend}
}

// SetName records name for identity in the room. The identity is opaque
// and not validated.
func (r *Registry) SetName(ctx context.Context, roomID, identity, name string) error {
	if err := room.Validate(roomID); err != nil {
		return err
	}
	if err := r.backend.HSet(ctx, room.UsersKey(roomID), identity, name); err != nil {
		return fmt.Errorf("set name in room %q: %w", roomID, err)
	}
	return nil
}

// GetName returns the display name for identity in the room, or
// AnonymousName if none (or an empty one) was set.
func (r *Registry) GetName(ctx context.Context, roomID, identity string) (string, error) {
	if err := room.Validate(roomID); err != nil {
		return "", err
	}
	name, found, err := r.backend.HGet(ctx, room.UsersKey(roomID), identity)
	if err != nil {
		return "", fmt.Errorf("get name in room %q: %w", roomID, err)
	}
	if !found || name == "" {
		return AnonymousName, nil
	}
	return name, nil
}

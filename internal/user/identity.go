package user

import "github.com/google/uuid"

// NewIdentity returns a fresh opaque identity for one username-set action.
// Identities are not persisted anywhere except as registry fields.
func NewIdentity() string {
	return uuid.NewString()
}

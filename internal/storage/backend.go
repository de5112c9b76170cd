// Package storage defines the list + hash + pub/sub substrate that rooms
// are stored on, with a Redis implementation and an in-memory one.
package storage

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the backend could not be reached, timed
// out, or rejected a command. Callers are not expected to retry.
var ErrUnavailable = errors.New("storage: backend unavailable")

// Backend is the storage contract the message store and identity registry
// are built on. There are no cross-key transactions: every method is a
// single independent round trip.
type Backend interface {
	// PushFront inserts value at the head of the list at key.
	PushFront(ctx context.Context, key, value string) error
	// Trim retains only the first keep elements of the list at key. A keep
	// of zero or less leaves the list untouched.
	Trim(ctx context.Context, key string, keep int64) error
	// Range returns every element of the list at key, head first.
	Range(ctx context.Context, key string) ([]string, error)

	// HSet sets field in the hash at key.
	HSet(ctx context.Context, key, field, value string) error
	// HGet returns the value of field in the hash at key. found is false
	// when the field does not exist.
	HGet(ctx context.Context, key, field string) (value string, found bool, err error)

	// Publish sends payload to every current subscriber of channel.
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe listens on channel until the subscription is closed.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Ping(ctx context.Context) error
}

// Subscription delivers payloads published on a channel.
type Subscription interface {
	// Messages is closed once the subscription is closed.
	Messages() <-chan string
	Close() error
}

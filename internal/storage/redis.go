package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTimeout bounds every Redis round trip.
const DefaultTimeout = 2 * time.Second

// RedisBackend stores lists and hashes in Redis.
type RedisBackend struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisBackend wraps client. A timeout of zero uses DefaultTimeout.
func NewRedisBackend(client redis.UniversalClient, timeout time.Duration) *RedisBackend {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisBackend{
		client:  client,
		timeout: timeout,
	}
}

func (b *RedisBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// PushFront runs LPUSH.
func (b *RedisBackend) PushFront(ctx context.Context, key, value string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := b.client.LPush(ctx, key, value).Err(); err != nil {
		return unavailable("lpush", err)
	}
	return nil
}

// Trim runs LTRIM key 0 keep-1.
func (b *RedisBackend) Trim(ctx context.Context, key string, keep int64) error {
	if keep <= 0 {
		return nil
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := b.client.LTrim(ctx, key, 0, keep-1).Err(); err != nil {
		return unavailable("ltrim", err)
	}
	return nil
}

// Range runs LRANGE key 0 -1.
func (b *RedisBackend) Range(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	vals, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, unavailable("lrange", err)
	}
	return vals, nil
}

// HSet runs HSET key field value.
func (b *RedisBackend) HSet(ctx context.Context, key, field, value string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := b.client.HSet(ctx, key, field, value).Err(); err != nil {
		return unavailable("hset", err)
	}
	return nil
}

// HGet runs HGET key field.
func (b *RedisBackend) HGet(ctx context.Context, key, field string) (string, bool, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	val, err := b.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("hget", err)
	}
	return val, true, nil
}

// Publish runs PUBLISH channel payload.
func (b *RedisBackend) Publish(ctx context.Context, channel, payload string) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return unavailable("publish", err)
	}
	return nil
}

// Subscribe runs SUBSCRIBE channel and waits for the confirmation, so
// anything published after it returns is delivered.
func (b *RedisBackend) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, channel)

	recvCtx, cancel := b.withTimeout(ctx)
	defer cancel()
	if _, err := ps.Receive(recvCtx); err != nil {
		ps.Close()
		return nil, unavailable("subscribe", err)
	}

	s := &redisSubscription{
		ps:   ps,
		out:  make(chan string, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go s.forward()
	return s, nil
}

// Ping runs PING.
func (b *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	if err := b.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan string
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		select {
		case s.out <- m.Payload:
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) Messages() <-chan string {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if err = s.ps.Close(); err != nil {
			log.Printf("redis: failed to close subscription: %v", err)
		}
	})
	return err
}

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// runBackendContract exercises behaviour every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("PushFrontOrdersNewestFirst", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for _, v := range []string{"a", "b", "c"} {
			if err := b.PushFront(ctx, "chat:r1", v); err != nil {
				t.Fatalf("push %q: %v", v, err)
			}
		}
		got, err := b.Range(ctx, "chat:r1")
		if err != nil {
			t.Fatalf("range: %v", err)
		}
		if fmt.Sprint(got) != "[c b a]" {
			t.Errorf("expected [c b a], got %v", got)
		}
	})

	t.Run("TrimKeepsHead", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			b.PushFront(ctx, "chat:r1", fmt.Sprintf("%d", i))
		}
		if err := b.Trim(ctx, "chat:r1", 3); err != nil {
			t.Fatalf("trim: %v", err)
		}
		got, _ := b.Range(ctx, "chat:r1")
		if fmt.Sprint(got) != "[4 3 2]" {
			t.Errorf("expected [4 3 2], got %v", got)
		}
	})

	t.Run("TrimNonPositiveKeepsList", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		for _, v := range []string{"a", "b", "c"} {
			b.PushFront(ctx, "chat:r1", v)
		}
		for _, keep := range []int64{0, -1} {
			if err := b.Trim(ctx, "chat:r1", keep); err != nil {
				t.Fatalf("trim %d: %v", keep, err)
			}
		}
		got, _ := b.Range(ctx, "chat:r1")
		if fmt.Sprint(got) != "[c b a]" {
			t.Errorf("expected [c b a], got %v", got)
		}
	})

	t.Run("TrimMissingKey", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Trim(context.Background(), "chat:none", 100); err != nil {
			t.Fatalf("trim on missing key: %v", err)
		}
	})

	t.Run("RangeMissingKeyIsEmpty", func(t *testing.T) {
		b := newBackend(t)
		got, err := b.Range(context.Background(), "chat:none")
		if err != nil {
			t.Fatalf("range: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected empty list, got %v", got)
		}
	})

	t.Run("KeysAreIsolated", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		b.PushFront(ctx, "chat:r1", "one")
		b.PushFront(ctx, "chat:r2", "two")
		got, _ := b.Range(ctx, "chat:r1")
		if len(got) != 1 || got[0] != "one" {
			t.Errorf("expected [one], got %v", got)
		}
	})

	t.Run("HashSetGet", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		if _, found, err := b.HGet(ctx, "users:r1", "id1"); err != nil || found {
			t.Fatalf("expected not found, got found=%v err=%v", found, err)
		}
		if err := b.HSet(ctx, "users:r1", "id1", "alice"); err != nil {
			t.Fatalf("hset: %v", err)
		}
		b.HSet(ctx, "users:r1", "id1", "alicia")
		v, found, err := b.HGet(ctx, "users:r1", "id1")
		if err != nil || !found {
			t.Fatalf("expected found, got found=%v err=%v", found, err)
		}
		if v != "alicia" {
			t.Errorf("expected last write 'alicia', got %q", v)
		}
	})

	t.Run("PublishSubscribe", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		sub, err := b.Subscribe(ctx, "r1")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer sub.Close()

		if err := b.Publish(ctx, "r1", "hello"); err != nil {
			t.Fatalf("publish: %v", err)
		}
		b.Publish(ctx, "r2", "elsewhere")

		select {
		case got := <-sub.Messages():
			if got != "hello" {
				t.Errorf("expected 'hello', got %q", got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for published payload")
		}
	})

	t.Run("CloseEndsMessages", func(t *testing.T) {
		b := newBackend(t)
		sub, err := b.Subscribe(context.Background(), "r1")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		sub.Close()
		sub.Close()

		deadline := time.After(2 * time.Second)
		for {
			select {
			case _, ok := <-sub.Messages():
				if !ok {
					return
				}
			case <-deadline:
				t.Fatal("messages channel not closed after Close")
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		b := newBackend(t)
		if err := b.Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}

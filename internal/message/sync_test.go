package message

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestGetSinceScenario(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "r1", msg("alice", "hi", 1000)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, "r1", msg("bob", "yo", 2000)); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := s.GetSince(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("get since 0: %v", err)
	}
	if got := timestamps(all); !reflect.DeepEqual(got, []int64{1000, 2000}) {
		t.Errorf("expected timestamps [1000 2000], got %v", got)
	}

	newer, err := s.GetSince(ctx, "r1", 1000)
	if err != nil {
		t.Fatalf("get since 1000: %v", err)
	}
	if len(newer) != 1 || newer[0].Sender != "bob" {
		t.Errorf("expected only bob's message, got %+v", newer)
	}

	none, err := s.GetSince(ctx, "r1", 2000)
	if err != nil {
		t.Fatalf("get since 2000: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no messages, got %d", len(none))
	}
}

func TestGetSinceFreshCursorReturnsWholeLog(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	for i := 1; i <= 30; i++ {
		if err := s.Append(ctx, "r1", msg("a", "x", int64(i*10))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.ReadAll(ctx, "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	fresh, err := s.GetSince(ctx, "r1", 0)
	if err != nil {
		t.Fatalf("get since: %v", err)
	}
	if !reflect.DeepEqual(timestamps(all), timestamps(fresh)) {
		t.Errorf("expected fresh cursor to return the whole log\nall:   %v\nfresh: %v", timestamps(all), timestamps(fresh))
	}
}

func TestGetSinceRejectsNegativeCursor(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetSince(context.Background(), "r1", -1)
	if !errors.Is(err, ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestSinceIsStrict(t *testing.T) {
	msgs := []*Message{
		{Timestamp: 5}, {Timestamp: 10}, {Timestamp: 10}, {Timestamp: 11},
	}
	got := Since(msgs, 10)
	if len(got) != 1 || got[0].Timestamp != 11 {
		t.Errorf("expected only timestamp 11, got %v", timestamps(got))
	}
	if Since(nil, 0) == nil {
		t.Error("expected an empty, non-nil slice")
	}
}

func TestCursorAdvance(t *testing.T) {
	tests := []struct {
		name  string
		start Cursor
		msgs  []*Message
		want  Cursor
	}{
		{"nil batch", 0, nil, 0},
		{"takes the maximum", 0, []*Message{{Timestamp: 30}, {Timestamp: 10}, {Timestamp: 20}}, 30},
		{"empty batch", 30, []*Message{}, 30},
		{"never decreases", 30, []*Message{{Timestamp: 5}}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.start.Advance(tt.msgs); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestPollingNeverRedelivers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	seen := make(map[string]int)
	var cursor Cursor
	poll := func() {
		got, err := s.GetSince(ctx, "r1", int64(cursor))
		if err != nil {
			t.Fatalf("get since: %v", err)
		}
		for _, m := range got {
			seen[m.Message]++
		}
		cursor = cursor.Advance(got)
	}

	ts := int64(1000)
	for round := 0; round < 20; round++ {
		for i := 0; i < round%4; i++ {
			ts++
			if err := s.Append(ctx, "r1", msg("a", fmt.Sprintf("m-%d", ts), ts)); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		poll()
	}

	for body, n := range seen {
		if n != 1 {
			t.Errorf("message %s delivered %d times", body, n)
		}
	}
	if want := int(ts - 1000); len(seen) != want {
		t.Errorf("expected %d distinct messages, got %d", want, len(seen))
	}
}

// A message tied with the cursor that shows up after the cursor reached
// that timestamp is skipped by the strict comparison.
func TestSameTimestampLateArrivalIsSkipped(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "r1", msg("alice", "first", 1000)); err != nil {
		t.Fatalf("append: %v", err)
	}

	var cursor Cursor
	got, err := s.GetSince(ctx, "r1", int64(cursor))
	if err != nil {
		t.Fatalf("get since: %v", err)
	}
	cursor = cursor.Advance(got)
	if len(got) != 1 || cursor != 1000 {
		t.Fatalf("expected one message and cursor 1000, got %d messages and cursor %d", len(got), cursor)
	}

	if err := s.Append(ctx, "r1", msg("bob", "same millisecond", 1000)); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err = s.GetSince(ctx, "r1", int64(cursor))
	if err != nil {
		t.Fatalf("get since: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected late message tied with the cursor to be skipped, got %d", len(got))
	}

	all, err := s.ReadAll(ctx, "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected the skipped message to still be stored, got %d messages", len(all))
	}
}

// A poller that falls more than a full log behind loses the evicted
// messages with no signal.
func TestEvictionGapIsSilent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "r1", msg("a", "seen", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	cursor := Cursor(1)

	for i := int64(2); i <= 151; i++ {
		if err := s.Append(ctx, "r1", msg("a", "x", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := s.GetSince(ctx, "r1", int64(cursor))
	if err != nil {
		t.Fatalf("get since: %v", err)
	}
	if len(got) != DefaultCapacity {
		t.Fatalf("expected %d messages, got %d", DefaultCapacity, len(got))
	}
	ts := timestamps(got)
	if ts[0] != 52 || ts[DefaultCapacity-1] != 151 {
		t.Errorf("expected timestamps 52..151, got %d..%d", ts[0], ts[DefaultCapacity-1])
	}
}

func TestConcurrentWritersAndPollers(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	const (
		writers   = 8
		perWriter = 40
		pollers   = 16
	)

	var mu sync.Mutex
	maxSeen := 0

	var writes errgroup.Group
	for w := 0; w < writers; w++ {
		writes.Go(func() error {
			for i := 1; i <= perWriter; i++ {
				ts := int64(w*perWriter + i)
				if err := s.Append(ctx, "r1", msg(fmt.Sprintf("w%d", w), "x", ts)); err != nil {
					return err
				}
			}
			return nil
		})
	}

	done := make(chan struct{})
	var polls errgroup.Group
	for p := 0; p < pollers; p++ {
		polls.Go(func() error {
			var cursor Cursor
			for {
				select {
				case <-done:
					return nil
				default:
				}
				got, err := s.GetSince(ctx, "r1", int64(cursor))
				if err != nil {
					return err
				}
				mu.Lock()
				if len(got) > maxSeen {
					maxSeen = len(got)
				}
				mu.Unlock()
				cursor = cursor.Advance(got)
			}
		})
	}

	if err := writes.Wait(); err != nil {
		t.Fatalf("writers: %v", err)
	}
	close(done)
	if err := polls.Wait(); err != nil {
		t.Fatalf("pollers: %v", err)
	}

	// Readers may see a log briefly longer than capacity, bounded by the
	// number of writers whose trim had not run yet.
	if maxSeen > DefaultCapacity+writers {
		t.Errorf("expected at most %d messages in one poll, got %d", DefaultCapacity+writers, maxSeen)
	}

	all, err := s.ReadAll(ctx, "r1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != DefaultCapacity {
		t.Errorf("expected %d messages after writers finish, got %d", DefaultCapacity, len(all))
	}
}

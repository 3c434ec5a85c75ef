package realtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func receiveSnapshot[T any](t *testing.T, stream <-chan Snapshot[T]) Snapshot[T] {
	t.Helper()
	select {
	case snapshot, ok := <-stream:
		if !ok {
			t.Fatal("watch closed unexpectedly")
		}
		return snapshot
	case <-time.After(time.Second):
		t.Fatal("expected snapshot within deadline")
	}
	return Snapshot[T]{}
}

func TestWatchEmitsInitialAndReloadsOnEvent(t *testing.T) {
	hub := NewHub()
	var loads int32
	stream, cancel := Watch(context.Background(), hub, []string{BlocksTopic("user-1")}, func(context.Context) (int32, error) {
		return atomic.AddInt32(&loads, 1), nil
	})
	defer cancel()

	if first := receiveSnapshot(t, stream); first.Value != 1 {
		t.Fatalf("expected first load, got %d", first.Value)
	}

	Notify(hub, EventBlocksChanged, time.Now(), BlocksTopic("user-1"))
	if second := receiveSnapshot(t, stream); second.Value != 2 {
		t.Fatalf("expected reload after event, got %d", second.Value)
	}
}

func TestWatchClosesOnCancel(t *testing.T) {
	hub := NewHub()
	stream, cancel := Watch(context.Background(), hub, []string{FriendsTopic("user-1")}, func(context.Context) (string, error) {
		return "snapshot", nil
	})
	receiveSnapshot(t, stream)
	cancel()

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected no further snapshots")
		}
	case <-time.After(time.Second):
		t.Fatal("expected watch to close after cancel")
	}

	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount(FriendsTopic("user-1")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscription to be released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatchDynamicFollowsLoaderTopics(t *testing.T) {
	hub := NewHub()
	var follow atomic.Bool
	follow.Store(true)

	stream, cancel := WatchDynamic(context.Background(), hub, []string{ConversationsTopic("user-1")}, func(context.Context) (bool, []string, error) {
		if follow.Load() {
			return true, []string{MessagesTopic("conv-1")}, nil
		}
		return false, nil, nil
	})
	defer cancel()

	receiveSnapshot(t, stream)
	if hub.SubscriberCount(MessagesTopic("conv-1")) != 1 {
		t.Fatalf("expected message topic to be followed")
	}

	Notify(hub, EventMessagesChanged, time.Now(), MessagesTopic("conv-1"))
	if snapshot := receiveSnapshot(t, stream); !snapshot.Value {
		t.Fatalf("expected reload triggered by followed topic")
	}

	follow.Store(false)
	Notify(hub, EventConversationsChanged, time.Now(), ConversationsTopic("user-1"))
	if snapshot := receiveSnapshot(t, stream); snapshot.Value {
		t.Fatalf("expected reload without followed topics")
	}
	if hub.SubscriberCount(MessagesTopic("conv-1")) != 0 {
		t.Fatalf("expected message topic to be released")
	}
}

func TestWatchDynamicReloadsAfterWideningTopics(t *testing.T) {
	hub := NewHub()
	var version atomic.Int32

	stream, cancel := WatchDynamic(context.Background(), hub, []string{ConversationsTopic("user-1")}, func(context.Context) (int32, []string, error) {
		current := version.Load()
		if current == 0 {
			// A message lands after the read but before the new topic is followed.
			version.Store(1)
			Notify(hub, EventMessagesChanged, time.Now(), MessagesTopic("conv-1"))
		}
		return current, []string{MessagesTopic("conv-1")}, nil
	})
	defer cancel()

	if snapshot := receiveSnapshot(t, stream); snapshot.Value != 1 {
		t.Fatalf("expected snapshot to include the change published while widening, got %d", snapshot.Value)
	}
}

func TestWatchClosesAfterFinalError(t *testing.T) {
	hub := NewHub()
	errGone := errors.New("gone")
	var loads int32

	stream, cancel := Watch(context.Background(), hub, []string{MessagesTopic("conv-1")}, func(context.Context) (int32, error) {
		if atomic.AddInt32(&loads, 1) == 1 {
			return 1, nil
		}
		return 0, Final(errGone)
	})
	defer cancel()

	receiveSnapshot(t, stream)
	Notify(hub, EventMessagesChanged, time.Now(), MessagesTopic("conv-1"))
	last := receiveSnapshot(t, stream)
	if !errors.Is(last.Err, errGone) {
		t.Fatalf("expected final error, got %v", last.Err)
	}
	if _, wrapped := last.Err.(finalError); wrapped {
		t.Fatalf("expected final marker to be stripped from the snapshot")
	}

	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("expected no snapshots after a final error")
		}
	case <-time.After(time.Second):
		t.Fatal("expected watch to close after a final error")
	}
}

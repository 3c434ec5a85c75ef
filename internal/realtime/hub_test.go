package realtime

import (
	"context"
	"testing"
	"time"
)

func TestHubPublishesToSubscriber(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := hub.Subscribe(ctx, MessagesTopic("conv-1"))
	defer cleanup()

	hub.Publish(Event{Topic: MessagesTopic("conv-1"), Type: EventMessagesChanged, Timestamp: time.Now().UTC()})

	select {
	case received := <-stream:
		if received.Type != EventMessagesChanged {
			t.Fatalf("expected event type %s, got %s", EventMessagesChanged, received.Type)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestHubIsolatesTopics(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	friendStream, cleanup := hub.Subscribe(ctx, FriendsTopic("user-2"))
	defer cleanup()
	otherStream, otherCleanup := hub.Subscribe(ctx, FriendsTopic("user-3"))
	defer otherCleanup()

	Notify(hub, EventFriendsChanged, time.Now(), FriendsTopic("user-3"))

	select {
	case <-friendStream:
		t.Fatal("did not expect event for unrelated topic")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case event := <-otherStream:
		if event.Topic != FriendsTopic("user-3") {
			t.Fatalf("unexpected topic %s", event.Topic)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed topic")
	}
}

func TestHubReleasesSubscriptionOnContextEnd(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = hub.Subscribe(ctx, BlocksTopic("user-1"))
	if hub.SubscriberCount(BlocksTopic("user-1")) != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount(BlocksTopic("user-1")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscription to be released after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubEmptyTopicClosesImmediately(t *testing.T) {
	hub := NewHub()
	stream, cleanup := hub.Subscribe(context.Background(), ConversationsTopic(""))
	defer cleanup()
	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream for empty topic")
	}
}

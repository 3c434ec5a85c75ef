package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	EventConversationsChanged = "conversations-changed"
	EventMessagesChanged      = "messages-changed"
	EventFriendsChanged       = "friends-changed"
	EventRequestsChanged      = "requests-changed"
	EventBlocksChanged        = "blocks-changed"
	EventPresenceChanged      = "presence-changed"

	defaultBufferSize = 16
)

// Event is an invalidation signal for a topic. Subscribers reload the state they watch.
type Event struct {
	Topic     string
	Type      string
	Timestamp time.Time
}

// Broker is the pub/sub surface the collaboration services publish through.
type Broker interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, func())
	Publish(event Event)
}

// Hub fans events out to in-process subscribers keyed by topic.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultBufferSize,
	}
}

var _ Broker = (*Hub)(nil)

// Subscribe registers a subscriber until ctx ends or the returned cleanup runs.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     h.nextSequence(),
		stream: make(chan Event, h.bufferSize),
	}
	h.register(topic, sub)
	cleanup := func() {
		h.unregister(topic, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event without blocking; a full subscriber buffer drops it.
func (h *Hub) Publish(event Event) {
	if event.Topic == "" || event.Type == "" {
		return
	}
	h.mu.RLock()
	subscribers := h.subscribers[event.Topic]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	h.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) register(topic string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[int64]*subscriber)
	}
	h.subscribers[topic][sub.id] = sub
}

func (h *Hub) unregister(topic string, subscriberID int64) {
	h.mu.Lock()
	subscribers := h.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(h.subscribers, topic)
		}
	}
	h.mu.Unlock()
}

// Notify publishes one event of the given type to every topic, stamped with now.
func Notify(broker Broker, eventType string, now time.Time, topics ...string) {
	if broker == nil {
		return
	}
	for _, topic := range topics {
		broker.Publish(Event{Topic: topic, Type: eventType, Timestamp: now.UTC()})
	}
}

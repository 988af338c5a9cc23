// Package events provides an in-process publish/subscribe bus that the
// realtime, activity, and notification subsystems use to broadcast connection
// lifecycle transitions and data-change signals without depending on each
// other directly.
package events

import "sync"

// Topic names an event stream on the bus.
type Topic string

// Connection lifecycle and data-change topics.
const (
	TopicConnected       Topic = "connected"
	TopicDisconnected    Topic = "disconnected"
	TopicReconnected     Topic = "reconnected"
	TopicReconnectFailed Topic = "reconnect-failed"
	TopicConnectionError Topic = "connection-error"
	TopicTimeout         Topic = "timeout"
	TopicUserInactive    Topic = "user-inactive"
	TopicChange          Topic = "change"
)

// Event carries a topic and an optional payload to subscribers.
type Event struct {
	Topic   Topic
	Payload any
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus fans events out to topic subscribers.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[Topic]map[int]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic]map[int]Handler)}
}

// Subscribe registers fn for a topic and returns a function that removes the
// subscription. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	if b == nil || fn == nil {
		return func() {}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish delivers the event to every subscriber of its topic. Delivery is
// synchronous and in no guaranteed order. Publishing to a topic with no
// subscribers is a no-op.
func (b *Bus) Publish(topic Topic, payload any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, fn := range b.subs[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()
	evt := Event{Topic: topic, Payload: payload}
	for _, fn := range handlers {
		fn(evt)
	}
}

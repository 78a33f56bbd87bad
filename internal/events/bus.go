package events

import (
	"sync"
	"time"

	"license-gateway/internal/license"
)

// Subscriber is a function that handles events
type Subscriber func(license.AnalyticsEvent)

type subscription struct {
	id int
	fn Subscriber
}

// EventBus fans audit events out to in-process subscribers such as the live
// event stream. Subscribers run in their own goroutine and never slow down
// the publisher.
type EventBus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[license.EventType][]subscription
	allSubs     []subscription
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[license.EventType][]subscription),
	}
}

// Subscribe registers a subscriber for a specific event type and returns a
// function that removes it
func (eb *EventBus) Subscribe(eventType license.EventType, fn Subscriber) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: id, fn: fn})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.subscribers[eventType] = without(eb.subscribers[eventType], id)
	}
}

// SubscribeAll registers a subscriber for all events and returns a function
// that removes it
func (eb *EventBus) SubscribeAll(fn Subscriber) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.allSubs = append(eb.allSubs, subscription{id: id, fn: fn})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.allSubs = without(eb.allSubs, id)
	}
}

func without(subs []subscription, id int) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event license.AnalyticsEvent) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	for _, sub := range eb.subscribers[event.Type] {
		go sub.fn(event)
	}
	for _, sub := range eb.allSubs {
		go sub.fn(event)
	}
}

// SubscriberCount returns the number of registered subscribers
func (eb *EventBus) SubscriberCount() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	n := len(eb.allSubs)
	for _, subs := range eb.subscribers {
		n += len(subs)
	}
	return n
}

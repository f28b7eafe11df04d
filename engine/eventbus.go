package engine

import (
	"log/slog"
	"sync"
)

// Bus is a typed publish/subscribe hub. It generalizes the ad-hoc
// RegisterEventHook slice pattern (one callback slot per producer) into a
// single topic-keyed registry shared by every component: the Context
// Registry, Polling Coordinator, Print State Monitor, Temperature Monitor,
// Usage Tracker, and Camera Proxy all publish through the same Bus instance
// instead of each exposing its own hook list.
//
// Subscribers for a topic are invoked in registration order, synchronously,
// in the goroutine that calls Publish. A panicking or erroring subscriber
// is caught and logged; it does not stop other subscribers from running,
// and Publish always returns to its caller.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*subscription
}

type subscription struct {
	id      uint64
	fn      func(any)
	once    bool
	removed bool
}

func NewBus() *Bus {
	return &Bus{topics: make(map[string][]*subscription)}
}

// Subscribe registers fn to be called with every value Published to topic.
// The returned function unsubscribes it.
func (b *Bus) Subscribe(topic string, fn func(any)) (unsubscribe func()) {
	return b.subscribe(topic, fn, false)
}

// Once registers fn to fire at most one time for topic, then auto-unsubscribe.
func (b *Bus) Once(topic string, fn func(any)) (unsubscribe func()) {
	return b.subscribe(topic, fn, true)
}

var nextSubID uint64

func (b *Bus) subscribe(topic string, fn func(any), once bool) func() {
	b.mu.Lock()
	nextSubID++
	sub := &subscription{id: nextSubID, fn: fn, once: once}
	b.topics[topic] = append(b.topics[topic], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s == sub {
				b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// RemoveAllListeners drops every subscriber for topic, or for every topic
// when topic is empty.
func (b *Bus) RemoveAllListeners(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic == "" {
		b.topics = make(map[string][]*subscription)
		return
	}
	delete(b.topics, topic)
}

// Publish delivers payload to every current subscriber of topic, in the
// order they subscribed. Events for a single producer are delivered in the
// order Publish is called, so per-context event ordering always matches
// the order that producer observed them.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.topics[topic]...)
	b.mu.RUnlock()

	var toRemove []*subscription
	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("event bus subscriber panicked", "topic", topic, "recovered", r)
				}
			}()
			sub.fn(payload)
		}()
		if sub.once {
			toRemove = append(toRemove, sub)
		}
	}

	if len(toRemove) == 0 {
		return
	}
	b.mu.Lock()
	for _, sub := range toRemove {
		subs := b.topics[topic]
		for i, s := range subs {
			if s == sub {
				b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
}

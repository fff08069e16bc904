package bus

import (
	"context"
	"errors"
	"sync"
)

// subscriberBuffer bounds how far one subscriber may fall behind before
// events are dropped for it.
const subscriberBuffer = 64

// MemoryBus is the in-process Bus used by single-instance deployments and
// tests.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*memorySubscriber
	closed bool
}

type memorySubscriber struct {
	topics map[Topic]struct{}
	ch     chan Event
}

// NewMemoryBus constructs an initialized MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySubscriber)}
}

// Publish delivers the event to every live subscription of its topic. A
// subscriber with a full buffer misses the event; delivery stays at-most-once
// and never blocks the publisher.
func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("bus: closed")
	}

	topic := ev.Topic()
	for _, sub := range b.subs {
		if _, ok := sub.topics[topic]; !ok {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// slow subscriber, drop
		}
	}
	return nil
}

// Subscribe registers a subscription for the given topics.
func (b *MemoryBus) Subscribe(topics ...Topic) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, errors.New("bus: closed")
	}

	set := make(map[Topic]struct{}, len(topics))
	for _, t := range topics {
		set[t] = struct{}{}
	}

	id := b.nextID
	b.nextID++

	sub := &memorySubscriber{topics: set, ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = sub

	return &Subscription{
		ch: sub.ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		},
	}, nil
}

// Close drops all subscriptions and rejects further publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}

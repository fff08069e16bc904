// Package bus provides the publish/subscribe channel feeding live
// subscription connections. Delivery is at-most-once and unpersisted: a
// subscriber connected after a publish never receives the missed event.
// Events are delivered to each subscriber in publish order.
package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Bus is the event channel shared by all API operations. Implementations:
// MemoryBus (in-process), RedisBus (Redis Pub/Sub), NATSBus (NATS core).
type Bus interface {
	// Publish broadcasts the event to all live subscriptions. It is
	// fire-and-forget: a slow subscriber is skipped, not waited for.
	Publish(ctx context.Context, ev Event) error

	// Subscribe registers a new subscription for the given topics.
	Subscribe(topics ...Topic) (*Subscription, error)

	Close() error
}

// Subscription is one subscriber's live feed. It must be closed on
// disconnect to release its slot in the subscriber registry.
type Subscription struct {
	ch     chan Event
	cancel func()
	once   sync.Once
}

// Events returns the channel delivering this subscription's events. The
// channel is closed when the subscription or its bus closes.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the subscription and closes its event channel.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// New constructs the bus selected by busURL: empty for in-process,
// redis:// for Redis Pub/Sub, nats:// for NATS.
func New(ctx context.Context, busURL string) (Bus, error) {
	switch {
	case busURL == "":
		return NewMemoryBus(), nil
	case strings.HasPrefix(busURL, "redis://"), strings.HasPrefix(busURL, "rediss://"):
		return NewRedisBus(ctx, busURL)
	case strings.HasPrefix(busURL, "nats://"):
		return NewNATSBus(busURL)
	default:
		return nil, fmt.Errorf("bus: unsupported BUS_URL %q", busURL)
	}
}

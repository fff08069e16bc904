package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSBus is a Bus backed by NATS core publish/subscribe. Core NATS delivery
// is at-most-once with no replay, matching the bus contract.
type NATSBus struct {
	conn *nats.Conn

	mu     sync.Mutex
	closed bool
}

// NewNATSBus connects to the NATS server at natsURL.
func NewNATSBus(natsURL string) (*NATSBus, error) {
	conn, err := nats.Connect(natsURL, nats.Name("chat-app-backend"))
	if err != nil {
		return nil, err
	}
	return &NATSBus{conn: conn}, nil
}

// subjectFor maps a topic to its NATS subject.
func subjectFor(topic Topic) string {
	return fmt.Sprintf("chat.events.%s", topic)
}

// Publish broadcasts the event envelope on the topic's subject.
func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(subjectFor(ev.Topic()), data)
}

// Subscribe opens one NATS subscription per topic and pumps decoded events
// into the subscription channel.
func (b *NATSBus) Subscribe(topics ...Topic) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: closed")
	}
	b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	var chMu sync.Mutex
	chClosed := false

	subs := make([]*nats.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := b.conn.Subscribe(subjectFor(topic), func(msg *nats.Msg) {
			ev, err := Unmarshal(msg.Data)
			if err != nil {
				return
			}
			chMu.Lock()
			defer chMu.Unlock()
			if chClosed {
				return
			}
			select {
			case ch <- ev:
			default:
				// slow subscriber, drop
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}

	return &Subscription{
		ch: ch,
		cancel: func() {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			chMu.Lock()
			chClosed = true
			close(ch)
			chMu.Unlock()
		},
	}, nil
}

// Close drains and closes the NATS connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

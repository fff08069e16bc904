package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus is a Bus backed by Redis Pub/Sub, for deployments running more
// than one API instance. Redis Pub/Sub is itself at-most-once and
// unpersisted, matching the bus contract.
type RedisBus struct {
	client *redis.Client

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
}

// NewRedisBus connects a dedicated Redis client for event traffic.
// Subscribed connections block, so the bus never shares the session client.
func NewRedisBus(ctx context.Context, redisURL string) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisBus{client: client, subs: make(map[*redis.PubSub]struct{})}, nil
}

// channelFor maps a topic to its Redis Pub/Sub channel.
func channelFor(topic Topic) string {
	return fmt.Sprintf("chat.events.%s", topic)
}

// Publish broadcasts the event envelope on the topic's channel.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelFor(ev.Topic()), data).Err()
}

// Subscribe opens a Pub/Sub connection for the given topics and pumps
// decoded events into the subscription channel.
func (b *RedisBus) Subscribe(topics ...Topic) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus: closed")
	}

	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = channelFor(t)
	}

	pubsub := b.client.Subscribe(context.Background(), channels...)
	b.subs[pubsub] = struct{}{}
	b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	go func() {
		defer close(ch)
		for msg := range pubsub.Channel() {
			ev, err := Unmarshal([]byte(msg.Payload))
			if err != nil {
				continue
			}
			select {
			case ch <- ev:
			default:
				// slow subscriber, drop
			}
		}
	}()

	return &Subscription{
		ch: ch,
		cancel: func() {
			b.mu.Lock()
			delete(b.subs, pubsub)
			b.mu.Unlock()
			_ = pubsub.Close()
		},
	}, nil
}

// Close terminates all subscriptions and the underlying client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	b.closed = true
	subs := make([]*redis.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	b.subs = make(map[*redis.PubSub]struct{})
	b.mu.Unlock()

	for _, ps := range subs {
		_ = ps.Close()
	}
	return b.client.Close()
}

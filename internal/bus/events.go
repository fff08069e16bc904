package bus

import (
	"encoding/json"
	"fmt"

	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

// Topic names an event stream.
type Topic string

const (
	TopicConversationCreated Topic = "conversation.created"
	TopicMessageSent         Topic = "message.sent"
)

// Event is a tagged variant published on the bus. Payloads carry fully
// hydrated entities so subscribers never need a store round-trip.
type Event interface {
	Topic() Topic
}

// ConversationCreated is published after a successful conversation create,
// with participants and latest message populated.
type ConversationCreated struct {
	Conversation models.Conversation `json:"conversation"`
}

// Topic implements Event.
func (ConversationCreated) Topic() Topic { return TopicConversationCreated }

// MessageSent is published after a successful message send, with the sender
// populated.
type MessageSent struct {
	Message models.Message `json:"message"`
}

// Topic implements Event.
func (MessageSent) Topic() Topic { return TopicMessageSent }

// envelope is the wire form used by the Redis and NATS buses.
type envelope struct {
	Topic   Topic           `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes an event into its wire envelope.
func Marshal(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Topic: ev.Topic(), Payload: payload})
}

// Unmarshal decodes a wire envelope back into a typed event.
func Unmarshal(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Topic {
	case TopicConversationCreated:
		var ev ConversationCreated
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TopicMessageSent:
		var ev MessageSent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("bus: unknown topic %q", env.Topic)
	}
}

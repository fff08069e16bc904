package models

import "time"

// Message belongs to exactly one conversation and is immutable once created.
// The ID is supplied by the caller and doubles as an idempotency key for
// client-side retries.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	Sender *User `json:"sender,omitempty"`
}

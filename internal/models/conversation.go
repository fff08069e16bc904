package models

import "time"

// Conversation is either a direct conversation (no admin, no location) or a
// group conversation (admin, name, geographic center and radius).
type Conversation struct {
	ID              string    `json:"id"`
	Name            string    `json:"name,omitempty"`
	Bio             string    `json:"bio,omitempty"`
	AdminID         *string   `json:"adminId,omitempty"`
	Latitude        *float64  `json:"lat,omitempty"`
	Longitude       *float64  `json:"lng,omitempty"`
	GroupRadius     *float64  `json:"groupRadius,omitempty"`
	LatestMessageID *string   `json:"latestMessageId,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Hydrated relations, populated by store queries that request them.
	Participants  []Participant `json:"participants,omitempty"`
	LatestMessage *Message      `json:"latestMessage,omitempty"`
}

// IsGroup reports whether the conversation is a group conversation.
func (c *Conversation) IsGroup() bool {
	return c.AdminID != nil
}

// Participant links a user to a conversation and tracks whether that user has
// seen the conversation's most recent message. (userId, conversationId) is
// unique: joining twice is a no-op, not a duplicate row.
type Participant struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	HasSeenLatest  bool      `json:"hasSeenLatest"`
	CreatedAt      time.Time `json:"created_at"`

	User *User `json:"user,omitempty"`
}

// UserIsParticipant reports whether userID appears in participants. It gates
// read access to conversation messages and subscription delivery.
func UserIsParticipant(participants []Participant, userID string) bool {
	for _, p := range participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

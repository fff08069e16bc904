package bus

import "github.com/ibo-najjar/chat-app-backend/internal/models"

// FilterFunc gates delivery of a published event to one subscriber. Each
// subscription pairs a topic with one filter; an event reaches the client
// only when the filter returns true.
type FilterFunc func(Event) bool

// ConversationCreatedForUser matches conversation-created events whose
// participant list includes userID.
func ConversationCreatedForUser(userID string) FilterFunc {
	return func(ev Event) bool {
		created, ok := ev.(ConversationCreated)
		if !ok {
			return false
		}
		return models.UserIsParticipant(created.Conversation.Participants, userID)
	}
}

// MessageSentInConversation matches message-sent events for exactly one
// conversation.
func MessageSentInConversation(conversationID string) FilterFunc {
	return func(ev Event) bool {
		sent, ok := ev.(MessageSent)
		if !ok {
			return false
		}
		return sent.Message.ConversationID == conversationID
	}
}

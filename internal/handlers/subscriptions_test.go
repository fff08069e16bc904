package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

func TestOpenSubscriptionConversationCreated(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
	sub, filter, err := h.openSubscription(req, "alice", clientFrame{Type: "subscribe", Topic: wsTopicConversationCreated})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	mine := bus.ConversationCreated{Conversation: models.Conversation{
		Participants: []models.Participant{{UserID: "alice"}},
	}}
	theirs := bus.ConversationCreated{Conversation: models.Conversation{
		Participants: []models.Participant{{UserID: "bob"}},
	}}
	if !filter(mine) || filter(theirs) {
		t.Fatal("filter should only pass conversations including the subscriber")
	}
}

func TestOpenSubscriptionMessageSentRequiresMembership(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	seedUser(t, data, "alice", "alice")
	seedUser(t, data, "bob", "bob")
	seedUser(t, data, "carol", "carol")

	conv, err := data.CreateConversation(t.Context(), []string{"alice", "bob"}, "alice")
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)

	// A participant can subscribe.
	sub, filter, err := h.openSubscription(req, "alice", clientFrame{Type: "subscribe", Topic: wsTopicMessageSent, ConversationID: conv.ID})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	if !filter(bus.MessageSent{Message: models.Message{ConversationID: conv.ID}}) {
		t.Fatal("filter should pass messages in the subscribed conversation")
	}
	if filter(bus.MessageSent{Message: models.Message{ConversationID: "other"}}) {
		t.Fatal("filter should reject messages from other conversations")
	}

	// An outsider cannot, even with the conversation ID in hand.
	if _, _, err := h.openSubscription(req, "carol", clientFrame{Type: "subscribe", Topic: wsTopicMessageSent, ConversationID: conv.ID}); err == nil {
		t.Fatal("expected membership to be enforced at subscribe time")
	}
}

func TestOpenSubscriptionValidation(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)

	req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)

	if _, _, err := h.openSubscription(req, "alice", clientFrame{Type: "subscribe", Topic: wsTopicMessageSent}); err == nil {
		t.Fatal("expected an error for a missing conversationId")
	}
	if _, _, err := h.openSubscription(req, "alice", clientFrame{Type: "subscribe", Topic: "weather"}); err == nil {
		t.Fatal("expected an error for an unknown topic")
	}
}

func TestEventPayload(t *testing.T) {
	msg := models.Message{ID: "m1"}
	if got := eventPayload(bus.MessageSent{Message: msg}); got.(models.Message).ID != "m1" {
		t.Fatalf("unexpected payload %v", got)
	}

	conv := models.Conversation{ID: "c1"}
	if got := eventPayload(bus.ConversationCreated{Conversation: conv}); got.(models.Conversation).ID != "c1" {
		t.Fatalf("unexpected payload %v", got)
	}
}

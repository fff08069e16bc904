package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ibo-najjar/chat-app-backend/internal/api/middleware"
	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/metrics"
	"github.com/ibo-najjar/chat-app-backend/internal/models"
	"github.com/ibo-najjar/chat-app-backend/internal/store"
)

// ListMessages returns a conversation's messages, newest first. Only
// participants may read a conversation.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")

	conversation, err := h.data.GetConversation(r.Context(), conversationID)
	if err != nil {
		h.logger.Error().Err(err).Msg("get conversation failed")
		h.Error(w, http.StatusInternalServerError, "error getting messages")
		return
	}
	if conversation == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	if !models.UserIsParticipant(conversation.Participants, caller.ID) {
		h.Error(w, http.StatusForbidden, "you are not allowed to view this conversation")
		return
	}

	messages, err := h.data.ListMessages(r.Context(), conversationID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list messages failed")
		h.Error(w, http.StatusInternalServerError, "error getting messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, messages)
}

// SendMessageRequest is the send message request body. The ID is supplied by
// the client so a retried send is idempotent.
type SendMessageRequest struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
	ImageURL       string `json:"imageUrl,omitempty"`
}

// SendMessage stores a message, updates the conversation's latest-message
// pointer and seen flags atomically, and publishes a message-sent event.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.ID == "" || req.ConversationID == "" || req.Body == "" {
		h.Error(w, http.StatusUnprocessableEntity, "id, conversationId and body are required")
		return
	}
	if req.SenderID != caller.ID {
		h.Error(w, http.StatusForbidden, "you can only send messages as yourself")
		return
	}

	message, err := h.data.SendMessage(r.Context(), &models.Message{
		ID:             req.ID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Body:           req.Body,
		ImageURL:       req.ImageURL,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotParticipant) {
			h.Error(w, http.StatusForbidden, "you are not a participant in this conversation")
			return
		}
		h.logger.Error().Err(err).Msg("send message failed")
		h.Error(w, http.StatusInternalServerError, "error sending message")
		return
	}

	h.publish(r, bus.MessageSent{Message: *message})
	metrics.MessagesSent.Inc()

	h.JSON(w, http.StatusOK, true)
}

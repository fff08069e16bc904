package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ibo-najjar/chat-app-backend/internal/api/middleware"
	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/geo"
	"github.com/ibo-najjar/chat-app-backend/internal/metrics"
	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

// GroupConversationResponse annotates a group conversation with the caller's
// distance to its center and the participant count.
type GroupConversationResponse struct {
	models.Conversation
	Distance             *float64 `json:"distance,omitempty"`
	NumberOfParticipants int      `json:"numberOfParticipants"`
}

// GetGroupConversations lists all group conversations annotated with
// distance from the caller's stored coordinates.
func (h *Handler) GetGroupConversations(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	conversations, err := h.data.ListGroupConversations(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("list group conversations failed")
		h.Error(w, http.StatusInternalServerError, "error getting group conversations")
		return
	}

	result := make([]GroupConversationResponse, 0, len(conversations))
	for _, c := range conversations {
		resp := GroupConversationResponse{
			Conversation:         c,
			NumberOfParticipants: len(c.Participants),
		}
		if caller.HasLocation() && c.Latitude != nil && c.Longitude != nil {
			distance := geo.DistanceKm(*caller.Latitude, *caller.Longitude, *c.Latitude, *c.Longitude)
			resp.Distance = &distance
		}
		result = append(result, resp)
	}

	h.JSON(w, http.StatusOK, result)
}

// GetConversations lists the conversations the caller participates in,
// hydrated with participants and the latest message.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	conversations, err := h.data.ListUserConversations(r.Context(), caller.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list conversations failed")
		h.Error(w, http.StatusInternalServerError, "error getting conversations")
		return
	}
	if conversations == nil {
		conversations = []models.Conversation{}
	}

	h.JSON(w, http.StatusOK, conversations)
}

// GetConversation returns one conversation with the participants other than
// the caller, coordinates included, to show the other side of a chat.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")

	conversation, err := h.data.GetConversation(r.Context(), conversationID)
	if err != nil {
		h.logger.Error().Err(err).Msg("get conversation failed")
		h.Error(w, http.StatusInternalServerError, "error getting conversation")
		return
	}
	if conversation == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	others := make([]models.Participant, 0, len(conversation.Participants))
	for _, p := range conversation.Participants {
		if p.UserID != caller.ID {
			others = append(others, p)
		}
	}
	conversation.Participants = others

	h.JSON(w, http.StatusOK, conversation)
}

// CreateConversationRequest is the create conversation request body.
type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

// CreateConversationResponse carries the new or existing conversation ID.
type CreateConversationResponse struct {
	ConversationID string `json:"conversationId"`
}

// CreateConversation creates a direct conversation. Creating with a
// participant set that already has a conversation returns the existing ID
// instead of a duplicate.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.ParticipantIDs) == 0 {
		h.Error(w, http.StatusUnprocessableEntity, "participantIds is required")
		return
	}

	existing, err := h.data.FindConversationByParticipants(r.Context(), req.ParticipantIDs)
	if err != nil {
		h.logger.Error().Err(err).Msg("conversation dedup lookup failed")
		h.Error(w, http.StatusInternalServerError, "error creating conversation")
		return
	}
	if existing != nil {
		h.JSON(w, http.StatusOK, CreateConversationResponse{ConversationID: existing.ID})
		return
	}

	conversation, err := h.data.CreateConversation(r.Context(), req.ParticipantIDs, caller.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("create conversation failed")
		h.Error(w, http.StatusInternalServerError, "error creating conversation")
		return
	}

	h.publish(r, bus.ConversationCreated{Conversation: *conversation})
	metrics.ConversationsCreated.WithLabelValues("direct").Inc()

	h.JSON(w, http.StatusCreated, CreateConversationResponse{ConversationID: conversation.ID})
}

// CreateGroupConversationRequest is the create group conversation request body.
type CreateGroupConversationRequest struct {
	Name        string  `json:"name"`
	Bio         string  `json:"bio"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lng"`
	GroupRadius float64 `json:"groupRadius"`
	AdminID     string  `json:"adminId"`
}

// CreateGroupConversation creates a group conversation with the caller as
// admin and single initial participant.
func (h *Handler) CreateGroupConversation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	var req CreateGroupConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Name) == "" {
		h.Error(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	if req.AdminID != caller.ID {
		h.Error(w, http.StatusForbidden, "you can only create groups as yourself")
		return
	}

	conversation, err := h.data.CreateGroupConversation(r.Context(), req.Name, req.Bio, req.Latitude, req.Longitude, req.GroupRadius, caller.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("create group conversation failed")
		h.Error(w, http.StatusInternalServerError, "error creating group conversation")
		return
	}

	metrics.ConversationsCreated.WithLabelValues("group").Inc()

	h.JSON(w, http.StatusCreated, CreateConversationResponse{ConversationID: conversation.ID})
}

// JoinGroupConversation adds the caller to a group conversation. Joining a
// conversation the caller already participates in returns the same ID
// without a second participant row.
func (h *Handler) JoinGroupConversation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	conversationID := chi.URLParam(r, "id")

	conversation, err := h.data.GetConversation(r.Context(), conversationID)
	if err != nil {
		h.logger.Error().Err(err).Msg("get conversation failed")
		h.Error(w, http.StatusInternalServerError, "error joining conversation")
		return
	}
	if conversation == nil {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	participant, err := h.data.GetParticipant(r.Context(), conversationID, caller.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("participant lookup failed")
		h.Error(w, http.StatusInternalServerError, "error joining conversation")
		return
	}
	if participant == nil {
		if _, err := h.data.AddParticipant(r.Context(), conversationID, caller.ID); err != nil {
			h.logger.Error().Err(err).Msg("add participant failed")
			h.Error(w, http.StatusInternalServerError, "error joining conversation")
			return
		}
	}

	h.JSON(w, http.StatusOK, CreateConversationResponse{ConversationID: conversationID})
}

// publish broadcasts an event, logging instead of failing the request: the
// mutation already committed, and bus delivery is fire-and-forget.
func (h *Handler) publish(r *http.Request, ev bus.Event) {
	if err := h.bus.Publish(r.Context(), ev); err != nil {
		h.logger.Error().Err(err).Str("topic", string(ev.Topic())).Msg("event publish failed")
		return
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Topic())).Inc()
}

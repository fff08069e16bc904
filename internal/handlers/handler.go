package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/store"
	"github.com/ibo-najjar/chat-app-backend/internal/upload"
)

// Handler contains shared dependencies for all HTTP handlers. It is the
// execution context passed into every operation: no handler reaches for
// global store or bus state.
type Handler struct {
	data   store.DataStore
	redis  *store.RedisStore
	bus    bus.Bus
	sink   upload.Sink
	logger zerolog.Logger
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(data store.DataStore, redis *store.RedisStore, eventBus bus.Bus, sink upload.Sink, logger zerolog.Logger) *Handler {
	return &Handler{data: data, redis: redis, bus: eventBus, sink: sink, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// OperationResult is the soft-error envelope used by profile and location
// mutations: expected validation failures come back as a 200 with
// success=false instead of a typed API error.
type OperationResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// softError sends a soft failure result.
func (h *Handler) softError(w http.ResponseWriter, message string) {
	h.JSON(w, http.StatusOK, OperationResult{Success: false, Error: message})
}

// softSuccess sends a soft success result.
func (h *Handler) softSuccess(w http.ResponseWriter) {
	h.JSON(w, http.StatusOK, OperationResult{Success: true})
}

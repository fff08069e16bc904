package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ibo-najjar/chat-app-backend/internal/api/middleware"
	"github.com/ibo-najjar/chat-app-backend/internal/geo"
	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

// nearUserRadiusKm is the proximity radius for the near-user search.
const nearUserRadiusKm = 100

// GetUser handles fetching a user profile by ID.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.data.GetUser(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Msg("get user failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	h.JSON(w, http.StatusOK, user)
}

// SearchUsers handles the substring username search, excluding the caller.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())
	username := r.URL.Query().Get("username")

	users, err := h.data.SearchUsers(r.Context(), username, caller.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("search users failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if users == nil {
		users = []models.User{}
	}

	h.JSON(w, http.StatusOK, users)
}

// SearchNearUsers returns users within 100 km of the given point, excluding
// the caller.
func (h *Handler) SearchNearUsers(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	latitude, err := parseCoordinate(r.URL.Query().Get("latitude"), 90)
	if err != nil {
		h.Error(w, http.StatusUnprocessableEntity, "invalid latitude")
		return
	}
	longitude, err := parseCoordinate(r.URL.Query().Get("longitude"), 180)
	if err != nil {
		h.Error(w, http.StatusUnprocessableEntity, "invalid longitude")
		return
	}

	candidates, err := h.data.ListLocatedUsers(r.Context(), caller.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("near user search failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	near := []models.User{}
	for _, user := range candidates {
		distance := geo.DistanceKm(*user.Latitude, *user.Longitude, latitude, longitude)
		if distance < nearUserRadiusKm {
			near = append(near, user)
		}
	}

	h.JSON(w, http.StatusOK, near)
}

// CreateUsernameRequest is the create username request body.
type CreateUsernameRequest struct {
	Username string `json:"username"`
}

// CreateUsername claims a username for the caller. Expected failures
// (taken, invalid) use the soft-error result.
func (h *Handler) CreateUsername(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	var req CreateUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		h.softError(w, "Username is required")
		return
	}

	existing, err := h.data.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.logger.Error().Err(err).Msg("username lookup failed")
		h.softError(w, "Something went wrong")
		return
	}
	if existing != nil {
		h.softError(w, "Username already taken")
		return
	}

	if err := h.data.UpdateUsername(r.Context(), caller.ID, username); err != nil {
		h.logger.Error().Err(err).Msg("update username failed")
		h.softError(w, "Something went wrong")
		return
	}

	h.softSuccess(w)
}

// UpdateUserInformationRequest is the profile update request body.
type UpdateUserInformationRequest struct {
	Username string `json:"username"`
	ImageURL string `json:"imageUrl"`
	Bio      string `json:"bio"`
}

// UpdateUserInformation updates the caller's username, image and bio.
func (h *Handler) UpdateUserInformation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	var req UpdateUserInformationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		h.softError(w, "Username is required")
		return
	}

	existing, err := h.data.GetUserByUsername(r.Context(), username)
	if err != nil {
		h.logger.Error().Err(err).Msg("username lookup failed")
		h.softError(w, "Something went wrong")
		return
	}
	if existing != nil && existing.ID != caller.ID {
		h.softError(w, "Username already taken")
		return
	}

	if err := h.data.UpdateUserProfile(r.Context(), caller.ID, username, req.ImageURL, req.Bio); err != nil {
		h.logger.Error().Err(err).Msg("update profile failed")
		h.softError(w, "Something went wrong")
		return
	}

	h.softSuccess(w)
}

// SetLocationRequest is the location update request body. Pointer fields
// distinguish an absent coordinate from a legitimate zero: (0,0) is a valid
// position, not a missing one.
type SetLocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// SetLocation stores the caller's coordinates.
func (h *Handler) SetLocation(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetUserFromContext(r.Context())

	var req SetLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Latitude == nil || req.Longitude == nil {
		h.softError(w, "Invalid location")
		return
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		h.softError(w, "Invalid location")
		return
	}

	if err := h.data.UpdateUserLocation(r.Context(), caller.ID, *req.Latitude, *req.Longitude); err != nil {
		h.logger.Error().Err(err).Msg("update location failed")
		h.softError(w, "Something went wrong")
		return
	}

	h.softSuccess(w)
}

// parseCoordinate parses a required coordinate query parameter and rejects
// values outside [-bound, bound].
func parseCoordinate(raw string, bound float64) (float64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if value < -bound || value > bound {
		return 0, strconv.ErrRange
	}
	return value, nil
}

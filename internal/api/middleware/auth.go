package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ibo-najjar/chat-app-backend/internal/models"
	"github.com/ibo-najjar/chat-app-backend/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthMiddleware resolves session tokens to verified users. Sessions are
// minted by the external auth provider and stored in Redis; this middleware
// only resolves them, it never issues credentials.
type AuthMiddleware struct {
	data  store.DataStore
	redis *store.RedisStore
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(data store.DataStore, redis *store.RedisStore) *AuthMiddleware {
	return &AuthMiddleware{data: data, redis: redis}
}

// RequireSession verifies the caller's session token and stores the resolved
// user in the request context. Request/response calls carry the token as a
// bearer header; websocket connects carry it as a query parameter supplied at
// connect time.
func (m *AuthMiddleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := SessionToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		userID, err := m.redis.GetSession(r.Context(), token)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				jsonError(w, http.StatusUnauthorized, "invalid or expired session")
				return
			}
			jsonError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}

		user, err := m.data.GetUser(r.Context(), userID)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "user lookup failed")
			return
		}
		if user == nil {
			jsonError(w, http.StatusUnauthorized, "unknown user")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionToken extracts the session token from the Authorization header or,
// for websocket connects, the token query parameter.
func SessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

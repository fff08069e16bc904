package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ibo-najjar/chat-app-backend/internal/api/middleware"
	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/config"
	"github.com/ibo-najjar/chat-app-backend/internal/handlers"
	"github.com/ibo-najjar/chat-app-backend/internal/store"
	"github.com/ibo-najjar/chat-app-backend/internal/upload"
)

const maxUploadBytes = 10 << 20 // 10MB per upload

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, logger zerolog.Logger, data store.DataStore, redisStore *store.RedisStore, eventBus bus.Bus, sink *upload.DiskSink) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(redisStore.Client(), logger, middleware.RateLimiterConfig{
		Whitelist: cfg.RateLimitWhitelist,
	})
	r.Use(limiter.Middleware)

	origins := []string{"*"}
	if cfg.ClientOrigin != "" {
		origins = []string{cfg.ClientOrigin}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: cfg.ClientOrigin != "",
		MaxAge:           300,
	}))

	// Create handler and auth middleware
	h := handlers.NewHandler(data, redisStore, eventBus, sink, logger)
	auth := middleware.NewAuthMiddleware(data, redisStore)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(http.Dir(sink.Dir()))))

	// Authenticated routes (require session token)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession)

		// The subscription endpoint holds a websocket open; body limits
		// apply to the JSON surface below it.
		r.Get("/subscriptions", h.Subscribe)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(64 * 1024)) // 64KB max JSON body

			r.Get("/conversations", h.GetConversations)
			r.Get("/conversations/groups", h.GetGroupConversations)
			r.Get("/conversations/{id}", h.GetConversation)
			r.Post("/conversations", h.CreateConversation)
			r.Post("/conversations/group", h.CreateGroupConversation)
			r.Post("/conversations/{id}/join", h.JoinGroupConversation)

			r.Get("/messages/{id}", h.ListMessages)
			r.Post("/messages", h.SendMessage)

			r.Get("/users/search", h.SearchUsers)
			r.Get("/users/near", h.SearchNearUsers)
			r.Get("/users/{id}", h.GetUser)
			r.Post("/users/username", h.CreateUsername)
			r.Post("/users/profile", h.UpdateUserInformation)
			r.Post("/users/location", h.SetLocation)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(maxUploadBytes))

			r.Post("/upload", h.UploadFile)
		})
	})

	return r
}

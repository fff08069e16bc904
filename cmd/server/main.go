package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ibo-najjar/chat-app-backend/internal/api"
	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/config"
	"github.com/ibo-najjar/chat-app-backend/internal/store"
	"github.com/ibo-najjar/chat-app-backend/internal/upload"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Run migrations
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")
	}

	// Initialize the data store: PostgreSQL in deployment, SQLite for
	// local development when no DATABASE_URL is set.
	var data store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		data = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqlitePath := cfg.SQLitePath
		if sqlitePath == "" {
			sqlitePath = "chat.db"
		}
		sqliteStore, err := store.NewSQLiteStore(ctx, sqlitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		data = sqliteStore
		logger.Info().Str("path", sqlitePath).Msg("using SQLite")
	}
	defer data.Close()

	// Initialize Redis store (sessions and rate limiting)
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// Initialize the event bus
	eventBus, err := bus.New(ctx, cfg.BusURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("event bus init failed")
	}
	defer eventBus.Close()

	// Initialize the upload sink
	sink, err := upload.NewDiskSink(cfg.UploadDir, cfg.ServerURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("upload dir init failed")
	}

	// Create router
	router := api.NewRouter(cfg, logger, data, redisStore, eventBus, sink)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting chat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

// Command mksession mints a session token for a user, creating the user
// record if needed. It is a development stand-in for the external identity
// provider that normally writes sessions into Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ibo-najjar/chat-app-backend/internal/models"
	"github.com/ibo-najjar/chat-app-backend/internal/store"
)

func main() {
	var (
		userID   = flag.String("user", "", "user ID to mint a session for (created if missing)")
		username = flag.String("username", "", "username for a newly created user")
		email    = flag.String("email", "", "email for a newly created user")
		redisURL = flag.String("redis", "redis://localhost:6379", "Redis URL")
		dbURL    = flag.String("db", os.Getenv("DATABASE_URL"), "PostgreSQL URL (SQLITE_PATH is used when empty)")
		ttl      = flag.Duration("ttl", store.DefaultSessionTTL, "session lifetime")
	)
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "mksession: -user is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var data store.DataStore
	var err error
	if *dbURL != "" {
		data, err = store.NewPostgresStore(ctx, *dbURL)
	} else {
		sqlitePath := os.Getenv("SQLITE_PATH")
		if sqlitePath == "" {
			sqlitePath = "chat.db"
		}
		data, err = store.NewSQLiteStore(ctx, sqlitePath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mksession: store: %v\n", err)
		os.Exit(1)
	}
	defer data.Close()

	user, err := data.GetUser(ctx, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mksession: get user: %v\n", err)
		os.Exit(1)
	}
	if user == nil {
		user, err = data.CreateUser(ctx, &models.User{
			ID:       *userID,
			Username: *username,
			Email:    *email,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "mksession: create user: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "created user %s\n", user.ID)
	}

	redisStore, err := store.NewRedisStore(ctx, *redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mksession: redis: %v\n", err)
		os.Exit(1)
	}
	defer redisStore.Close()

	token := uuid.NewString()
	if err := redisStore.PutSession(ctx, token, user.ID, *ttl); err != nil {
		fmt.Fprintf(os.Stderr, "mksession: put session: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

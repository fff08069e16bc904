package store

import (
	"context"
	"errors"

	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

// ErrNotParticipant is returned by SendMessage when the sender has no
// participant row on the target conversation.
var ErrNotParticipant = errors.New("sender is not a conversation participant")

// DataStore defines the interface for persistent storage of users,
// conversations, participants and messages. Both PostgresStore and
// SQLiteStore implement this interface. Lookups return (nil, nil) when the
// entity does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	SearchUsers(ctx context.Context, username, excludeUserID string) ([]models.User, error)
	ListLocatedUsers(ctx context.Context, excludeUserID string) ([]models.User, error)
	UpdateUsername(ctx context.Context, userID, username string) error
	UpdateUserProfile(ctx context.Context, userID, username, imageURL, bio string) error
	UpdateUserLocation(ctx context.Context, userID string, latitude, longitude float64) error

	// Conversation operations
	CreateConversation(ctx context.Context, participantIDs []string, creatorID string) (*models.Conversation, error)
	FindConversationByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error)
	CreateGroupConversation(ctx context.Context, name, bio string, latitude, longitude, radius float64, adminID string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListGroupConversations(ctx context.Context) ([]models.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error)
	AddParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error)

	// Message operations. SendMessage applies the message insert, the
	// latest-message pointer and the seen-flag flips in one transaction.
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
}

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, COALESCE(username, ''), email, image_url, bio, latitude, longitude, points, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.ImageURL,
		&user.Bio,
		&user.Latitude,
		&user.Longitude,
		&user.Points,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateUser creates a new user record. Accounts normally arrive from the
// auth provider; this exists for dev tooling and tests.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	return scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (id, username, email, image_url, bio, latitude, longitude)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
		RETURNING `+userColumns+`
	`, user.ID, user.Username, user.Email, user.ImageURL, user.Bio, user.Latitude, user.Longitude))
}

// GetUser retrieves a user by ID.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1
	`, id))
}

// GetUserByUsername retrieves a user by exact username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE username = $1
	`, username))
}

// SearchUsers returns users whose username contains the substring,
// case-insensitive, excluding the given user.
func (s *PostgresStore) SearchUsers(ctx context.Context, username, excludeUserID string) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username ILIKE '%' || $1 || '%' AND id != $2
		ORDER BY username
	`, username, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

// ListLocatedUsers returns all users with stored coordinates, excluding the
// given user. Proximity filtering happens in the handler via the geo package.
func (s *PostgresStore) ListLocatedUsers(ctx context.Context, excludeUserID string) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND id != $1
	`, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		var user models.User
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.Email,
			&user.ImageURL,
			&user.Bio,
			&user.Latitude,
			&user.Longitude,
			&user.Points,
			&user.CreatedAt,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// UpdateUsername sets the user's username.
func (s *PostgresStore) UpdateUsername(ctx context.Context, userID, username string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET username = $2, updated_at = NOW() WHERE id = $1
	`, userID, username)
	return err
}

// UpdateUserProfile sets the user's username, image and bio.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, userID, username, imageURL, bio string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET username = $2, image_url = $3, bio = $4, updated_at = NOW() WHERE id = $1
	`, userID, username, imageURL, bio)
	return err
}

// UpdateUserLocation sets the user's stored coordinates.
func (s *PostgresStore) UpdateUserLocation(ctx context.Context, userID string, latitude, longitude float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET latitude = $2, longitude = $3, updated_at = NOW() WHERE id = $1
	`, userID, latitude, longitude)
	return err
}

// CreateConversation creates a direct conversation with one participant row
// per ID. Only the creator starts with has_seen_latest = true. The returned
// conversation is hydrated with participants and their users.
func (s *PostgresStore) CreateConversation(ctx context.Context, participantIDs []string, creatorID string) (*models.Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	conversationID := ulid.Make().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id) VALUES ($1)
	`, conversationID)
	if err != nil {
		return nil, err
	}

	for _, userID := range participantIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_participants (id, conversation_id, user_id, has_seen_latest)
			VALUES ($1, $2, $3, $4)
		`, uuid.New().String(), conversationID, userID, userID == creatorID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, conversationID)
}

// FindConversationByParticipants returns a direct conversation whose
// participant set exactly matches participantIDs, or nil if none exists.
func (s *PostgresStore) FindConversationByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	var conversationID string
	err := s.pool.QueryRow(ctx, `
		SELECT cp.conversation_id
		FROM conversation_participants cp
		JOIN conversations c ON c.id = cp.conversation_id
		WHERE c.admin_id IS NULL
		GROUP BY cp.conversation_id
		HAVING COUNT(*) = $2
		   AND COUNT(*) FILTER (WHERE cp.user_id = ANY($1)) = $2
		LIMIT 1
	`, participantIDs, len(participantIDs)).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.GetConversation(ctx, conversationID)
}

// CreateGroupConversation creates a group conversation with the admin as its
// single initial participant.
func (s *PostgresStore) CreateGroupConversation(ctx context.Context, name, bio string, latitude, longitude, radius float64, adminID string) (*models.Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	conversationID := ulid.Make().String()
	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, name, bio, admin_id, latitude, longitude, group_radius)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, conversationID, name, bio, adminID, latitude, longitude, radius)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_participants (id, conversation_id, user_id)
		VALUES ($1, $2, $3)
	`, uuid.New().String(), conversationID, adminID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, conversationID)
}

// GetConversation retrieves a conversation with its participants and their
// users, or nil if it does not exist.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conversation := &models.Conversation{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, bio, admin_id, latitude, longitude, group_radius, latest_message_id, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id).Scan(
		&conversation.ID,
		&conversation.Name,
		&conversation.Bio,
		&conversation.AdminID,
		&conversation.Latitude,
		&conversation.Longitude,
		&conversation.GroupRadius,
		&conversation.LatestMessageID,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	participants, err := s.loadParticipants(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	conversation.Participants = participants[id]
	return conversation, nil
}

// loadParticipants loads participants with their users for the given
// conversation IDs, keyed by conversation ID.
func (s *PostgresStore) loadParticipants(ctx context.Context, conversationIDs []string) (map[string][]models.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cp.id, cp.conversation_id, cp.user_id, cp.has_seen_latest, cp.created_at,
		       u.id, COALESCE(u.username, ''), u.email, u.image_url, u.bio, u.latitude, u.longitude, u.points, u.created_at, u.updated_at
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = ANY($1)
		ORDER BY cp.created_at
	`, conversationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string][]models.Participant)
	for rows.Next() {
		var p models.Participant
		var u models.User
		err := rows.Scan(
			&p.ID, &p.ConversationID, &p.UserID, &p.HasSeenLatest, &p.CreatedAt,
			&u.ID, &u.Username, &u.Email, &u.ImageURL, &u.Bio, &u.Latitude, &u.Longitude, &u.Points, &u.CreatedAt, &u.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		p.User = &u
		result[p.ConversationID] = append(result[p.ConversationID], p)
	}
	return result, rows.Err()
}

// loadLatestMessages loads latest messages with senders for the given
// conversations, keyed by message ID.
func (s *PostgresStore) loadLatestMessages(ctx context.Context, messageIDs []string) (map[string]*models.Message, error) {
	if len(messageIDs) == 0 {
		return map[string]*models.Message{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.image_url, m.created_at,
		       u.id, COALESCE(u.username, ''), u.email, u.image_url, u.bio, u.latitude, u.longitude, u.points, u.created_at, u.updated_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = ANY($1)
	`, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]*models.Message)
	for rows.Next() {
		var m models.Message
		var u models.User
		err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.ImageURL, &m.CreatedAt,
			&u.ID, &u.Username, &u.Email, &u.ImageURL, &u.Bio, &u.Latitude, &u.Longitude, &u.Points, &u.CreatedAt, &u.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		m.Sender = &u
		result[m.ID] = &m
	}
	return result, rows.Err()
}

// ListUserConversations returns all conversations the user participates in,
// hydrated with participants and the latest message. The membership filter is
// applied in the query, not after retrieval.
func (s *PostgresStore) ListUserConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.bio, c.admin_id, c.latitude, c.longitude, c.group_radius, c.latest_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	conversations, err := collectConversations(rows)
	if err != nil {
		return nil, err
	}

	return s.hydrateConversations(ctx, conversations)
}

// ListGroupConversations returns all conversations with a non-null admin,
// hydrated with participants.
func (s *PostgresStore) ListGroupConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.bio, c.admin_id, c.latitude, c.longitude, c.group_radius, c.latest_message_id, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.admin_id IS NOT NULL
		ORDER BY c.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	conversations, err := collectConversations(rows)
	if err != nil {
		return nil, err
	}

	return s.hydrateConversations(ctx, conversations)
}

func collectConversations(rows pgx.Rows) ([]models.Conversation, error) {
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var c models.Conversation
		err := rows.Scan(
			&c.ID, &c.Name, &c.Bio, &c.AdminID, &c.Latitude, &c.Longitude, &c.GroupRadius,
			&c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *PostgresStore) hydrateConversations(ctx context.Context, conversations []models.Conversation) ([]models.Conversation, error) {
	if len(conversations) == 0 {
		return conversations, nil
	}

	ids := make([]string, len(conversations))
	var messageIDs []string
	for i, c := range conversations {
		ids[i] = c.ID
		if c.LatestMessageID != nil {
			messageIDs = append(messageIDs, *c.LatestMessageID)
		}
	}

	participants, err := s.loadParticipants(ctx, ids)
	if err != nil {
		return nil, err
	}
	latest, err := s.loadLatestMessages(ctx, messageIDs)
	if err != nil {
		return nil, err
	}

	for i := range conversations {
		conversations[i].Participants = participants[conversations[i].ID]
		if id := conversations[i].LatestMessageID; id != nil {
			conversations[i].LatestMessage = latest[*id]
		}
	}
	return conversations, nil
}

// GetParticipant retrieves the participant row for (conversationID, userID),
// or nil if the user is not a participant.
func (s *PostgresStore) GetParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, user_id, has_seen_latest, created_at
		FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID).Scan(&p.ID, &p.ConversationID, &p.UserID, &p.HasSeenLatest, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// AddParticipant inserts a participant row with default unseen state. If the
// user already participates, the existing row is returned unchanged.
func (s *PostgresStore) AddParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_participants (id, conversation_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, uuid.New().String(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.GetParticipant(ctx, conversationID, userID)
}

// ListMessages returns all messages in a conversation, newest first, with
// sender users populated.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.image_url, m.created_at,
		       u.id, COALESCE(u.username, ''), u.email, u.image_url, u.bio, u.latitude, u.longitude, u.points, u.created_at, u.updated_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var u models.User
		err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.ImageURL, &m.CreatedAt,
			&u.ID, &u.Username, &u.Email, &u.ImageURL, &u.Bio, &u.Latitude, &u.Longitude, &u.Points, &u.CreatedAt, &u.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		m.Sender = &u
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SendMessage inserts the message and, in the same transaction, updates the
// conversation's latest-message pointer and flips every participant's
// has_seen_latest flag (true for the sender, false for everyone else).
// Returns ErrNotParticipant when the sender has no participant row. A retry
// with an already-stored message ID returns the stored message without
// re-applying the updates.
func (s *PostgresStore) SendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var participantID string
	err = tx.QueryRow(ctx, `
		SELECT id FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = $2
	`, msg.ConversationID, msg.SenderID).Scan(&participantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, image_url)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.ImageURL)
	if err != nil {
		return nil, err
	}

	if tag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx, `
			UPDATE conversations SET latest_message_id = $2, updated_at = NOW() WHERE id = $1
		`, msg.ConversationID, msg.ID)
		if err != nil {
			return nil, err
		}

		_, err = tx.Exec(ctx, `
			UPDATE conversation_participants
			SET has_seen_latest = (user_id = $2)
			WHERE conversation_id = $1
		`, msg.ConversationID, msg.SenderID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	stored, err := s.loadLatestMessages(ctx, []string{msg.ID})
	if err != nil {
		return nil, err
	}
	return stored[msg.ID], nil
}

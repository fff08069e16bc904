package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

// SQLiteStore handles SQLite database operations. It mirrors PostgresStore
// for development deployments without a PostgreSQL instance.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// SQLite does not support concurrent writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		latitude REAL,
		longitude REAL,
		points INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		bio TEXT NOT NULL DEFAULT '',
		admin_id TEXT REFERENCES users(id),
		latitude REAL,
		longitude REAL,
		group_radius REAL,
		latest_message_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id),
		has_seen_latest INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL REFERENCES users(id),
		body TEXT NOT NULL,
		image_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sqliteUserColumns = `id, COALESCE(username, ''), email, image_url, bio, latitude, longitude, points, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUserRow(row rowScanner) (*models.User, error) {
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, image_url, bio, latitude, longitude, created_at, updated_at)
		VALUES (?, NULLIF(?, ''), ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Username, user.Email, user.ImageURL, user.Bio, user.Latitude, user.Longitude, now, now)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, user.ID)
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUserRow(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteUserColumns+` FROM users WHERE id = ?
	`, id))
}

// GetUserByUsername retrieves a user by exact username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUserRow(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteUserColumns+` FROM users WHERE username = ?
	`, username))
}

// SearchUsers returns users whose username contains the substring,
// case-insensitive, excluding the given user.
func (s *SQLiteStore) SearchUsers(ctx context.Context, username, excludeUserID string) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteUserColumns+`
		FROM users
		WHERE username LIKE '%' || ? || '%' COLLATE NOCASE AND id != ?
		ORDER BY username
	`, username, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUserRows(rows)
}

// ListLocatedUsers returns all users with stored coordinates, excluding the
// given user.
func (s *SQLiteStore) ListLocatedUsers(ctx context.Context, excludeUserID string) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteUserColumns+`
		FROM users
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL AND id != ?
	`, excludeUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUserRows(rows)
}

func collectUserRows(rows *sql.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpdateUsername sets the user's username.
func (s *SQLiteStore) UpdateUsername(ctx context.Context, userID, username string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = ?, updated_at = ? WHERE id = ?
	`, username, time.Now().UTC(), userID)
	return err
}

// UpdateUserProfile sets the user's username, image and bio.
func (s *SQLiteStore) UpdateUserProfile(ctx context.Context, userID, username, imageURL, bio string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = ?, image_url = ?, bio = ?, updated_at = ? WHERE id = ?
	`, username, imageURL, bio, time.Now().UTC(), userID)
	return err
}

// UpdateUserLocation sets the user's stored coordinates.
func (s *SQLiteStore) UpdateUserLocation(ctx context.Context, userID string, latitude, longitude float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET latitude = ?, longitude = ?, updated_at = ? WHERE id = ?
	`, latitude, longitude, time.Now().UTC(), userID)
	return err
}

// CreateConversation creates a direct conversation with one participant row
// per ID. Only the creator starts with has_seen_latest set.
func (s *SQLiteStore) CreateConversation(ctx context.Context, participantIDs []string, creatorID string) (*models.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	conversationID := ulid.Make().String()
	if _, err := tx.ExecContext(ctx, `INSERT INTO conversations (id) VALUES (?)`, conversationID); err != nil {
		return nil, err
	}

	for _, userID := range participantIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participants (id, conversation_id, user_id, has_seen_latest)
			VALUES (?, ?, ?, ?)
		`, uuid.New().String(), conversationID, userID, userID == creatorID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, conversationID)
}

// FindConversationByParticipants returns a direct conversation whose
// participant set exactly matches participantIDs, or nil if none exists.
func (s *SQLiteStore) FindConversationByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	query := `
		SELECT cp.conversation_id
		FROM conversation_participants cp
		JOIN conversations c ON c.id = cp.conversation_id
		WHERE c.admin_id IS NULL
		GROUP BY cp.conversation_id
		HAVING COUNT(*) = ?
		   AND SUM(CASE WHEN cp.user_id IN (` + placeholders(len(participantIDs)) + `) THEN 1 ELSE 0 END) = ?
		LIMIT 1
	`
	args := make([]any, 0, len(participantIDs)+2)
	args = append(args, len(participantIDs))
	for _, id := range participantIDs {
		args = append(args, id)
	}
	args = append(args, len(participantIDs))

	var conversationID string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s.GetConversation(ctx, conversationID)
}

// CreateGroupConversation creates a group conversation with the admin as its
// single initial participant.
func (s *SQLiteStore) CreateGroupConversation(ctx context.Context, name, bio string, latitude, longitude, radius float64, adminID string) (*models.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	conversationID := ulid.Make().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (id, name, bio, admin_id, latitude, longitude, group_radius)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, conversationID, name, bio, adminID, latitude, longitude, radius)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (id, conversation_id, user_id)
		VALUES (?, ?, ?)
	`, uuid.New().String(), conversationID, adminID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetConversation(ctx, conversationID)
}

// GetConversation retrieves a conversation with its participants and their
// users, or nil if it does not exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conversation := &models.Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, bio, admin_id, latitude, longitude, group_radius, latest_message_id, created_at, updated_at
		FROM conversations WHERE id = ?
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
		if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQLiteStore) loadParticipants(ctx context.Context, conversationIDs []string) (map[string][]models.Participant, error) {
	query := `
		SELECT cp.id, cp.conversation_id, cp.user_id, cp.has_seen_latest, cp.created_at,
		       u.id, COALESCE(u.username, ''), u.email, u.image_url, u.bio, u.latitude, u.longitude, u.points, u.created_at, u.updated_at
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id IN (` + placeholders(len(conversationIDs)) + `)
		ORDER BY cp.created_at
	`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(conversationIDs)...)
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

func (s *SQLiteStore) loadLatestMessages(ctx context.Context, messageIDs []string) (map[string]*models.Message, error) {
	if len(messageIDs) == 0 {
		return map[string]*models.Message{}, nil
	}

	query := `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.image_url, m.created_at,
		       u.id, COALESCE(u.username, ''), u.email, u.image_url, u.bio, u.latitude, u.longitude, u.points, u.created_at, u.updated_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id IN (` + placeholders(len(messageIDs)) + `)
	`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(messageIDs)...)
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
// hydrated with participants and the latest message.
func (s *SQLiteStore) ListUserConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.bio, c.admin_id, c.latitude, c.longitude, c.group_radius, c.latest_message_id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ?
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	conversations, err := collectConversationRows(rows)
	if err != nil {
		return nil, err
	}
	return s.hydrateConversations(ctx, conversations)
}

// ListGroupConversations returns all conversations with a non-null admin.
func (s *SQLiteStore) ListGroupConversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.bio, c.admin_id, c.latitude, c.longitude, c.group_radius, c.latest_message_id, c.created_at, c.updated_at
		FROM conversations c
		WHERE c.admin_id IS NOT NULL
		ORDER BY c.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	conversations, err := collectConversationRows(rows)
	if err != nil {
		return nil, err
	}
	return s.hydrateConversations(ctx, conversations)
}

func collectConversationRows(rows *sql.Rows) ([]models.Conversation, error) {
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

func (s *SQLiteStore) hydrateConversations(ctx context.Context, conversations []models.Conversation) ([]models.Conversation, error) {
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
func (s *SQLiteStore) GetParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	p := &models.Participant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, user_id, has_seen_latest, created_at
		FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&p.ID, &p.ConversationID, &p.UserID, &p.HasSeenLatest, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// AddParticipant inserts a participant row with default unseen state. If the
// user already participates, the existing row is returned unchanged.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_participants (id, conversation_id, user_id)
		VALUES (?, ?, ?)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, uuid.New().String(), conversationID, userID)
	if err != nil {
		return nil, err
	}
	return s.GetParticipant(ctx, conversationID, userID)
}

// ListMessages returns all messages in a conversation, newest first, with
// sender users populated.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender_id, m.body, m.image_url, m.created_at,
		       u.id, COALESCE(u.username, ''), u.email, u.image_url, u.bio, u.latitude, u.longitude, u.points, u.created_at, u.updated_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at DESC, m.id DESC
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
// has_seen_latest flag. See PostgresStore.SendMessage for semantics.
func (s *SQLiteStore) SendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var participantID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM conversation_participants
		WHERE conversation_id = ? AND user_id = ?
	`, msg.ConversationID, msg.SenderID).Scan(&participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotParticipant
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, image_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.ImageURL, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if inserted > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE conversations SET latest_message_id = ?, updated_at = ? WHERE id = ?
		`, msg.ID, time.Now().UTC(), msg.ConversationID)
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE conversation_participants
			SET has_seen_latest = (user_id = ?)
			WHERE conversation_id = ?
		`, msg.SenderID, msg.ConversationID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	stored, err := s.loadLatestMessages(ctx, []string{msg.ID})
	if err != nil {
		return nil, err
	}
	return stored[msg.ID], nil
}

// placeholders returns n comma-separated SQL placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

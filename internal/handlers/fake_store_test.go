package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ibo-najjar/chat-app-backend/internal/api/middleware"
	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/models"
	"github.com/ibo-najjar/chat-app-backend/internal/store"
)

// fakeStore is an in-memory store.DataStore for handler tests.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]*models.User
	conversations map[string]*models.Conversation
	participants  []models.Participant
	messages      []models.Message
	nextID        int

	failWith error // when set, every operation fails with this error
}

var _ store.DataStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         make(map[string]*models.User),
		conversations: make(map[string]*models.Conversation),
	}
}

func (f *fakeStore) genID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeStore) Close() {}

func (f *fakeStore) Ping(ctx context.Context) error { return f.failWith }

func (f *fakeStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	u := *user
	u.CreatedAt = time.Now()
	f.users[u.ID] = &u
	copied := u
	return &copied, nil
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SearchUsers(ctx context.Context, username, excludeUserID string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []models.User
	for _, u := range f.users {
		if u.ID == excludeUserID {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(username)) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (f *fakeStore) ListLocatedUsers(ctx context.Context, excludeUserID string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []models.User
	for _, u := range f.users {
		if u.ID == excludeUserID || !u.HasLocation() {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (f *fakeStore) UpdateUsername(ctx context.Context, userID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if u, ok := f.users[userID]; ok {
		u.Username = username
	}
	return nil
}

func (f *fakeStore) UpdateUserProfile(ctx context.Context, userID, username, imageURL, bio string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if u, ok := f.users[userID]; ok {
		u.Username = username
		u.ImageURL = imageURL
		u.Bio = bio
	}
	return nil
}

func (f *fakeStore) UpdateUserLocation(ctx context.Context, userID string, latitude, longitude float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	if u, ok := f.users[userID]; ok {
		u.Latitude = &latitude
		u.Longitude = &longitude
	}
	return nil
}

func (f *fakeStore) CreateConversation(ctx context.Context, participantIDs []string, creatorID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	conv := &models.Conversation{ID: f.genID("conv"), CreatedAt: time.Now()}
	f.conversations[conv.ID] = conv
	for _, userID := range participantIDs {
		f.participants = append(f.participants, models.Participant{
			ID:             f.genID("part"),
			UserID:         userID,
			ConversationID: conv.ID,
			HasSeenLatest:  userID == creatorID,
		})
	}
	return f.hydrate(conv), nil
}

func (f *fakeStore) FindConversationByParticipants(ctx context.Context, participantIDs []string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	want := make(map[string]bool, len(participantIDs))
	for _, id := range participantIDs {
		want[id] = true
	}
	for _, conv := range f.conversations {
		if conv.AdminID != nil {
			continue
		}
		members := f.memberIDs(conv.ID)
		if len(members) != len(want) {
			continue
		}
		match := true
		for _, id := range members {
			if !want[id] {
				match = false
				break
			}
		}
		if match {
			return f.hydrate(conv), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateGroupConversation(ctx context.Context, name, bio string, latitude, longitude, radius float64, adminID string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	conv := &models.Conversation{
		ID:          f.genID("conv"),
		Name:        name,
		Bio:         bio,
		AdminID:     &adminID,
		Latitude:    &latitude,
		Longitude:   &longitude,
		GroupRadius: &radius,
		CreatedAt:   time.Now(),
	}
	f.conversations[conv.ID] = conv
	f.participants = append(f.participants, models.Participant{
		ID:             f.genID("part"),
		UserID:         adminID,
		ConversationID: conv.ID,
		HasSeenLatest:  true,
	})
	return f.hydrate(conv), nil
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	conv, ok := f.conversations[id]
	if !ok {
		return nil, nil
	}
	return f.hydrate(conv), nil
}

func (f *fakeStore) ListUserConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []models.Conversation
	for _, conv := range f.conversations {
		for _, id := range f.memberIDs(conv.ID) {
			if id == userID {
				out = append(out, *f.hydrate(conv))
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ListGroupConversations(ctx context.Context) ([]models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []models.Conversation
	for _, conv := range f.conversations {
		if conv.AdminID != nil {
			out = append(out, *f.hydrate(conv))
		}
	}
	return out, nil
}

func (f *fakeStore) GetParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	for i := range f.participants {
		p := f.participants[i]
		if p.ConversationID == conversationID && p.UserID == userID {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AddParticipant(ctx context.Context, conversationID, userID string) (*models.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	p := models.Participant{
		ID:             f.genID("part"),
		UserID:         userID,
		ConversationID: conversationID,
	}
	f.participants = append(f.participants, p)
	return &p, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []models.Message
	// newest first
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].ConversationID == conversationID {
			out = append(out, f.messages[i])
		}
	}
	return out, nil
}

func (f *fakeStore) SendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}

	member := false
	for _, p := range f.participants {
		if p.ConversationID == msg.ConversationID && p.UserID == msg.SenderID {
			member = true
			break
		}
	}
	if !member {
		return nil, store.ErrNotParticipant
	}

	for i := range f.messages {
		if f.messages[i].ID == msg.ID {
			copied := f.messages[i]
			return &copied, nil
		}
	}

	stored := *msg
	stored.CreatedAt = time.Now()
	f.messages = append(f.messages, stored)

	conv := f.conversations[msg.ConversationID]
	conv.LatestMessageID = &stored.ID
	for i := range f.participants {
		if f.participants[i].ConversationID == msg.ConversationID {
			f.participants[i].HasSeenLatest = f.participants[i].UserID == msg.SenderID
		}
	}

	copied := stored
	return &copied, nil
}

// memberIDs returns the user IDs participating in a conversation. Callers
// must hold f.mu.
func (f *fakeStore) memberIDs(conversationID string) []string {
	var out []string
	for _, p := range f.participants {
		if p.ConversationID == conversationID {
			out = append(out, p.UserID)
		}
	}
	return out
}

// hydrate copies a conversation with its participant rows attached. Callers
// must hold f.mu.
func (f *fakeStore) hydrate(conv *models.Conversation) *models.Conversation {
	copied := *conv
	copied.Participants = nil
	for _, p := range f.participants {
		if p.ConversationID == conv.ID {
			if u, ok := f.users[p.UserID]; ok {
				user := *u
				p.User = &user
			}
			copied.Participants = append(copied.Participants, p)
		}
	}
	return &copied
}

// newTestHandler wires a Handler to the fake store and an in-process bus.
func newTestHandler(data *fakeStore) (*Handler, *bus.MemoryBus) {
	eventBus := bus.NewMemoryBus()
	return NewHandler(data, nil, eventBus, nil, zerolog.Nop()), eventBus
}

// authedRequest builds a request carrying the given user, as the session
// middleware would after resolving a token.
func authedRequest(method, target string, body *strings.Reader, user *models.User) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, body)
	}
	ctx := context.WithValue(req.Context(), middleware.UserContextKey, user)
	return req.WithContext(ctx)
}

// withURLParam attaches a chi route parameter to the request.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

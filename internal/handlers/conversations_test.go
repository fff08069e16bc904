package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ibo-najjar/chat-app-backend/internal/bus"
	"github.com/ibo-najjar/chat-app-backend/internal/models"
)

func decodeConversationID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp CreateConversationResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp.ConversationID
}

func TestCreateConversation(t *testing.T) {
	data := newFakeStore()
	h, eventBus := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")
	seedUser(t, data, "bob", "bob")

	sub, err := eventBus.Subscribe(bus.TopicConversationCreated)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	body := strings.NewReader(`{"participantIds":["alice","bob"]}`)
	req := authedRequest(http.MethodPost, "/conversations", body, alice)
	rec := httptest.NewRecorder()
	h.CreateConversation(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	id := decodeConversationID(t, rec)
	if id == "" {
		t.Fatal("expected a conversation id")
	}

	select {
	case ev := <-sub.Events():
		created, ok := ev.(bus.ConversationCreated)
		if !ok {
			t.Fatalf("expected ConversationCreated, got %T", ev)
		}
		if created.Conversation.ID != id {
			t.Fatalf("event carries %s, want %s", created.Conversation.ID, id)
		}
		if !models.UserIsParticipant(created.Conversation.Participants, "bob") {
			t.Fatal("event should carry the participant list")
		}
	default:
		t.Fatal("expected a conversation-created event")
	}
}

func TestCreateConversationDedup(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")
	seedUser(t, data, "bob", "bob")

	req := authedRequest(http.MethodPost, "/conversations", strings.NewReader(`{"participantIds":["alice","bob"]}`), alice)
	rec := httptest.NewRecorder()
	h.CreateConversation(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	first := decodeConversationID(t, rec)

	// Same participant set, different order: must return the existing
	// conversation instead of creating a second one.
	req = authedRequest(http.MethodPost, "/conversations", strings.NewReader(`{"participantIds":["bob","alice"]}`), alice)
	rec = httptest.NewRecorder()
	h.CreateConversation(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing conversation, got %d", rec.Code)
	}
	if second := decodeConversationID(t, rec); second != first {
		t.Fatalf("expected existing id %s, got %s", first, second)
	}
	if len(data.conversations) != 1 {
		t.Fatalf("expected one conversation, got %d", len(data.conversations))
	}
}

func TestCreateConversationRequiresParticipants(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")

	req := authedRequest(http.MethodPost, "/conversations", strings.NewReader(`{"participantIds":[]}`), alice)
	rec := httptest.NewRecorder()
	h.CreateConversation(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestCreateGroupConversation(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")

	body := strings.NewReader(`{"name":"hikers","bio":"weekend walks","lat":48.8566,"lng":2.3522,"groupRadius":5,"adminId":"alice"}`)
	req := authedRequest(http.MethodPost, "/conversations/group", body, alice)
	rec := httptest.NewRecorder()
	h.CreateGroupConversation(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	id := decodeConversationID(t, rec)

	conv, err := data.GetConversation(t.Context(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !conv.IsGroup() || *conv.AdminID != "alice" {
		t.Fatalf("expected a group administered by alice: %+v", conv)
	}
	if len(conv.Participants) != 1 || conv.Participants[0].UserID != "alice" {
		t.Fatalf("expected the admin as sole participant: %+v", conv.Participants)
	}
}

func TestCreateGroupConversationValidation(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")

	req := authedRequest(http.MethodPost, "/conversations/group", strings.NewReader(`{"name":"  ","adminId":"alice"}`), alice)
	rec := httptest.NewRecorder()
	h.CreateGroupConversation(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for blank name, got %d", rec.Code)
	}

	req = authedRequest(http.MethodPost, "/conversations/group", strings.NewReader(`{"name":"hikers","adminId":"bob"}`), alice)
	rec = httptest.NewRecorder()
	h.CreateGroupConversation(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign admin, got %d", rec.Code)
	}
}

func TestJoinGroupConversation(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")
	bob := seedUser(t, data, "bob", "bob")

	group, err := data.CreateGroupConversation(t.Context(), "hikers", "", 0, 0, 5, alice.ID)
	if err != nil {
		t.Fatal(err)
	}

	req := withURLParam(authedRequest(http.MethodPost, "/conversations/"+group.ID+"/join", nil, bob), "id", group.ID)
	rec := httptest.NewRecorder()
	h.JoinGroupConversation(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if id := decodeConversationID(t, rec); id != group.ID {
		t.Fatalf("expected %s, got %s", group.ID, id)
	}

	// Joining again keeps a single participant row.
	req = withURLParam(authedRequest(http.MethodPost, "/conversations/"+group.ID+"/join", nil, bob), "id", group.ID)
	rec = httptest.NewRecorder()
	h.JoinGroupConversation(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on rejoin, got %d", rec.Code)
	}

	conv, _ := data.GetConversation(t.Context(), group.ID)
	if len(conv.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(conv.Participants))
	}
}

func TestJoinGroupConversationNotFound(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")

	req := withURLParam(authedRequest(http.MethodPost, "/conversations/ghost/join", nil, alice), "id", "ghost")
	rec := httptest.NewRecorder()
	h.JoinGroupConversation(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetConversationHidesCaller(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")
	seedUser(t, data, "bob", "bob")

	conv, err := data.CreateConversation(t.Context(), []string{"alice", "bob"}, alice.ID)
	if err != nil {
		t.Fatal(err)
	}

	req := withURLParam(authedRequest(http.MethodGet, "/conversations/"+conv.ID, nil, alice), "id", conv.ID)
	rec := httptest.NewRecorder()
	h.GetConversation(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got models.Conversation
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got.Participants) != 1 || got.Participants[0].UserID != "bob" {
		t.Fatalf("expected only the other side, got %+v", got.Participants)
	}
}

func TestGetGroupConversationsDistance(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")
	bob := seedUser(t, data, "bob", "bob")

	// Group centered on London, caller in Paris.
	if _, err := data.CreateGroupConversation(t.Context(), "londoners", "", 51.5074, -0.1278, 10, bob.ID); err != nil {
		t.Fatal(err)
	}
	if err := data.UpdateUserLocation(t.Context(), alice.ID, 48.8566, 2.3522); err != nil {
		t.Fatal(err)
	}
	alice, _ = data.GetUser(t.Context(), alice.ID)

	req := authedRequest(http.MethodGet, "/conversations/groups", nil, alice)
	rec := httptest.NewRecorder()
	h.GetGroupConversations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var groups []GroupConversationResponse
	if err := json.NewDecoder(rec.Body).Decode(&groups); err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected one group, got %d", len(groups))
	}
	if groups[0].NumberOfParticipants != 1 {
		t.Fatalf("expected 1 participant, got %d", groups[0].NumberOfParticipants)
	}
	if groups[0].Distance == nil || *groups[0].Distance < 330 || *groups[0].Distance > 355 {
		t.Fatalf("expected Paris-London distance, got %v", groups[0].Distance)
	}
}

func TestGetGroupConversationsNoCallerLocation(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")
	bob := seedUser(t, data, "bob", "bob")

	if _, err := data.CreateGroupConversation(t.Context(), "londoners", "", 51.5074, -0.1278, 10, bob.ID); err != nil {
		t.Fatal(err)
	}

	req := authedRequest(http.MethodGet, "/conversations/groups", nil, alice)
	rec := httptest.NewRecorder()
	h.GetGroupConversations(rec, req)

	var groups []GroupConversationResponse
	if err := json.NewDecoder(rec.Body).Decode(&groups); err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].Distance != nil {
		t.Fatalf("expected no distance for an unlocated caller, got %+v", groups)
	}
}

func TestGetConversationsOnlyCallers(t *testing.T) {
	data := newFakeStore()
	h, _ := newTestHandler(data)
	alice := seedUser(t, data, "alice", "alice")
	seedUser(t, data, "bob", "bob")
	seedUser(t, data, "carol", "carol")

	if _, err := data.CreateConversation(t.Context(), []string{"alice", "bob"}, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := data.CreateConversation(t.Context(), []string{"bob", "carol"}, "bob"); err != nil {
		t.Fatal(err)
	}

	req := authedRequest(http.MethodGet, "/conversations", nil, alice)
	rec := httptest.NewRecorder()
	h.GetConversations(rec, req)

	var conversations []models.Conversation
	if err := json.NewDecoder(rec.Body).Decode(&conversations); err != nil {
		t.Fatal(err)
	}
	if len(conversations) != 1 {
		t.Fatalf("expected only the caller's conversation, got %d", len(conversations))
	}
	if !models.UserIsParticipant(conversations[0].Participants, "alice") {
		t.Fatal("expected alice in her own conversation")
	}
}

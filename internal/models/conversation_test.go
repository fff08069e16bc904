package models

import "testing"

func TestUserIsParticipant(t *testing.T) {
	participants := []Participant{
		{UserID: "alice"},
		{UserID: "bob"},
	}

	if !UserIsParticipant(participants, "alice") {
		t.Fatal("expected alice to be a participant")
	}
	if UserIsParticipant(participants, "carol") {
		t.Fatal("expected carol not to be a participant")
	}
	if UserIsParticipant(nil, "alice") {
		t.Fatal("expected no participants in empty list")
	}
}

func TestConversationIsGroup(t *testing.T) {
	admin := "alice"

	group := Conversation{AdminID: &admin}
	if !group.IsGroup() {
		t.Fatal("conversation with an admin should be a group")
	}

	direct := Conversation{}
	if direct.IsGroup() {
		t.Fatal("conversation without an admin should not be a group")
	}
}

func TestUserHasLocation(t *testing.T) {
	lat, lng := 0.0, 0.0

	located := User{Latitude: &lat, Longitude: &lng}
	if !located.HasLocation() {
		t.Fatal("user at (0,0) should count as located")
	}

	unlocated := User{Latitude: &lat}
	if unlocated.HasLocation() {
		t.Fatal("user with one coordinate should not count as located")
	}
}

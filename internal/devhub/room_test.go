package devhub

import (
	"testing"
	"time"

	"github.com/majlis-chat/roomsession/internal/domain"
)

func TestRoomMembership(t *testing.T) {
	r := newRoom("room-1")
	r.addMember("alice", "Alice")
	r.addMember("bob", "Bob")
	if r.memberCount() != 2 {
		t.Fatalf("count = %d, want 2", r.memberCount())
	}

	// A second device bumps the connection count instead of duplicating.
	r.addMember("alice", "Alice")
	if r.memberCount() != 2 {
		t.Errorf("count = %d, want 2 after duplicate join", r.memberCount())
	}
	for _, m := range r.snapshot() {
		if m.UserID == "alice" && m.ConnectionCount != 2 {
			t.Errorf("alice connections = %d, want 2", m.ConnectionCount)
		}
	}

	r.removeMember("bob")
	if r.memberCount() != 1 {
		t.Errorf("count = %d, want 1", r.memberCount())
	}
}

func TestRoomBanRemovesAndBlocks(t *testing.T) {
	r := newRoom("room-1")
	r.addMember("alice", "Alice")

	r.ban("alice", "spam")
	if r.memberCount() != 0 {
		t.Error("banned member still present")
	}
	reason, banned := r.isBanned("alice")
	if !banned || reason != "spam" {
		t.Errorf("isBanned = %v/%q", banned, reason)
	}

	r.unban("alice")
	if _, banned := r.isBanned("alice"); banned {
		t.Error("still banned after unban")
	}
}

func TestRoomMuteExpiry(t *testing.T) {
	r := newRoom("room-1")
	r.addMember("alice", "Alice")

	past := time.Now().Add(-time.Minute)
	if !r.mute("alice", "caps", &past) {
		t.Fatal("mute rejected")
	}
	if r.isMuted("alice") {
		t.Error("expired mute still active")
	}

	future := time.Now().Add(time.Hour)
	r.mute("alice", "caps", &future)
	if !r.isMuted("alice") {
		t.Error("timed mute not active")
	}

	r.mute("alice", "caps", nil)
	if !r.isMuted("alice") {
		t.Error("permanent mute not active")
	}
	if !r.unmute("alice") {
		t.Fatal("unmute rejected")
	}
	if r.isMuted("alice") {
		t.Error("still muted after unmute")
	}

	if r.mute("ghost", "x", nil) {
		t.Error("mute of unknown member accepted")
	}
}

func TestRoomRolesAndSettings(t *testing.T) {
	r := newRoom("room-1")
	r.addMember("alice", "Alice")

	if !r.setRole("alice", domain.RoleAdmin) {
		t.Fatal("setRole rejected")
	}
	if got := r.snapshot()[0].Role; got != domain.RoleAdmin {
		t.Errorf("role = %v, want admin", got)
	}

	s := r.getSettings()
	s.MaxMembers = 5
	r.updateSettings(s)
	if r.getSettings().MaxMembers != 5 {
		t.Error("settings update lost")
	}
}

func TestMessageIDsAreMonotonic(t *testing.T) {
	r := newRoom("room-1")
	a := r.nextMessageID()
	b := r.nextMessageID()
	if b != a+1 {
		t.Errorf("ids %d, %d not monotonic", a, b)
	}
	if formatMessageID("room-1", a) == formatMessageID("room-1", b) {
		t.Error("distinct sequence numbers formatted identically")
	}
}

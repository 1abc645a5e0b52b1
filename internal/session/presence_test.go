package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/majlis-chat/roomsession/internal/domain"
)

func member(id domain.UserID, name string) domain.RoomMember {
	return *domain.NewRoomMember(id, name)
}

func TestSnapshotReplacesMemberSet(t *testing.T) {
	tr := NewPresenceTracker(time.Hour, nil)
	tr.ApplyJoin(member("alice", "Alice"))
	tr.ApplyJoin(member("bob", "Bob"))

	// A snapshot that no longer lists bob evicts him.
	tr.ApplySnapshot([]domain.RoomMember{member("alice", "Alice"), member("carol", "Carol")})

	if tr.Count() != 2 {
		t.Fatalf("count = %d, want 2", tr.Count())
	}
	if _, ok := tr.Member("bob"); ok {
		t.Error("bob survived the snapshot")
	}
	if _, ok := tr.Member("carol"); !ok {
		t.Error("carol missing after snapshot")
	}
}

func TestJoinOverwriteCountsConnections(t *testing.T) {
	tr := NewPresenceTracker(time.Hour, nil)
	tr.ApplyJoin(member("alice", "Alice"))
	tr.ApplyJoin(member("alice", "Alice"))

	m, ok := tr.Member("alice")
	if !ok {
		t.Fatal("alice missing")
	}
	if m.ConnectionCount != 2 {
		t.Errorf("connection count = %d, want 2", m.ConnectionCount)
	}
	if tr.Count() != 1 {
		t.Errorf("count = %d, want 1", tr.Count())
	}
}

func TestLeaveUnknownIsNoOp(t *testing.T) {
	tr := NewPresenceTracker(time.Hour, nil)
	tr.ApplyJoin(member("alice", "Alice"))
	tr.ApplyLeave("ghost")
	if tr.Count() != 1 {
		t.Errorf("count = %d, want 1", tr.Count())
	}
}

func TestModerationFoldsIntoMember(t *testing.T) {
	tr := NewPresenceTracker(time.Hour, nil)
	tr.ApplyJoin(member("alice", "Alice"))
	until := time.Now().Add(time.Hour)

	tr.ApplyModeration(domain.ModerationEvent{
		Kind:         domain.ModMuted,
		TargetUserID: "alice",
		Reason:       "spam",
		ExpiresAt:    &until,
	})
	m, _ := tr.Member("alice")
	if !m.IsMuted || m.MuteReason != "spam" || m.MuteExpiry == nil {
		t.Errorf("mute not folded: %+v", m)
	}

	tr.ApplyModeration(domain.ModerationEvent{Kind: domain.ModUnmuted, TargetUserID: "alice"})
	m, _ = tr.Member("alice")
	if m.IsMuted || m.MuteReason != "" || m.MuteExpiry != nil {
		t.Errorf("unmute not folded: %+v", m)
	}

	tr.ApplyModeration(domain.ModerationEvent{Kind: domain.ModRoleChanged, TargetUserID: "alice", NewRole: domain.RoleAdmin})
	m, _ = tr.Member("alice")
	if m.Role != domain.RoleAdmin {
		t.Errorf("role = %v, want admin", m.Role)
	}
}

func TestTerminalModerationEvicts(t *testing.T) {
	tr := NewPresenceTracker(time.Hour, nil)
	tr.ApplyJoin(member("alice", "Alice"))
	tr.ApplyJoin(member("bob", "Bob"))

	tr.ApplyModeration(domain.ModerationEvent{Kind: domain.ModBanned, TargetUserID: "alice"})
	tr.ApplyModeration(domain.ModerationEvent{Kind: domain.ModKicked, TargetUserID: "bob"})

	if tr.Count() != 0 {
		t.Errorf("count = %d, want 0", tr.Count())
	}
	if _, ok := tr.Member("alice"); ok {
		t.Error("banned member still resolvable")
	}
	if _, ok := tr.Member("bob"); ok {
		t.Error("kicked member still resolvable")
	}
}

func TestModerationForAbsentMemberDropped(t *testing.T) {
	tr := NewPresenceTracker(time.Hour, nil)
	tr.ApplyModeration(domain.ModerationEvent{Kind: domain.ModMuted, TargetUserID: "ghost"})
	if tr.Count() != 0 {
		t.Errorf("count = %d, want 0", tr.Count())
	}
}

func TestResyncDebounceCoalesces(t *testing.T) {
	var calls atomic.Int32
	tr := NewPresenceTracker(30*time.Millisecond, func() { calls.Add(1) })

	// A burst of incremental mutations collapses into one request.
	tr.ApplyJoin(member("a", "A"))
	tr.ApplyJoin(member("b", "B"))
	tr.ApplyLeave("a")

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("resync calls = %d, want 1", got)
	}
}

func TestSnapshotCancelsPendingResync(t *testing.T) {
	var calls atomic.Int32
	tr := NewPresenceTracker(30*time.Millisecond, func() { calls.Add(1) })

	tr.ApplyJoin(member("a", "A"))
	tr.ApplySnapshot([]domain.RoomMember{member("a", "A")})

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("resync calls = %d, want 0", got)
	}
}

func TestStopCancelsPendingResync(t *testing.T) {
	var calls atomic.Int32
	tr := NewPresenceTracker(30*time.Millisecond, func() { calls.Add(1) })

	tr.ApplyJoin(member("a", "A"))
	tr.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("resync calls = %d, want 0", got)
	}
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	tr := NewPresenceTracker(time.Hour, nil)
	tr.ApplyJoin(member("charlie", "Charlie"))
	tr.ApplyJoin(member("alice", "Alice"))
	tr.ApplyJoin(member("bob", "Bob"))

	snap := tr.Snapshot()
	want := []domain.UserID{"alice", "bob", "charlie"}
	for i, id := range want {
		if snap[i].UserID != id {
			t.Fatalf("snapshot[%d] = %s, want %s", i, snap[i].UserID, id)
		}
	}

	// Mutating the copy must not leak into the tracker.
	snap[0].IsMuted = true
	if m, _ := tr.Member("alice"); m.IsMuted {
		t.Error("snapshot mutation leaked into the tracker")
	}
}

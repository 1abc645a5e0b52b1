package session

import (
	"testing"
	"time"

	"github.com/majlis-chat/roomsession/internal/hub"
)

func TestLocalEchoConfirmedInPlace(t *testing.T) {
	s := NewMessageStream()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	s.AppendLocal("alice", "Alice", "hello")
	msg, appended := s.ApplyInbound(hub.InboundMessage{
		MessageID: "m-1",
		UserID:    "alice",
		Username:  "Alice",
		Body:      "hello",
		SentAt:    base.Add(2 * time.Second),
	}, "alice")

	if appended {
		t.Error("server copy of own message appended instead of collapsed")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d, want 1", s.Len())
	}
	if msg.IsLocalEcho {
		t.Error("echo still marked local after confirmation")
	}
	if msg.ServerID != "m-1" {
		t.Errorf("server id = %q, want m-1", msg.ServerID)
	}
	got := s.Messages()[0]
	if got.SentAt != base.Add(2*time.Second) {
		t.Errorf("sentAt = %v, want the server timestamp", got.SentAt)
	}
}

func TestEchoCorrelationTrimsWhitespace(t *testing.T) {
	s := NewMessageStream()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.AppendLocal("alice", "Alice", "hi there")
	_, appended := s.ApplyInbound(hub.InboundMessage{
		MessageID: "m-2",
		UserID:    "alice",
		Body:      "  hi there  ",
		SentAt:    base.Add(time.Second),
	}, "alice")

	if appended || s.Len() != 1 {
		t.Errorf("whitespace variant not collapsed: appended=%v len=%d", appended, s.Len())
	}
}

func TestOwnMessageOutsideWindowAppends(t *testing.T) {
	s := NewMessageStream()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.AppendLocal("alice", "Alice", "hello")
	_, appended := s.ApplyInbound(hub.InboundMessage{
		MessageID: "m-3",
		UserID:    "alice",
		Body:      "hello",
		SentAt:    base.Add(echoWindow + time.Second),
	}, "alice")

	if !appended {
		t.Error("stale server copy should be its own entry")
	}
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2", s.Len())
	}
}

func TestOtherUsersMessagesAlwaysAppend(t *testing.T) {
	s := NewMessageStream()
	s.AppendLocal("alice", "Alice", "hello")

	msg, appended := s.ApplyInbound(hub.InboundMessage{
		MessageID: "m-4",
		UserID:    "bob",
		Username:  "Bob",
		Body:      "hello",
		SentAt:    time.Now(),
	}, "alice")

	if !appended {
		t.Error("bob's identical text collapsed into alice's echo")
	}
	if msg.AuthorID != "bob" || msg.IsLocalEcho {
		t.Errorf("unexpected entry: %+v", msg)
	}
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2", s.Len())
	}
}

func TestEchoConfirmedOnlyOnce(t *testing.T) {
	s := NewMessageStream()
	base := time.Now()
	s.now = func() time.Time { return base }

	s.AppendLocal("alice", "Alice", "hello")
	in := hub.InboundMessage{MessageID: "m-5", UserID: "alice", Body: "hello", SentAt: base}

	if _, appended := s.ApplyInbound(in, "alice"); appended {
		t.Fatal("first copy not collapsed")
	}
	in.MessageID = "m-6"
	if _, appended := s.ApplyInbound(in, "alice"); !appended {
		t.Error("second copy reused an already-confirmed echo")
	}
	if s.Len() != 2 {
		t.Errorf("len = %d, want 2", s.Len())
	}
}

func TestApplyDeleted(t *testing.T) {
	s := NewMessageStream()
	s.ApplyInbound(hub.InboundMessage{MessageID: "m-1", UserID: "bob", Body: "one", SentAt: time.Now()}, "alice")
	s.ApplyInbound(hub.InboundMessage{MessageID: "m-2", UserID: "bob", Body: "two", SentAt: time.Now()}, "alice")

	s.ApplyDeleted("m-1")
	msgs := s.Messages()
	if len(msgs) != 1 || msgs[0].ServerID != "m-2" {
		t.Errorf("after delete: %+v", msgs)
	}

	// Unknown and empty ids are no-ops.
	s.ApplyDeleted("m-404")
	s.ApplyDeleted("")
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewMessageStream()
	s.AppendLocal("alice", "Alice", "hello")

	msgs := s.Messages()
	msgs[0].Body = "tampered"
	if s.Messages()[0].Body != "hello" {
		t.Error("Messages exposed internal storage")
	}
}

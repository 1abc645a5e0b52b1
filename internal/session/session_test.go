package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/hub"
)

func newTestSession(t *testing.T, d *fakeDialer, cb Callbacks) *Session {
	t.Helper()
	return New(Options{
		RoomID:       "room-1",
		Self:         domain.User{ID: "me", Username: "Me"},
		Dial:         d.dial,
		RPCTimeout:   time.Second,
		ResyncWindow: time.Hour,
	}, cb)
}

func TestSendBeforeStartFailsFast(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d, Callbacks{})

	_, err := s.Send("hello")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if len(s.Messages()) != 0 {
		t.Error("refused send still mutated the stream")
	}
	if d.dialCount() != 0 {
		t.Error("refused send touched the transport")
	}
}

func TestStartJoinsAndRequestsPresence(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d, Callbacks{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	c := d.conns[0]
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joins != 1 {
		t.Errorf("joins = %d, want 1", c.joins)
	}
	if c.snapshots != 1 {
		t.Errorf("snapshot requests = %d, want 1", c.snapshots)
	}
}

func TestStartJoinRejectionIsTerminal(t *testing.T) {
	d := &fakeDialer{}
	s := New(Options{
		RoomID: "room-1",
		Self:   domain.User{ID: "me", Username: "Me"},
		Dial: func(ctx context.Context, events *hub.Events) (hub.Conn, error) {
			c := &fakeConn{joinErr: &hub.RPCError{Op: "join_room", Reason: "banned"}}
			d.mu.Lock()
			d.conns = append(d.conns, c)
			d.mu.Unlock()
			return c, nil
		},
		RPCTimeout:   time.Second,
		ResyncWindow: time.Hour,
	}, Callbacks{})

	err := s.Start(context.Background())
	var rpcErr *hub.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Reason != "banned" {
		t.Fatalf("err = %v, want join rejection", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed after rejected join", s.State())
	}
}

func TestSendEmptyAfterTrim(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d, Callbacks{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if _, err := s.Send("   \n\t "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	if len(s.Messages()) != 0 {
		t.Error("empty send still mutated the stream")
	}
	if d.conns[0].sendCount() != 0 {
		t.Error("empty send reached the transport")
	}
}

func TestSendWhileMutedReturnsRestriction(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d, Callbacks{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	until := time.Now().Add(time.Hour)
	me := member("me", "Me")
	me.IsMuted = true
	me.MuteExpiry = &until
	me.MuteReason = "spam"
	s.presence.ApplySnapshot([]domain.RoomMember{me})

	_, err := s.Send("hello")
	var restricted *RestrictionError
	if !errors.As(err, &restricted) {
		t.Fatalf("err = %v, want RestrictionError", err)
	}
	if restricted.Kind != domain.ModMuted || restricted.Reason != "spam" {
		t.Errorf("restriction = %+v", restricted)
	}
	if d.conns[0].sendCount() != 0 {
		t.Error("restricted send reached the transport")
	}
}

func TestSendAppendsEchoAndDispatches(t *testing.T) {
	d := &fakeDialer{}
	got := make(chan domain.ChatMessage, 2)
	s := newTestSession(t, d, Callbacks{
		OnMessage: func(m domain.ChatMessage) { got <- m },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	msg, err := s.Send("  hello  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Body != "hello" {
		t.Errorf("body = %q, want trimmed", msg.Body)
	}
	if !msg.IsLocalEcho {
		t.Error("echo not marked local")
	}

	select {
	case echoed := <-got:
		if echoed.LocalSeq != msg.LocalSeq {
			t.Errorf("OnMessage seq = %d, want %d", echoed.LocalSeq, msg.LocalSeq)
		}
	case <-time.After(time.Second):
		t.Fatal("OnMessage not fired for local echo")
	}

	deadline := time.Now().Add(time.Second)
	for d.conns[0].sendCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("RPC never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInboundSelfCopyNotReEmitted(t *testing.T) {
	d := &fakeDialer{}
	got := make(chan domain.ChatMessage, 4)
	s := newTestSession(t, d, Callbacks{
		OnMessage: func(m domain.ChatMessage) { got <- m },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	if _, err := s.Send("hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-got // local echo

	d.lastEvents().OnMessage(hub.InboundMessage{
		MessageID: "m-1",
		UserID:    "me",
		Username:  "Me",
		Body:      "hello",
		SentAt:    time.Now(),
	})

	select {
	case m := <-got:
		t.Fatalf("confirmed echo re-emitted: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}
	if n := len(s.Messages()); n != 1 {
		t.Errorf("stream len = %d, want 1", n)
	}
}

func TestRejoinAfterReconnect(t *testing.T) {
	d := &fakeDialer{}
	reconnected := make(chan struct{}, 1)
	s := newTestSession(t, d, Callbacks{
		OnReconnected: func() { reconnected <- struct{}{} },
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	d.lastEvents().OnDropped(errors.New("connection reset"))

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect within deadline")
	}

	c := d.conns[1]
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.joins != 1 {
		t.Errorf("rejoin count = %d, want 1", c.joins)
	}
	if c.snapshots != 1 {
		t.Errorf("forced resync count = %d, want 1", c.snapshots)
	}
}

func TestSendWhileEvicting(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d, Callbacks{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	d.lastEvents().OnSelfModeration(domain.ModerationEvent{Kind: domain.ModBanned, Reason: "spam"})

	if _, err := s.Send("hello"); !errors.Is(err, ErrEvicted) {
		t.Fatalf("err = %v, want ErrEvicted", err)
	}
}

func TestMembersDeriveInVoice(t *testing.T) {
	d := &fakeDialer{}
	voice := &stubVoiceParticipants{ids: []domain.UserID{"bob"}}
	s := New(Options{
		RoomID:       "room-1",
		Self:         domain.User{ID: "me", Username: "Me"},
		Dial:         d.dial,
		Voice:        voice,
		RPCTimeout:   time.Second,
		ResyncWindow: time.Hour,
	}, Callbacks{})

	s.presence.ApplySnapshot([]domain.RoomMember{member("me", "Me"), member("bob", "Bob")})

	views := s.Members()
	if len(views) != 2 {
		t.Fatalf("members = %d, want 2", len(views))
	}
	for _, v := range views {
		want := v.UserID == "bob"
		if v.InVoice != want {
			t.Errorf("inVoice(%s) = %v, want %v", v.UserID, v.InVoice, want)
		}
	}
}

type stubVoiceParticipants struct {
	ids []domain.UserID
}

func (s *stubVoiceParticipants) Leave(ctx context.Context) error { return nil }

func (s *stubVoiceParticipants) Participants() []domain.VoiceParticipant {
	out := make([]domain.VoiceParticipant, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, domain.VoiceParticipant{UserID: id})
	}
	return out
}

package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/majlis-chat/roomsession/internal/domain"
)

func newDispatchClient(events *Events) *Client {
	return &Client{
		events:  events,
		pending: make(map[string]chan Ack),
	}
}

func TestDispatchAckCorrelation(t *testing.T) {
	c := newDispatchClient(&Events{})
	ch := make(chan Ack, 1)
	c.pending["req-1"] = ch

	c.dispatch([]byte(`{"type":"ack","id":"req-1"}`))

	select {
	case ack := <-ch:
		if ack.Error != "" {
			t.Errorf("ack error = %q, want empty", ack.Error)
		}
	default:
		t.Fatal("ack not delivered to the pending waiter")
	}

	// An ack with no waiter is dropped, not a panic.
	c.dispatch([]byte(`{"type":"ack","id":"req-404"}`))
}

func TestDuplicateAckDoesNotBlockDispatch(t *testing.T) {
	c := newDispatchClient(&Events{})
	c.send = make(chan []byte, 1)
	c.pending["req-1"] = make(chan Ack, 1)

	// A replayed ack must be dropped, not wedge the read loop behind the
	// full 1-slot buffer.
	done := make(chan struct{})
	go func() {
		c.dispatch([]byte(`{"type":"ack","id":"req-1"}`))
		c.dispatch([]byte(`{"type":"ack","id":"req-1"}`))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a duplicate ack")
	}

	c.mu.Lock()
	_, still := c.pending["req-1"]
	c.mu.Unlock()
	if still {
		t.Error("delivered ack left its pending entry behind")
	}

	// Closing right after the duplicate must not panic on a blocked sender.
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCloseSafeAgainstConcurrentAcks(t *testing.T) {
	// Close must never close a pending channel with a send in flight, even
	// while acks for the same id keep arriving.
	for i := 0; i < 200; i++ {
		c := newDispatchClient(&Events{})
		c.send = make(chan []byte, 1)
		c.pending["req-1"] = make(chan Ack, 1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.dispatch([]byte(`{"type":"ack","id":"req-1"}`))
			c.dispatch([]byte(`{"type":"ack","id":"req-1"}`))
		}()
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
		wg.Wait()
	}
}

func TestDispatchInboundMessage(t *testing.T) {
	var got InboundMessage
	c := newDispatchClient(&Events{OnMessage: func(m InboundMessage) { got = m }})

	c.dispatch([]byte(`{"type":"receive_message","messageId":"m-1","roomId":"r","userId":"bob","username":"Bob","body":"hi"}`))

	if got.MessageID != "m-1" || got.UserID != "bob" || got.Body != "hi" {
		t.Errorf("message = %+v", got)
	}
}

func TestDispatchPresenceEvents(t *testing.T) {
	var joined, left PresenceEvent
	var offline domain.UserID
	c := newDispatchClient(&Events{
		OnUserJoined:  func(e PresenceEvent) { joined = e },
		OnUserLeft:    func(e PresenceEvent) { left = e },
		OnUserOffline: func(id domain.UserID) { offline = id },
	})

	c.dispatch([]byte(`{"type":"user_joined","roomId":"r","userId":"bob","username":"Bob"}`))
	c.dispatch([]byte(`{"type":"user_left","roomId":"r","userId":"carol"}`))
	c.dispatch([]byte(`{"type":"user_offline","roomId":"r","userId":"dave"}`))

	if joined.UserID != "bob" || left.UserID != "carol" || offline != "dave" {
		t.Errorf("joined=%v left=%v offline=%v", joined.UserID, left.UserID, offline)
	}
}

func TestDispatchSplitsModerationAudiences(t *testing.T) {
	var others []domain.ModerationEvent
	var self []domain.ModerationEvent
	c := newDispatchClient(&Events{
		OnModeration:     func(e domain.ModerationEvent) { others = append(others, e) },
		OnSelfModeration: func(e domain.ModerationEvent) { self = append(self, e) },
	})

	c.dispatch([]byte(`{"type":"user_banned","roomId":"r","targetUserId":"bob","reason":"spam"}`))
	c.dispatch([]byte(`{"type":"room_banned","roomId":"r","reason":"spam"}`))
	c.dispatch([]byte(`{"type":"you_were_muted","roomId":"r","reason":"caps"}`))

	if len(others) != 1 || others[0].Kind != domain.ModBanned || others[0].TargetUserID != "bob" {
		t.Errorf("others = %+v", others)
	}
	if len(self) != 2 || self[0].Kind != domain.ModBanned || self[1].Kind != domain.ModMuted {
		t.Errorf("self = %+v", self)
	}
}

func TestDispatchUnknownTypeIgnored(t *testing.T) {
	c := newDispatchClient(&Events{})
	c.dispatch([]byte(`{"type":"telemetry_blob","payload":1}`))
	c.dispatch([]byte(`not json`))
}

func TestModerationKindMapping(t *testing.T) {
	cases := map[string]domain.ModerationKind{
		TypeUserBanned:     domain.ModBanned,
		TypeRoomBanned:     domain.ModBanned,
		TypeUserKicked:     domain.ModKicked,
		TypeRoomKicked:     domain.ModKicked,
		TypeUserMuted:      domain.ModMuted,
		TypeYouWereMuted:   domain.ModMuted,
		TypeUserUnmuted:    domain.ModUnmuted,
		TypeYouWereUnmuted: domain.ModUnmuted,
		TypeUserUnbanned:   domain.ModUnbanned,
		TypeRoomUnbanned:   domain.ModUnbanned,
		TypeRoleChanged:    domain.ModRoleChanged,
	}
	for typ, want := range cases {
		got, ok := moderationKind(typ)
		if !ok || got != want {
			t.Errorf("moderationKind(%s) = %v/%v, want %v", typ, got, ok, want)
		}
	}
	if _, ok := moderationKind("ack"); ok {
		t.Error("non-moderation type mapped to a kind")
	}
}

func TestRPCErrorMessage(t *testing.T) {
	err := &RPCError{Op: TypeSendMessage, Reason: "muted"}
	if err.Error() != "hub rejected send_message: muted" {
		t.Errorf("message = %q", err.Error())
	}
}

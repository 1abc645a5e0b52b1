// Package hub abstracts the real-time room hub: correlated RPCs out,
// push events in. The concrete transport is a websocket client; tests
// substitute fakes.
package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/majlis-chat/roomsession/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// RPCError is a hub-level rejection of a single RPC. It is terminal for
// that RPC; the transport stays healthy and nothing is retried.
type RPCError struct {
	Op     string
	Reason string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("hub rejected %s: %s", e.Op, e.Reason)
}

// Conn is one live transport to the hub. Never reused after Close.
type Conn interface {
	JoinRoom(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	LeaveRoom(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error
	SendMessage(ctx context.Context, roomID domain.RoomID, userID domain.UserID, body string) error
	// GetOnlineUsers requests a full presence snapshot; the result arrives
	// as an OnOnlineUsers push, not as a return value.
	GetOnlineUsers(ctx context.Context, roomID domain.RoomID) error
	Close() error
}

// Dialer opens a fresh Conn wired to the given event sinks. The connection
// manager calls it once per (re)connect attempt.
type Dialer func(ctx context.Context, events *Events) (Conn, error)

// Events are the hub's push callbacks. Nil fields are skipped. All
// callbacks fire from the transport's read loop, in arrival order.
type Events struct {
	OnMessage        func(InboundMessage)
	OnOnlineUsers    func([]domain.RoomMember)
	OnUserJoined     func(PresenceEvent)
	OnUserLeft       func(PresenceEvent)
	OnUserOffline    func(domain.UserID)
	OnModeration     func(domain.ModerationEvent)
	OnSelfModeration func(domain.ModerationEvent)
	OnMessageDeleted func(messageID string)
	OnRoomSettings   func(domain.RoomSettings)

	// OnDropped fires once when the transport dies unexpectedly.
	OnDropped func(error)
}

func (e *Events) emitDropped(err error) {
	if e.OnDropped != nil {
		e.OnDropped(err)
	}
}

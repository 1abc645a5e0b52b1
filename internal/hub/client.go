package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
)

const (
	writeWait   = 5 * time.Second
	sendBacklog = 32
)

// Client is the websocket Conn implementation. One Client maps to one
// transport generation; the connection manager dials a fresh one after
// every drop.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	events *Events

	mu      sync.Mutex
	closed  bool
	pending map[string]chan Ack
}

// Dial opens a websocket to the hub and starts the pumps. The bearer token
// rides in the handshake header.
func Dial(ctx context.Context, url, token string, events *Events) (*Client, error) {
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		return nil, err
	}

	c := &Client{
		conn:    ws,
		send:    make(chan []byte, sendBacklog),
		events:  events,
		pending: make(map[string]chan Ack),
	}
	go c.writePump()
	go c.readPump()
	log.Info().Str("module", "hub.client").Str("url", url).Msg("connected")
	return c, nil
}

// NewDialer adapts Dial to the Dialer shape the connection manager wants.
func NewDialer(url, token string) Dialer {
	return func(ctx context.Context, events *Events) (Conn, error) {
		return Dial(ctx, url, token, events)
	}
}

func (c *Client) trySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.send)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// invoke sends a command and waits for the correlated ack.
func (c *Client) invoke(ctx context.Context, cmd Command) error {
	cmd.ID = uuid.NewString()
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	ch := make(chan Ack, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[cmd.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	if err := c.trySend(b); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ack, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if ack.Error != "" {
			reason := ack.Reason
			if reason == "" {
				reason = ack.Error
			}
			return &RPCError{Op: cmd.Type, Reason: reason}
		}
		return nil
	}
}

func (c *Client) JoinRoom(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.invoke(ctx, Command{Type: TypeJoinRoom, RoomID: roomID, UserID: userID})
}

func (c *Client) LeaveRoom(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.invoke(ctx, Command{Type: TypeLeaveRoom, RoomID: roomID, UserID: userID})
}

func (c *Client) SendMessage(ctx context.Context, roomID domain.RoomID, userID domain.UserID, body string) error {
	return c.invoke(ctx, Command{Type: TypeSendMessage, RoomID: roomID, UserID: userID, Body: body})
}

func (c *Client) GetOnlineUsers(ctx context.Context, roomID domain.RoomID) error {
	return c.invoke(ctx, Command{Type: TypeGetOnlineUsers, RoomID: roomID})
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "hub.client").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "hub.client").Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			wasClosed := c.closed
			c.mu.Unlock()
			_ = c.Close()
			if !wasClosed {
				log.Warn().Err(err).Str("module", "hub.client").Msg("transport dropped")
				c.events.emitDropped(err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "hub.client").Msg("bad json")
		return
	}

	switch env.Type {
	case TypeAck:
		var ack Ack
		if err := json.Unmarshal(data, &ack); err != nil {
			return
		}
		// Deliver under the lock so Close can never close a channel with a
		// send in flight, and drop duplicate or late acks instead of letting
		// them block the read pump.
		c.mu.Lock()
		if ch, ok := c.pending[ack.ID]; ok {
			delete(c.pending, ack.ID)
			select {
			case ch <- ack:
			default:
			}
		}
		c.mu.Unlock()

	case TypeReceiveMessage:
		var m InboundMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		if c.events.OnMessage != nil {
			c.events.OnMessage(m)
		}

	case TypeOnlineUsers:
		var e OnlineUsersEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		if c.events.OnOnlineUsers != nil {
			c.events.OnOnlineUsers(e.Members)
		}

	case TypeUserJoined:
		var e PresenceEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		if c.events.OnUserJoined != nil {
			c.events.OnUserJoined(e)
		}

	case TypeUserLeft:
		var e PresenceEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		if c.events.OnUserLeft != nil {
			c.events.OnUserLeft(e)
		}

	case TypeUserOffline:
		var e PresenceEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		if c.events.OnUserOffline != nil {
			c.events.OnUserOffline(e.UserID)
		}

	case TypeUserBanned, TypeUserUnbanned, TypeUserMuted, TypeUserUnmuted, TypeUserKicked, TypeRoleChanged:
		ev, ok := decodeModeration(data, env.Type)
		if ok && c.events.OnModeration != nil {
			c.events.OnModeration(ev)
		}

	case TypeRoomBanned, TypeRoomKicked, TypeRoomUnbanned, TypeYouWereMuted, TypeYouWereUnmuted:
		ev, ok := decodeModeration(data, env.Type)
		if ok && c.events.OnSelfModeration != nil {
			c.events.OnSelfModeration(ev)
		}

	case TypeMessageDeleted:
		var e MessageDeletedEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		if c.events.OnMessageDeleted != nil {
			c.events.OnMessageDeleted(e.MessageID)
		}

	case TypeSettingsUpdated:
		var e SettingsEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return
		}
		if c.events.OnRoomSettings != nil {
			c.events.OnRoomSettings(e.Settings)
		}

	default:
		log.Warn().Str("module", "hub.client").Str("type", env.Type).Msg("unknown event")
	}
}

func decodeModeration(data []byte, typ string) (domain.ModerationEvent, bool) {
	var e ModerationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		log.Error().Err(err).Str("module", "hub.client").Str("type", typ).Msg("bad moderation payload")
		return domain.ModerationEvent{}, false
	}
	kind, ok := moderationKind(typ)
	if !ok {
		return domain.ModerationEvent{}, false
	}
	return domain.ModerationEvent{
		Kind:          kind,
		TargetUserID:  e.TargetUserID,
		ActorUsername: e.ActorUsername,
		Reason:        e.Reason,
		ExpiresAt:     e.ExpiresAt,
		IsPermanent:   e.IsPermanent,
		NewRole:       e.NewRole,
	}, true
}

func moderationKind(typ string) (domain.ModerationKind, bool) {
	switch typ {
	case TypeUserBanned, TypeRoomBanned:
		return domain.ModBanned, true
	case TypeUserKicked, TypeRoomKicked:
		return domain.ModKicked, true
	case TypeUserMuted, TypeYouWereMuted:
		return domain.ModMuted, true
	case TypeUserUnmuted, TypeYouWereUnmuted:
		return domain.ModUnmuted, true
	case TypeUserUnbanned, TypeRoomUnbanned:
		return domain.ModUnbanned, true
	case TypeRoleChanged:
		return domain.ModRoleChanged, true
	}
	return "", false
}

var _ Conn = (*Client)(nil)

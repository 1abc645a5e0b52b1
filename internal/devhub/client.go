package devhub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/config"
	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/hub"
)

var errBackpressure = errors.New("backpressure")

type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return errBackpressure
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller handles one hub websocket endpoint.
type Controller struct {
	Hub        *Hub
	readLimit  int64
	pingPeriod time.Duration
}

func NewController(h *Hub, cfg *config.Config) *Controller {
	return &Controller{
		Hub:        h,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
}

func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	sid := sessionID(c.GetString("client_token"))
	userID := domain.UserID(c.Query("userId"))
	username := c.Query("username")
	if userID == "" {
		userID = domain.UserID(sid)
	}
	user, err := domain.NewUser(userID, username)
	if err != nil {
		log.Warn().Err(err).Str("module", "devhub.ws").Msg("bad identity")
		c.Status(http.StatusBadRequest)
		return
	}
	log.Info().Str("module", "devhub.ws").Str("sid", string(sid)).Str("user", string(userID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "devhub.ws").Msg("ws upgrade")
		return
	}

	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.bind(sid, user, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	pingPeriod := ctl.pingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "devhub.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "devhub.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid sessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "devhub.ws").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Hub.unbind(sid, c)
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			ctl.handleCommand(sid, c, data)
		}
	}
}

func (ctl *Controller) handleCommand(sid sessionID, c *wsConn, data []byte) {
	var cmd hub.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Error().Err(err).Str("module", "devhub.ws").Msg("bad json")
		return
	}

	switch cmd.Type {
	case hub.TypeJoinRoom:
		ctl.handleJoin(sid, c, cmd)
	case hub.TypeLeaveRoom:
		ctl.handleLeave(sid, c, cmd)
	case hub.TypeSendMessage:
		ctl.handleSend(sid, c, cmd)
	case hub.TypeGetOnlineUsers:
		ctl.handleGetOnlineUsers(sid, c, cmd)
	default:
		log.Warn().Str("module", "devhub.ws").Str("type", cmd.Type).Msg("unknown command")
		ctl.ack(c, cmd.ID, "unknown command", "")
	}
}

func (ctl *Controller) ack(c *wsConn, id, errMsg, reason string) {
	ctl.sendJSON(c, hub.Ack{Type: hub.TypeAck, ID: id, Error: errMsg, Reason: reason})
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "devhub.ws").Msg("sendJSON marshal")
		return
	}
	_ = c.trySend(b)
}

func (ctl *Controller) handleJoin(sid sessionID, c *wsConn, cmd hub.Command) {
	e, ok := ctl.Hub.session(sid)
	if !ok {
		ctl.ack(c, cmd.ID, "no session", "")
		return
	}
	r := ctl.Hub.getOrCreateRoom(cmd.RoomID)
	if reason, banned := r.isBanned(e.user.ID); banned {
		log.Warn().Str("module", "devhub.ws").Str("user", string(e.user.ID)).Msg("join rejected: banned")
		ctl.ack(c, cmd.ID, "join rejected", "banned: "+reason)
		return
	}

	wasPresent := len(ctl.Hub.userSessions(cmd.RoomID, e.user.ID)) > 0
	r.addMember(e.user.ID, e.user.Username)
	ctl.Hub.setRoom(sid, cmd.RoomID)
	ctl.ack(c, cmd.ID, "", "")

	if !wasPresent {
		ctl.Hub.broadcast(cmd.RoomID, hub.PresenceEvent{
			Type:     hub.TypeUserJoined,
			RoomID:   cmd.RoomID,
			UserID:   e.user.ID,
			Username: e.user.Username,
			At:       time.Now().UTC(),
		})
	}
}

func (ctl *Controller) handleLeave(sid sessionID, c *wsConn, cmd hub.Command) {
	e, ok := ctl.Hub.session(sid)
	if !ok {
		ctl.ack(c, cmd.ID, "no session", "")
		return
	}
	ctl.Hub.leaveRoom(sid, e)
	ctl.ack(c, cmd.ID, "", "")
}

func (ctl *Controller) handleSend(sid sessionID, c *wsConn, cmd hub.Command) {
	e, ok := ctl.Hub.session(sid)
	if !ok || e.roomID == "" {
		ctl.ack(c, cmd.ID, "not in a room", "")
		return
	}
	r, ok := ctl.Hub.findRoom(e.roomID)
	if !ok {
		ctl.ack(c, cmd.ID, "room gone", "")
		return
	}
	if _, banned := r.isBanned(e.user.ID); banned {
		ctl.ack(c, cmd.ID, "send rejected", "banned")
		return
	}
	if r.isMuted(e.user.ID) {
		ctl.ack(c, cmd.ID, "send rejected", "muted")
		return
	}

	ctl.ack(c, cmd.ID, "", "")
	msgID := r.nextMessageID()
	// The sender gets a copy too; the client collapses it with its echo.
	ctl.Hub.broadcast(e.roomID, hub.InboundMessage{
		Type:      hub.TypeReceiveMessage,
		MessageID: formatMessageID(e.roomID, msgID),
		RoomID:    e.roomID,
		UserID:    e.user.ID,
		Username:  e.user.Username,
		Body:      cmd.Body,
		SentAt:    time.Now().UTC(),
	})
}

func (ctl *Controller) handleGetOnlineUsers(sid sessionID, c *wsConn, cmd hub.Command) {
	r, ok := ctl.Hub.findRoom(cmd.RoomID)
	if !ok {
		ctl.ack(c, cmd.ID, "unknown room", "")
		return
	}
	ctl.ack(c, cmd.ID, "", "")
	ctl.sendJSON(c, hub.OnlineUsersEvent{
		Type:    hub.TypeOnlineUsers,
		RoomID:  cmd.RoomID,
		Members: r.snapshot(),
	})
}

// Package devhub is a single-process room hub used for local development
// and integration testing of the session core. The production hub is the
// external backend; this one speaks the same wire protocol.
package devhub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/hub"
)

type sessionID string

// sender is a client's outbound half.
type sender interface {
	trySend([]byte) error
}

type sessionEntry struct {
	user   *domain.User
	roomID domain.RoomID
	conn   sender
	cancel context.CancelFunc
}

// Hub tracks live sessions and their room membership, and fans events out.
type Hub struct {
	mu       sync.RWMutex
	sessions map[sessionID]*sessionEntry
	rooms    map[domain.RoomID]*room
}

func NewHub() *Hub {
	return &Hub{
		sessions: make(map[sessionID]*sessionEntry),
		rooms:    make(map[domain.RoomID]*room),
	}
}

func (h *Hub) bind(sid sessionID, user *domain.User, conn sender, cancel context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[sid]; ok && old.cancel != nil {
		old.cancel()
	}
	h.sessions[sid] = &sessionEntry{user: user, conn: conn, cancel: cancel}
	log.Info().Str("module", "devhub").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("bound session")
}

// unbind removes the session only while it still points at the given
// connection; a reconnect that reused the id is left alone.
func (h *Hub) unbind(sid sessionID, conn sender) {
	h.mu.Lock()
	e, ok := h.sessions[sid]
	if ok && e.conn != conn {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, sid)
	h.mu.Unlock()
	if !ok {
		return
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.roomID != "" {
		h.leaveRoom(sid, e)
	}
	log.Info().Str("module", "devhub").Str("sid", string(sid)).Msg("unbound session")
}

func (h *Hub) session(sid sessionID) (*sessionEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.sessions[sid]
	return e, ok
}

func (h *Hub) getOrCreateRoom(id domain.RoomID) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r := newRoom(id)
	h.rooms[id] = r
	return r
}

func (h *Hub) findRoom(id domain.RoomID) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	return r, ok
}

// roomSessions returns the live sessions joined to a room.
func (h *Hub) roomSessions(id domain.RoomID) []*sessionEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*sessionEntry, 0, len(h.sessions))
	for _, e := range h.sessions {
		if e.roomID == id {
			out = append(out, e)
		}
	}
	return out
}

// userSessions returns the live sessions of one user in a room, so
// self-targeted moderation pushes reach every device.
func (h *Hub) userSessions(roomID domain.RoomID, userID domain.UserID) []*sessionEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*sessionEntry, 0, 2)
	for _, e := range h.sessions {
		if e.roomID == roomID && e.user.ID == userID {
			out = append(out, e)
		}
	}
	return out
}

func (h *Hub) setRoom(sid sessionID, roomID domain.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.sessions[sid]; ok {
		e.roomID = roomID
	}
}

func (h *Hub) leaveRoom(sid sessionID, e *sessionEntry) {
	roomID := e.roomID
	h.setRoom(sid, "")

	r, ok := h.findRoom(roomID)
	if !ok {
		return
	}
	// Presence follows connections: the user stays listed while another
	// device is still attached.
	if len(h.userSessions(roomID, e.user.ID)) == 0 {
		r.removeMember(e.user.ID)
		h.broadcast(roomID, hub.PresenceEvent{
			Type:     hub.TypeUserLeft,
			RoomID:   roomID,
			UserID:   e.user.ID,
			Username: e.user.Username,
		})
	}
}

// broadcast sends an event to every session in the room. Slow consumers
// are dropped rather than allowed to stall the fan-out.
func (h *Hub) broadcast(roomID domain.RoomID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "devhub").Msg("broadcast marshal")
		return
	}
	for _, e := range h.roomSessions(roomID) {
		if err := e.conn.trySend(b); err != nil {
			log.Warn().Str("module", "devhub").Str("user", string(e.user.ID)).Msg("dropping slow consumer")
		}
	}
}

// sendTo pushes an event to every device of one user in the room.
func (h *Hub) sendTo(roomID domain.RoomID, userID domain.UserID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "devhub").Msg("sendTo marshal")
		return
	}
	for _, e := range h.userSessions(roomID, userID) {
		_ = e.conn.trySend(b)
	}
}

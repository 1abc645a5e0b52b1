package devhub

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
)

// room is a threadsafe in-memory room: presence plus moderation state.
// It never closes adapter-owned resources.
type room struct {
	id domain.RoomID

	mu       sync.RWMutex
	members  map[domain.UserID]*domain.RoomMember
	banned   map[domain.UserID]string // reason
	settings domain.RoomSettings
	nextMsg  int64
}

func newRoom(id domain.RoomID) *room {
	return &room{
		id:      id,
		members: make(map[domain.UserID]*domain.RoomMember),
		banned:  make(map[domain.UserID]string),
		settings: domain.RoomSettings{
			Name:       domain.RoomName(id),
			MaxMembers: 100,
			VoiceOn:    true,
		},
	}
}

func (r *room) addMember(id domain.UserID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.members[id]; ok {
		existing.ConnectionCount++
		return
	}
	r.members[id] = domain.NewRoomMember(id, name)
	log.Info().Str("module", "devhub.room").Str("room", string(r.id)).Str("user", string(id)).Msg("member added")
}

func (r *room) removeMember(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	log.Info().Str("module", "devhub.room").Str("room", string(r.id)).Str("user", string(id)).Msg("member removed")
}

func (r *room) isBanned(id domain.UserID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reason, ok := r.banned[id]
	return reason, ok
}

func (r *room) isMuted(id domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[id]
	return ok && m.MuteActive(time.Now())
}

func (r *room) ban(id domain.UserID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banned[id] = reason
	delete(r.members, id)
}

func (r *room) unban(id domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.banned, id)
}

func (r *room) mute(id domain.UserID, reason string, until *time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return false
	}
	m.IsMuted = true
	m.MuteReason = reason
	m.MuteExpiry = until
	return true
}

func (r *room) unmute(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return false
	}
	m.IsMuted = false
	m.MuteReason = ""
	m.MuteExpiry = nil
	return true
}

func (r *room) setRole(id domain.UserID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return false
	}
	m.Role = role
	return true
}

func (r *room) nextMessageID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextMsg++
	return r.nextMsg
}

func formatMessageID(roomID domain.RoomID, seq int64) string {
	return fmt.Sprintf("%s-%d", roomID, seq)
}

func (r *room) updateSettings(s domain.RoomSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
}

func (r *room) getSettings() domain.RoomSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// snapshot returns a copy of the member set.
func (r *room) snapshot() []domain.RoomMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RoomMember, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, *m)
	}
	return out
}

func (r *room) memberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

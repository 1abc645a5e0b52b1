package session

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
)

// PresenceTracker is the single source of truth for who is in the room and
// what their moderation state is. It is the only writer of the member set;
// readers always get copies.
//
// Any incremental mutation schedules a debounced full-snapshot request so a
// missed hub event can never cause unbounded drift. Snapshots themselves do
// not schedule (they are the recovery mechanism, not a drift source).
type PresenceTracker struct {
	window time.Duration
	resync func()

	mu       sync.RWMutex
	members  map[domain.UserID]*domain.RoomMember
	settings *domain.RoomSettings
	timer    *time.Timer
	pending  bool
	stopped  bool
}

func NewPresenceTracker(window time.Duration, resync func()) *PresenceTracker {
	if window <= 0 {
		window = 750 * time.Millisecond
	}
	return &PresenceTracker{
		window:  window,
		resync:  resync,
		members: make(map[domain.UserID]*domain.RoomMember),
	}
}

// ApplySnapshot replaces the member set wholesale. Members absent from the
// snapshot are gone; any pending resync is satisfied by this snapshot.
func (t *PresenceTracker) ApplySnapshot(members []domain.RoomMember) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.members = make(map[domain.UserID]*domain.RoomMember, len(members))
	for i := range members {
		m := members[i]
		t.members[m.UserID] = &m
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
	log.Debug().Str("module", "session.presence").Int("members", len(members)).Msg("snapshot applied")
}

// ApplyJoin adds or overwrites a member. Overwrite handles a second device
// of the same user joining.
func (t *PresenceTracker) ApplyJoin(member domain.RoomMember) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.members[member.UserID]; ok {
		member.ConnectionCount = existing.ConnectionCount + 1
	}
	t.members[member.UserID] = &member
	t.scheduleResyncLocked()
}

// ApplyLeave drops a member; unknown ids are a no-op.
func (t *PresenceTracker) ApplyLeave(id domain.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.members[id]; !ok {
		return
	}
	delete(t.members, id)
	t.scheduleResyncLocked()
}

// ApplyModeration folds a moderation event into the matching member. Events
// for users who already left are dropped. Terminal events evict the member
// immediately rather than waiting for the hub's follow-up leave.
func (t *PresenceTracker) ApplyModeration(ev domain.ModerationEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.members[ev.TargetUserID]
	if !ok {
		log.Debug().Str("module", "session.presence").Str("target", string(ev.TargetUserID)).Str("kind", string(ev.Kind)).Msg("moderation for absent member dropped")
		return
	}

	switch ev.Kind {
	case domain.ModMuted:
		m.IsMuted = true
		m.MuteExpiry = ev.ExpiresAt
		m.MuteReason = ev.Reason
	case domain.ModUnmuted:
		m.IsMuted = false
		m.MuteExpiry = nil
		m.MuteReason = ""
	case domain.ModBanned, domain.ModKicked:
		delete(t.members, ev.TargetUserID)
	case domain.ModUnbanned:
		m.IsBanned = false
	case domain.ModRoleChanged:
		if ev.NewRole != "" {
			m.Role = ev.NewRole
		}
	}
	t.scheduleResyncLocked()
}

func (t *PresenceTracker) ApplySettings(s domain.RoomSettings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.settings = &s
}

func (t *PresenceTracker) Settings() (domain.RoomSettings, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.settings == nil {
		return domain.RoomSettings{}, false
	}
	return *t.settings, true
}

// Member returns a copy of one presence entry.
func (t *PresenceTracker) Member(id domain.UserID) (domain.RoomMember, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[id]
	if !ok {
		return domain.RoomMember{}, false
	}
	return *m, true
}

// Snapshot returns a stable-ordered copy of the member set.
func (t *PresenceTracker) Snapshot() []domain.RoomMember {
	t.mu.RLock()
	out := make([]domain.RoomMember, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, *m)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *PresenceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.members)
}

// Stop cancels any pending resync timer.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.pending = false
}

// scheduleResyncLocked coalesces a burst of incremental mutations into one
// snapshot request per window.
func (t *PresenceTracker) scheduleResyncLocked() {
	if t.stopped || t.pending || t.resync == nil {
		return
	}
	t.pending = true
	t.timer = time.AfterFunc(t.window, func() {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		t.pending = false
		t.timer = nil
		t.mu.Unlock()
		t.resync()
	})
}

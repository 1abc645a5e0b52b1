package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
)

// VoiceSession is the slice of the voice controller the session core needs:
// eviction teardown and the participant set for deriving inVoice.
type VoiceSession interface {
	Leave(ctx context.Context) error
	Participants() []domain.VoiceParticipant
}

type ModerationCallbacks struct {
	OnBanned  func(reason string)
	OnKicked  func(reason string)
	OnMuted   func(reason string, expiresAt *time.Time)
	OnUnmuted func()
}

// ModerationCoordinator turns moderation events targeting the local user
// into an ordered teardown: voice leaves first (bounded), then the terminal
// callback fires. The hub drops our membership itself, so the connection is
// left for the caller to Stop once navigation begins.
type ModerationCoordinator struct {
	selfID       domain.UserID
	presence     *PresenceTracker
	voice        VoiceSession
	leaveTimeout time.Duration
	cb           ModerationCallbacks

	mu       sync.Mutex
	evicting bool
}

func NewModerationCoordinator(selfID domain.UserID, presence *PresenceTracker, voice VoiceSession, leaveTimeout time.Duration, cb ModerationCallbacks) *ModerationCoordinator {
	if leaveTimeout <= 0 {
		leaveTimeout = 3 * time.Second
	}
	return &ModerationCoordinator{
		selfID:       selfID,
		presence:     presence,
		voice:        voice,
		leaveTimeout: leaveTimeout,
		cb:           cb,
	}
}

// Evicting reports whether a terminal event is being processed.
func (c *ModerationCoordinator) Evicting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicting
}

// HandleSelf consumes a moderation event addressed to the local user.
func (c *ModerationCoordinator) HandleSelf(ev domain.ModerationEvent) {
	ev.TargetUserID = c.selfID

	switch ev.Kind {
	case domain.ModBanned, domain.ModKicked:
		c.evict(ev)
	case domain.ModMuted:
		c.presence.ApplyModeration(ev)
		log.Info().Str("module", "session.moderation").Str("reason", ev.Reason).Msg("muted")
		if c.cb.OnMuted != nil {
			c.cb.OnMuted(ev.Reason, ev.ExpiresAt)
		}
	case domain.ModUnmuted:
		c.presence.ApplyModeration(ev)
		log.Info().Str("module", "session.moderation").Msg("unmuted")
		if c.cb.OnUnmuted != nil {
			c.cb.OnUnmuted()
		}
	case domain.ModUnbanned:
		log.Info().Str("module", "session.moderation").Msg("unbanned")
	default:
		log.Warn().Str("module", "session.moderation").Str("kind", string(ev.Kind)).Msg("unexpected self moderation event")
	}
}

func (c *ModerationCoordinator) evict(ev domain.ModerationEvent) {
	c.mu.Lock()
	if c.evicting {
		c.mu.Unlock()
		return
	}
	c.evicting = true
	c.mu.Unlock()

	log.Warn().Str("module", "session.moderation").Str("kind", string(ev.Kind)).Str("reason", ev.Reason).Msg("evicted from room")

	// Voice must be gone before the host navigates away, but a stuck audio
	// teardown may not hold eviction hostage.
	if c.voice != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.leaveTimeout)
		if err := c.voice.Leave(ctx); err != nil {
			log.Warn().Err(err).Str("module", "session.moderation").Msg("voice teardown incomplete, proceeding")
		}
		cancel()
	}

	switch ev.Kind {
	case domain.ModBanned:
		if c.cb.OnBanned != nil {
			c.cb.OnBanned(ev.Reason)
		}
	case domain.ModKicked:
		if c.cb.OnKicked != nil {
			c.cb.OnKicked(ev.Reason)
		}
	}
}

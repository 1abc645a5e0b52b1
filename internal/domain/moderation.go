package domain

import "time"

type ModerationKind string

const (
	ModBanned      ModerationKind = "banned"
	ModKicked      ModerationKind = "kicked"
	ModMuted       ModerationKind = "muted"
	ModUnmuted     ModerationKind = "unmuted"
	ModUnbanned    ModerationKind = "unbanned"
	ModRoleChanged ModerationKind = "role_changed"
)

// ModerationEvent is consumed once: folded into the member set, or, when it
// targets the local user, turned into a terminal session outcome.
type ModerationEvent struct {
	Kind          ModerationKind `json:"kind"`
	TargetUserID  UserID         `json:"targetUserId"`
	ActorUsername string         `json:"actorUsername,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	IsPermanent   bool           `json:"isPermanent,omitempty"`
	NewRole       Role           `json:"newRole,omitempty"`
}

// Terminal reports whether the event evicts its target from the room.
func (e ModerationEvent) Terminal() bool {
	return e.Kind == ModBanned || e.Kind == ModKicked
}

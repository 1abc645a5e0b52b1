package domain

import "time"

type Role string

const (
	RoleMember     Role = "Member"
	RoleAdmin      Role = "Admin"
	RoleOwner      Role = "Owner"
	RoleSuperAdmin Role = "SuperAdmin"
)

// CanModerate reports whether the role may issue moderation commands.
func (r Role) CanModerate() bool {
	return r == RoleAdmin || r == RoleOwner || r == RoleSuperAdmin
}

// RoomMember is one user's presence entry in a room, as the hub reports it.
// The presence tracker is the single writer; everyone else gets copies.
type RoomMember struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`

	IsMuted    bool       `json:"isMuted"`
	MuteExpiry *time.Time `json:"muteExpiry,omitempty"`
	MuteReason string     `json:"muteReason,omitempty"`

	IsBanned      bool       `json:"isBanned"`
	IsSuspended   bool       `json:"isSuspended"`
	SuspendExpiry *time.Time `json:"suspendExpiry,omitempty"`

	// How many devices/tabs this user has connected right now.
	ConnectionCount int `json:"connectionCount"`
}

// MuteActive reports whether the mute still applies at the given instant.
// A nil expiry means permanent.
func (m *RoomMember) MuteActive(now time.Time) bool {
	if !m.IsMuted {
		return false
	}
	if m.MuteExpiry == nil {
		return true
	}
	return now.Before(*m.MuteExpiry)
}

func NewRoomMember(id UserID, name string) *RoomMember {
	return &RoomMember{UserID: id, DisplayName: name, Role: RoleMember, ConnectionCount: 1}
}

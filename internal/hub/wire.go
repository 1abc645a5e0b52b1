package hub

import (
	"time"

	"github.com/majlis-chat/roomsession/internal/domain"
)

// Envelope type tags shared by the client and the dev hub.
const (
	// client -> hub
	TypeJoinRoom       = "join_room"
	TypeLeaveRoom      = "leave_room"
	TypeSendMessage    = "send_message"
	TypeGetOnlineUsers = "get_online_users"

	// hub -> client
	TypeAck             = "ack"
	TypeReceiveMessage  = "receive_message"
	TypeOnlineUsers     = "online_users"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeUserOffline     = "user_offline"
	TypeUserBanned      = "user_banned"
	TypeUserUnbanned    = "user_unbanned"
	TypeUserMuted       = "user_muted"
	TypeUserUnmuted     = "user_unmuted"
	TypeUserKicked      = "user_kicked"
	TypeRoleChanged     = "role_changed"
	TypeRoomBanned      = "room_banned"
	TypeRoomKicked      = "room_kicked"
	TypeRoomUnbanned    = "room_unbanned"
	TypeYouWereMuted    = "you_were_muted"
	TypeYouWereUnmuted  = "you_were_unmuted"
	TypeMessageDeleted  = "message_deleted"
	TypeSettingsUpdated = "room_settings_updated"
)

// Command is a client request. ID correlates the hub's ack.
type Command struct {
	ID     string        `json:"id"`
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId,omitempty"`
	UserID domain.UserID `json:"userId,omitempty"`
	Body   string        `json:"body,omitempty"`
}

// Ack is the hub's reply to a Command. A non-empty Error rejects the RPC;
// Reason carries a machine-readable cause (muted, banned, ...).
type Ack struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// InboundMessage is the hub's chat message push.
type InboundMessage struct {
	Type      string        `json:"type"`
	MessageID string        `json:"messageId"`
	RoomID    domain.RoomID `json:"roomId"`
	UserID    domain.UserID `json:"userId"`
	Username  string        `json:"username"`
	Body      string        `json:"body"`
	SentAt    time.Time     `json:"sentAt"`
}

type OnlineUsersEvent struct {
	Type    string              `json:"type"`
	RoomID  domain.RoomID       `json:"roomId"`
	Members []domain.RoomMember `json:"members"`
}

type PresenceEvent struct {
	Type     string        `json:"type"`
	RoomID   domain.RoomID `json:"roomId"`
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	At       time.Time     `json:"at"`
}

// ModerationEvent covers both third-party notifications (user_banned, ...)
// and self-targeted pushes (room_banned, you_were_muted, ...).
type ModerationEvent struct {
	Type          string        `json:"type"`
	RoomID        domain.RoomID `json:"roomId"`
	TargetUserID  domain.UserID `json:"targetUserId,omitempty"`
	Username      string        `json:"username,omitempty"`
	ActorUsername string        `json:"actorUsername,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	IsPermanent   bool          `json:"isPermanent,omitempty"`
	ExpiresAt     *time.Time    `json:"expiresAt,omitempty"`
	NewRole       domain.Role   `json:"newRole,omitempty"`
}

type MessageDeletedEvent struct {
	Type      string        `json:"type"`
	RoomID    domain.RoomID `json:"roomId"`
	MessageID string        `json:"messageId"`
}

type SettingsEvent struct {
	Type     string              `json:"type"`
	RoomID   domain.RoomID       `json:"roomId"`
	Settings domain.RoomSettings `json:"settings"`
}

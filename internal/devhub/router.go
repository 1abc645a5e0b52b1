package devhub

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/config"
	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/hub"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware pins a per-browser token so reconnects of the same
// client map to the same hub session identity.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RoomSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "devhub.http").Msg("router setup")

	ctl := NewController(h, cfg)

	api := r.Group("/api")

	api.GET("/ws/hub", func(c *gin.Context) {
		log.Info().Str("module", "devhub.http").Str("sid", c.GetString("client_token")).Msg("ws hub endpoint hit")
		ctl.HandleWS(ctx, c)
	})

	rooms := api.Group("/rooms")
	rooms.POST("/:roomId/join", func(c *gin.Context) { handleRESTJoin(c, h) })
	rooms.POST("/:roomId/leave", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	rooms.POST("/:roomId/ban", func(c *gin.Context) { handleBan(c, h) })
	rooms.DELETE("/:roomId/ban/:userId", func(c *gin.Context) { handleUnban(c, h) })
	rooms.POST("/:roomId/mute", func(c *gin.Context) { handleMute(c, h) })
	rooms.DELETE("/:roomId/mute/:userId", func(c *gin.Context) { handleUnmute(c, h) })
	rooms.DELETE("/:roomId/members/:userId", func(c *gin.Context) { handleKick(c, h) })
	rooms.POST("/:roomId/promote-admin", func(c *gin.Context) { handleRoleChange(c, h, domain.RoleAdmin) })
	rooms.POST("/:roomId/demote-admin", func(c *gin.Context) { handleRoleChange(c, h, domain.RoleMember) })
	rooms.GET("/:roomId/settings", func(c *gin.Context) { handleGetSettings(c, h) })
	rooms.PUT("/:roomId/settings", func(c *gin.Context) { handleUpdateSettings(c, h) })
	rooms.DELETE("/:roomId/messages/:messageId", func(c *gin.Context) { handleDeleteMessage(c, h) })

	return r
}

// handleRESTJoin precreates the room and reports its settings; the actual
// membership is established over the websocket. No voice channel is issued
// by the dev hub.
func handleRESTJoin(c *gin.Context, h *Hub) {
	roomID := domain.RoomID(c.Param("roomId"))
	r := h.getOrCreateRoom(roomID)
	s := r.getSettings()
	c.JSON(http.StatusOK, gin.H{
		"room": gin.H{
			"id":          roomID,
			"name":        s.Name,
			"isPrivate":   s.IsPrivate,
			"memberCount": r.memberCount(),
		},
	})
}

func findRoomOr404(c *gin.Context, h *Hub) (*room, domain.RoomID, bool) {
	roomID := domain.RoomID(c.Param("roomId"))
	r, ok := h.findRoom(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown room"})
		return nil, roomID, false
	}
	return r, roomID, true
}

func handleBan(c *gin.Context, h *Hub) {
	r, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	var req struct {
		UserID      domain.UserID `json:"userId"`
		Reason      string        `json:"reason"`
		IsPermanent bool          `json:"isPermanent"`
		ExpiresAt   *time.Time    `json:"expiresAt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	r.ban(req.UserID, req.Reason)
	log.Info().Str("module", "devhub.http").Str("room", string(roomID)).Str("user", string(req.UserID)).Msg("ban applied")

	// Target first, so the eviction push cannot lose the race with
	// observers reacting to the room-wide event.
	h.sendTo(roomID, req.UserID, hub.ModerationEvent{
		Type:        hub.TypeRoomBanned,
		RoomID:      roomID,
		Reason:      req.Reason,
		IsPermanent: req.IsPermanent,
		ExpiresAt:   req.ExpiresAt,
	})
	h.broadcast(roomID, hub.ModerationEvent{
		Type:         hub.TypeUserBanned,
		RoomID:       roomID,
		TargetUserID: req.UserID,
		Reason:       req.Reason,
		IsPermanent:  req.IsPermanent,
		ExpiresAt:    req.ExpiresAt,
	})
	c.Status(http.StatusNoContent)
}

func handleUnban(c *gin.Context, h *Hub) {
	r, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	userID := domain.UserID(c.Param("userId"))
	r.unban(userID)
	h.sendTo(roomID, userID, hub.ModerationEvent{
		Type:   hub.TypeRoomUnbanned,
		RoomID: roomID,
	})
	h.broadcast(roomID, hub.ModerationEvent{
		Type:         hub.TypeUserUnbanned,
		RoomID:       roomID,
		TargetUserID: userID,
	})
	c.Status(http.StatusNoContent)
}

func handleMute(c *gin.Context, h *Hub) {
	r, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	var req struct {
		UserID      domain.UserID `json:"userId"`
		Reason      string        `json:"reason"`
		IsPermanent bool          `json:"isPermanent"`
		MutedUntil  *time.Time    `json:"mutedUntil"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if !r.mute(req.UserID, req.Reason, req.MutedUntil) {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown member"})
		return
	}
	h.sendTo(roomID, req.UserID, hub.ModerationEvent{
		Type:        hub.TypeYouWereMuted,
		RoomID:      roomID,
		Reason:      req.Reason,
		IsPermanent: req.IsPermanent,
		ExpiresAt:   req.MutedUntil,
	})
	h.broadcast(roomID, hub.ModerationEvent{
		Type:         hub.TypeUserMuted,
		RoomID:       roomID,
		TargetUserID: req.UserID,
		Reason:       req.Reason,
		IsPermanent:  req.IsPermanent,
		ExpiresAt:    req.MutedUntil,
	})
	c.Status(http.StatusNoContent)
}

func handleUnmute(c *gin.Context, h *Hub) {
	r, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	userID := domain.UserID(c.Param("userId"))
	if !r.unmute(userID) {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown member"})
		return
	}
	h.sendTo(roomID, userID, hub.ModerationEvent{
		Type:   hub.TypeYouWereUnmuted,
		RoomID: roomID,
	})
	h.broadcast(roomID, hub.ModerationEvent{
		Type:         hub.TypeUserUnmuted,
		RoomID:       roomID,
		TargetUserID: userID,
	})
	c.Status(http.StatusNoContent)
}

func handleKick(c *gin.Context, h *Hub) {
	r, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	userID := domain.UserID(c.Param("userId"))
	r.removeMember(userID)
	h.sendTo(roomID, userID, hub.ModerationEvent{
		Type:   hub.TypeRoomKicked,
		RoomID: roomID,
	})
	h.broadcast(roomID, hub.ModerationEvent{
		Type:         hub.TypeUserKicked,
		RoomID:       roomID,
		TargetUserID: userID,
	})
	c.Status(http.StatusNoContent)
}

func handleRoleChange(c *gin.Context, h *Hub, role domain.Role) {
	r, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	var req struct {
		TargetUserID domain.UserID `json:"targetUserId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if !r.setRole(req.TargetUserID, role) {
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown member"})
		return
	}
	h.broadcast(roomID, hub.ModerationEvent{
		Type:         hub.TypeRoleChanged,
		RoomID:       roomID,
		TargetUserID: req.TargetUserID,
		NewRole:      role,
	})
	c.Status(http.StatusNoContent)
}

func handleGetSettings(c *gin.Context, h *Hub) {
	r, _, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, r.getSettings())
}

func handleUpdateSettings(c *gin.Context, h *Hub) {
	r, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	var s domain.RoomSettings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	r.updateSettings(s)
	h.broadcast(roomID, hub.SettingsEvent{
		Type:     hub.TypeSettingsUpdated,
		RoomID:   roomID,
		Settings: s,
	})
	c.Status(http.StatusNoContent)
}

func handleDeleteMessage(c *gin.Context, h *Hub) {
	_, roomID, ok := findRoomOr404(c, h)
	if !ok {
		return
	}
	messageID := c.Param("messageId")
	h.broadcast(roomID, hub.MessageDeletedEvent{
		Type:      hub.TypeMessageDeleted,
		RoomID:    roomID,
		MessageID: messageID,
	})
	c.Status(http.StatusNoContent)
}

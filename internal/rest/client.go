// Package rest wraps the room backend's request/response API: room CRUD,
// moderation commands and voice token issuance. Plain calls, no state.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/voice"
)

// APIError is a non-2xx backend reply.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		base:  baseURL,
		token: accessToken,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil {
			if apiErr.Message != "" {
				msg = apiErr.Message
			} else if apiErr.Error != "" {
				msg = apiErr.Error
			}
		}
		log.Warn().Str("module", "rest").Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("request rejected")
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type RoomSummary struct {
	ID          domain.RoomID   `json:"id"`
	Name        domain.RoomName `json:"name"`
	Description string          `json:"description,omitempty"`
	IsPrivate   bool            `json:"isPrivate"`
	MemberCount int             `json:"memberCount"`
	LastActive  time.Time       `json:"lastActiveAt"`
}

type CreateRoomRequest struct {
	Name        domain.RoomName `json:"name"`
	Description string          `json:"description,omitempty"`
	IsPrivate   bool            `json:"isPrivate"`
	MaxMembers  int             `json:"maxMembers,omitempty"`
}

// JoinRoomResponse carries the primary voice token for the room's channel.
type JoinRoomResponse struct {
	Room        RoomSummary `json:"room"`
	VoiceToken  string      `json:"voiceToken,omitempty"`
	VoiceChanID string      `json:"voiceChannel,omitempty"`
}

func (c *Client) ListRooms(ctx context.Context) ([]RoomSummary, error) {
	var out []RoomSummary
	err := c.do(ctx, http.MethodGet, "/rooms", nil, &out)
	return out, err
}

func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (RoomSummary, error) {
	var out RoomSummary
	err := c.do(ctx, http.MethodPost, "/rooms", req, &out)
	return out, err
}

func (c *Client) JoinRoom(ctx context.Context, roomID domain.RoomID) (JoinRoomResponse, error) {
	var out JoinRoomResponse
	err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/join", nil, &out)
	return out, err
}

func (c *Client) LeaveRoom(ctx context.Context, roomID domain.RoomID) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/leave", nil, nil)
}

type BanRequest struct {
	UserID      domain.UserID `json:"userId"`
	Reason      string        `json:"reason,omitempty"`
	IsPermanent bool          `json:"isPermanent"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
}

func (c *Client) BanUser(ctx context.Context, roomID domain.RoomID, req BanRequest) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/ban", req, nil)
}

func (c *Client) UnbanUser(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(string(roomID))+"/ban/"+url.PathEscape(string(userID)), nil, nil)
}

type MuteRequest struct {
	UserID      domain.UserID `json:"userId"`
	Reason      string        `json:"reason,omitempty"`
	IsPermanent bool          `json:"isPermanent"`
	MutedUntil  *time.Time    `json:"mutedUntil,omitempty"`
}

func (c *Client) MuteUser(ctx context.Context, roomID domain.RoomID, req MuteRequest) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/mute", req, nil)
}

func (c *Client) UnmuteUser(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(string(roomID))+"/mute/"+url.PathEscape(string(userID)), nil, nil)
}

func (c *Client) KickUser(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(string(roomID))+"/members/"+url.PathEscape(string(userID)), nil, nil)
}

func (c *Client) PromoteAdmin(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	body := map[string]domain.UserID{"targetUserId": userID}
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/promote-admin", body, nil)
}

func (c *Client) DemoteAdmin(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	body := map[string]domain.UserID{"targetUserId": userID}
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/demote-admin", body, nil)
}

func (c *Client) TransferOwnership(ctx context.Context, roomID domain.RoomID, newOwner domain.UserID) error {
	body := map[string]domain.UserID{"newOwnerUserId": newOwner}
	return c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/transfer-ownership", body, nil)
}

func (c *Client) RoomSettings(ctx context.Context, roomID domain.RoomID) (domain.RoomSettings, error) {
	var out domain.RoomSettings
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(string(roomID))+"/settings", nil, &out)
	return out, err
}

func (c *Client) UpdateRoomSettings(ctx context.Context, roomID domain.RoomID, s domain.RoomSettings) error {
	return c.do(ctx, http.MethodPut, "/rooms/"+url.PathEscape(string(roomID))+"/settings", s, nil)
}

type BannedUser struct {
	UserID      domain.UserID `json:"userId"`
	Username    string        `json:"username"`
	Reason      string        `json:"reason,omitempty"`
	IsPermanent bool          `json:"isPermanent"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	BannedBy    string        `json:"bannedByUsername,omitempty"`
}

func (c *Client) BannedUsers(ctx context.Context, roomID domain.RoomID) ([]BannedUser, error) {
	var out struct {
		Users []BannedUser `json:"users"`
	}
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(string(roomID))+"/banned", nil, &out)
	return out.Users, err
}

type MembershipRecord struct {
	UserID   domain.UserID `json:"userId"`
	Username string        `json:"username"`
	Action   string        `json:"action"`
	At       time.Time     `json:"at"`
}

type MembershipHistory struct {
	Records []MembershipRecord `json:"records"`
	Total   int                `json:"total"`
	Page    int                `json:"page"`
}

func (c *Client) RoomMembershipHistory(ctx context.Context, roomID domain.RoomID, page, pageSize int) (MembershipHistory, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	var out MembershipHistory
	err := c.do(ctx, http.MethodGet, "/rooms/"+url.PathEscape(string(roomID))+"/membership-history?"+q.Encode(), nil, &out)
	return out, err
}

type BanByIPHistoryRequest struct {
	UserID      domain.UserID `json:"userId"`
	Reason      string        `json:"reason,omitempty"`
	IsPermanent bool          `json:"isPermanent"`
}

type BanByIPHistoryResult struct {
	BannedIPs     []string `json:"bannedIpAddresses"`
	TotalIPBanned int      `json:"totalIpsBanned"`
}

func (c *Client) BanByIPHistory(ctx context.Context, roomID domain.RoomID, req BanByIPHistoryRequest) (BanByIPHistoryResult, error) {
	var out BanByIPHistoryResult
	err := c.do(ctx, http.MethodPost, "/rooms/"+url.PathEscape(string(roomID))+"/ban-by-ip-history", req, &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, roomID domain.RoomID, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/rooms/"+url.PathEscape(string(roomID))+"/messages/"+url.PathEscape(messageID), nil, nil)
}

// VoiceToken fetches fresh channel credentials; it is the fallback path
// when the join-response token is rejected (see voice.TokenSource).
func (c *Client) VoiceToken(ctx context.Context, channel string) (voice.Credentials, error) {
	var out struct {
		Token string `json:"token"`
		UID   string `json:"uid,omitempty"`
	}
	err := c.do(ctx, http.MethodGet, "/voice/token?channel="+url.QueryEscape(channel), nil, &out)
	if err != nil {
		return voice.Credentials{}, err
	}
	return voice.Credentials{
		Channel:   channel,
		Token:     out.Token,
		UID:       domain.UserID(out.UID),
		ExpiresAt: tokenExpiry(out.Token),
	}, nil
}

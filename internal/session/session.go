// Package session implements the room session core: one logical hub
// connection, an authoritative presence view, the ordered chat stream and
// the moderation-driven teardown sequence.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/hub"
)

// MemberView is a presence entry plus the derived voice flag. InVoice is
// computed on read by intersecting with the voice participant set; it is
// never stored.
type MemberView struct {
	domain.RoomMember
	InVoice bool
}

type Callbacks struct {
	OnReconnecting     func()
	OnReconnected      func()
	OnConnectionFailed func(error)

	OnMessage         func(domain.ChatMessage)
	OnSendFailed      func(domain.ChatMessage, error)
	OnPresence        func([]domain.RoomMember)
	OnMemberModerated func(domain.ModerationEvent)
	OnRoomSettings    func(domain.RoomSettings)

	OnBanned  func(reason string)
	OnKicked  func(reason string)
	OnMuted   func(reason string, expiresAt *time.Time)
	OnUnmuted func()
}

type Options struct {
	RoomID domain.RoomID
	Self   domain.User
	Dial   hub.Dialer

	// Voice may be nil when the room has no voice channel.
	Voice VoiceSession

	RPCTimeout   time.Duration
	VoiceTimeout time.Duration
	ResyncWindow time.Duration
}

// Session wires the pieces together and is the only public entry point.
type Session struct {
	opts Options
	cb   Callbacks

	conns    *ConnectionManager
	presence *PresenceTracker
	stream   *MessageStream
	mod      *ModerationCoordinator
}

func New(opts Options, cb Callbacks) *Session {
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = 10 * time.Second
	}

	s := &Session{opts: opts, cb: cb}
	s.stream = NewMessageStream()
	s.presence = NewPresenceTracker(opts.ResyncWindow, s.requestResync)
	s.mod = NewModerationCoordinator(opts.Self.ID, s.presence, opts.Voice, opts.VoiceTimeout, ModerationCallbacks{
		OnBanned:  cb.OnBanned,
		OnKicked:  cb.OnKicked,
		OnMuted:   cb.OnMuted,
		OnUnmuted: cb.OnUnmuted,
	})

	events := &hub.Events{
		OnMessage:        s.handleInbound,
		OnOnlineUsers:    s.handleSnapshot,
		OnUserJoined:     s.handleJoin,
		OnUserLeft:       func(e hub.PresenceEvent) { s.handleLeave(e.UserID) },
		OnUserOffline:    s.handleLeave,
		OnModeration:     s.handleModeration,
		OnSelfModeration: s.mod.HandleSelf,
		OnMessageDeleted: s.stream.ApplyDeleted,
		OnRoomSettings:   s.handleSettings,
	}
	s.conns = NewConnectionManager(opts.Dial, events, ConnCallbacks{
		OnReconnected: func(conn hub.Conn) { go s.afterReconnect(conn) },
		OnStateChange: func(st ConnState) {
			if st == StateReconnecting && cb.OnReconnecting != nil {
				cb.OnReconnecting()
			}
		},
		OnConnectionFailed: cb.OnConnectionFailed,
	})
	s.conns.SetLeave(func(ctx context.Context, conn hub.Conn) error {
		return conn.LeaveRoom(ctx, opts.RoomID, opts.Self.ID)
	})
	return s
}

// Start connects, joins the room and requests the first presence snapshot.
// A join rejection (for example: banned) is terminal for the session and is
// returned without retry.
func (s *Session) Start(ctx context.Context) error {
	if err := s.conns.Start(ctx); err != nil {
		return err
	}
	conn := s.conns.Conn()
	if conn == nil {
		return ErrNotConnected
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.opts.RPCTimeout)
	defer cancel()
	if err := conn.JoinRoom(joinCtx, s.opts.RoomID, s.opts.Self.ID); err != nil {
		s.conns.Stop(ctx)
		return err
	}
	if err := conn.GetOnlineUsers(joinCtx, s.opts.RoomID); err != nil {
		// Presence catches up on the next resync; joining already worked.
		log.Warn().Err(err).Str("module", "session").Msg("initial presence request failed")
	}
	log.Info().Str("module", "session").Str("room", string(s.opts.RoomID)).Str("user", string(s.opts.Self.ID)).Msg("joined room")
	return nil
}

// Stop tears the session down: pending timers, graceful leave, transport
// close. The connection state is Closed afterwards and the session must not
// be reused.
func (s *Session) Stop(ctx context.Context) {
	s.presence.Stop()
	s.conns.Stop(ctx)
}

// Send appends a local echo and dispatches the RPC. All preconditions are
// checked before the transport is touched or the stream mutated, each with
// its own error kind so the host can explain the refusal.
func (s *Session) Send(body string) (domain.ChatMessage, error) {
	if s.mod.Evicting() {
		return domain.ChatMessage{}, ErrEvicted
	}
	conn := s.conns.Conn()
	if conn == nil {
		return domain.ChatMessage{}, ErrNotConnected
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	if m, ok := s.presence.Member(s.opts.Self.ID); ok {
		if m.IsBanned {
			return domain.ChatMessage{}, &RestrictionError{Kind: domain.ModBanned, Reason: m.MuteReason}
		}
		if m.MuteActive(time.Now()) {
			return domain.ChatMessage{}, &RestrictionError{Kind: domain.ModMuted, Reason: m.MuteReason, ExpiresAt: m.MuteExpiry}
		}
	}

	msg := s.stream.AppendLocal(s.opts.Self.ID, s.opts.Self.Username, body)
	if s.cb.OnMessage != nil {
		s.cb.OnMessage(msg)
	}

	// Fire and forget; the echo is reconciled when the hub's copy arrives.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.RPCTimeout)
		defer cancel()
		if err := conn.SendMessage(ctx, s.opts.RoomID, s.opts.Self.ID, body); err != nil {
			log.Warn().Err(err).Str("module", "session").Int64("local_seq", msg.LocalSeq).Msg("send rejected")
			if s.cb.OnSendFailed != nil {
				s.cb.OnSendFailed(msg, err)
			}
		}
	}()
	return msg, nil
}

func (s *Session) State() ConnState { return s.conns.State() }

func (s *Session) Messages() []domain.ChatMessage { return s.stream.Messages() }

// Members returns the presence snapshot with inVoice derived from the voice
// participant set.
func (s *Session) Members() []MemberView {
	members := s.presence.Snapshot()
	inVoice := make(map[domain.UserID]bool)
	if s.opts.Voice != nil {
		for _, p := range s.opts.Voice.Participants() {
			inVoice[p.UserID] = true
		}
	}
	out := make([]MemberView, 0, len(members))
	for _, m := range members {
		out = append(out, MemberView{RoomMember: m, InVoice: inVoice[m.UserID]})
	}
	return out
}

func (s *Session) Settings() (domain.RoomSettings, bool) { return s.presence.Settings() }

func (s *Session) handleInbound(in hub.InboundMessage) {
	msg, appended := s.stream.ApplyInbound(in, s.opts.Self.ID)
	if appended && s.cb.OnMessage != nil {
		s.cb.OnMessage(msg)
	}
}

func (s *Session) handleSnapshot(members []domain.RoomMember) {
	s.presence.ApplySnapshot(members)
	s.emitPresence()
}

func (s *Session) handleJoin(e hub.PresenceEvent) {
	s.presence.ApplyJoin(*domain.NewRoomMember(e.UserID, e.Username))
	s.emitPresence()
}

func (s *Session) handleLeave(id domain.UserID) {
	s.presence.ApplyLeave(id)
	s.emitPresence()
}

func (s *Session) handleModeration(ev domain.ModerationEvent) {
	s.presence.ApplyModeration(ev)
	if s.cb.OnMemberModerated != nil {
		s.cb.OnMemberModerated(ev)
	}
	s.emitPresence()
}

func (s *Session) handleSettings(settings domain.RoomSettings) {
	s.presence.ApplySettings(settings)
	if s.cb.OnRoomSettings != nil {
		s.cb.OnRoomSettings(settings)
	}
}

func (s *Session) emitPresence() {
	if s.cb.OnPresence != nil {
		s.cb.OnPresence(s.presence.Snapshot())
	}
}

// requestResync is the presence tracker's debounced snapshot request.
func (s *Session) requestResync() {
	conn := s.conns.Conn()
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RPCTimeout)
	defer cancel()
	if err := conn.GetOnlineUsers(ctx, s.opts.RoomID); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("presence resync failed")
	}
}

// afterReconnect re-joins and forces a presence resync; the hub replays no
// events across the gap.
func (s *Session) afterReconnect(conn hub.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RPCTimeout)
	defer cancel()

	if err := conn.JoinRoom(ctx, s.opts.RoomID, s.opts.Self.ID); err != nil {
		log.Error().Err(err).Str("module", "session").Msg("rejoin after reconnect failed")
		if s.cb.OnConnectionFailed != nil {
			s.cb.OnConnectionFailed(err)
		}
		return
	}
	if err := conn.GetOnlineUsers(ctx, s.opts.RoomID); err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("presence resync after reconnect failed")
	}
	if s.cb.OnReconnected != nil {
		s.cb.OnReconnected()
	}
	log.Info().Str("module", "session").Msg("rejoined after reconnect")
}

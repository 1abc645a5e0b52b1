package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/config"
	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/hub"
	"github.com/majlis-chat/roomsession/internal/rest"
	"github.com/majlis-chat/roomsession/internal/session"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	userID := domain.UserID(cfg.UserID)
	if userID == "" {
		userID = domain.UserID(uuid.NewString())
	}
	self, err := domain.NewUser(userID, cfg.Username)
	if err != nil {
		log.Fatal().Err(err).Msg("bad identity")
	}

	roomID := domain.RoomID(cfg.RoomID)

	// REST membership first, then the realtime hub; mirrors the backend's
	// expected join order. The dev hub tolerates a missing REST join.
	api := rest.NewClient(cfg.APIURL, self.AccessToken)
	if joined, err := api.JoinRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Msg("REST join failed, continuing with hub only")
	} else if joined.VoiceChanID != "" {
		fmt.Printf("voice channel available: %s\n", joined.VoiceChanID)
	}
	defer func() {
		leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer leaveCancel()
		if err := api.LeaveRoom(leaveCtx, roomID); err != nil {
			log.Warn().Err(err).Msg("REST leave failed")
		}
	}()

	q := url.Values{}
	q.Set("userId", string(self.ID))
	q.Set("username", self.Username)
	hubURL := cfg.HubURL + "?" + q.Encode()

	sess := session.New(session.Options{
		RoomID:       roomID,
		Self:         *self,
		Dial:         hub.NewDialer(hubURL, self.AccessToken),
		RPCTimeout:   cfg.RPCTimeout,
		VoiceTimeout: cfg.VoiceTimeout,
	}, session.Callbacks{
		OnReconnecting: func() { fmt.Println("* reconnecting...") },
		OnReconnected:  func() { fmt.Println("* reconnected") },
		OnConnectionFailed: func(err error) {
			fmt.Printf("* connection failed: %v\n", err)
		},
		OnMessage: func(m domain.ChatMessage) {
			marker := ""
			if m.IsLocalEcho {
				marker = " (sending)"
			}
			fmt.Printf("[%s] %s: %s%s\n", m.SentAt.Format(time.Kitchen), m.AuthorName, m.Body, marker)
		},
		OnSendFailed: func(m domain.ChatMessage, err error) {
			fmt.Printf("* message %q failed: %v\n", m.Body, err)
		},
		OnPresence: func(members []domain.RoomMember) {
			fmt.Printf("* %d online\n", len(members))
		},
		OnBanned: func(reason string) {
			fmt.Printf("* you were banned: %s\n", reason)
			cancel()
		},
		OnKicked: func(reason string) {
			fmt.Printf("* you were kicked: %s\n", reason)
			cancel()
		},
		OnMuted: func(reason string, until *time.Time) {
			fmt.Printf("* you were muted: %s\n", reason)
		},
		OnUnmuted: func() { fmt.Println("* you were unmuted") },
	})

	if err := sess.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to join room")
	}
	fmt.Printf("joined %s as %s; type to chat, ^C to quit\n", cfg.RoomID, self.Username)

	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if _, err := sess.Send(sc.Text()); err != nil {
				fmt.Printf("* not sent: %v\n", err)
			}
		}
		cancel()
	}()

	<-ctx.Done()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	sess.Stop(stopCtx)
	fmt.Println("bye")
}

// Package voice owns the voice sub-session: microphone lifecycle, the
// join/leave state machine and speaking detection. The media transport
// itself is abstracted; internal/voice/pion provides a webrtc-backed one.
package voice

import (
	"context"
	"errors"
	"time"

	"github.com/majlis-chat/roomsession/internal/domain"
)

var (
	// ErrPermissionDenied: the user refused microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceNotFound: no capture device is present.
	ErrDeviceNotFound = errors.New("no audio input device found")
	ErrNotJoined      = errors.New("not joined to voice channel")
	ErrBusy           = errors.New("voice operation already in progress")
)

// Credentials grant entry to one voice channel. ExpiresAt comes from the
// token's expiry claim when the issuer encodes one.
type Credentials struct {
	Channel   string
	Token     string
	UID       domain.UserID
	ExpiresAt time.Time
}

// TokenSource fetches fresh credentials for a channel. Used as the fallback
// path when the primary (join-response) token is rejected.
type TokenSource func(ctx context.Context, channel string) (Credentials, error)

// Track is the local microphone track. Exactly one controller holds it at a
// time and every exit path must Close it.
type Track interface {
	// SetEnabled gates capture without releasing the device (mute).
	SetEnabled(enabled bool) error
	// Level is the current audio energy in [0,1].
	Level() float64
	Close()
}

// Microphone acquires the capture device. Implementations must fail with
// ErrPermissionDenied or ErrDeviceNotFound so the controller can enter the
// matching error state without attempting a remote join.
type Microphone interface {
	Capture(ctx context.Context) (Track, error)
}

// RemoteAudio is one remote participant's playback handle.
type RemoteAudio interface {
	Play()
	Stop()
}

// TransportEvents are the media transport's push callbacks.
type TransportEvents struct {
	OnUserPublished   func(domain.UserID, RemoteAudio)
	OnUserUnpublished func(domain.UserID)
	OnUserLeft        func(domain.UserID)
	// OnVolume reports a remote participant's energy in [0,1].
	OnVolume func(domain.UserID, float64)
}

// Transport is the external media SDK boundary. Only lifecycle coordination
// is modeled here; packetization and mixing live behind it.
type Transport interface {
	Join(ctx context.Context, creds Credentials, events *TransportEvents) error
	Publish(ctx context.Context, track Track) error
	Leave(ctx context.Context) error
}

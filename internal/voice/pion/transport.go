// Package pion implements the voice.Transport boundary over a pion/webrtc
// peer connection. Signaling (offer/answer exchange) is delegated to the
// host via SignalFunc; the hub backend answers as an SFU.
package pion

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
	"github.com/majlis-chat/roomsession/internal/voice"
)

var (
	ErrAlreadyJoined    = errors.New("peer connection already established")
	ErrUnsupportedTrack = errors.New("track is not webrtc-backed")
)

// SignalFunc exchanges the local offer for the remote answer, authenticated
// by the channel credentials.
type SignalFunc func(ctx context.Context, offerSDP string, creds voice.Credentials) (answerSDP string, err error)

// rtpLocal is what Publish expects from a voice.Track in this package.
type rtpLocal interface {
	RTPTrack() webrtc.TrackLocal
}

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
	}
}

type Transport struct {
	cfg    webrtc.Configuration
	signal SignalFunc

	mu     sync.Mutex
	pc     *webrtc.PeerConnection
	sender *webrtc.RTPSender
	cancel context.CancelFunc
}

func NewTransport(cfg webrtc.Configuration, signal SignalFunc) *Transport {
	return &Transport{cfg: cfg, signal: signal}
}

// Join builds the peer connection, negotiates through SignalFunc and wires
// the remote-track callbacks. The ssrc-audio-level header extension feeds
// the volume indicator.
func (t *Transport) Join(ctx context.Context, creds voice.Credentials, events *voice.TransportEvents) error {
	t.mu.Lock()
	if t.pc != nil {
		t.mu.Unlock()
		return ErrAlreadyJoined
	}
	t.mu.Unlock()

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return err
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	pc, err := api.NewPeerConnection(t.cfg)
	if err != nil {
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "voice.pion").Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed || s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		uid := domain.UserID(track.StreamID())
		log.Info().
			Str("module", "voice.pion").
			Str("user", string(uid)).
			Str("kind", track.Kind().String()).
			Msg("remote track")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		audio := &remoteAudio{}
		if events.OnUserPublished != nil {
			events.OnUserPublished(uid, audio)
		}
		go t.readRemote(readCtx, uid, track, receiver, events)
	})

	tr, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		cancel()
		_ = pc.Close()
		return err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		cancel()
		_ = pc.Close()
		return err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		cancel()
		_ = pc.Close()
		return err
	}
	<-gatherComplete

	answerSDP, err := t.signal(ctx, pc.LocalDescription().SDP, creds)
	if err != nil {
		cancel()
		_ = pc.Close()
		return err
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		cancel()
		_ = pc.Close()
		return err
	}

	t.mu.Lock()
	t.pc = pc
	t.sender = tr.Sender()
	t.cancel = cancel
	t.mu.Unlock()
	return nil
}

// Publish swaps the local track into the negotiated sender. No
// renegotiation is needed as long as the codec matches the transceiver.
func (t *Transport) Publish(_ context.Context, track voice.Track) error {
	local, ok := track.(rtpLocal)
	if !ok {
		return ErrUnsupportedTrack
	}

	t.mu.Lock()
	sender := t.sender
	t.mu.Unlock()
	if sender == nil {
		return voice.ErrNotJoined
	}
	return sender.ReplaceTrack(local.RTPTrack())
}

func (t *Transport) Leave(_ context.Context) error {
	t.mu.Lock()
	pc := t.pc
	cancel := t.cancel
	t.pc = nil
	t.sender = nil
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "voice.pion").Msg("close error")
		return err
	}
	log.Info().Str("module", "voice.pion").Msg("closed")
	return nil
}

// readRemote drains RTP (required to keep the track flowing) and reports
// the ssrc-audio-level extension as the participant's energy.
func (t *Transport) readRemote(ctx context.Context, uid domain.UserID, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver, events *voice.TransportEvents) {
	defer func() {
		if events.OnUserLeft != nil {
			events.OnUserLeft(uid)
		}
	}()

	var levelExtID uint8
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			levelExtID = uint8(ext.ID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if levelExtID == 0 || events.OnVolume == nil {
			continue
		}
		if raw := pkt.GetExtension(levelExtID); len(raw) == 1 {
			// Low 7 bits are -dBov: 0 is loudest, 127 is silence.
			dbov := float64(raw[0] & 0x7f)
			events.OnVolume(uid, 1.0-dbov/127.0)
		}
	}
}

// remoteAudio gates playout of one remote participant. The actual audio
// sink is the host's concern; this only tracks the deafen switch.
type remoteAudio struct {
	mu      sync.Mutex
	stopped bool
}

func (a *remoteAudio) Play() {
	a.mu.Lock()
	a.stopped = false
	a.mu.Unlock()
}

func (a *remoteAudio) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
}

func (a *remoteAudio) Playing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.stopped
}

var _ voice.Transport = (*Transport)(nil)

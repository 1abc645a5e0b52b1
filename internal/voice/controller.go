package voice

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateJoining
	StateJoined
	StateLeaving
	StatePermissionDenied
	StateDeviceNotFound
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StatePermissionDenied:
		return "permission_denied"
	case StateDeviceNotFound:
		return "device_not_found"
	case StateError:
		return "error"
	}
	return "unknown"
}

type Callbacks struct {
	OnStateChange func(State)
	// OnSpeaking reports the local user's speaking classification.
	OnSpeaking     func(bool)
	OnParticipants func([]domain.VoiceParticipant)
	OnSpeakers     func([]domain.UserID)
}

type participant struct {
	audio     RemoteAudio
	published bool
}

// Controller is the voice session state machine. It is the sole owner of
// the microphone track; every exit path (leave, join failure, cancellation,
// eviction) funnels through releaseTrack so the device is never leaked.
type Controller struct {
	transport Transport
	mic       Microphone
	tokens    TokenSource // optional fallback when the primary token is rejected
	cb        Callbacks

	sampleInterval time.Duration
	threshold      float64

	mu           sync.Mutex
	state        State
	lastErr      error
	track        Track
	sampler      *VolumeSampler
	joinCancel   context.CancelFunc
	muted        bool
	deafened     bool
	participants map[domain.UserID]*participant
	speaking     map[domain.UserID]bool
}

func NewController(transport Transport, mic Microphone, tokens TokenSource, cb Callbacks) *Controller {
	return &Controller{
		transport:      transport,
		mic:            mic,
		tokens:         tokens,
		cb:             cb,
		sampleInterval: DefaultSampleInterval,
		threshold:      DefaultSpeakingThreshold,
		participants:   make(map[domain.UserID]*participant),
		speaking:       make(map[domain.UserID]bool),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *Controller) Deafened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deafened
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	log.Info().Str("module", "voice").Str("from", c.state.String()).Str("to", s.String()).Msg("state change")
	c.state = s
	if c.cb.OnStateChange != nil {
		go c.cb.OnStateChange(s)
	}
}

// Join acquires the microphone first (failing fast without touching the
// remote channel), then joins, publishes and starts speaking detection. A
// concurrent Leave cancels the context; Join then cleans up after itself.
func (c *Controller) Join(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StatePermissionDenied, StateDeviceNotFound, StateError:
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	c.joinCancel = cancel
	c.lastErr = nil
	c.setStateLocked(StateJoining)
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.joinCancel = nil
		c.mu.Unlock()
	}()

	track, err := c.mic.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by a concurrent Leave; not an error state.
			c.toIdle()
			return ctx.Err()
		}
		c.failJoin(err)
		return err
	}

	if err := ctx.Err(); err != nil {
		track.Close()
		c.toIdle()
		return err
	}

	if err := c.remoteJoin(ctx, creds); err != nil {
		// Mic granted but the remote join failed; the device must not
		// stay open behind the surfaced error.
		track.Close()
		if ctx.Err() != nil {
			c.toIdle()
			return ctx.Err()
		}
		c.failJoin(err)
		return err
	}

	if err := ctx.Err(); err != nil {
		track.Close()
		c.remoteLeave()
		c.toIdle()
		return err
	}

	if err := c.transport.Publish(ctx, track); err != nil {
		track.Close()
		c.remoteLeave()
		c.failJoin(err)
		return err
	}

	if err := ctx.Err(); err != nil {
		track.Close()
		c.remoteLeave()
		c.toIdle()
		return err
	}

	sampler := NewVolumeSampler(c.sampleInterval, c.threshold, track.Level, c.cb.OnSpeaking)

	c.mu.Lock()
	if c.state != StateJoining {
		// Lost a race with teardown; do not hold the device.
		c.mu.Unlock()
		track.Close()
		c.remoteLeave()
		return ErrBusy
	}
	c.track = track
	c.sampler = sampler
	c.setStateLocked(StateJoined)
	c.mu.Unlock()

	sampler.Start()
	log.Info().Str("module", "voice").Str("channel", creds.Channel).Msg("joined voice channel")
	return nil
}

// remoteJoin tries the provided credentials, then falls back to one fresh
// token fetch when the primary token is rejected.
func (c *Controller) remoteJoin(ctx context.Context, creds Credentials) error {
	events := c.transportEvents()
	err := c.transport.Join(ctx, creds, events)
	if err == nil || c.tokens == nil || errors.Is(err, context.Canceled) {
		return err
	}

	log.Warn().Err(err).Str("module", "voice").Msg("primary voice token rejected, fetching fallback")
	fresh, tokenErr := c.tokens(ctx, creds.Channel)
	if tokenErr != nil {
		return err
	}
	return c.transport.Join(ctx, fresh, events)
}

// Leave is idempotent: while Idle it is a no-op, and during an in-flight
// Join it cancels the join and lets it clean up.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StatePermissionDenied, StateDeviceNotFound, StateError:
		c.mu.Unlock()
		return nil
	case StateJoining:
		if c.joinCancel != nil {
			c.joinCancel()
		}
		c.mu.Unlock()
		return nil
	case StateLeaving:
		c.mu.Unlock()
		return nil
	}

	c.setStateLocked(StateLeaving)
	track := c.track
	sampler := c.sampler
	c.track = nil
	c.sampler = nil
	c.mu.Unlock()

	c.releaseTrack(track, sampler)
	err := c.transport.Leave(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "voice").Msg("remote leave failed")
	}

	c.mu.Lock()
	c.participants = make(map[domain.UserID]*participant)
	c.speaking = make(map[domain.UserID]bool)
	c.muted = false
	c.deafened = false
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
	return err
}

// releaseTrack is the single release routine for the microphone resource.
func (c *Controller) releaseTrack(track Track, sampler *VolumeSampler) {
	if sampler != nil {
		sampler.Stop()
	}
	if track != nil {
		track.Close()
		log.Info().Str("module", "voice").Msg("microphone released")
	}
}

// ToggleMute gates the local track without unpublishing it.
func (c *Controller) ToggleMute() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateJoined || c.track == nil {
		return ErrNotJoined
	}
	if err := c.track.SetEnabled(c.muted); err != nil {
		return err
	}
	c.muted = !c.muted
	log.Info().Str("module", "voice").Bool("muted", c.muted).Msg("mute toggled")
	return nil
}

// ToggleDeafen stops playback of every remote participant. The local track
// stays published, so peers keep hearing the deafened user.
func (c *Controller) ToggleDeafen() error {
	c.mu.Lock()
	if c.state != StateJoined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	c.deafened = !c.deafened
	deafened := c.deafened
	audios := make([]RemoteAudio, 0, len(c.participants))
	for _, p := range c.participants {
		if p.audio != nil {
			audios = append(audios, p.audio)
		}
	}
	c.mu.Unlock()

	for _, a := range audios {
		if deafened {
			a.Stop()
		} else {
			a.Play()
		}
	}
	log.Info().Str("module", "voice").Bool("deafened", deafened).Msg("deafen toggled")
	return nil
}

// Participants returns the remote participant set, stable-ordered.
func (c *Controller) Participants() []domain.VoiceParticipant {
	c.mu.Lock()
	out := make([]domain.VoiceParticipant, 0, len(c.participants))
	for id, p := range c.participants {
		out = append(out, domain.VoiceParticipant{UserID: id, HasAudioPublished: p.published})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Speakers returns the remote users currently above the speaking threshold.
func (c *Controller) Speakers() []domain.UserID {
	c.mu.Lock()
	out := make([]domain.UserID, 0, len(c.speaking))
	for id := range c.speaking {
		out = append(out, id)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Controller) failJoin(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	switch {
	case errors.Is(err, ErrPermissionDenied):
		c.setStateLocked(StatePermissionDenied)
	case errors.Is(err, ErrDeviceNotFound):
		c.setStateLocked(StateDeviceNotFound)
	default:
		c.setStateLocked(StateError)
	}
}

func (c *Controller) toIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(StateIdle)
}

func (c *Controller) remoteLeave() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.transport.Leave(ctx); err != nil {
		log.Warn().Err(err).Str("module", "voice").Msg("cleanup leave failed")
	}
}

func (c *Controller) transportEvents() *TransportEvents {
	return &TransportEvents{
		OnUserPublished: func(id domain.UserID, audio RemoteAudio) {
			c.mu.Lock()
			c.participants[id] = &participant{audio: audio, published: true}
			deafened := c.deafened
			c.mu.Unlock()
			if !deafened && audio != nil {
				audio.Play()
			}
			c.emitParticipants()
		},
		OnUserUnpublished: func(id domain.UserID) {
			c.mu.Lock()
			if p, ok := c.participants[id]; ok {
				p.published = false
				p.audio = nil
			}
			c.mu.Unlock()
			c.emitParticipants()
		},
		OnUserLeft: func(id domain.UserID) {
			c.mu.Lock()
			delete(c.participants, id)
			delete(c.speaking, id)
			c.mu.Unlock()
			c.emitParticipants()
			c.emitSpeakers()
		},
		OnVolume: func(id domain.UserID, level float64) {
			c.mu.Lock()
			was := c.speaking[id]
			now := level > c.threshold
			if now {
				c.speaking[id] = true
			} else {
				delete(c.speaking, id)
			}
			c.mu.Unlock()
			if was != now {
				c.emitSpeakers()
			}
		},
	}
}

func (c *Controller) emitParticipants() {
	if c.cb.OnParticipants != nil {
		c.cb.OnParticipants(c.Participants())
	}
}

func (c *Controller) emitSpeakers() {
	if c.cb.OnSpeakers != nil {
		c.cb.OnSpeakers(c.Speakers())
	}
}

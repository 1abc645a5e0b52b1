package pion

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SampleTrack adapts a webrtc sample track to the voice.Track contract.
// The capture pipeline feeds encoded samples through WriteSample and
// reports energy through SetLevel; mute gates writes without touching the
// device.
type SampleTrack struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	level   float64
	closed  bool
	onClose func()
}

// NewSampleTrack builds an opus sample track. onClose releases the capture
// device and may be nil.
func NewSampleTrack(id, streamID string, onClose func()) (*SampleTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		id, streamID,
	)
	if err != nil {
		return nil, err
	}
	return &SampleTrack{track: track, enabled: true, onClose: onClose}, nil
}

func (t *SampleTrack) RTPTrack() webrtc.TrackLocal { return t.track }

// WriteSample forwards one encoded sample; muted or closed tracks drop it.
func (t *SampleTrack) WriteSample(s media.Sample) error {
	t.mu.Lock()
	ok := t.enabled && !t.closed
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.track.WriteSample(s)
}

func (t *SampleTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
	return nil
}

// SetLevel records the current capture energy in [0,1].
func (t *SampleTrack) SetLevel(level float64) {
	t.mu.Lock()
	t.level = level
	t.mu.Unlock()
}

func (t *SampleTrack) Level() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || t.closed {
		return 0
	}
	return t.level
}

// Close is idempotent.
func (t *SampleTrack) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	onClose := t.onClose
	t.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

package voice

import (
	"sync"
	"time"
)

const (
	// DefaultSampleInterval is how often local energy is polled.
	DefaultSampleInterval = 200 * time.Millisecond
	// DefaultSpeakingThreshold classifies speaking vs silent. A plain
	// threshold without hysteresis; the occasional flicker is acceptable.
	DefaultSpeakingThreshold = 0.1
)

// VolumeSampler polls an energy source on a fixed interval and reports
// speaking/silent transitions.
type VolumeSampler struct {
	interval  time.Duration
	threshold float64
	level     func() float64
	onChange  func(speaking bool)

	mu       sync.Mutex
	stopCh   chan struct{}
	running  bool
	speaking bool
}

func NewVolumeSampler(interval time.Duration, threshold float64, level func() float64, onChange func(bool)) *VolumeSampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if threshold <= 0 {
		threshold = DefaultSpeakingThreshold
	}
	return &VolumeSampler{
		interval:  interval,
		threshold: threshold,
		level:     level,
		onChange:  onChange,
	}
}

func (s *VolumeSampler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	go s.loop(stop)
}

// Stop is idempotent.
func (s *VolumeSampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// Speaking is the last classification.
func (s *VolumeSampler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *VolumeSampler) loop(stop chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *VolumeSampler) sample() {
	speaking := s.level() > s.threshold

	s.mu.Lock()
	changed := speaking != s.speaking
	s.speaking = speaking
	running := s.running
	s.mu.Unlock()

	if changed && running && s.onChange != nil {
		s.onChange(speaking)
	}
}

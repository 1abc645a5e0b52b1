package voice

import (
	"sync"
	"testing"
	"time"
)

type levelSource struct {
	mu    sync.Mutex
	level float64
}

func (l *levelSource) get() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *levelSource) set(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = v
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSamplerReportsTransitionsOnly(t *testing.T) {
	src := &levelSource{}
	var mu sync.Mutex
	var changes []bool
	s := NewVolumeSampler(5*time.Millisecond, 0.1, src.get, func(speaking bool) {
		mu.Lock()
		changes = append(changes, speaking)
		mu.Unlock()
	})
	s.Start()
	defer s.Stop()

	src.set(0.8)
	waitFor(t, s.Speaking, "never classified as speaking")

	// Holding the level steady must not emit more changes.
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	n := len(changes)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("changes = %d, want 1 while level is steady", n)
	}

	src.set(0.0)
	waitFor(t, func() bool { return !s.Speaking() }, "never returned to silent")
	mu.Lock()
	got := append([]bool(nil), changes...)
	mu.Unlock()
	if len(got) != 2 || !got[0] || got[1] {
		t.Errorf("changes = %v, want [true false]", got)
	}
}

func TestSamplerStopIsIdempotent(t *testing.T) {
	s := NewVolumeSampler(5*time.Millisecond, 0.1, func() float64 { return 0 }, nil)
	s.Start()
	s.Stop()
	s.Stop()

	// Restart works after a stop.
	s.Start()
	s.Stop()
}

func TestSamplerDefaults(t *testing.T) {
	s := NewVolumeSampler(0, 0, func() float64 { return 0 }, nil)
	if s.interval != DefaultSampleInterval {
		t.Errorf("interval = %v, want default", s.interval)
	}
	if s.threshold != DefaultSpeakingThreshold {
		t.Errorf("threshold = %v, want default", s.threshold)
	}
}

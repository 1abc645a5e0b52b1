package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majlis-chat/roomsession/internal/hub"
)

type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// The hub replays nothing across a reconnect gap, so the schedule favors
// quick first retries. The last delay repeats until success or Stop.
var backoffSchedule = []time.Duration{
	0,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

func backoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

type ConnCallbacks struct {
	OnReconnected      func(hub.Conn)
	OnConnectionFailed func(error)
	OnStateChange      func(ConnState)
}

// connHolder ties a dialed transport to its drop handler. The drop handler
// waits for ready so a transport that dies mid-handshake cannot race the
// registration below.
type connHolder struct {
	conn  hub.Conn
	ready chan struct{}
}

// ConnectionManager owns one logical hub connection: it dials, watches for
// unexpected drops and repairs the transport on the fixed backoff schedule.
// Closed is terminal and only ever entered by Stop.
type ConnectionManager struct {
	dial   hub.Dialer
	events *hub.Events
	cb     ConnCallbacks

	// Best-effort leave RPC issued by Stop while still joined.
	leave func(context.Context, hub.Conn) error

	dialTimeout time.Duration

	mu      sync.Mutex
	state   ConnState
	conn    hub.Conn
	attempt int
	lastErr error
	stop    chan struct{}
}

func NewConnectionManager(dial hub.Dialer, events *hub.Events, cb ConnCallbacks) *ConnectionManager {
	return &ConnectionManager{
		dial:        dial,
		events:      events,
		cb:          cb,
		dialTimeout: 15 * time.Second,
		stop:        make(chan struct{}),
	}
}

// SetLeave installs the graceful-leave RPC Stop runs before closing.
func (m *ConnectionManager) SetLeave(leave func(context.Context, hub.Conn) error) {
	m.leave = leave
}

func (m *ConnectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

func (m *ConnectionManager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Conn returns the live transport, or nil outside Connected.
func (m *ConnectionManager) Conn() hub.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

func (m *ConnectionManager) setStateLocked(s ConnState) {
	if m.state == s {
		return
	}
	log.Info().Str("module", "session.conn").Str("from", m.state.String()).Str("to", s.String()).Msg("state change")
	m.state = s
	if m.cb.OnStateChange != nil {
		go m.cb.OnStateChange(s)
	}
}

// eventsFor clones the shared event sinks, pointing OnDropped at this
// particular transport generation.
func (m *ConnectionManager) eventsFor(h *connHolder) *hub.Events {
	ev := *m.events
	ev.OnDropped = func(err error) {
		<-h.ready
		m.handleDrop(h, err)
	}
	return &ev
}

// Start dials the hub once. It is a no-op outside Disconnected, which
// absorbs double invocation by an over-eager host. On failure the state
// stays Disconnected and the caller decides whether to call Start again.
func (m *ConnectionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		log.Warn().Str("module", "session.conn").Str("state", m.state.String()).Msg("Start ignored")
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	h := &connHolder{ready: make(chan struct{})}
	conn, err := m.dial(ctx, m.eventsFor(h))
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		if m.cb.OnConnectionFailed != nil {
			m.cb.OnConnectionFailed(err)
		}
		return err
	}
	h.conn = conn
	close(h.ready)

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	m.conn = conn
	m.attempt = 0
	m.setStateLocked(StateConnected)
	m.mu.Unlock()
	return nil
}

// Stop leaves the room best-effort, closes the transport and enters the
// terminal Closed state no matter what the leave RPC did.
func (m *ConnectionManager) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	m.setStateLocked(StateClosed)
	close(m.stop)
	m.mu.Unlock()

	if conn != nil {
		if m.leave != nil {
			if err := m.leave(ctx, conn); err != nil {
				log.Warn().Err(err).Str("module", "session.conn").Msg("graceful leave failed")
			}
		}
		_ = conn.Close()
	}
	log.Info().Str("module", "session.conn").Msg("stopped")
}

func (m *ConnectionManager) handleDrop(h *connHolder, err error) {
	m.mu.Lock()
	if m.state != StateConnected || m.conn != h.conn {
		// Stale generation or deliberate close.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.lastErr = err
	m.setStateLocked(StateReconnecting)
	m.mu.Unlock()

	go m.reconnectLoop()
}

func (m *ConnectionManager) reconnectLoop() {
	for attempt := 0; ; attempt++ {
		delay := backoffDelay(attempt)
		if delay > 0 {
			select {
			case <-m.stop:
				return
			case <-time.After(delay):
			}
		} else {
			select {
			case <-m.stop:
				return
			default:
			}
		}

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return
		}
		m.attempt = attempt + 1
		m.mu.Unlock()

		h := &connHolder{ready: make(chan struct{})}
		ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
		conn, err := m.dial(ctx, m.eventsFor(h))
		cancel()
		if err != nil {
			m.mu.Lock()
			m.lastErr = err
			m.mu.Unlock()
			log.Warn().Err(err).Str("module", "session.conn").Int("attempt", attempt+1).Msg("reconnect attempt failed")
			continue
		}
		h.conn = conn
		close(h.ready)

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			_ = conn.Close()
			return
		}
		m.conn = conn
		m.attempt = 0
		m.setStateLocked(StateConnected)
		m.mu.Unlock()

		log.Info().Str("module", "session.conn").Msg("reconnected")
		if m.cb.OnReconnected != nil {
			m.cb.OnReconnected(conn)
		}
		return
	}
}

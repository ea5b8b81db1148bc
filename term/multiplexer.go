package term

import (
	"sync"
	"time"

	"github.com/agentide/c3/log"
)

const (
	// idlePollInterval is how often the shared poller inspects sessions.
	idlePollInterval = 2 * time.Second
	// idleThreshold is how long a session must be silent before it is
	// considered idle.
	idleThreshold = 8 * time.Second
	// shutdownGrace is how long Shutdown waits for killed sessions to
	// report their exit before flushing and returning.
	shutdownGrace = 5 * time.Second
)

// Multiplexer owns every live terminal session plus the shared scrollback
// store, and runs the single idle poller that watches them all.
type Multiplexer struct {
	scrollback *ScrollbackStore

	mu       sync.Mutex
	sessions map[string]*Session

	onIdle func(sessionID string)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMultiplexer creates the session registry backed by scrollbackDir.
func NewMultiplexer(scrollbackDir string) (*Multiplexer, error) {
	store, err := NewScrollbackStore(scrollbackDir)
	if err != nil {
		return nil, err
	}
	return &Multiplexer{
		scrollback: store,
		sessions:   make(map[string]*Session),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Scrollback exposes the shared store for session construction.
func (m *Multiplexer) Scrollback() *ScrollbackStore {
	return m.scrollback
}

// SetIdleHandler installs the callback invoked once per quiet period per
// session. Must be set before StartPoller.
func (m *Multiplexer) SetIdleHandler(fn func(sessionID string)) {
	m.onIdle = fn
}

// StartPoller begins the idle sweep loop.
func (m *Multiplexer) StartPoller() {
	go m.pollLoop()
}

func (m *Multiplexer) pollLoop() {
	defer close(m.done)
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep fires the idle advisory for every session that has been silent past
// the threshold and hasn't been notified since its last output.
func (m *Multiplexer) sweep() {
	for _, s := range m.snapshotSessions() {
		if s.Ended() {
			continue
		}
		if time.Since(s.LastOutput()) < idleThreshold {
			continue
		}
		if !s.markIdleNotified() {
			continue
		}
		s.Notify(Event{Type: EventSessionIdle})
		if m.onIdle != nil {
			m.onIdle(s.ID)
		}
	}
}

func (m *Multiplexer) snapshotSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Register adds a session to the registry, replacing any stale entry left
// by a previous activation of the same id.
func (m *Multiplexer) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Get returns the live session for id, or nil.
func (m *Multiplexer) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// Release drops a session from the registry without touching its scrollback.
func (m *Multiplexer) Release(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Notify delivers an event to a session's subscribers if it is registered.
func (m *Multiplexer) Notify(id string, ev Event) bool {
	s := m.Get(id)
	if s == nil {
		return false
	}
	s.Notify(ev)
	return true
}

// SessionScrollback returns everything the session has emitted so far,
// including bytes not yet flushed to disk.
func (m *Multiplexer) SessionScrollback(id string) []byte {
	return m.scrollback.Snapshot(id)
}

// RemoveScrollback deletes a session's persisted output.
func (m *Multiplexer) RemoveScrollback(id string) error {
	return m.scrollback.Remove(id)
}

// Shutdown stops the poller, terminates every live process, waits briefly
// for exits, and flushes all scrollback.
func (m *Multiplexer) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done

	live := m.snapshotSessions()
	for _, s := range live {
		if s.Ended() {
			continue
		}
		if err := s.Kill(); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("shutdown kill failed")
		}
	}
	deadline := time.Now().Add(shutdownGrace)
	for _, s := range live {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		select {
		case <-s.Done():
		case <-time.After(remaining):
		}
	}
	m.scrollback.FlushAll()
	log.Info().Int("sessions", len(live)).Msg("terminal sessions shut down")
}

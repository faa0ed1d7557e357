package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/campro/campro-mcp/internal/logging"
	"github.com/campro/campro-mcp/internal/server"
)

// ErrSessionExists is returned when a transport tries to register an
// identifier that is already live.
var ErrSessionExists = errors.New("session already registered")

// SessionManager owns the table of live streamable HTTP sessions.
//
// A transport returned by Create is pending: it is not visible to Lookup
// until its initialize request succeeds. Closing a transport removes it.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*StreamableTransport

	now func() time.Time
	log *log.Entry
}

// NewSessionManager creates an empty session table.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*StreamableTransport),
		now:      time.Now,
		log:      logging.For("sessions"),
	}
}

// Create returns a pending transport bound to srv.
func (m *SessionManager) Create(srv *server.Server) *StreamableTransport {
	return newStreamableTransport(srv, m.now, m.register, m.unregister)
}

func (m *SessionManager) register(t *StreamableTransport) error {
	id := t.SessionID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; ok {
		return ErrSessionExists
	}
	m.sessions[id] = t
	m.log.WithFields(log.Fields{
		"session_id": id,
		"sessions":   len(m.sessions),
	}).Info("session created")
	return nil
}

func (m *SessionManager) unregister(t *StreamableTransport) {
	id := t.SessionID()
	if id == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions[id]; ok && cur == t {
		delete(m.sessions, id)
		m.log.WithFields(log.Fields{
			"session_id": id,
			"sessions":   len(m.sessions),
		}).Info("session closed")
	}
}

// Lookup returns the registered transport for id.
func (m *SessionManager) Lookup(id string) (*StreamableTransport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.sessions[id]
	return t, ok
}

// Remove closes and forgets the session id. It reports whether the session
// was live.
func (m *SessionManager) Remove(id string) bool {
	t, ok := m.Lookup(id)
	if !ok {
		return false
	}
	t.Close()
	return true
}

// Len returns the number of registered sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every registered session.
func (m *SessionManager) CloseAll() {
	for _, t := range m.snapshot() {
		t.Close()
	}
}

// EvictIdle closes sessions that have not seen a request for longer than
// maxIdle and returns how many were closed.
func (m *SessionManager) EvictIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	cutoff := m.now().Add(-maxIdle)
	evicted := 0
	for _, t := range m.snapshot() {
		if t.LastSeen().Before(cutoff) {
			m.log.WithField("session_id", t.SessionID()).Info("evicting idle session")
			t.Close()
			evicted++
		}
	}
	return evicted
}

// Run evicts idle sessions every interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 || maxIdle <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.EvictIdle(maxIdle); n > 0 {
				m.log.WithField("evicted", n).Debug("idle sweep")
			}
		}
	}
}

func (m *SessionManager) snapshot() []*StreamableTransport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*StreamableTransport, 0, len(m.sessions))
	for _, t := range m.sessions {
		out = append(out, t)
	}
	return out
}

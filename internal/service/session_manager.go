package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/google/uuid"
)

// SessionManager owns the live chat sessions. Sessions share no state.
type SessionManager struct {
	deps SessionDeps
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager(deps SessionDeps) *SessionManager {
	return &SessionManager{
		deps:     deps,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new idle session.
func (m *SessionManager) Create() *Session {
	s := NewSession(uuid.NewString(), m.deps)
	s.now = m.now
	s.lastActive = m.now()

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

// Get returns the session or ErrSessionNotFound.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errSessionNotFound(id)
	}
	return s, nil
}

// Delete ends a session, cancelling its in-flight turn.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return errSessionNotFound(id)
	}
	s.Cancel()
	return nil
}

// ReapIdle removes idle sessions inactive for longer than ttl and returns how
// many were removed. Sessions with a turn in flight are kept.
func (m *SessionManager) ReapIdle(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.idleSince(cutoff) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func errSessionNotFound(id string) error {
	return domain.ErrSessionNotFound.WithCause(fmt.Errorf("session %s", id))
}

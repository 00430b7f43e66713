package auth

import (
	"sync"
	"time"

	"cloudstore/internal/storage"
)

// CookieName is the session cookie set on login.
const CookieName = "cloudstore_session"

type sessionEntry struct {
	userID  int64
	expires time.Time
}

// SessionManager tracks logged-in sessions in memory. Tokens are opaque
// random strings; restarting the server logs everyone out.
type SessionManager struct {
	clock storage.Clock
	idgen storage.IDGenerator
	ttl   time.Duration

	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// NewSessionManager creates a manager whose sessions expire after ttl.
func NewSessionManager(clock storage.Clock, idgen storage.IDGenerator, ttl time.Duration) *SessionManager {
	return &SessionManager{
		clock:    clock,
		idgen:    idgen,
		ttl:      ttl,
		sessions: make(map[string]sessionEntry),
	}
}

// Create starts a session for userID and returns its token.
func (m *SessionManager) Create(userID int64) string {
	token := m.idgen.New()
	m.mu.Lock()
	m.sessions[token] = sessionEntry{
		userID:  userID,
		expires: m.clock.Now().Add(m.ttl),
	}
	m.mu.Unlock()
	return token
}

// Lookup returns the user id for token. Expired and unknown tokens
// report ok=false; expired entries are removed on lookup.
func (m *SessionManager) Lookup(token string) (userID int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, found := m.sessions[token]
	if !found {
		return 0, false
	}
	if m.clock.Now().After(entry.expires) {
		delete(m.sessions, token)
		return 0, false
	}
	return entry.userID, true
}

// Destroy removes a session. Unknown tokens are a no-op.
func (m *SessionManager) Destroy(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// DestroyUser removes every session belonging to userID.
func (m *SessionManager) DestroyUser(userID int64) {
	m.mu.Lock()
	for token, entry := range m.sessions {
		if entry.userID == userID {
			delete(m.sessions, token)
		}
	}
	m.mu.Unlock()
}

// TTL returns the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

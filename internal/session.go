package internal

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session binds an opaque token to an authenticated username. Sessions live
// only as long as the issuing login; they are destroyed on logout or when
// the connection goes away.
type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
}

// SessionManager issues and validates in-memory session tokens. A user may
// hold several concurrent sessions, one per live connection.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]Session)}
}

// Create mints a fresh session for username.
func (m *SessionManager) Create(username string) Session {
	sess := Session{
		Token:     uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.sessions[sess.Token] = sess
	m.mu.Unlock()
	return sess
}

// Lookup resolves a token. The second return is false for unknown tokens.
func (m *SessionManager) Lookup(token string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	return sess, ok
}

// Delete removes a session. Deleting an unknown token is a no-op, which
// makes logout idempotent.
func (m *SessionManager) Delete(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

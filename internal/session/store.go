// ABOUTME: In-memory session store for MCP protocol sessions
// ABOUTME: Sessions live only for the process lifetime; no explicit teardown

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session tracks one MCP client session. ProtocolVersion never changes after
// creation; Scopes are set once by the authentication layer at initialize and
// are read-only thereafter.
type Session struct {
	ID              string
	ProtocolVersion string
	Scopes          []string
	CreatedAt       time.Time
}

// HasScopes reports whether the session holds every scope in required.
// An empty requirement always passes.
func (s *Session) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}

	granted := make(map[string]struct{}, len(s.Scopes))
	for _, scope := range s.Scopes {
		granted[scope] = struct{}{}
	}

	for _, req := range required {
		if _, has := granted[req]; !has {
			return false
		}
	}
	return true
}

// Store manages active sessions in memory.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create allocates a fresh session for the given protocol version and scopes.
// It never fails.
func (s *Store) Create(protocolVersion string, scopes []string) *Session {
	// Copy scopes to avoid aliasing the caller's slice
	granted := make([]string, len(scopes))
	copy(granted, scopes)

	sess := &Session{
		ID:              uuid.New().String(),
		ProtocolVersion: protocolVersion,
		Scopes:          granted,
		CreatedAt:       time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess
}

// Get looks up a session by identifier. The second return is false when the
// identifier was never issued by this process.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

// Count returns the number of active sessions (for monitoring).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

package sessionx

import (
	"sync"
	"time"

	"github.com/convokit/convokit/pkg/logx"
)

// MemoryStore is the volatile Store implementation: a process-local map
// guarded by one mutex. It has no automatic expiry; the host process must
// run CleanupExpiredSessions periodically (see Sweeper) or state grows
// unbounded. All data is lost on restart.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	ttl        time.Duration
	maxHistory int
	platform   string
	now        func() time.Time
}

// MemoryStoreOption configures a MemoryStore
type MemoryStoreOption func(*MemoryStore)

// WithPlatform tags sessions created by this store
func WithPlatform(platform string) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.platform = platform
	}
}

// WithClock overrides the time source, used by tests to simulate expiry
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an in-process store with the given inactivity
// TTL and per-session history cap
func NewMemoryStore(ttl time.Duration, maxHistory int, opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:   make(map[string]*Session),
		ttl:        ttl,
		maxHistory: maxHistory,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	logx.WithFields(logx.Fields{
		"ttl":         ttl,
		"max_history": maxHistory,
	}).Info("In-memory session store initialized")

	return s
}

// GetSession returns an existing session (clone) or lazily creates one
func (s *MemoryStore) GetSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = s.createLocked(sessionID)
		return sess.Clone(), nil
	}

	sess.Touch(s.now())
	return sess.Clone(), nil
}

// AddMessage appends a turn and applies the history bound
func (s *MemoryStore) AddMessage(sessionID string, role Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = s.createLocked(sessionID)
	}

	sess.Append(Message{Role: role, Content: content, Timestamp: s.now()}, s.maxHistory)
	return nil
}

// GetConversationHistory returns a copy of the ordered history, creating
// the session if absent
func (s *MemoryStore) GetConversationHistory(sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = s.createLocked(sessionID)
	} else {
		sess.Touch(s.now())
	}

	history := make([]Message, len(sess.History))
	copy(history, sess.History)
	return history, nil
}

// ClearSession removes the session; unknown ids are a no-op
func (s *MemoryStore) ClearSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// CleanupExpiredSessions removes sessions idle beyond the TTL
func (s *MemoryStore) CleanupExpiredSessions() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		logx.WithField("removed", removed).Debug("Expired sessions removed")
	}
	return removed, nil
}

// GetActiveSessionsCount returns the number of stored sessions
func (s *MemoryStore) GetActiveSessionsCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions), nil
}

// SessionExists reports whether a session record exists, without creating one
func (s *MemoryStore) SessionExists(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[sessionID]
	return ok, nil
}

// GetSessionInfo returns the metadata-only view without bumping last_active
func (s *MemoryStore) GetSessionInfo(sessionID string) (*SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound(sessionID)
	}
	return sess.Info(), nil
}

// createLocked allocates and stores a new session; caller holds the lock
func (s *MemoryStore) createLocked(sessionID string) *Session {
	sess := NewSession(sessionID, s.platform, s.now())
	s.sessions[sessionID] = sess
	return sess
}

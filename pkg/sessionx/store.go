package sessionx

// Store is the synchronous session contract shared by every backend.
// Callers outside a cooperative scheduler can use any implementation
// interchangeably; durability and consistency differ per backend and are
// documented on the implementations.
//
// Lazy creation: GetSession and GetConversationHistory create an empty
// session for an unseen id as a side effect. Callers that need a pure
// existence check use SessionExists.
type Store interface {
	// GetSession returns the session for the id, creating an empty one
	// if absent. Bumps last_active for existing sessions.
	GetSession(sessionID string) (*Session, error)

	// AddMessage appends a turn, applies the history bound and persists
	// before returning. Backend I/O failures propagate to the caller.
	AddMessage(sessionID string, role Role, content string) error

	// GetConversationHistory returns the ordered history, creating the
	// session if absent (same semantics as GetSession).
	GetConversationHistory(sessionID string) ([]Message, error)

	// ClearSession removes the session. Idempotent: clearing an unknown
	// id is a no-op.
	ClearSession(sessionID string) error

	// CleanupExpiredSessions deletes sessions idle beyond the TTL and
	// returns how many were removed. Safe to run concurrently with
	// normal traffic.
	CleanupExpiredSessions() (int, error)

	// GetActiveSessionsCount returns the current session count. For
	// observability only; not consistent with in-flight mutations.
	GetActiveSessionsCount() (int, error)

	// SessionExists reports whether a record currently exists, without
	// creating one.
	SessionExists(sessionID string) (bool, error)

	// GetSessionInfo returns a metadata-only view, or a not-found error
	// when the session is absent. Does not bump last_active.
	GetSessionInfo(sessionID string) (*SessionInfo, error)
}

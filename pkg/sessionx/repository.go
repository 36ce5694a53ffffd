package sessionx

import "context"

// Repository is the asynchronous (context-based) counterpart of Store,
// implemented by backends whose every operation is network I/O. The
// durable backend exposes only this interface; sessioninfra.SyncBridge
// adapts it to the Store contract for synchronous call sites.
type Repository interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	AddMessage(ctx context.Context, sessionID string, role Role, content string) error
	GetConversationHistory(ctx context.Context, sessionID string) ([]Message, error)
	ClearSession(ctx context.Context, sessionID string) error
	CleanupExpiredSessions(ctx context.Context) (int, error)
	GetActiveSessionsCount(ctx context.Context) (int, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	GetSessionInfo(ctx context.Context, sessionID string) (*SessionInfo, error)
}

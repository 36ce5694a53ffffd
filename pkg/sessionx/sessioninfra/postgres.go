package sessioninfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/convokit/convokit/pkg/logx"
	"github.com/convokit/convokit/pkg/sessionx"
)

// Expected schema:
//
//	CREATE TABLE sessions (
//	    session_id           TEXT PRIMARY KEY,
//	    platform             TEXT NOT NULL,
//	    conversation_history JSONB NOT NULL DEFAULT '[]',
//	    session_metadata     JSONB NOT NULL DEFAULT '{}',
//	    created_at           TIMESTAMPTZ NOT NULL,
//	    last_active          TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_sessions_platform_last_active ON sessions (platform, last_active);

// PostgresSessionRepository is the durable sessionx.Repository backed by
// one row per session. All operations are context-based; synchronous
// callers go through SyncBridge. Cleanup and counts are scoped by
// platform so multiple services can share one table.
type PostgresSessionRepository struct {
	db         *sqlx.DB
	platform   string
	ttl        time.Duration
	maxHistory int
	now        func() time.Time
}

// PostgresRepositoryOption configures the repository
type PostgresRepositoryOption func(*PostgresSessionRepository)

// WithPostgresClock overrides the time source for tests
func WithPostgresClock(now func() time.Time) PostgresRepositoryOption {
	return func(r *PostgresSessionRepository) {
		r.now = now
	}
}

// NewPostgresSessionRepository creates the durable repository
func NewPostgresSessionRepository(db *sqlx.DB, platform string, ttl time.Duration, maxHistory int, opts ...PostgresRepositoryOption) *PostgresSessionRepository {
	r := &PostgresSessionRepository{
		db:         db,
		platform:   platform,
		ttl:        ttl,
		maxHistory: maxHistory,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	logx.WithFields(logx.Fields{
		"platform":    platform,
		"ttl":         ttl,
		"max_history": maxHistory,
	}).Info("PostgreSQL session repository initialized")

	return r
}

type sessionRow struct {
	SessionID  string    `db:"session_id"`
	Platform   string    `db:"platform"`
	History    []byte    `db:"conversation_history"`
	Metadata   []byte    `db:"session_metadata"`
	CreatedAt  time.Time `db:"created_at"`
	LastActive time.Time `db:"last_active"`
}

func (row *sessionRow) toSession() (*sessionx.Session, error) {
	sess := &sessionx.Session{
		ID:         row.SessionID,
		Platform:   row.Platform,
		History:    make([]sessionx.Message, 0),
		CreatedAt:  row.CreatedAt,
		LastActive: row.LastActive,
	}
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &sess.History); err != nil {
			return nil, sessionx.ErrSerializationFailed(err)
		}
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &sess.Metadata); err != nil {
			return nil, sessionx.ErrSerializationFailed(err)
		}
	}
	return sess, nil
}

// GetSession does an upsert-or-fetch: an unseen id gets an empty row, an
// existing one keeps its history and has last_active bumped
func (r *PostgresSessionRepository) GetSession(ctx context.Context, sessionID string) (*sessionx.Session, error) {
	now := r.now()

	query := `
        INSERT INTO sessions (session_id, platform, conversation_history, session_metadata, created_at, last_active)
        VALUES ($1, $2, '[]', '{}', $3, $3)
        ON CONFLICT (session_id) DO UPDATE SET last_active = EXCLUDED.last_active
        RETURNING session_id, platform, conversation_history, session_metadata, created_at, last_active
    `

	var row sessionRow
	if err := sqlx.GetContext(ctx, r.db, &row, query, sessionID, r.platform, now); err != nil {
		logx.WithError(err).Error("Failed to get or create session")
		return nil, err
	}

	return row.toSession()
}

// AddMessage claims an empty row when the id is unseen, locks it, and
// appends and trims in application code within one transaction. Two
// concurrent first messages both pass the claim: the loser's insert is
// a no-op and its append serializes behind the row lock.
func (r *PostgresSessionRepository) AddMessage(ctx context.Context, sessionID string, role sessionx.Role, content string) error {
	now := r.now()
	msg := sessionx.Message{Role: role, Content: content, Timestamp: now}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		logx.WithError(err).Error("Failed to begin transaction")
		return err
	}
	defer func() { _ = tx.Rollback() }()

	claimQuery := `
        INSERT INTO sessions (session_id, platform, conversation_history, session_metadata, created_at, last_active)
        VALUES ($1, $2, '[]', '{}', $3, $3)
        ON CONFLICT (session_id) DO NOTHING
    `
	if _, err := tx.ExecContext(ctx, claimQuery, sessionID, r.platform, now); err != nil {
		logx.WithError(err).Error("Failed to claim session row")
		return err
	}

	var row sessionRow
	selectQuery := `
        SELECT session_id, platform, conversation_history, session_metadata, created_at, last_active
        FROM sessions WHERE session_id = $1 FOR UPDATE
    `
	if err := sqlx.GetContext(ctx, tx, &row, selectQuery, sessionID); err != nil {
		logx.WithError(err).Error("Failed to lock session row")
		return err
	}

	sess, serr := row.toSession()
	if serr != nil {
		return serr
	}
	sess.Append(msg, r.maxHistory)
	history, merr := json.Marshal(sess.History)
	if merr != nil {
		return sessionx.ErrSerializationFailed(merr)
	}
	updateQuery := `UPDATE sessions SET conversation_history = $1, last_active = $2 WHERE session_id = $3`
	if _, err := tx.ExecContext(ctx, updateQuery, history, now, sessionID); err != nil {
		logx.WithError(err).Error("Failed to update session history")
		return err
	}

	if err := tx.Commit(); err != nil {
		logx.WithError(err).Error("Failed to commit message append")
		return err
	}

	logx.WithFields(logx.Fields{
		"session_id": sessionID,
		"role":       role,
	}).Debug("Message appended")
	return nil
}

// GetConversationHistory returns the ordered history, creating the
// session if absent (GetSession semantics)
func (r *PostgresSessionRepository) GetConversationHistory(ctx context.Context, sessionID string) ([]sessionx.Message, error) {
	sess, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return sess.History, nil
}

// ClearSession deletes the row; unknown ids are a no-op
func (r *PostgresSessionRepository) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		logx.WithError(err).Error("Failed to delete session")
		return err
	}
	return nil
}

// CleanupExpiredSessions deletes idle rows in one statement and reports
// the affected count directly from it, so counting cannot race deletion
func (r *PostgresSessionRepository) CleanupExpiredSessions(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.ttl)

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE platform = $1 AND last_active < $2`,
		r.platform, cutoff,
	)
	if err != nil {
		logx.WithError(err).Error("Failed to delete expired sessions")
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if affected > 0 {
		logx.WithFields(logx.Fields{
			"platform": r.platform,
			"removed":  affected,
		}).Info("Expired sessions deleted")
	}
	return int(affected), nil
}

// GetActiveSessionsCount counts rows for this platform
func (r *PostgresSessionRepository) GetActiveSessionsCount(ctx context.Context) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, r.db, &count,
		`SELECT COUNT(*) FROM sessions WHERE platform = $1`, r.platform)
	if err != nil {
		logx.WithError(err).Error("Failed to count sessions")
		return 0, err
	}
	return count, nil
}

// SessionExists checks for the row without creating it
func (r *PostgresSessionRepository) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.db, &exists,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, sessionID)
	if err != nil {
		logx.WithError(err).Error("Failed to check session existence")
		return false, err
	}
	return exists, nil
}

// GetSessionInfo reads counts and timestamps without transferring the
// history payload
func (r *PostgresSessionRepository) GetSessionInfo(ctx context.Context, sessionID string) (*sessionx.SessionInfo, error) {
	query := `
        SELECT session_id, platform, jsonb_array_length(conversation_history) AS message_count,
               session_metadata, created_at, last_active
        FROM sessions WHERE session_id = $1
    `

	var row struct {
		SessionID    string    `db:"session_id"`
		Platform     string    `db:"platform"`
		MessageCount int       `db:"message_count"`
		Metadata     []byte    `db:"session_metadata"`
		CreatedAt    time.Time `db:"created_at"`
		LastActive   time.Time `db:"last_active"`
	}

	err := sqlx.GetContext(ctx, r.db, &row, query, sessionID)
	if err == sql.ErrNoRows {
		return nil, sessionx.ErrSessionNotFound(sessionID)
	}
	if err != nil {
		logx.WithError(err).Error("Failed to get session info")
		return nil, err
	}

	info := &sessionx.SessionInfo{
		SessionID:    row.SessionID,
		Platform:     row.Platform,
		MessageCount: row.MessageCount,
		CreatedAt:    row.CreatedAt,
		LastActive:   row.LastActive,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &info.Metadata); err != nil {
			return nil, sessionx.ErrSerializationFailed(err)
		}
	}
	return info, nil
}

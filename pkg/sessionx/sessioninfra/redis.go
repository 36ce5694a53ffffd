package sessioninfra

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/convokit/convokit/pkg/logx"
	"github.com/convokit/convokit/pkg/sessionx"
)

const redisKeyPrefix = "session:"

// RedisSessionStore is the cache-backed Store implementation. Expiry is
// delegated to Redis: every read and write rewrites the key with a fresh
// TTL, giving sliding expiration without a sweep process.
//
// AddMessage is a GET / append / trim / SET sequence that is not atomic
// against a concurrent writer to the same session id: the last writer
// wins and an interleaved append may be lost. Callers that need strict
// correctness under contention should serialize their own calls per id;
// moving to WATCH/MULTI or a server-side script would change observable
// behavior and is deliberately not done here.
type RedisSessionStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxHistory int
	platform   string
	opTimeout  time.Duration
	now        func() time.Time
}

// RedisStoreOption configures a RedisSessionStore
type RedisStoreOption func(*RedisSessionStore)

// WithRedisPlatform tags sessions created by this store
func WithRedisPlatform(platform string) RedisStoreOption {
	return func(s *RedisSessionStore) {
		s.platform = platform
	}
}

// WithRedisOpTimeout bounds each Redis round trip
func WithRedisOpTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisSessionStore) {
		s.opTimeout = d
	}
}

// WithRedisClock overrides the time source for tests
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisSessionStore) {
		s.now = now
	}
}

// NewRedisSessionStore connects the store to Redis and fails fast when
// the server is unreachable: a session store that cannot reach its cache
// must not silently degrade to empty histories.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration, maxHistory int, opts ...RedisStoreOption) (*RedisSessionStore, error) {
	s := &RedisSessionStore{
		client:     client,
		ttl:        ttl,
		maxHistory: maxHistory,
		opTimeout:  5 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logx.WithError(err).Error("Redis unreachable at session store startup")
		return nil, sessionx.ErrBackendUnavailable(err)
	}

	logx.WithFields(logx.Fields{
		"ttl":         ttl,
		"max_history": maxHistory,
	}).Info("Redis session store initialized")

	return s, nil
}

// GetSession fetches the session, creating it if absent, and refreshes
// the key TTL
func (s *RedisSessionStore) GetSession(sessionID string) (*sessionx.Session, error) {
	ctx, cancel := s.opCtx()
	defer cancel()

	sess, err := s.fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = sessionx.NewSession(sessionID, s.platform, s.now())
	} else {
		sess.Touch(s.now())
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AddMessage appends a turn via read-modify-write with refreshed TTL
func (s *RedisSessionStore) AddMessage(sessionID string, role sessionx.Role, content string) error {
	ctx, cancel := s.opCtx()
	defer cancel()

	sess, err := s.fetch(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = sessionx.NewSession(sessionID, s.platform, s.now())
	}

	sess.Append(sessionx.Message{Role: role, Content: content, Timestamp: s.now()}, s.maxHistory)
	return s.save(ctx, sess)
}

// GetConversationHistory returns the ordered history, creating the
// session if absent
func (s *RedisSessionStore) GetConversationHistory(sessionID string) ([]sessionx.Message, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.History, nil
}

// ClearSession deletes the key; unknown ids are a no-op
func (s *RedisSessionStore) ClearSession(sessionID string) error {
	ctx, cancel := s.opCtx()
	defer cancel()

	if err := s.client.Del(ctx, redisKeyPrefix+sessionID).Err(); err != nil {
		logx.WithError(err).Error("Failed to delete session key")
		return sessionx.ErrStorageFailure(err)
	}
	return nil
}

// CleanupExpiredSessions is a no-op: Redis removes idle keys itself once
// their sliding TTL lapses
func (s *RedisSessionStore) CleanupExpiredSessions() (int, error) {
	logx.Debug("Cleanup skipped; Redis TTL handles expiry")
	return 0, nil
}

// GetActiveSessionsCount scans for live session keys. Keys carry no
// platform tag, so the count spans every session in the logical Redis
// DB; services sharing one server isolate via the REDIS_DB selector.
func (s *RedisSessionStore) GetActiveSessionsCount() (int, error) {
	ctx, cancel := s.opCtx()
	defer cancel()

	count := 0
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		logx.WithError(err).Error("Failed to scan session keys")
		return 0, sessionx.ErrStorageFailure(err)
	}
	return count, nil
}

// SessionExists checks the key without touching its TTL
func (s *RedisSessionStore) SessionExists(sessionID string) (bool, error) {
	ctx, cancel := s.opCtx()
	defer cancel()

	n, err := s.client.Exists(ctx, redisKeyPrefix+sessionID).Result()
	if err != nil {
		logx.WithError(err).Error("Failed to check session existence")
		return false, sessionx.ErrStorageFailure(err)
	}
	return n > 0, nil
}

// GetSessionInfo returns the metadata view. Monitoring reads do not
// refresh the TTL or last_active.
func (s *RedisSessionStore) GetSessionInfo(sessionID string) (*sessionx.SessionInfo, error) {
	ctx, cancel := s.opCtx()
	defer cancel()

	sess, err := s.fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, sessionx.ErrSessionNotFound(sessionID)
	}
	return sess.Info(), nil
}

// fetch returns the stored session or nil when the key is absent
func (s *RedisSessionStore) fetch(ctx context.Context, sessionID string) (*sessionx.Session, error) {
	payload, err := s.client.Get(ctx, redisKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		logx.WithError(err).Error("Failed to read session key")
		return nil, sessionx.ErrStorageFailure(err)
	}

	var sess sessionx.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		logx.WithFields(logx.Fields{
			"session_id": sessionID,
			"error":      err,
		}).Error("Corrupt session payload")
		return nil, sessionx.ErrSerializationFailed(err)
	}
	return &sess, nil
}

// save writes the session back with a refreshed sliding TTL
func (s *RedisSessionStore) save(ctx context.Context, sess *sessionx.Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return sessionx.ErrSerializationFailed(err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+sess.ID, payload, s.ttl).Err(); err != nil {
		logx.WithError(err).Error("Failed to write session key")
		return sessionx.ErrStorageFailure(err)
	}
	return nil
}

func (s *RedisSessionStore) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// Package sessionsrv selects and wires a session backend from
// configuration and fronts it with the operations the transport layer
// needs: admission, turn recording, history, info and end-of-session
// archiving.
package sessionsrv

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/convokit/convokit/pkg/archivex"
	"github.com/convokit/convokit/pkg/config"
	"github.com/convokit/convokit/pkg/limitx"
	"github.com/convokit/convokit/pkg/logx"
	"github.com/convokit/convokit/pkg/sessionx"
	"github.com/convokit/convokit/pkg/sessionx/sessioninfra"
)

// NewStoreFromConfig builds the configured backend. The second return
// value releases backend resources and must be called on shutdown.
// Redis and Postgres fail fast when unreachable; there is no silent
// fallback to a degraded backend.
func NewStoreFromConfig(cfg *config.Config) (sessionx.Store, func() error, error) {
	ttl := time.Duration(cfg.Session.TTLMinutes) * time.Minute
	opTimeout := time.Duration(cfg.Session.OpTimeoutSecs) * time.Second

	switch cfg.Session.Backend {
	case config.BackendMemory:
		store := sessionx.NewMemoryStore(ttl, cfg.Session.MaxHistory,
			sessionx.WithPlatform(cfg.Session.Platform))
		return store, func() error { return nil }, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := sessioninfra.NewRedisSessionStore(client, ttl, cfg.Session.MaxHistory,
			sessioninfra.WithRedisPlatform(cfg.Session.Platform),
			sessioninfra.WithRedisOpTimeout(opTimeout))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, client.Close, nil

	case config.BackendPostgres:
		db, err := sqlx.Connect("postgres", cfg.Database.ConnString())
		if err != nil {
			return nil, nil, sessionx.ErrBackendUnavailable(err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		repo := sessioninfra.NewPostgresSessionRepository(db, cfg.Session.Platform, ttl, cfg.Session.MaxHistory)
		bridge := sessioninfra.NewSyncBridge(repo, sessioninfra.WithBridgeTimeout(opTimeout))
		return bridge, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

// Service fronts a session store for the transport layer
type Service struct {
	store    sessionx.Store
	limiter  *limitx.Limiter
	archiver archivex.Archiver
}

// NewService creates the facade. The archiver is optional; without one,
// EndSession clears without archiving.
func NewService(store sessionx.Store, limiter *limitx.Limiter, archiver archivex.Archiver) *Service {
	logx.WithField("archiving", archiver != nil).Info("Session service initialized")
	return &Service{
		store:    store,
		limiter:  limiter,
		archiver: archiver,
	}
}

// Store exposes the underlying store for callers needing the raw contract
func (s *Service) Store() sessionx.Store {
	return s.store
}

// Admit runs the sliding-window check for the identifier
func (s *Service) Admit(identifier string) limitx.Decision {
	return s.limiter.Check(identifier)
}

// RecordUserMessage appends a user turn
func (s *Service) RecordUserMessage(sessionID, content string) error {
	return s.store.AddMessage(sessionID, sessionx.RoleUser, content)
}

// RecordAssistantMessage appends an assistant turn
func (s *Service) RecordAssistantMessage(sessionID, content string) error {
	return s.store.AddMessage(sessionID, sessionx.RoleAssistant, content)
}

// History returns the ordered conversation history
func (s *Service) History(sessionID string) ([]sessionx.Message, error) {
	return s.store.GetConversationHistory(sessionID)
}

// Info returns the metadata-only session view
func (s *Service) Info(sessionID string) (*sessionx.SessionInfo, error) {
	return s.store.GetSessionInfo(sessionID)
}

// EndSession archives the session when an archiver is configured, then
// clears it. Archive failure is logged but does not block clearing; the
// conversation is over either way.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	exists, err := s.store.SessionExists(sessionID)
	if err != nil {
		return err
	}
	if !exists {
		// Idempotent, same as ClearSession on an unknown id
		return nil
	}

	if s.archiver != nil {
		sess, err := s.store.GetSession(sessionID)
		if err != nil {
			return err
		}
		if err := s.archiver.Archive(ctx, sess); err != nil {
			logx.WithFields(logx.Fields{
				"session_id": sessionID,
				"error":      err,
			}).Warn("Session archive failed; clearing anyway")
		}
	}

	return s.store.ClearSession(sessionID)
}

// ActiveSessions returns the current session count
func (s *Service) ActiveSessions() (int, error) {
	return s.store.GetActiveSessionsCount()
}

package sessioninfra

import (
	"context"
	"fmt"
	"time"

	"github.com/convokit/convokit/pkg/sessionx"
)

// SyncBridge adapts the asynchronous sessionx.Repository to the
// synchronous sessionx.Store contract. Each call is handed to its own
// worker goroutine and the caller blocks for the result with a deadline,
// so synchronous call sites get timeout enforcement the raw repository
// does not provide and can never wedge on a stuck backend. Panics inside
// an operation are recovered into errors rather than killing the caller.
//
// A timed-out operation is abandoned, not cancelled mid-statement: the
// backend may still complete the write after the caller has given up.
type SyncBridge struct {
	repo    sessionx.Repository
	timeout time.Duration
	baseCtx context.Context
}

var _ sessionx.Store = (*SyncBridge)(nil)

// SyncBridgeOption configures a SyncBridge
type SyncBridgeOption func(*SyncBridge)

// WithBridgeTimeout bounds each bridged operation
func WithBridgeTimeout(d time.Duration) SyncBridgeOption {
	return func(b *SyncBridge) {
		b.timeout = d
	}
}

// WithBridgeContext sets the parent context for bridged operations,
// typically the application lifetime context so shutdown aborts them
func WithBridgeContext(ctx context.Context) SyncBridgeOption {
	return func(b *SyncBridge) {
		b.baseCtx = ctx
	}
}

// NewSyncBridge wraps a repository in the synchronous Store contract
func NewSyncBridge(repo sessionx.Repository, opts ...SyncBridgeOption) *SyncBridge {
	b := &SyncBridge{
		repo:    repo,
		timeout: 10 * time.Second,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type bridgeResult[T any] struct {
	value T
	err   error
}

// dispatch runs fn on a worker goroutine and blocks for its result or
// the deadline. Results travel only through the channel: after a timeout
// the worker's late writes touch nothing the caller still reads.
func dispatch[T any](b *SyncBridge, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(b.baseCtx, b.timeout)
	defer cancel()

	ch := make(chan bridgeResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- bridgeResult[T]{zero, sessionx.ErrStorageFailure(fmt.Errorf("%s panicked: %v", op, r))}
			}
		}()
		v, err := fn(ctx)
		ch <- bridgeResult[T]{v, err}
	}()

	select {
	case res := <-ch:
		return res.value, res.err
	case <-ctx.Done():
		var zero T
		return zero, sessionx.ErrOperationTimeout(op)
	}
}

func (b *SyncBridge) GetSession(sessionID string) (*sessionx.Session, error) {
	return dispatch(b, "GetSession", func(ctx context.Context) (*sessionx.Session, error) {
		return b.repo.GetSession(ctx, sessionID)
	})
}

func (b *SyncBridge) AddMessage(sessionID string, role sessionx.Role, content string) error {
	_, err := dispatch(b, "AddMessage", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.repo.AddMessage(ctx, sessionID, role, content)
	})
	return err
}

func (b *SyncBridge) GetConversationHistory(sessionID string) ([]sessionx.Message, error) {
	return dispatch(b, "GetConversationHistory", func(ctx context.Context) ([]sessionx.Message, error) {
		return b.repo.GetConversationHistory(ctx, sessionID)
	})
}

func (b *SyncBridge) ClearSession(sessionID string) error {
	_, err := dispatch(b, "ClearSession", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.repo.ClearSession(ctx, sessionID)
	})
	return err
}

func (b *SyncBridge) CleanupExpiredSessions() (int, error) {
	return dispatch(b, "CleanupExpiredSessions", func(ctx context.Context) (int, error) {
		return b.repo.CleanupExpiredSessions(ctx)
	})
}

func (b *SyncBridge) GetActiveSessionsCount() (int, error) {
	return dispatch(b, "GetActiveSessionsCount", func(ctx context.Context) (int, error) {
		return b.repo.GetActiveSessionsCount(ctx)
	})
}

func (b *SyncBridge) SessionExists(sessionID string) (bool, error) {
	return dispatch(b, "SessionExists", func(ctx context.Context) (bool, error) {
		return b.repo.SessionExists(ctx, sessionID)
	})
}

func (b *SyncBridge) GetSessionInfo(sessionID string) (*sessionx.SessionInfo, error) {
	return dispatch(b, "GetSessionInfo", func(ctx context.Context) (*sessionx.SessionInfo, error) {
		return b.repo.GetSessionInfo(ctx, sessionID)
	})
}

package sessioninfra

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokit/convokit/pkg/errx"
	"github.com/convokit/convokit/pkg/sessionx"
)

// Interface compliance (compile-time assertion)
var _ sessionx.Store = (*SyncBridge)(nil)
var _ sessionx.Repository = (*stubRepo)(nil)

// stubRepo is an asynchronous repository over the in-memory store, with
// optional latency (honoring ctx) and an optional panic for failure-path
// tests
type stubRepo struct {
	store      *sessionx.MemoryStore
	delay      time.Duration
	panicOnAdd bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{store: sessionx.NewMemoryStore(time.Hour, 50)}
}

func (r *stubRepo) wait(ctx context.Context) error {
	if r.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(r.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *stubRepo) GetSession(ctx context.Context, id string) (*sessionx.Session, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.store.GetSession(id)
}

func (r *stubRepo) AddMessage(ctx context.Context, id string, role sessionx.Role, content string) error {
	if r.panicOnAdd {
		panic("repository corrupted")
	}
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.store.AddMessage(id, role, content)
}

func (r *stubRepo) GetConversationHistory(ctx context.Context, id string) ([]sessionx.Message, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.store.GetConversationHistory(id)
}

func (r *stubRepo) ClearSession(ctx context.Context, id string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.store.ClearSession(id)
}

func (r *stubRepo) CleanupExpiredSessions(ctx context.Context) (int, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}
	return r.store.CleanupExpiredSessions()
}

func (r *stubRepo) GetActiveSessionsCount(ctx context.Context) (int, error) {
	if err := r.wait(ctx); err != nil {
		return 0, err
	}
	return r.store.GetActiveSessionsCount()
}

func (r *stubRepo) SessionExists(ctx context.Context, id string) (bool, error) {
	if err := r.wait(ctx); err != nil {
		return false, err
	}
	return r.store.SessionExists(id)
}

func (r *stubRepo) GetSessionInfo(ctx context.Context, id string) (*sessionx.SessionInfo, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.store.GetSessionInfo(id)
}

// runScenario drives the same operation sequence used by both calling
// contexts so their results can be compared
func runScenario(t *testing.T, bridge *SyncBridge, sessionID string) []sessionx.Message {
	t.Helper()

	sess, err := bridge.GetSession(sessionID)
	require.NoError(t, err)
	require.Empty(t, sess.History)

	require.NoError(t, bridge.AddMessage(sessionID, sessionx.RoleUser, "hi"))
	require.NoError(t, bridge.AddMessage(sessionID, sessionx.RoleAssistant, "hello"))

	exists, err := bridge.SessionExists(sessionID)
	require.NoError(t, err)
	require.True(t, exists)

	history, err := bridge.GetConversationHistory(sessionID)
	require.NoError(t, err)
	return history
}

func TestSyncBridge_PlainCallStack(t *testing.T) {
	bridge := NewSyncBridge(newStubRepo())

	history := runScenario(t, bridge, "plain")
	require.Len(t, history, 2)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "hello", history[1].Content)
}

func TestSyncBridge_InsideRunningWorkers(t *testing.T) {
	bridge := NewSyncBridge(newStubRepo())

	// Same sequence issued from goroutines that are themselves workers,
	// i.e. the bridge is re-entered from an already-concurrent context
	results := make([][]sessionx.Message, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = runScenario(t, bridge, fmt.Sprintf("worker-%d", i))
		}(i)
	}
	wg.Wait()

	plain := runScenario(t, bridge, "plain")
	for i, history := range results {
		require.Len(t, history, len(plain), "worker %d", i)
		for j := range history {
			assert.Equal(t, plain[j].Role, history[j].Role)
			assert.Equal(t, plain[j].Content, history[j].Content)
		}
	}
}

func TestSyncBridge_Timeout(t *testing.T) {
	repo := newStubRepo()
	repo.delay = 500 * time.Millisecond

	bridge := NewSyncBridge(repo, WithBridgeTimeout(20*time.Millisecond))

	_, err := bridge.GetSession("id")
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, sessionx.ErrCodeOperationTimeout))
}

func TestSyncBridge_RecoversPanic(t *testing.T) {
	repo := newStubRepo()
	repo.panicOnAdd = true

	bridge := NewSyncBridge(repo)

	err := bridge.AddMessage("id", sessionx.RoleUser, "hi")
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, sessionx.ErrCodeStorageFailure))
}

func TestSyncBridge_BaseContextCancellation(t *testing.T) {
	repo := newStubRepo()
	repo.delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	bridge := NewSyncBridge(repo, WithBridgeContext(ctx), WithBridgeTimeout(time.Hour))

	done := make(chan error, 1)
	go func() {
		_, err := bridge.GetSession("id")
		done <- err
	}()

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge call did not unblock on context cancellation")
	}
}

func TestSyncBridge_ClearAndCleanupPassThrough(t *testing.T) {
	bridge := NewSyncBridge(newStubRepo())

	require.NoError(t, bridge.AddMessage("id", sessionx.RoleUser, "hi"))
	require.NoError(t, bridge.ClearSession("id"))
	require.NoError(t, bridge.ClearSession("id"))

	exists, err := bridge.SessionExists("id")
	require.NoError(t, err)
	assert.False(t, exists)

	removed, err := bridge.CleanupExpiredSessions()
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	count, err := bridge.GetActiveSessionsCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

package sessionx

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokit/convokit/pkg/errx"
)

// Interface compliance (compile-time assertion)
var _ Store = (*MemoryStore)(nil)

// fakeClock lets tests advance time without sleeping
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(maxHistory int) (*MemoryStore, *fakeClock) {
	clock := newFakeClock()
	store := NewMemoryStore(time.Minute, maxHistory, WithClock(clock.Now), WithPlatform("whatsapp"))
	return store, clock
}

func TestMemoryStore_LazyCreation(t *testing.T) {
	store, _ := newTestStore(10)

	sess, err := store.GetSession("new-id")
	require.NoError(t, err)
	assert.Equal(t, "new-id", sess.ID)
	assert.Empty(t, sess.History)
	assert.Equal(t, sess.CreatedAt, sess.LastActive)

	exists, err := store.SessionExists("new-id")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemoryStore_HistoryBound(t *testing.T) {
	const k = 5
	const n = 12
	store, _ := newTestStore(k)

	for i := 0; i < n; i++ {
		require.NoError(t, store.AddMessage("id", RoleUser, fmt.Sprintf("msg-%d", i)))
	}

	history, err := store.GetConversationHistory("id")
	require.NoError(t, err)
	require.Len(t, history, k)
	for i, msg := range history {
		assert.Equal(t, fmt.Sprintf("msg-%d", n-k+i), msg.Content)
	}
}

func TestMemoryStore_ClearIdempotent(t *testing.T) {
	store, _ := newTestStore(10)

	require.NoError(t, store.AddMessage("id", RoleUser, "hi"))

	require.NoError(t, store.ClearSession("id"))
	require.NoError(t, store.ClearSession("id"))
	require.NoError(t, store.ClearSession("never-created"))

	exists, err := store.SessionExists("id")
	require.NoError(t, err)
	assert.False(t, exists)

	history, err := store.GetConversationHistory("id")
	require.NoError(t, err)
	assert.Empty(t, history, "cleared session must leave no residual history")
}

func TestMemoryStore_Expiry(t *testing.T) {
	store, clock := newTestStore(10)

	require.NoError(t, store.AddMessage("idle", RoleUser, "hi"))
	require.NoError(t, store.AddMessage("active", RoleUser, "hi"))

	// "active" is touched half way through the TTL window
	clock.Advance(30 * time.Second)
	_, err := store.GetSession("active")
	require.NoError(t, err)

	// 61s past the idle session's last activity
	clock.Advance(31 * time.Second)
	removed, err := store.CleanupExpiredSessions()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	idleExists, _ := store.SessionExists("idle")
	activeExists, _ := store.SessionExists("active")
	assert.False(t, idleExists)
	assert.True(t, activeExists)
}

func TestMemoryStore_ActiveSessionsCount(t *testing.T) {
	store, _ := newTestStore(10)

	count, err := store.GetActiveSessionsCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, store.AddMessage("a", RoleUser, "1"))
	require.NoError(t, store.AddMessage("b", RoleUser, "2"))

	count, err = store.GetActiveSessionsCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryStore_SessionInfo(t *testing.T) {
	store, _ := newTestStore(10)

	_, err := store.GetSessionInfo("missing")
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, ErrCodeSessionNotFound))

	require.NoError(t, store.AddMessage("id", RoleUser, "hi"))
	require.NoError(t, store.AddMessage("id", RoleAssistant, "hello"))

	info, err := store.GetSessionInfo("id")
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)
	assert.Equal(t, "whatsapp", info.Platform)
}

func TestMemoryStore_EndToEndScenario(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(time.Minute, 1, WithClock(clock.Now))

	require.NoError(t, store.AddMessage("+15550000000", RoleUser, "hi"))
	require.NoError(t, store.AddMessage("+15550000000", RoleAssistant, "hello"))

	history, err := store.GetConversationHistory("+15550000000")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, RoleAssistant, history[0].Role)
	assert.Equal(t, "hello", history[0].Content)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store, _ := newTestStore(20)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", g%2)
			for i := 0; i < 50; i++ {
				_ = store.AddMessage(id, RoleUser, "msg")
				_, _ = store.GetConversationHistory(id)
				_, _ = store.CleanupExpiredSessions()
			}
		}(g)
	}
	wg.Wait()

	for _, id := range []string{"session-0", "session-1"} {
		history, err := store.GetConversationHistory(id)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(history), 20)
	}
}

package sessioninfra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convokit/convokit/pkg/errx"
	"github.com/convokit/convokit/pkg/sessionx"
)

var _ sessionx.Store = (*RedisSessionStore)(nil)

// newRedisTestStore connects to the Redis given by
// CONVOKIT_TEST_REDIS_ADDR, or skips. Uses DB 15 and flushes it.
func newRedisTestStore(t *testing.T, ttl time.Duration, maxHistory int) *RedisSessionStore {
	t.Helper()

	addr := os.Getenv("CONVOKIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CONVOKIT_TEST_REDIS_ADDR not set; skipping Redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	require.NoError(t, client.FlushDB(context.Background()).Err())

	store, err := NewRedisSessionStore(client, ttl, maxHistory, WithRedisPlatform("test"))
	require.NoError(t, err)
	return store
}

func TestRedisStore_FailFastWhenUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	_, err := NewRedisSessionStore(client, time.Minute, 10,
		WithRedisOpTimeout(500*time.Millisecond))
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, sessionx.ErrCodeBackendUnavailable))
}

func TestRedisStore_LazyCreation(t *testing.T) {
	store := newRedisTestStore(t, time.Minute, 10)

	sess, err := store.GetSession("new-id")
	require.NoError(t, err)
	assert.Equal(t, "new-id", sess.ID)
	assert.Equal(t, "test", sess.Platform)
	assert.Empty(t, sess.History)
	assert.Equal(t, sess.CreatedAt, sess.LastActive)

	exists, err := store.SessionExists("new-id")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisStore_HistoryBound(t *testing.T) {
	const k = 3
	store := newRedisTestStore(t, time.Minute, k)

	for i := 0; i < 7; i++ {
		require.NoError(t, store.AddMessage("id", sessionx.RoleUser, fmt.Sprintf("msg-%d", i)))
	}

	history, err := store.GetConversationHistory("id")
	require.NoError(t, err)
	require.Len(t, history, k)
	assert.Equal(t, "msg-4", history[0].Content)
	assert.Equal(t, "msg-6", history[2].Content)
}

func TestRedisStore_ClearIdempotent(t *testing.T) {
	store := newRedisTestStore(t, time.Minute, 10)

	require.NoError(t, store.AddMessage("id", sessionx.RoleUser, "hi"))
	require.NoError(t, store.ClearSession("id"))
	require.NoError(t, store.ClearSession("id"))
	require.NoError(t, store.ClearSession("never-created"))

	exists, err := store.SessionExists("id")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStore_SlidingTTL(t *testing.T) {
	store := newRedisTestStore(t, time.Second, 10)

	require.NoError(t, store.AddMessage("id", sessionx.RoleUser, "hi"))

	// Touch before expiry; the TTL must slide
	time.Sleep(600 * time.Millisecond)
	_, err := store.GetSession("id")
	require.NoError(t, err)

	time.Sleep(600 * time.Millisecond)
	exists, err := store.SessionExists("id")
	require.NoError(t, err)
	assert.True(t, exists, "refreshed session expired within one TTL of the touch")

	// Untouched past the TTL the key disappears by itself
	time.Sleep(1200 * time.Millisecond)
	exists, err = store.SessionExists("id")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStore_CountAndInfo(t *testing.T) {
	store := newRedisTestStore(t, time.Minute, 10)

	_, err := store.GetSessionInfo("missing")
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, sessionx.ErrCodeSessionNotFound))

	require.NoError(t, store.AddMessage("a", sessionx.RoleUser, "1"))
	require.NoError(t, store.AddMessage("a", sessionx.RoleAssistant, "2"))
	require.NoError(t, store.AddMessage("b", sessionx.RoleUser, "1"))

	count, err := store.GetActiveSessionsCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	info, err := store.GetSessionInfo("a")
	require.NoError(t, err)
	assert.Equal(t, 2, info.MessageCount)

	removed, err := store.CleanupExpiredSessions()
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "expiry is delegated to Redis")
}

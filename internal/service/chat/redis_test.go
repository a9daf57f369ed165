package chat

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-chat/internal/model/chat"
)

// newRedisTestStore connects to TAVERN_TEST_REDIS_ADDR or skips the test.
func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("TAVERN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TAVERN_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx).Err())

	store := NewRedisStore(client, "tavern-test:"+uuid.NewString()+":", time.Minute)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreAppendGet(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	assert.Empty(t, store.Get(ctx, "s1"))
	require.NoError(t, store.Append(ctx, "s1", chat.NewTextTurn(chat.RoleUser, "hello <b>")))
	require.NoError(t, store.Append(ctx, "s1", chat.NewTextTurn(chat.RoleModel, "Hi there")))

	want := chat.Transcript{
		chat.NewTextTurn(chat.RoleUser, "hello <b>"),
		chat.NewTextTurn(chat.RoleModel, "Hi there"),
	}
	assert.Equal(t, want, store.Get(ctx, "s1"))
}

func TestRedisStoreClear(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, "old", chat.NewTextTurn(chat.RoleUser, "hello")))

	newID, err := store.Clear(ctx, "old")
	require.NoError(t, err)
	assert.NotEqual(t, "old", newID)
	assert.Empty(t, store.Get(ctx, "old"))
	assert.True(t, store.Revoked(ctx, "old"))
	assert.False(t, store.Revoked(ctx, newID))

	err = store.Append(ctx, "old", chat.NewTextTurn(chat.RoleModel, "late"))
	require.ErrorIs(t, err, ErrSessionRevoked)
	assert.Empty(t, store.Get(ctx, "old"))
}

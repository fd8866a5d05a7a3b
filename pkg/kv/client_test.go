package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/forgeplatform/forge/pkg/config"
)

func setupClient(t *testing.T) *Client {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	redisContainer, err := redis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(redisContainer)
	})

	redisURL, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := New(config.RedisConfig{URL: redisURL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestClientPing(t *testing.T) {
	client := setupClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestClientSetGet(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "k1", "v1", 0))
	v, err := client.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func TestClientGetMissingKeyReturnsNilSentinel(t *testing.T) {
	client := setupClient(t)
	_, err := client.Get(context.Background(), "missing")
	assert.True(t, IsNil(err))
}

func TestClientSetNXOnlySucceedsOnce(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	ok, err := client.SetNX(ctx, "lockkey", "a", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, "lockkey", "b", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientIncr(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	n, err := client.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = client.Incr(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestClientHSetHGetAll(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.HSet(ctx, "h1", "field1", "val1", "field2", "val2"))
	got, err := client.HGetAll(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"field1": "val1", "field2": "val2"}, got)
}

func TestClientDelAndExists(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "expkey", "v", 0))
	exists, err := client.Exists(ctx, "expkey")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, client.Del(ctx, "expkey"))
	exists, err = client.Exists(ctx, "expkey")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClientEvalRunsLuaScript(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()

	res, err := client.Eval(ctx, `return 1 + 1`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res)
}

package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/forgeplatform/forge/pkg/config"
	"github.com/forgeplatform/forge/pkg/kv"
)

// fakeChecker reports liveness from an in-memory map, standing in for
// pkg/container.Driver so these tests don't need a Docker daemon.
type fakeChecker struct {
	alive map[string]bool
}

func (f *fakeChecker) IsAlive(ctx context.Context, containerID string) (bool, error) {
	return f.alive[containerID], nil
}

func setupSandboxStore(t *testing.T, checker LivenessChecker) *Store {
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

	kvClient, err := kv.New(config.RedisConfig{URL: redisURL})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvClient.Close() })

	return NewStore(kvClient, time.Minute, checker)
}

func TestStorePutThenGet(t *testing.T) {
	store := setupSandboxStore(t, &fakeChecker{})
	ctx := context.Background()

	sb := &Sandbox{ID: "sb-1", ContainerID: "c1", UserID: "u1", ChatID: "chat-1"}
	require.NoError(t, store.Put(ctx, sb))

	got, err := store.Get(ctx, "sb-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "c1", got.ContainerID)
}

func TestStoreGetMissingReturnsNilNil(t *testing.T) {
	store := setupSandboxStore(t, &fakeChecker{})
	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreGetActiveReturnsLiveSandbox(t *testing.T) {
	checker := &fakeChecker{alive: map[string]bool{"c1": true}}
	store := setupSandboxStore(t, checker)
	ctx := context.Background()

	sb := &Sandbox{ID: "sb-2", ContainerID: "c1", UserID: "u1", ChatID: "chat-2"}
	require.NoError(t, store.Put(ctx, sb))

	got, err := store.GetActive(ctx, "chat-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sb-2", got.ID)
}

func TestStoreGetActiveDropsDeadSandbox(t *testing.T) {
	checker := &fakeChecker{alive: map[string]bool{"c1": false}}
	store := setupSandboxStore(t, checker)
	ctx := context.Background()

	sb := &Sandbox{ID: "sb-3", ContainerID: "c1", UserID: "u1", ChatID: "chat-3"}
	require.NoError(t, store.Put(ctx, sb))

	got, err := store.GetActive(ctx, "chat-3")
	require.NoError(t, err)
	assert.Nil(t, got)

	// the dead sandbox's own record should have been deleted too
	again, err := store.Get(ctx, "sb-3")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestStoreDelRemovesBothKeys(t *testing.T) {
	store := setupSandboxStore(t, &fakeChecker{alive: map[string]bool{"c1": true}})
	ctx := context.Background()

	sb := &Sandbox{ID: "sb-4", ContainerID: "c1", UserID: "u1", ChatID: "chat-4"}
	require.NoError(t, store.Put(ctx, sb))
	require.NoError(t, store.Del(ctx, sb))

	got, err := store.Get(ctx, "sb-4")
	require.NoError(t, err)
	assert.Nil(t, got)

	active, err := store.GetActive(ctx, "chat-4")
	require.NoError(t, err)
	assert.Nil(t, active)
}

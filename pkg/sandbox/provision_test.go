package sandbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/forgeplatform/forge/pkg/config"
	"github.com/forgeplatform/forge/pkg/kv"
	"github.com/forgeplatform/forge/pkg/lock"
)

// fakeContainerCreator stands in for pkg/container.Driver.Create.
type fakeContainerCreator struct {
	calls atomic.Int32
	err   error
}

func (f *fakeContainerCreator) Create(ctx context.Context, userID, chatID, sandboxID string) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "container-" + sandboxID, nil
}

// fakeBackupRestorer stands in for pkg/backup.Service.Restore.
type fakeBackupRestorer struct {
	err error
}

func (f *fakeBackupRestorer) Restore(ctx context.Context, userID, chatID, containerID string) error {
	return f.err
}

func setupProvisioner(t *testing.T, creator ContainerCreator, restorer BackupRestorer) *Provisioner {
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

	store := NewStore(kvClient, time.Minute, &fakeChecker{alive: map[string]bool{}})
	locker := lock.New(kvClient)
	return NewProvisioner(store, locker, creator, restorer)
}

func TestProvisionerCreatesSandboxOnFirstCall(t *testing.T) {
	creator := &fakeContainerCreator{}
	p := setupProvisioner(t, creator, &fakeBackupRestorer{})

	id, err := p.Provision(context.Background(), "user-1", "chat-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, int32(1), creator.calls.Load())
}

func TestProvisionerReusesExistingLiveSandbox(t *testing.T) {
	creator := &fakeContainerCreator{}
	p := setupProvisioner(t, creator, &fakeBackupRestorer{})

	ctx := context.Background()
	first, err := p.Provision(ctx, "user-2", "chat-2")
	require.NoError(t, err)

	// make the container "alive" so GetActive doesn't evict it on the second call
	p.store.checker.(*fakeChecker).alive["container-"+first] = true

	second, err := p.Provision(ctx, "user-2", "chat-2")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), creator.calls.Load(), "second Provision must not create a new container")
}

func TestProvisionerPropagatesContainerCreationError(t *testing.T) {
	boom := errors.New("docker is on fire")
	creator := &fakeContainerCreator{err: boom}
	p := setupProvisioner(t, creator, &fakeBackupRestorer{})

	_, err := p.Provision(context.Background(), "user-3", "chat-3")
	assert.ErrorIs(t, err, boom)
}

func TestProvisionerSucceedsDespiteBackupRestoreFailure(t *testing.T) {
	creator := &fakeContainerCreator{}
	restorer := &fakeBackupRestorer{err: errors.New("snapshot missing")}
	p := setupProvisioner(t, creator, restorer)

	id, err := p.Provision(context.Background(), "user-4", "chat-4")
	require.NoError(t, err)
	assert.NotEmpty(t, id, "a failed best-effort restore must not fail provisioning")
}

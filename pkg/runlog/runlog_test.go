package runlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	tcwait "github.com/testcontainers/testcontainers-go/wait"

	"github.com/forgeplatform/forge/pkg/config"
	"github.com/forgeplatform/forge/pkg/database"
	"github.com/forgeplatform/forge/pkg/kv"
)

// setupStore starts a throwaway Postgres (embedded migrations applied by
// database.NewClient) and Redis via testcontainers and wires a Store over
// them, mirroring the teacher's own per-test container pattern.
func setupStore(t *testing.T) *Store {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("forge"),
		postgres.WithUsername("forge"),
		postgres.WithPassword("forge"),
		testcontainers.WithWaitStrategy(
			tcwait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := database.NewClient(ctx, config.PostgresConfig{
		Host:     host,
		Port:     port.Int(),
		User:     "forge",
		Password: "forge",
		Database: "forge",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

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

	return New(db.Pool, kvClient)
}

func TestStoreCreateRunThenAppendAssignsSequence(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	runID := uuid.NewString()

	require.NoError(t, store.CreateRun(ctx, runID, "user-1", "sandbox-1"))

	seq1, err := store.Append(ctx, runID, "meta/session_start", map[string]any{"phase": "session_start"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	seq2, err := store.Append(ctx, runID, "text", map[string]any{"delta": "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)

	events, err := store.ReadAfter(ctx, runID, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "meta/session_start", events[0].Type)
	assert.Equal(t, "text", events[1].Type)
}

// TestStoreAppendWithoutCreateRunFails guards the bug this package was
// reviewed for: Append's UPDATE matches zero rows when no runs row exists.
func TestStoreAppendWithoutCreateRunFails(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, uuid.NewString(), "meta/session_start", map[string]any{})
	assert.Error(t, err)
}

func TestStoreSetStatusUpdatesStatus(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	runID := uuid.NewString()

	require.NoError(t, store.CreateRun(ctx, runID, "user-1", "sandbox-1"))
	assert.NoError(t, store.SetStatus(ctx, runID, "completed"))
}

func TestStoreLatestByTypeReturnsNilWhenAbsent(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	runID := uuid.NewString()
	require.NoError(t, store.CreateRun(ctx, runID, "user-1", "sandbox-1"))

	ev, err := store.LatestByType(ctx, runID, "meta/session_complete")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestStoreResumeDeliversCatchupThenTerminates(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	runID := uuid.NewString()
	require.NoError(t, store.CreateRun(ctx, runID, "user-1", "sandbox-1"))

	_, err := store.Append(ctx, runID, "text", map[string]any{"delta": "hi"})
	require.NoError(t, err)
	_, err = store.Append(ctx, runID, "meta/session_complete", map[string]any{"loopStopReason": "completed"})
	require.NoError(t, err)

	var delivered []Event
	resumeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = store.Resume(resumeCtx, runID, 0, func(ev Event) error {
		delivered = append(delivered, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, delivered, 2)
	assert.Equal(t, "meta/session_complete", delivered[1].Type)
}
